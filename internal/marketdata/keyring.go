package marketdata

import (
	"errors"
	"sync"

	"covercall/internal/util"
)

// Credential is one API key with its own rate limiter.
type Credential struct {
	Key     string
	limiter *util.RateLimiter
}

// KeyRing hands out API credentials in round-robin order so that request
// volume is spread across keys that are each rate limited.
type KeyRing struct {
	mu    sync.Mutex
	creds []*Credential
	next  int
}

// NewKeyRing creates a KeyRing over keys, each limited to perMinute
// requests (0 disables limiting). Empty keys are ignored.
func NewKeyRing(keys []string, perMinute int) (*KeyRing, error) {
	k := &KeyRing{}
	for _, key := range keys {
		if key == "" {
			continue
		}
		k.creds = append(k.creds, &Credential{Key: key, limiter: util.NewRateLimiter(perMinute)})
	}
	if len(k.creds) == 0 {
		return nil, errors.New("keyring: no API keys configured")
	}
	return k, nil
}

// Len returns the number of credentials.
func (k *KeyRing) Len() int { return len(k.creds) }

// NextClient returns the next credential and advances the rotation.
func (k *KeyRing) NextClient() *Credential {
	k.mu.Lock()
	defer k.mu.Unlock()
	c := k.creds[k.next]
	k.next = (k.next + 1) % len(k.creds)
	return c
}
