package util

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterNew(t *testing.T) {
	rl := NewRateLimiter(60)
	require.NotNil(t, rl)
	start := time.Now()
	require.NoError(t, rl.Wait(context.Background()))
	assert.Less(t, time.Since(start), 500*time.Millisecond, "first token is available")
}

func TestRateLimiterUnlimited(t *testing.T) {
	rl := NewRateLimiter(0)
	for i := 0; i < 100; i++ {
		require.NoError(t, rl.Wait(context.Background()))
	}
}

func TestRateLimiterWaitHonoursContext(t *testing.T) {
	rl := NewRateLimiter(1)
	require.NoError(t, rl.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, rl.Wait(ctx))
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerTo(&buf, "warn", "json")

	log.Info("hidden")
	log.Warn("shown", "ticker", "AAPL")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, "AAPL", rec["ticker"])
}

func TestNewLoggerText(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerTo(&buf, "bogus", "text")
	log.Debug("hidden")
	log.Info("cycle complete", "cycle", 1)
	assert.Contains(t, buf.String(), "msg=\"cycle complete\"")
	assert.NotContains(t, buf.String(), "hidden")
}
