package gather

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	triedEmptyFile    = ".tried-empty"
	lastCompletedFile = ".last-completed"
)

// progressTracker keeps the .tried-empty and .last-completed files that make
// a prefetch resumable after a crash and idempotent for a given range.
type progressTracker struct {
	mu         sync.Mutex
	triedEmpty map[string]struct{}
	writer     *bufio.Writer
	file       *os.File
	dir        string
}

// newProgressTracker creates a tracker rooted at dir and loads any existing
// .tried-empty entries.
func newProgressTracker(dir string) (*progressTracker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating progress dir: %w", err)
	}

	pt := &progressTracker{
		triedEmpty: make(map[string]struct{}),
		dir:        dir,
	}

	data, err := os.ReadFile(filepath.Join(dir, triedEmptyFile))
	if err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			if sym := strings.TrimSpace(line); sym != "" {
				pt.triedEmpty[sym] = struct{}{}
			}
		}
	}

	if err := pt.open(); err != nil {
		return nil, err
	}
	return pt, nil
}

func (p *progressTracker) open() error {
	f, err := os.OpenFile(filepath.Join(p.dir, triedEmptyFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", triedEmptyFile, err)
	}
	p.file = f
	p.writer = bufio.NewWriter(f)
	return nil
}

// IsTriedEmpty reports whether the ticker already returned no bars.
func (p *progressTracker) IsTriedEmpty(ticker string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.triedEmpty[ticker]
	return ok
}

// MarkEmpty records a ticker that returned no bars.
func (p *progressTracker) MarkEmpty(ticker string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.triedEmpty[ticker]; ok {
		return nil
	}
	p.triedEmpty[ticker] = struct{}{}
	if _, err := p.writer.WriteString(ticker + "\n"); err != nil {
		return fmt.Errorf("writing to %s: %w", triedEmptyFile, err)
	}
	return p.writer.Flush()
}

// MarkCompleted writes key to .last-completed.
func (p *progressTracker) MarkCompleted(key string) error {
	return os.WriteFile(filepath.Join(p.dir, lastCompletedFile), []byte(key), 0o644)
}

// LastCompleted returns the key in .last-completed, or "".
func (p *progressTracker) LastCompleted() string {
	data, err := os.ReadFile(filepath.Join(p.dir, lastCompletedFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Reset clears the tried-empty set and truncates its file.
func (p *progressTracker) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.file != nil {
		p.file.Close()
	}
	p.triedEmpty = make(map[string]struct{})
	os.Remove(filepath.Join(p.dir, triedEmptyFile))
	return p.open()
}

// Close flushes and closes the .tried-empty file.
func (p *progressTracker) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writer != nil {
		p.writer.Flush()
	}
	if p.file != nil {
		return p.file.Close()
	}
	return nil
}
