package jobs

import (
	"sync"
	"time"
)

// Banner is a single error line that clears itself after a timeout.
type Banner struct {
	timeout time.Duration

	mu      sync.Mutex
	message string
	seq     uint64
	timer   *time.Timer
	stopped bool
}

func NewBanner(timeout time.Duration) *Banner {
	return &Banner{timeout: timeout}
}

// Show replaces the current message and restarts the clear timer.
func (b *Banner) Show(message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	if b.timer != nil {
		b.timer.Stop()
	}
	b.message = message
	b.seq++
	seq := b.seq
	b.timer = time.AfterFunc(b.timeout, func() {
		b.mu.Lock()
		if b.seq == seq {
			b.message = ""
			b.timer = nil
		}
		b.mu.Unlock()
	})
}

func (b *Banner) Message() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.message
}

func (b *Banner) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.message = ""
}

// Stop clears the banner and ignores later Show calls.
func (b *Banner) Stop() {
	b.Clear()
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()
}
