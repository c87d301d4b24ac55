// Package clock abstracts wall time as Unix epoch milliseconds so lease
// arithmetic stays deterministic under test.
package clock

import (
	"sync"
	"time"
)

// Clock yields the current time in Unix milliseconds.
type Clock interface {
	NowMS() int64
}

// System reads the operating system clock.
type System struct{}

func (System) NowMS() int64 { return time.Now().UnixMilli() }

// Virtual provides deterministic time control for testing.
type Virtual struct {
	mu  sync.Mutex
	now int64
}

// NewVirtual creates a virtual clock starting at the given millisecond instant.
func NewVirtual(startMS int64) *Virtual {
	return &Virtual{now: startMS}
}

func (v *Virtual) NowMS() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

// Set moves the clock to an absolute instant.
func (v *Virtual) Set(ms int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.now = ms
}

// Advance moves the clock forward by d.
func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.now += d.Milliseconds()
}
