// Package ratelimit implements a sliding-window call limiter.
//
// A Window holds the timestamps of recent admitted calls. A call beyond the
// limit is rejected, never queued; the caller retries after the window
// slides. Limiting is per bridge instance, not per connected client.
package ratelimit

import (
	"sync"
	"time"

	"github.com/pithecene-io/hostbridge/types"
)

// Window is a sliding-window rate limiter. Safe for concurrent use.
type Window struct {
	maxCalls int
	window   time.Duration
	now      func() time.Time

	mu    sync.Mutex
	calls []time.Time
}

// NewWindow creates a limiter admitting maxCalls per window.
func NewWindow(maxCalls int, window time.Duration) *Window {
	return &Window{
		maxCalls: maxCalls,
		window:   window,
		now:      time.Now,
	}
}

// Allow admits the call and records its timestamp, or returns a
// *types.RateLimitError if the window is saturated. Rejected calls are
// not recorded.
func (w *Window) Allow() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.prune(now)

	if len(w.calls) >= w.maxCalls {
		return &types.RateLimitError{MaxCalls: w.maxCalls, Window: w.window}
	}

	w.calls = append(w.calls, now)
	return nil
}

// Remaining returns how many calls the window currently admits.
func (w *Window) Remaining() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(w.now())
	return w.maxCalls - len(w.calls)
}

// prune drops timestamps that have slid out of the window.
// Caller must hold the mutex.
func (w *Window) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.calls) && !w.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.calls = append(w.calls[:0], w.calls[i:]...)
	}
}
