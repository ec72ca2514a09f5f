// Package progress tracks lifecycle, throughput, and cancellation of
// long-running transfer operations.
//
// Updates originate from worker goroutines; consumers read snapshots or
// subscribe to state-change events. Operation records are guarded by a
// per-tracker RWMutex and exposed only as copies, never live pointers.
package progress

import (
	"fmt"
	"sync"
	"time"
)

// Status is the lifecycle state of one operation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusCancelled
}

// speedSmoothing is the EMA weight given to the newest rate sample.
const speedSmoothing = 0.3

// subscriberBuffer is the per-subscriber event channel capacity. A slow
// subscriber drops events rather than blocking workers.
const subscriberBuffer = 64

// Operation is a point-in-time snapshot of one tracked transfer.
type Operation struct {
	ID               string    `json:"id"`
	TotalBytes       int64     `json:"total_bytes"`
	TransferredBytes int64     `json:"transferred_bytes"`
	Status           Status    `json:"status"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	StartedAt        time.Time `json:"started_at"`
	LastUpdateAt     time.Time `json:"last_update_at"`
	// SpeedBps is the EMA-smoothed transfer rate in bytes per second.
	SpeedBps float64 `json:"speed_bps"`
}

// Percent returns completion in [0,100], or -1 when total is unknown.
func (o *Operation) Percent() float64 {
	if o.TotalBytes <= 0 {
		return -1
	}
	pct := float64(o.TransferredBytes) / float64(o.TotalBytes) * 100
	if pct > 100 {
		return 100
	}
	return pct
}

// ETASeconds returns the estimated seconds remaining, or -1 when
// indeterminate (no measured speed or unknown total).
func (o *Operation) ETASeconds() float64 {
	if o.TotalBytes <= 0 || o.SpeedBps <= 0 {
		return -1
	}
	remaining := o.TotalBytes - o.TransferredBytes
	if remaining <= 0 {
		return 0
	}
	return float64(remaining) / o.SpeedBps
}

// Event is published to subscribers on every state change.
type Event struct {
	Op Operation
}

// Tracker tracks multiple operations. Safe for concurrent use.
type Tracker struct {
	now func() time.Time

	mu   sync.RWMutex
	ops  map[string]*Operation
	subs map[int]chan Event
	next int
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		now:  time.Now,
		ops:  make(map[string]*Operation),
		subs: make(map[int]chan Event),
	}
}

// Start begins tracking a new operation. A duplicate id still in a
// non-terminal state is rejected; a terminal record under the same id is
// replaced.
func (t *Tracker) Start(id string, totalBytes int64) (Operation, error) {
	t.mu.Lock()
	if existing, ok := t.ops[id]; ok && !existing.Status.Terminal() {
		t.mu.Unlock()
		return Operation{}, fmt.Errorf("operation %q already in progress", id)
	}

	now := t.now()
	op := &Operation{
		ID:           id,
		TotalBytes:   totalBytes,
		Status:       StatusRunning,
		StartedAt:    now,
		LastUpdateAt: now,
	}
	t.ops[id] = op
	snap := *op
	t.mu.Unlock()

	t.publish(snap)
	return snap, nil
}

// Update records transferred bytes for a running operation.
//
// Transferred bytes are monotonic: a regression is clamped to the previous
// value. Updates against terminal operations are no-ops returning the frozen
// snapshot. Speed is re-estimated from the delta since the last update and
// exponentially smoothed.
func (t *Tracker) Update(id string, transferredBytes int64) (Operation, error) {
	t.mu.Lock()
	op, ok := t.ops[id]
	if !ok {
		t.mu.Unlock()
		return Operation{}, fmt.Errorf("unknown operation %q", id)
	}
	if op.Status.Terminal() {
		snap := *op
		t.mu.Unlock()
		return snap, nil
	}

	now := t.now()
	if transferredBytes < op.TransferredBytes {
		transferredBytes = op.TransferredBytes
	}

	delta := transferredBytes - op.TransferredBytes
	dt := now.Sub(op.LastUpdateAt).Seconds()
	if delta > 0 && dt > 0 {
		sample := float64(delta) / dt
		if op.SpeedBps == 0 {
			op.SpeedBps = sample
		} else {
			op.SpeedBps = speedSmoothing*sample + (1-speedSmoothing)*op.SpeedBps
		}
	}

	op.TransferredBytes = transferredBytes
	op.LastUpdateAt = now
	snap := *op
	t.mu.Unlock()

	t.publish(snap)
	return snap, nil
}

// SetTotal records the expected size of a running operation once the
// producer learns it. No-op on terminal operations.
func (t *Tracker) SetTotal(id string, totalBytes int64) error {
	t.mu.Lock()
	op, ok := t.ops[id]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("unknown operation %q", id)
	}
	if op.Status.Terminal() {
		t.mu.Unlock()
		return nil
	}

	op.TotalBytes = totalBytes
	snap := *op
	t.mu.Unlock()

	t.publish(snap)
	return nil
}

// Complete marks an operation completed and freezes its metrics.
func (t *Tracker) Complete(id string) error {
	return t.finish(id, StatusCompleted, "")
}

// Error marks an operation failed. Further updates are no-ops.
func (t *Tracker) Error(id, message string) error {
	return t.finish(id, StatusError, message)
}

// Cancel marks an operation cancelled. Cancellation is advisory: the
// producing worker must poll Cancelled between chunks and stop on its own.
func (t *Tracker) Cancel(id string) error {
	return t.finish(id, StatusCancelled, "")
}

func (t *Tracker) finish(id string, status Status, message string) error {
	t.mu.Lock()
	op, ok := t.ops[id]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("unknown operation %q", id)
	}
	if op.Status.Terminal() {
		t.mu.Unlock()
		return nil
	}

	op.Status = status
	op.ErrorMessage = message
	op.LastUpdateAt = t.now()
	snap := *op
	t.mu.Unlock()

	t.publish(snap)
	return nil
}

// Cancelled reports whether the operation has been cancelled.
// Workers poll this between chunks.
func (t *Tracker) Cancelled(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	op, ok := t.ops[id]
	return ok && op.Status == StatusCancelled
}

// Snapshot returns a copy of one operation record.
func (t *Tracker) Snapshot(id string) (Operation, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	op, ok := t.ops[id]
	if !ok {
		return Operation{}, false
	}
	return *op, true
}

// Snapshots returns copies of all tracked operations.
func (t *Tracker) Snapshots() []Operation {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snaps := make([]Operation, 0, len(t.ops))
	for _, op := range t.ops {
		snaps = append(snaps, *op)
	}
	return snaps
}

// Sweep removes terminal operations whose last update is older than
// olderThan. Returns the number removed.
func (t *Tracker) Sweep(olderThan time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-olderThan)
	removed := 0
	for id, op := range t.ops {
		if op.Status.Terminal() && op.LastUpdateAt.Before(cutoff) {
			delete(t.ops, id)
			removed++
		}
	}
	return removed
}

// Subscribe registers for state-change events. The returned cancel
// function must be called to release the subscription. Events are dropped
// for subscribers that fall behind; consumers needing exact state should
// call Snapshot after draining.
func (t *Tracker) Subscribe() (<-chan Event, func()) {
	t.mu.Lock()
	id := t.next
	t.next++
	ch := make(chan Event, subscriberBuffer)
	t.subs[id] = ch
	t.mu.Unlock()

	cancel := func() {
		t.mu.Lock()
		if sub, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(sub)
		}
		t.mu.Unlock()
	}
	return ch, cancel
}

func (t *Tracker) publish(snap Operation) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, ch := range t.subs {
		select {
		case ch <- Event{Op: snap}:
		default:
		}
	}
}
