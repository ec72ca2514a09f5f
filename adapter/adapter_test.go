package adapter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pithecene-io/hostbridge/log"
	"github.com/pithecene-io/hostbridge/progress"
)

// recordingAdapter collects published events.
type recordingAdapter struct {
	mu     sync.Mutex
	events []*OperationEvent
	fail   bool
	closed bool
}

func (r *recordingAdapter) Publish(ctx context.Context, event *OperationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("downstream unavailable")
	}
	r.events = append(r.events, event)
	return nil
}

func (r *recordingAdapter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *recordingAdapter) snapshot() []*OperationEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*OperationEvent(nil), r.events...)
}

func waitForEvents(t *testing.T, r *recordingAdapter, n int) []*OperationEvent {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if events := r.snapshot(); len(events) >= n {
			return events
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events, have %d", n, len(r.snapshot()))
	return nil
}

func TestPump_ForwardsTerminalEventsOnly(t *testing.T) {
	tracker := progress.NewTracker()
	rec := &recordingAdapter{}
	pump := NewPump([]Adapter{rec}, log.New("pump-test"))

	pump.Start(context.Background(), tracker)
	defer pump.Stop()

	tracker.Start("op1", 100)
	tracker.Update("op1", 50) // non-terminal, dropped
	tracker.Complete("op1")

	tracker.Start("op2", 100)
	tracker.Error("op2", "disk full")

	events := waitForEvents(t, rec, 2)
	if events[0].OperationID != "op1" || events[0].Status != "completed" {
		t.Errorf("event 0 = %+v", events[0])
	}
	if events[1].OperationID != "op2" || events[1].Status != "error" || events[1].ErrorMessage != "disk full" {
		t.Errorf("event 1 = %+v", events[1])
	}
	if events[0].EventID == "" || events[0].EventID == events[1].EventID {
		t.Error("events must carry unique ids")
	}
}

func TestPump_FailedAdapterDoesNotBlockOthers(t *testing.T) {
	tracker := progress.NewTracker()
	failing := &recordingAdapter{fail: true}
	healthy := &recordingAdapter{}
	pump := NewPump([]Adapter{failing, healthy}, log.New("pump-test"))

	pump.Start(context.Background(), tracker)
	defer pump.Stop()

	tracker.Start("op1", 10)
	tracker.Complete("op1")

	events := waitForEvents(t, healthy, 1)
	if events[0].OperationID != "op1" {
		t.Errorf("event = %+v", events[0])
	}
}

func TestPump_StopClosesAdapters(t *testing.T) {
	tracker := progress.NewTracker()
	rec := &recordingAdapter{}
	pump := NewPump([]Adapter{rec}, log.New("pump-test"))

	pump.Start(context.Background(), tracker)
	pump.Stop()

	rec.mu.Lock()
	closed := rec.closed
	rec.mu.Unlock()
	if !closed {
		t.Error("Stop should close adapters")
	}
}
