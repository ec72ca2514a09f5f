package progress

import (
	"testing"
	"time"
)

func newTestTracker() (*Tracker, *time.Time) {
	t := NewTracker()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t.now = func() time.Time { return now }
	return t, &now
}

func TestTracker_StartAndUpdate(t *testing.T) {
	tr, now := newTestTracker()

	op, err := tr.Start("op1", 1000)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if op.Status != StatusRunning || op.TransferredBytes != 0 {
		t.Errorf("initial op = %+v, want running with 0 bytes", op)
	}

	*now = now.Add(time.Second)
	op, err = tr.Update("op1", 250)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if got := op.Percent(); got != 25.0 {
		t.Errorf("Percent = %v, want 25.0", got)
	}
	if op.SpeedBps != 250 {
		t.Errorf("SpeedBps = %v, want 250", op.SpeedBps)
	}

	*now = now.Add(time.Second)
	op, _ = tr.Update("op1", 1000)
	if got := op.Percent(); got != 100.0 {
		t.Errorf("Percent = %v, want 100.0", got)
	}

	if err := tr.Complete("op1"); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	snap, _ := tr.Snapshot("op1")
	if snap.Status != StatusCompleted {
		t.Errorf("Status = %s, want completed", snap.Status)
	}
}

func TestTracker_DuplicateStartRejected(t *testing.T) {
	tr, _ := newTestTracker()
	if _, err := tr.Start("op1", 100); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := tr.Start("op1", 100); err == nil {
		t.Error("duplicate Start of a running operation should fail")
	}

	// Terminal record may be replaced.
	_ = tr.Complete("op1")
	if _, err := tr.Start("op1", 100); err != nil {
		t.Errorf("Start over terminal record failed: %v", err)
	}
}

func TestTracker_SetTotal(t *testing.T) {
	tr, _ := newTestTracker()
	if _, err := tr.Start("op1", 0); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Size learned after the operation began.
	if err := tr.SetTotal("op1", 200); err != nil {
		t.Fatalf("SetTotal failed: %v", err)
	}
	if _, err := tr.Update("op1", 50); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	op, _ := tr.Snapshot("op1")
	if op.TotalBytes != 200 {
		t.Errorf("TotalBytes = %d, want 200", op.TotalBytes)
	}
	if got := op.Percent(); got != 25.0 {
		t.Errorf("Percent = %v, want 25.0", got)
	}

	// Terminal records are frozen.
	_ = tr.Complete("op1")
	if err := tr.SetTotal("op1", 999); err != nil {
		t.Fatalf("SetTotal on terminal op: %v", err)
	}
	op, _ = tr.Snapshot("op1")
	if op.TotalBytes != 200 {
		t.Errorf("TotalBytes after terminal SetTotal = %d, want 200", op.TotalBytes)
	}

	if err := tr.SetTotal("ghost", 1); err == nil {
		t.Error("SetTotal on unknown operation should fail")
	}
}

func TestTracker_MonotonicClamp(t *testing.T) {
	tr, now := newTestTracker()
	_, _ = tr.Start("op1", 1000)

	*now = now.Add(time.Second)
	_, _ = tr.Update("op1", 500)
	*now = now.Add(time.Second)
	op, err := tr.Update("op1", 400)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if op.TransferredBytes != 500 {
		t.Errorf("regression not clamped: transferred = %d, want 500", op.TransferredBytes)
	}
}

func TestTracker_PercentBounded(t *testing.T) {
	tr, _ := newTestTracker()
	_, _ = tr.Start("op1", 100)
	op, _ := tr.Update("op1", 250)
	if got := op.Percent(); got != 100 {
		t.Errorf("Percent = %v, want clamp to 100", got)
	}
}

func TestTracker_IndeterminateWhenTotalUnknown(t *testing.T) {
	tr, _ := newTestTracker()
	_, _ = tr.Start("op1", 0)
	op, _ := tr.Update("op1", 12345)
	if got := op.Percent(); got != -1 {
		t.Errorf("Percent = %v, want -1 for unknown total", got)
	}
	if got := op.ETASeconds(); got != -1 {
		t.Errorf("ETASeconds = %v, want -1 for unknown total", got)
	}
}

func TestTracker_ETA(t *testing.T) {
	tr, now := newTestTracker()
	_, _ = tr.Start("op1", 1000)
	*now = now.Add(time.Second)
	op, _ := tr.Update("op1", 500)
	// speed = 500 B/s, remaining 500 B
	if got := op.ETASeconds(); got != 1 {
		t.Errorf("ETASeconds = %v, want 1", got)
	}
}

func TestTracker_UpdateAfterCancelIsNoOp(t *testing.T) {
	tr, now := newTestTracker()
	_, _ = tr.Start("op1", 1000)
	*now = now.Add(time.Second)
	_, _ = tr.Update("op1", 250)

	if err := tr.Cancel("op1"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if !tr.Cancelled("op1") {
		t.Error("Cancelled = false, want true")
	}

	op, err := tr.Update("op1", 500)
	if err != nil {
		t.Fatalf("Update after cancel errored: %v", err)
	}
	if op.TransferredBytes != 250 {
		t.Errorf("transferred = %d, want unchanged 250", op.TransferredBytes)
	}
	if op.Status != StatusCancelled {
		t.Errorf("Status = %s, want cancelled", op.Status)
	}
}

func TestTracker_ErrorFreezesRecord(t *testing.T) {
	tr, _ := newTestTracker()
	_, _ = tr.Start("op1", 1000)
	if err := tr.Error("op1", "connection reset"); err != nil {
		t.Fatalf("Error failed: %v", err)
	}
	snap, _ := tr.Snapshot("op1")
	if snap.Status != StatusError || snap.ErrorMessage != "connection reset" {
		t.Errorf("snapshot = %+v, want error state with message", snap)
	}
	// A later terminal transition is ignored.
	if err := tr.Complete("op1"); err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	snap, _ = tr.Snapshot("op1")
	if snap.Status != StatusError {
		t.Errorf("Status = %s, terminal state must not change", snap.Status)
	}
}

func TestTracker_Sweep(t *testing.T) {
	tr, now := newTestTracker()
	_, _ = tr.Start("old", 10)
	_ = tr.Complete("old")
	_, _ = tr.Start("live", 10)

	*now = now.Add(10 * time.Minute)
	_, _ = tr.Start("fresh", 10)
	_ = tr.Complete("fresh")

	removed := tr.Sweep(5 * time.Minute)
	if removed != 1 {
		t.Errorf("Sweep removed %d, want 1", removed)
	}
	if _, ok := tr.Snapshot("old"); ok {
		t.Error("old terminal operation should be swept")
	}
	if _, ok := tr.Snapshot("live"); !ok {
		t.Error("running operation must never be swept")
	}
	if _, ok := tr.Snapshot("fresh"); !ok {
		t.Error("recent terminal operation should be retained")
	}
}

func TestTracker_Subscribe(t *testing.T) {
	tr, _ := newTestTracker()
	events, cancel := tr.Subscribe()
	defer cancel()

	_, _ = tr.Start("op1", 100)
	_, _ = tr.Update("op1", 50)
	_ = tr.Complete("op1")

	var statuses []Status
	for i := 0; i < 3; i++ {
		select {
		case ev := <-events:
			statuses = append(statuses, ev.Op.Status)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
	want := []Status{StatusRunning, StatusRunning, StatusCompleted}
	for i := range want {
		if statuses[i] != want[i] {
			t.Errorf("event %d status = %s, want %s", i, statuses[i], want[i])
		}
	}
}

func TestTracker_SubscribeCancelStopsDelivery(t *testing.T) {
	tr, _ := newTestTracker()
	events, cancel := tr.Subscribe()
	cancel()

	_, _ = tr.Start("op1", 100)
	if _, open := <-events; open {
		t.Error("channel should be closed after cancel")
	}
}

func TestTracker_UnknownOperation(t *testing.T) {
	tr, _ := newTestTracker()
	if _, err := tr.Update("nope", 1); err == nil {
		t.Error("Update on unknown id should fail")
	}
	if err := tr.Complete("nope"); err == nil {
		t.Error("Complete on unknown id should fail")
	}
	if tr.Cancelled("nope") {
		t.Error("Cancelled on unknown id should be false")
	}
}
