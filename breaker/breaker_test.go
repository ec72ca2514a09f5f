package breaker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pithecene-io/hostbridge/types"
)

var errUpstream = errors.New("upstream failed")

// fakeClock lets tests advance the breaker's view of time.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(clock *fakeClock) *Breaker {
	b := New(Config{Name: "polyhaven", FailureThreshold: 5, RecoveryTimeout: 60 * time.Second})
	b.now = clock.Now
	return b
}

func failNTimes(t *testing.T, b *Breaker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := b.Do(func() error { return errUpstream }); !errors.Is(err, errUpstream) {
			t.Fatalf("failure %d: got %v, want upstream error", i+1, err)
		}
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)

	failNTimes(t, b, 5)
	if got := b.Snapshot().State; got != StateOpen {
		t.Fatalf("state after 5 failures = %s, want open", got)
	}

	// Call #6 must not invoke the wrapped function.
	invoked := false
	err := b.Do(func() error { invoked = true; return nil })
	var openErr *types.CircuitOpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("expected CircuitOpenError, got %v", err)
	}
	if invoked {
		t.Error("wrapped function invoked while open")
	}
	if openErr.Service != "polyhaven" {
		t.Errorf("Service = %q, want polyhaven", openErr.Service)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)

	failNTimes(t, b, 4)
	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("success call failed: %v", err)
	}
	if snap := b.Snapshot(); snap.ConsecutiveFailures != 0 {
		t.Errorf("failures = %d, want 0 after success", snap.ConsecutiveFailures)
	}

	// Four more failures must not open (count restarted).
	failNTimes(t, b, 4)
	if got := b.Snapshot().State; got != StateClosed {
		t.Errorf("state = %s, want closed", got)
	}
}

func TestBreaker_RecoveryAdmitsTrialThenCloses(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)

	failNTimes(t, b, 5)
	clock.Advance(60 * time.Second)

	// Call #7 is admitted as the half-open trial and succeeds.
	invoked := false
	if err := b.Do(func() error { invoked = true; return nil }); err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
	if !invoked {
		t.Fatal("trial call was not admitted")
	}

	snap := b.Snapshot()
	if snap.State != StateClosed {
		t.Errorf("state = %s, want closed after successful trial", snap.State)
	}
	if snap.ConsecutiveFailures != 0 {
		t.Errorf("failures = %d, want 0", snap.ConsecutiveFailures)
	}
}

func TestBreaker_TrialFailureReopens(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)

	failNTimes(t, b, 5)
	clock.Advance(60 * time.Second)

	if err := b.Do(func() error { return errUpstream }); !errors.Is(err, errUpstream) {
		t.Fatalf("trial: got %v", err)
	}
	if got := b.Snapshot().State; got != StateOpen {
		t.Fatalf("state = %s, want open after failed trial", got)
	}

	// Cooldown restarts from the trial failure.
	clock.Advance(30 * time.Second)
	err := b.Do(func() error { return nil })
	var openErr *types.CircuitOpenError
	if !errors.As(err, &openErr) {
		t.Errorf("expected CircuitOpenError during fresh cooldown, got %v", err)
	}
}

func TestBreaker_HalfOpenAdmitsExactlyOne(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)

	failNTimes(t, b, 5)
	clock.Advance(60 * time.Second)

	// Hold the trial call open while others race in.
	trialStarted := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Do(func() error {
			close(trialStarted)
			<-release
			return nil
		})
	}()
	<-trialStarted

	var admitted int
	for i := 0; i < 5; i++ {
		err := b.Do(func() error { return nil })
		var openErr *types.CircuitOpenError
		if !errors.As(err, &openErr) {
			admitted++
		} else if openErr.RetryAfter != 0 {
			// The trial may resolve at any moment; rejected callers should
			// not be told to wait out a full recovery window.
			t.Errorf("RetryAfter during trial = %s, want 0", openErr.RetryAfter)
		}
	}
	if admitted != 0 {
		t.Errorf("%d concurrent callers admitted during trial, want 0", admitted)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
	if got := b.Snapshot().State; got != StateClosed {
		t.Errorf("state = %s, want closed", got)
	}
}

func TestBreaker_Reset(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)

	failNTimes(t, b, 5)
	b.Reset()

	snap := b.Snapshot()
	if snap.State != StateClosed || snap.ConsecutiveFailures != 0 {
		t.Errorf("after reset: %+v, want closed with 0 failures", snap)
	}
	if err := b.Do(func() error { return nil }); err != nil {
		t.Errorf("call after reset failed: %v", err)
	}
}

func TestBreaker_AllowRecordsDeferredOutcome(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)

	for i := 0; i < 5; i++ {
		done, err := b.Allow()
		if err != nil {
			t.Fatalf("Allow %d rejected: %v", i+1, err)
		}
		done(false)
	}
	if got := b.Snapshot().State; got != StateOpen {
		t.Fatalf("state after 5 deferred failures = %s, want open", got)
	}

	_, err := b.Allow()
	var openErr *types.CircuitOpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("Allow while open = %v, want CircuitOpenError", err)
	}

	clock.Advance(60 * time.Second)
	done, err := b.Allow()
	if err != nil {
		t.Fatalf("trial Allow rejected: %v", err)
	}
	done(true)
	done(false) // only the first outcome counts
	if got := b.Snapshot().State; got != StateClosed {
		t.Errorf("state = %s, want closed after successful trial", got)
	}
}

func TestCall_ReturnsValue(t *testing.T) {
	b := New(Config{Name: "sketchfab"})
	got, err := Call(b, func() (string, error) { return "model.glb", nil })
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if got != "model.glb" {
		t.Errorf("Call = %q, want model.glb", got)
	}
}

func TestRegistry_GetCreatesDefault(t *testing.T) {
	r := NewRegistry()
	b := r.Get("hyper3d")
	if b == nil {
		t.Fatal("Get returned nil")
	}
	if b2 := r.Get("hyper3d"); b2 != b {
		t.Error("Get should return the same instance")
	}

	snaps := r.Snapshots()
	if len(snaps) != 1 || snaps[0].Name != "hyper3d" {
		t.Errorf("Snapshots = %+v, want one hyper3d entry", snaps)
	}
	if snaps[0].FailureThreshold != DefaultFailureThreshold {
		t.Errorf("threshold = %d, want default %d", snaps[0].FailureThreshold, DefaultFailureThreshold)
	}
}
