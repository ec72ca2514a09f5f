// Package breaker implements a per-service circuit breaker.
//
// One Breaker instance wraps calls to one named upstream service. When the
// service fails repeatedly the breaker opens and fails fast without invoking
// the wrapped function, then admits a single trial call after a cooldown.
package breaker

import (
	"sync"
	"time"

	"github.com/pithecene-io/hostbridge/types"
)

// State is the health state of one upstream service.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Defaults used when a service has no explicit override.
const (
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 60 * time.Second
)

// Config configures a Breaker.
type Config struct {
	// Name identifies the upstream service (required).
	Name string
	// FailureThreshold is the consecutive-failure count that opens the
	// circuit (default 5).
	FailureThreshold int
	// RecoveryTimeout is the cooldown before a trial call is admitted
	// (default 60s).
	RecoveryTimeout time.Duration
}

// Breaker is the circuit state machine for one service.
// Safe for concurrent use.
type Breaker struct {
	name      string
	threshold int
	recovery  time.Duration
	now       func() time.Time

	mu            sync.Mutex
	state         State
	failures      int
	lastFailureAt time.Time
	probeInFlight bool
}

// New creates a Breaker in the closed state.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultRecoveryTimeout
	}
	return &Breaker{
		name:      cfg.Name,
		threshold: cfg.FailureThreshold,
		recovery:  cfg.RecoveryTimeout,
		now:       time.Now,
		state:     StateClosed,
	}
}

// Do executes fn under circuit protection.
//
// In the open state fn is never invoked and a *types.CircuitOpenError is
// returned. After the cooldown exactly one caller is admitted as a trial;
// concurrent callers racing into the half-open state are rejected until the
// trial resolves.
func (b *Breaker) Do(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}

	err := fn()
	b.record(err == nil)
	return err
}

// Allow reserves a call slot without invoking anything, for callers that
// run the protected work on another goroutine. It returns a done callback
// that must be invoked with the call's outcome; extra invocations are
// no-ops. When the circuit rejects the call, err is a
// *types.CircuitOpenError and done is nil.
func (b *Breaker) Allow() (done func(success bool), err error) {
	if err := b.admit(); err != nil {
		return nil, err
	}
	var once sync.Once
	return func(success bool) {
		once.Do(func() { b.record(success) })
	}, nil
}

// Call is Do for functions that return a value.
func Call[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var result T
	err := b.Do(func() error {
		var callErr error
		result, callErr = fn()
		return callErr
	})
	return result, err
}

// admit decides whether a call may proceed, transitioning open -> half-open
// when the cooldown has elapsed.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		elapsed := b.now().Sub(b.lastFailureAt)
		if elapsed < b.recovery {
			return &types.CircuitOpenError{
				Service:    b.name,
				RetryAfter: b.recovery - elapsed,
			}
		}
		b.state = StateHalfOpen
		b.probeInFlight = true
		return nil

	default: // StateHalfOpen
		if b.probeInFlight {
			// The in-flight trial may resolve at any moment; a retry is
			// worth attempting immediately.
			return &types.CircuitOpenError{Service: b.name}
		}
		b.probeInFlight = true
		return nil
	}
}

// record applies a call outcome to the state machine.
func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.failures = 0
		if b.state == StateHalfOpen {
			b.state = StateClosed
			b.probeInFlight = false
		}
		return
	}

	b.failures++
	b.lastFailureAt = b.now()

	if b.state == StateHalfOpen {
		// Trial failed, back to open for a fresh cooldown.
		b.state = StateOpen
		b.probeInFlight = false
		return
	}
	if b.failures >= b.threshold {
		b.state = StateOpen
	}
}

// Reset forces the breaker back to closed. Operational use only.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.probeInFlight = false
	b.lastFailureAt = time.Time{}
}

// Snapshot is a read-only view of breaker state for diagnostics.
type Snapshot struct {
	Name                string `json:"name"`
	State               State  `json:"state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	FailureThreshold    int    `json:"failure_threshold"`
	RecoverySeconds     int    `json:"recovery_seconds"`
	RetryAfterSeconds   int    `json:"retry_after_seconds,omitempty"`
}

// Snapshot returns the current state for diagnostics.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := Snapshot{
		Name:                b.name,
		State:               b.state,
		ConsecutiveFailures: b.failures,
		FailureThreshold:    b.threshold,
		RecoverySeconds:     int(b.recovery.Seconds()),
	}
	if b.state == StateOpen {
		remaining := b.recovery - b.now().Sub(b.lastFailureAt)
		if remaining > 0 {
			snap.RetryAfterSeconds = int(remaining.Seconds())
		}
	}
	return snap
}

// Registry holds the breakers owned by one bridge instance.
// Breakers are created at registration time and never destroyed.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*Breaker)}
}

// Register creates a breaker for a named service. Registering an existing
// name replaces the previous breaker.
func (r *Registry) Register(cfg Config) *Breaker {
	b := New(cfg)
	r.mu.Lock()
	r.breakers[cfg.Name] = b
	r.mu.Unlock()
	return b
}

// Get returns the breaker for a service, creating one with defaults if the
// service was never registered.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	if !ok {
		b = New(Config{Name: name})
		r.breakers[name] = b
	}
	return b
}

// Snapshots returns diagnostics for every registered breaker.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	snaps := make([]Snapshot, 0, len(r.breakers))
	for _, b := range r.breakers {
		snaps = append(snaps, b.Snapshot())
	}
	return snaps
}
