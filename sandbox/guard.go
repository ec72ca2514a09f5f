package sandbox

import (
	"context"
	"errors"
	"time"

	"github.com/pithecene-io/hostbridge/types"
)

// TimeoutGuard bounds one evaluation to a wall-clock limit. Both
// implementations return *types.TimeoutError on expiry; they differ in how
// they stop the work.
type TimeoutGuard interface {
	Run(ctx context.Context, limit time.Duration, fn func(ctx context.Context) (any, error)) (any, error)
}

// WatchdogGuard runs fn in a goroutine and abandons it on timeout. The
// goroutine keeps running until fn returns on its own; its late result is
// discarded. Use for evaluators that cannot be interrupted mid-run.
type WatchdogGuard struct{}

var _ TimeoutGuard = WatchdogGuard{}

type evalResult struct {
	value any
	err   error
}

func (WatchdogGuard) Run(ctx context.Context, limit time.Duration, fn func(ctx context.Context) (any, error)) (any, error) {
	done := make(chan evalResult, 1)
	go func() {
		value, err := fn(ctx)
		done <- evalResult{value: value, err: err}
	}()

	timer := time.NewTimer(limit)
	defer timer.Stop()

	select {
	case res := <-done:
		return res.value, res.err
	case <-timer.C:
		return nil, &types.TimeoutError{Limit: limit}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DeadlineGuard runs fn inline under a context deadline. It requires a
// cooperative evaluator: one that checks ctx and stops. On expiry the worker
// has actually stopped, unlike the watchdog.
type DeadlineGuard struct{}

var _ TimeoutGuard = DeadlineGuard{}

func (DeadlineGuard) Run(ctx context.Context, limit time.Duration, fn func(ctx context.Context) (any, error)) (any, error) {
	runCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	value, err := fn(runCtx)
	if err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, &types.TimeoutError{Limit: limit}
	}
	return value, err
}

// GuardFor selects the guard matching the evaluator's capabilities.
func GuardFor(ev Evaluator) TimeoutGuard {
	if dc, ok := ev.(DeadlineCapable); ok && dc.HonorsDeadline() {
		return DeadlineGuard{}
	}
	return WatchdogGuard{}
}
