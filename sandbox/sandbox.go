// Package sandbox runs caller-supplied code snippets under a layered
// guard: sliding-window rate limiting, static deny-list validation, then
// bounded evaluation in a closed environment.
//
// The layers apply in that order so a rejected call never touches the
// evaluator, and a denied snippet never consumes wall-clock budget.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pithecene-io/hostbridge/log"
	"github.com/pithecene-io/hostbridge/metrics"
	"github.com/pithecene-io/hostbridge/ratelimit"
	"github.com/pithecene-io/hostbridge/types"
)

// DefaultTimeout bounds one evaluation unless configured otherwise.
const DefaultTimeout = 5 * time.Second

// Result is the outcome of one Execute call.
type Result struct {
	// Executed is false when the snippet was rejected before evaluation
	// (rate limit or validation) and true once the evaluator ran, even if
	// the run itself failed or timed out.
	Executed bool   `json:"executed"`
	Output   string `json:"output"`
	Value    any    `json:"value,omitempty"`
}

// Engine executes snippets. Safe for concurrent use; the rate limiter is
// shared across callers by design.
type Engine struct {
	limiter *ratelimit.Window
	eval    Evaluator
	guard   TimeoutGuard
	timeout time.Duration
	logger  *log.Logger
	stats   *metrics.Collector
}

// NewEngine wires an engine. The timeout guard is selected from the
// evaluator's capabilities; a non-positive timeout falls back to
// DefaultTimeout.
func NewEngine(limiter *ratelimit.Window, eval Evaluator, timeout time.Duration, logger *log.Logger, stats *metrics.Collector) *Engine {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Engine{
		limiter: limiter,
		eval:    eval,
		guard:   GuardFor(eval),
		timeout: timeout,
		logger:  logger,
		stats:   stats,
	}
}

// Execute runs code through the full pipeline. The error, when non-nil, is
// one of the typed failures: *types.RateLimitError, *types.ValidationError,
// *types.TimeoutError, or *types.ExecutionError.
func (e *Engine) Execute(ctx context.Context, code string) (Result, error) {
	if err := e.limiter.Allow(); err != nil {
		e.stats.Inc("sandbox.rate_limited")
		e.logger.Warn("execution rate limited", nil)
		return Result{}, err
	}

	if err := Validate(code); err != nil {
		e.stats.Inc("sandbox.rejected")
		e.logger.Warn("execution rejected by validation", map[string]any{"error": err.Error()})
		return Result{}, err
	}

	// The watchdog guard may abandon a goroutine that keeps writing after
	// the timeout, so output capture has to stay race-free.
	out := &lockedBuffer{}
	start := time.Now()
	value, err := e.guard.Run(ctx, e.timeout, func(runCtx context.Context) (any, error) {
		return e.eval.Eval(runCtx, code, out)
	})
	e.stats.Observe("sandbox.eval", time.Since(start))

	if err != nil {
		var timeoutErr *types.TimeoutError
		if errors.As(err, &timeoutErr) {
			e.stats.Inc("sandbox.timeout")
			e.logger.Error("execution timed out", map[string]any{"limit": e.timeout.String()})
			return Result{Executed: true, Output: out.String()}, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{Executed: true, Output: out.String()}, ctxErr
		}
		e.stats.Inc("sandbox.error")
		return Result{Executed: true, Output: out.String()}, &types.ExecutionError{
			Msg:    "execution failed",
			Output: out.String(),
			Err:    err,
		}
	}

	e.stats.Inc("sandbox.ok")
	return Result{Executed: true, Output: out.String(), Value: value}, nil
}

// lockedBuffer is a mutex-guarded bytes.Buffer. An abandoned watchdog
// worker may still write while the caller reads the partial output.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
