package server

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/pithecene-io/hostbridge/log"
	"github.com/pithecene-io/hostbridge/types"
)

// DefaultQueueSize bounds the main-loop task queue. Submissions beyond it
// block until the consumer catches up or the submitter's ctx expires.
const DefaultQueueSize = 64

// ErrLoopClosed is returned by Submit after Close.
var ErrLoopClosed = errors.New("main loop closed")

// taskResult is delivered on a task's promise channel.
type taskResult struct {
	value any
	err   error
}

type task struct {
	ctx     context.Context
	handler Handler
	params  map[string]any
	promise chan taskResult
}

// MainLoop serializes handler execution onto a single consumer, standing in
// for the host application's one mutable-state thread. Producers are the
// per-connection readers; the consumer is either the embedding host calling
// Tick from its own loop, or Run for standalone operation.
type MainLoop struct {
	queue  chan task
	done   chan struct{}
	logger *log.Logger
}

// NewMainLoop creates a loop with the given queue bound. A non-positive
// size falls back to DefaultQueueSize.
func NewMainLoop(size int, logger *log.Logger) *MainLoop {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &MainLoop{
		queue:  make(chan task, size),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Submit enqueues handler for execution and returns a promise channel that
// receives exactly one result. A full queue blocks the submitter until
// space frees, ctx expires, or the loop closes.
func (m *MainLoop) Submit(ctx context.Context, handler Handler, params map[string]any) (<-chan taskResult, error) {
	t := task{
		ctx:     ctx,
		handler: handler,
		params:  params,
		promise: make(chan taskResult, 1),
	}

	select {
	case m.queue <- t:
		return t.promise, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.done:
		return nil, ErrLoopClosed
	}
}

// Tick drains up to budget queued tasks, executing each synchronously on
// the caller's goroutine. Returns the number executed. This is the
// embedding shape: the host application calls Tick from its own update
// loop so handlers run on the thread that owns host state.
func (m *MainLoop) Tick(budget int) int {
	executed := 0
	for executed < budget {
		select {
		case t := <-m.queue:
			m.execute(t)
			executed++
		default:
			return executed
		}
	}
	return executed
}

// Run consumes tasks until ctx is cancelled. The standalone shape: the
// caller dedicates one goroutine as the main loop.
func (m *MainLoop) Run(ctx context.Context) {
	for {
		select {
		case t := <-m.queue:
			m.execute(t)
		case <-ctx.Done():
			return
		case <-m.done:
			return
		}
	}
}

// Close stops accepting submissions. Tasks already queued but never
// executed leave their submitters blocked on the promise until their own
// ctx expires, so close the loop before abandoning Tick/Run.
func (m *MainLoop) Close() {
	select {
	case <-m.done:
	default:
		close(m.done)
	}
}

// execute runs one task, converting a handler panic into an
// *types.ExecutionError instead of taking down the consumer.
func (m *MainLoop) execute(t task) {
	if err := t.ctx.Err(); err != nil {
		t.promise <- taskResult{err: err}
		return
	}

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("handler panicked", map[string]any{
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			})
			t.promise <- taskResult{err: &types.ExecutionError{
				Msg: fmt.Sprintf("handler panicked: %v", r),
			}}
		}
	}()

	value, err := t.handler(t.ctx, t.params)
	t.promise <- taskResult{value: value, err: err}
}
