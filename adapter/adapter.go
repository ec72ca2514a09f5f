// Package adapter defines the event-bus boundary for operation lifecycle
// notifications.
//
// Adapters publish terminal-state operation events to downstream systems.
// The bridge owns adapter lifecycle; users provide configuration only.
package adapter

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/hostbridge/log"
	"github.com/pithecene-io/hostbridge/progress"
)

// OperationEvent is the payload published when an operation reaches a
// terminal state.
type OperationEvent struct {
	EventID          string  `json:"event_id"`
	OperationID      string  `json:"operation_id"`
	Status           string  `json:"status"` // completed, error, cancelled
	TotalBytes       int64   `json:"total_bytes"`
	TransferredBytes int64   `json:"transferred_bytes"`
	DurationMs       int64   `json:"duration_ms"`
	ErrorMessage     string  `json:"error_message,omitempty"`
	SpeedBps         float64 `json:"speed_bps"`
	Timestamp        string  `json:"timestamp"` // ISO 8601
}

// Adapter publishes operation events to a downstream system.
// Implementations must be safe for concurrent use.
type Adapter interface {
	// Publish sends one event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *OperationEvent) error

	// Close releases adapter resources.
	Close() error
}

// eventFromOperation converts a terminal operation snapshot to the wire
// payload.
func eventFromOperation(op progress.Operation) *OperationEvent {
	return &OperationEvent{
		EventID:          uuid.NewString(),
		OperationID:      op.ID,
		Status:           string(op.Status),
		TotalBytes:       op.TotalBytes,
		TransferredBytes: op.TransferredBytes,
		DurationMs:       op.LastUpdateAt.Sub(op.StartedAt).Milliseconds(),
		ErrorMessage:     op.ErrorMessage,
		SpeedBps:         op.SpeedBps,
		Timestamp:        op.LastUpdateAt.UTC().Format(time.RFC3339),
	}
}

// Pump subscribes to a progress tracker and forwards terminal-state events
// to every configured adapter. Non-terminal updates are dropped; a failed
// publish is logged and does not block the others.
type Pump struct {
	adapters []Adapter
	logger   *log.Logger

	cancel func()
	done   chan struct{}
}

// NewPump creates a pump over adapters. Start must be called to begin
// forwarding.
func NewPump(adapters []Adapter, logger *log.Logger) *Pump {
	return &Pump{adapters: adapters, logger: logger}
}

// Start subscribes to tracker and forwards events until Stop.
func (p *Pump) Start(ctx context.Context, tracker *progress.Tracker) {
	events, unsubscribe := tracker.Subscribe()
	pumpCtx, cancel := context.WithCancel(ctx)
	p.cancel = func() {
		unsubscribe()
		cancel()
	}
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				if !ev.Op.Status.Terminal() {
					continue
				}
				p.publish(pumpCtx, eventFromOperation(ev.Op))
			case <-pumpCtx.Done():
				return
			}
		}
	}()
}

// Stop unsubscribes, waits for the forwarding goroutine, and closes every
// adapter.
func (p *Pump) Stop() {
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}
	for _, a := range p.adapters {
		if err := a.Close(); err != nil {
			p.logger.Warn("adapter close failed", map[string]any{"error": err.Error()})
		}
	}
}

func (p *Pump) publish(ctx context.Context, event *OperationEvent) {
	for _, a := range p.adapters {
		if err := a.Publish(ctx, event); err != nil {
			p.logger.Warn("event publish failed", map[string]any{
				"operation": event.OperationID,
				"error":     err.Error(),
			})
		}
	}
}
