// Package nats implements a NATS adapter for operation events.
//
// Publishes events as JSON to a configurable subject. The NATS client
// handles reconnection itself, so publish failures are retried with a
// short backoff only.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gonats "github.com/nats-io/nats.go"

	"github.com/pithecene-io/hostbridge/adapter"
)

// DefaultSubject is the default publish subject.
const DefaultSubject = "hostbridge.operation.completed"

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// Config configures the NATS adapter.
type Config struct {
	// URL is the NATS server URL (required). Format: nats://host:port
	URL string
	// Subject is the publish subject (default: hostbridge.operation.completed).
	Subject string
	// Retries is the number of retry attempts on failure (default 3).
	Retries int
}

// Adapter publishes operation events to a NATS subject.
type Adapter struct {
	config Config
	conn   *gonats.Conn
}

// New creates a NATS adapter, connecting eagerly so a bad URL fails at
// startup rather than on the first event.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("nats adapter requires a URL")
	}
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}

	conn, err := gonats.Connect(cfg.URL,
		gonats.RetryOnFailedConnect(true),
		gonats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("nats adapter: connect: %w", err)
	}

	return &Adapter{config: cfg, conn: conn}, nil
}

// Publish sends the event as JSON to the configured subject.
// Retries with exponential backoff on failures.
func (a *Adapter) Publish(ctx context.Context, event *adapter.OperationEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("nats: marshal event: %w", err)
	}

	var lastErr error
	// attempts = 1 initial + retries
	attempts := 1 + a.config.Retries

	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("nats: context canceled: %w", err)
		}

		// Exponential backoff before retries (not before first attempt)
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return fmt.Errorf("nats: context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		lastErr = a.conn.Publish(a.config.Subject, body)
		if lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("nats: failed after %d attempts: %w", attempts, lastErr)
}

// Close flushes pending messages and releases the connection.
func (a *Adapter) Close() error {
	if err := a.conn.Flush(); err != nil {
		a.conn.Close()
		return fmt.Errorf("nats: flush: %w", err)
	}
	a.conn.Close()
	return nil
}

// Verify Adapter implements the adapter interface.
var _ adapter.Adapter = (*Adapter)(nil)
