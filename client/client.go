// Package client implements the connection manager used by automation
// clients to drive a bridge server over TCP.
//
// A Client holds at most one socket. Connecting is lazy: the first Send
// dials, and a dial is retried with exponential backoff on transient
// failures only. A read or write failure marks the socket stale; it is
// closed immediately and the next Send reconnects. Requests are serialized
// on the socket, so a Client is safe for concurrent use but only one
// command is in flight at a time.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/pithecene-io/hostbridge/config"
	"github.com/pithecene-io/hostbridge/log"
	"github.com/pithecene-io/hostbridge/types"
	"github.com/pithecene-io/hostbridge/wire"
)

// maxBackoffInterval caps the delay between connect attempts.
const maxBackoffInterval = 30 * time.Second

// Client is a connection manager for one bridge endpoint.
type Client struct {
	addr     string
	timeout  time.Duration
	attempts int
	base     time.Duration
	logger   *log.Logger

	// dial is swappable for tests.
	dial func(ctx context.Context, addr string) (net.Conn, error)

	mu   sync.Mutex
	conn net.Conn
	enc  *wire.Encoder
	dec  *wire.Decoder
}

// New creates a client from config. No connection is made until the first
// Send.
func New(cfg *config.Config, logger *log.Logger) *Client {
	return &Client{
		addr:     cfg.Addr(),
		timeout:  cfg.Timeout.Duration,
		attempts: cfg.Attempts,
		base:     cfg.Backoff.Duration,
		logger:   logger,
		dial: func(ctx context.Context, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		},
	}
}

// Send issues one command and waits for its response. A transport failure
// closes the socket and surfaces as *types.NetworkError; the next Send
// reconnects. The command is never replayed — use SendRetryable for
// idempotent commands.
func (c *Client) Send(ctx context.Context, cmd types.Command) (types.Response, error) {
	return c.send(ctx, cmd, false)
}

// SendRetryable is Send with one transparent resend after a stale-socket
// failure. Only use for commands that are safe to execute twice.
func (c *Client) SendRetryable(ctx context.Context, cmd types.Command) (types.Response, error) {
	return c.send(ctx, cmd, true)
}

// Ping issues the ping command, connecting if necessary.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.SendRetryable(ctx, types.Command{Type: "ping"})
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("ping rejected: %s", resp.Message)
	}
	return nil
}

// Close releases the socket. The client remains usable; a later Send
// reconnects.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropConn()
}

func (c *Client) send(ctx context.Context, cmd types.Command, retryOnce bool) (types.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	hadConn := c.conn != nil
	resp, err := c.roundTrip(ctx, cmd)
	if err == nil {
		return resp, nil
	}

	// A failure on a connection that was already open is the stale-socket
	// case: the server may have restarted between sends. One reconnect and
	// resend is safe only when the caller opted in. A connect failure has
	// already spent the full attempt budget and is not replayed.
	var netErr *types.NetworkError
	if retryOnce && hadConn && errors.As(err, &netErr) {
		c.logger.Warn("resending after stale socket", map[string]any{"command": cmd.Type})
		return c.roundTrip(ctx, cmd)
	}
	return types.Response{}, err
}

// roundTrip writes one command and reads one response. Caller holds the
// mutex.
func (c *Client) roundTrip(ctx context.Context, cmd types.Command) (types.Response, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return types.Response{}, err
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		c.dropConn()
		return types.Response{}, &types.NetworkError{Attempts: 1, Err: err}
	}

	if err := c.enc.WriteMessage(cmd); err != nil {
		c.dropConn()
		return types.Response{}, &types.NetworkError{Attempts: 1, Err: fmt.Errorf("write %s: %w", cmd.Type, err)}
	}

	msg, err := c.dec.ReadMessage()
	if err != nil {
		c.dropConn()
		return types.Response{}, &types.NetworkError{Attempts: 1, Err: fmt.Errorf("read response to %s: %w", cmd.Type, err)}
	}

	resp, err := wire.DecodeResponse(msg)
	if err != nil {
		// The stream is healthy but the payload is garbage; keep the socket.
		return types.Response{}, fmt.Errorf("decode response to %s: %w", cmd.Type, err)
	}
	return *resp, nil
}

// ensureConnected dials if no socket is held. Transient dial failures are
// retried with exponential backoff up to the configured attempt budget;
// exhaustion collapses into a single *types.NetworkError wrapping the last
// cause. Caller holds the mutex.
func (c *Client) ensureConnected(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}

	attempts := c.attempts
	if attempts < 1 {
		attempts = 1
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.base
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = maxBackoffInterval
	bo.MaxElapsedTime = 0

	attempt := 0
	var lastErr error
	op := func() error {
		attempt++
		dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
		conn, err := c.dial(dialCtx, c.addr)
		cancel()
		if err == nil {
			c.adopt(conn)
			return nil
		}

		lastErr = err
		if !isTransient(err) {
			return backoff.Permanent(err)
		}
		c.logger.Warn("connect failed", map[string]any{
			"addr":    c.addr,
			"attempt": attempt,
			"error":   err.Error(),
		})
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(attempts-1)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return &types.NetworkError{Attempts: attempt, Err: lastErr}
	}

	c.logger.Info("connected", map[string]any{"addr": c.addr, "attempt": attempt})
	return nil
}

func (c *Client) adopt(conn net.Conn) {
	c.conn = conn
	c.enc = wire.NewEncoder(conn)
	c.dec = wire.NewDecoder(conn)
}

func (c *Client) dropConn() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.enc = nil
	c.dec = nil
	return err
}

// isTransient reports whether a dial error is worth retrying: connection
// refused or reset, timeouts, and abrupt EOFs. Anything else (bad address,
// permission, cancellation) is permanent.
func isTransient(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
