// Package server implements the TCP command server: an accept loop,
// per-connection readers, a registration-checked command registry, and a
// bounded single-consumer main loop standing in for the host application's
// one mutable-state thread.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pithecene-io/hostbridge/log"
	"github.com/pithecene-io/hostbridge/metrics"
	"github.com/pithecene-io/hostbridge/types"
	"github.com/pithecene-io/hostbridge/wire"
)

// Server accepts client connections and dispatches their commands through
// the registry onto the main loop.
type Server struct {
	registry *Registry
	loop     *MainLoop
	logger   *log.Logger
	stats    *metrics.Collector

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// New wires a server around a registry and main loop.
func New(registry *Registry, loop *MainLoop, logger *log.Logger, stats *metrics.Collector) *Server {
	return &Server{
		registry: registry,
		loop:     loop,
		logger:   logger,
		stats:    stats,
		conns:    make(map[net.Conn]struct{}),
	}
}

// Start binds addr and begins accepting in the background. Idempotent: a
// second Start on a running server is a no-op.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("server closed")
	}
	if s.listener != nil {
		return nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.listener = ln

	s.wg.Add(1)
	go s.acceptLoop(ln)

	s.logger.Info("server listening", map[string]any{"addr": ln.Addr().String()})
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close stops accepting, tears down every client socket, and waits for the
// connection goroutines to drain. The main loop is not closed here; it
// belongs to the host.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("server stopped", nil)
	return err
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			// Listener closed, or a transient accept failure on shutdown.
			return
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.stats.Inc("server.connections")
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

// serveConn reads commands off one socket until it fails or closes.
// Responses are written in request order: the reader blocks on each task's
// promise before decoding the next line.
func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	remote := conn.RemoteAddr().String()
	s.logger.Info("client connected", map[string]any{"remote": remote})

	dec := wire.NewDecoder(conn)
	enc := wire.NewEncoder(conn)

	for {
		msg, err := dec.ReadMessage()
		if err != nil {
			if wire.IsFatalFrameError(err) {
				s.logger.Warn("dropping connection on frame error", map[string]any{
					"remote": remote,
					"error":  err.Error(),
				})
			}
			return
		}

		resp := s.handleMessage(context.Background(), msg)
		if err := enc.WriteMessage(resp); err != nil {
			s.logger.Warn("write failed", map[string]any{"remote": remote, "error": err.Error()})
			return
		}
	}
}

// handleMessage maps one raw message to exactly one response. Decode and
// dispatch failures stay on this connection; only frame and socket errors
// kill it.
func (s *Server) handleMessage(ctx context.Context, msg []byte) types.Response {
	cmd, err := wire.DecodeCommand(msg)
	if err != nil {
		s.stats.Inc("server.bad_request")
		s.logger.Warn("malformed command", map[string]any{"error": err.Error()})
		return types.Errorf(types.CodeBadRequest, "malformed command: %v", err)
	}

	handler, ok := s.registry.Lookup(cmd.Type)
	if !ok {
		s.stats.Inc("server.unknown_command")
		return types.Errorf(types.CodeUnknownCommand, "unknown command %q", cmd.Type)
	}

	start := time.Now()
	resp := s.dispatch(ctx, cmd, handler)
	s.stats.Observe("server.command."+cmd.Type, time.Since(start))
	if resp.IsError() {
		s.stats.Inc("server.command_errors")
	} else {
		s.stats.Inc("server.commands")
	}
	return resp
}

func (s *Server) dispatch(ctx context.Context, cmd *types.Command, handler Handler) types.Response {
	promise, err := s.loop.Submit(ctx, handler, cmd.Params)
	if err != nil {
		s.logger.Error("submit failed", map[string]any{"command": cmd.Type, "error": err.Error()})
		return types.FromError(err)
	}

	select {
	case res := <-promise:
		if res.err != nil {
			s.logger.Error("command failed", map[string]any{
				"command": cmd.Type,
				"error":   res.err.Error(),
			})
			return types.FromError(res.err)
		}
		return types.Success(res.value)
	case <-ctx.Done():
		return types.FromError(ctx.Err())
	}
}
