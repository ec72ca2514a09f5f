// Package bridge assembles the command surface: it owns the breakers,
// rate limiter, cache, progress tracker, sandbox engine, and asset
// sources, and registers the standard handler set against a server
// registry. Nothing in here is a process global; every collaborator is
// injected at construction.
package bridge

import (
	"context"
	"time"

	"github.com/pithecene-io/hostbridge/breaker"
	"github.com/pithecene-io/hostbridge/cache"
	"github.com/pithecene-io/hostbridge/config"
	"github.com/pithecene-io/hostbridge/log"
	"github.com/pithecene-io/hostbridge/metrics"
	"github.com/pithecene-io/hostbridge/progress"
	"github.com/pithecene-io/hostbridge/ratelimit"
	"github.com/pithecene-io/hostbridge/sandbox"
	"github.com/pithecene-io/hostbridge/server"
	"github.com/pithecene-io/hostbridge/source"
)

// sweepInterval is how often terminal operation records are swept.
const sweepInterval = time.Minute

// sweepRetention is how long terminal records stay visible to get_progress
// before the sweeper removes them.
const sweepRetention = 10 * time.Minute

// Bridge owns the bridge-side state and registers the command handlers.
type Bridge struct {
	cfg      *config.Config
	logger   *log.Logger
	stats    *metrics.Collector
	breakers *breaker.Registry
	engine   *sandbox.Engine
	cache    *cache.Cache
	tracker  *progress.Tracker
	sources  map[string]source.Source
}

// Option customizes a Bridge at construction.
type Option func(*Bridge)

// WithSource binds an asset source under a name referenced by
// download_asset's "source" parameter.
func WithSource(name string, src source.Source) Option {
	return func(b *Bridge) {
		b.sources[name] = src
	}
}

// WithEvaluator replaces the default expression evaluator, for hosts that
// embed their own scripting runtime.
func WithEvaluator(ev sandbox.Evaluator) Option {
	return func(b *Bridge) {
		limiter := ratelimit.NewWindow(b.cfg.Sandbox.MaxCalls, time.Duration(b.cfg.Sandbox.WindowSeconds)*time.Second)
		b.engine = sandbox.NewEngine(limiter, ev, b.cfg.Sandbox.Timeout.Duration, b.logger.Named("sandbox"), b.stats)
	}
}

// New wires a bridge from config. The asset cache directory is created if
// missing.
func New(cfg *config.Config, logger *log.Logger, opts ...Option) (*Bridge, error) {
	stats := metrics.NewCollector()

	assetCache, err := cache.New(cfg.Cache.Dir, cfg.Cache.TTL.Duration, logger.Named("cache"))
	if err != nil {
		return nil, err
	}

	breakers := breaker.NewRegistry()
	for _, name := range cfg.ServiceNames() {
		svc := cfg.Services[name]
		breakers.Register(breaker.Config{
			Name:             name,
			FailureThreshold: svc.FailureThreshold,
			RecoveryTimeout:  svc.RecoveryTimeout.Duration,
		})
	}

	limiter := ratelimit.NewWindow(cfg.Sandbox.MaxCalls, time.Duration(cfg.Sandbox.WindowSeconds)*time.Second)
	engine := sandbox.NewEngine(limiter, sandbox.NewExprEvaluator(nil), cfg.Sandbox.Timeout.Duration, logger.Named("sandbox"), stats)

	b := &Bridge{
		cfg:      cfg,
		logger:   logger,
		stats:    stats,
		breakers: breakers,
		engine:   engine,
		cache:    assetCache,
		tracker:  progress.NewTracker(),
		sources:  map[string]source.Source{"http": source.NewHTTPSource(nil)},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Tracker exposes the progress tracker, primarily for event pumps.
func (b *Bridge) Tracker() *progress.Tracker { return b.tracker }

// Stats exposes the metrics collector shared with the server.
func (b *Bridge) Stats() *metrics.Collector { return b.stats }

// Register binds the standard handler set. Fails on a name collision,
// which would indicate double registration.
func (b *Bridge) Register(reg *server.Registry) error {
	handlers := map[string]server.Handler{
		"ping":             b.handlePing,
		"execute_code":     b.handleExecuteCode,
		"download_asset":   b.handleDownloadAsset,
		"get_progress":     b.handleGetProgress,
		"list_operations":  b.handleListOperations,
		"cancel_operation": b.handleCancelOperation,
		"clear_cache":      b.handleClearCache,
		"cache_stats":      b.handleCacheStats,
		"circuit_status":   b.handleCircuitStatus,
		"reset_circuit":    b.handleResetCircuit,
		"diagnostics":      b.handleDiagnostics,
	}
	for name, handler := range handlers {
		if err := reg.Register(name, handler); err != nil {
			return err
		}
	}
	return nil
}

// RunSweeper periodically removes stale terminal operation records until
// ctx is cancelled. Run it as a goroutine next to the server.
func (b *Bridge) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if removed := b.tracker.Sweep(sweepRetention); removed > 0 {
				b.logger.Debug("swept operation records", map[string]any{"removed": removed})
			}
		case <-ctx.Done():
			return
		}
	}
}
