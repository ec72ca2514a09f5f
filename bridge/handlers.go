package bridge

import (
	"context"
	"errors"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/hostbridge/cache"
	"github.com/pithecene-io/hostbridge/progress"
	"github.com/pithecene-io/hostbridge/source"
	"github.com/pithecene-io/hostbridge/types"
)

func (b *Bridge) handlePing(ctx context.Context, params map[string]any) (any, error) {
	return map[string]any{
		"pong":    true,
		"version": types.Version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (b *Bridge) handleExecuteCode(ctx context.Context, params map[string]any) (any, error) {
	code, err := stringParam(params, "code")
	if err != nil {
		return nil, err
	}

	res, err := b.engine.Execute(ctx, code)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"executed": res.Executed,
		"output":   res.Output,
		"value":    res.Value,
	}, nil
}

// handleDownloadAsset resolves an asset through the cache, or starts a
// background transfer and returns its operation id. The handler only
// admits the call through the service's breaker and registers the
// operation; the upstream round trip and the stream both run off the main
// loop, so a slow provider never stalls command dispatch. A tripped
// circuit still rejects synchronously with retry-after data.
func (b *Bridge) handleDownloadAsset(ctx context.Context, params map[string]any) (any, error) {
	ref, err := stringParam(params, "ref")
	if err != nil {
		return nil, err
	}
	sourceName := optionalString(params, "source", "http")
	service := optionalString(params, "service", sourceName)

	src, ok := b.sources[sourceName]
	if !ok {
		return nil, types.NewValidationError("unknown asset source %q", sourceName)
	}

	key := cache.Key(ref, optionalString(params, "variant", ""))
	if path, err := b.cache.Get(key); err == nil {
		b.stats.Inc("bridge.cache_hits")
		return map[string]any{"cached": true, "path": path, "key": key}, nil
	}
	b.stats.Inc("bridge.cache_misses")

	done, err := b.breakers.Get(service).Allow()
	if err != nil {
		return nil, err
	}

	opID := uuid.NewString()
	if _, err := b.tracker.Start(opID, 0); err != nil {
		done(false)
		return nil, err
	}

	go b.runTransfer(done, src, ref, opID, key)

	return map[string]any{
		"cached":       false,
		"operation_id": opID,
		"key":          key,
	}, nil
}

// runTransfer fetches ref and streams it into the cache, reporting the
// fetch outcome to the admitted breaker slot and progress to the tracker.
func (b *Bridge) runTransfer(done func(bool), src source.Source, ref, opID, key string) {
	body, size, err := src.Fetch(context.Background(), ref)
	if err != nil {
		// A validation failure (bad reference) means the service answered,
		// so it does not count against circuit health.
		var valErr *types.ValidationError
		done(errors.As(err, &valErr))
		b.tracker.Error(opID, err.Error())
		b.stats.Inc("bridge.download_errors")
		return
	}
	done(true)
	defer body.Close()

	if size > 0 {
		b.tracker.SetTotal(opID, size)
	}

	reader := &progressReader{
		tracker: b.tracker,
		opID:    opID,
		body:    body,
	}

	if _, err := b.cache.Put(key, reader); err != nil {
		if errors.Is(err, errTransferCancelled) {
			b.logger.Info("transfer cancelled", map[string]any{"operation": opID})
			return
		}
		b.tracker.Error(opID, err.Error())
		b.stats.Inc("bridge.download_errors")
		return
	}

	b.tracker.Complete(opID)
	b.stats.Inc("bridge.downloads")
}

var errTransferCancelled = errors.New("transfer cancelled")

// progressReader reports bytes read to the tracker and aborts when the
// operation is cancelled.
type progressReader struct {
	tracker *progress.Tracker
	opID    string
	body    io.Reader
	total   int64
}

func (r *progressReader) Read(p []byte) (int, error) {
	if r.tracker.Cancelled(r.opID) {
		return 0, errTransferCancelled
	}
	n, err := r.body.Read(p)
	if n > 0 {
		r.total += int64(n)
		r.tracker.Update(r.opID, r.total)
	}
	return n, err
}

func (b *Bridge) handleGetProgress(ctx context.Context, params map[string]any) (any, error) {
	opID, err := stringParam(params, "operation_id")
	if err != nil {
		return nil, err
	}
	op, ok := b.tracker.Snapshot(opID)
	if !ok {
		return nil, types.NewValidationError("unknown operation %q", opID)
	}
	return operationView(op), nil
}

func (b *Bridge) handleListOperations(ctx context.Context, params map[string]any) (any, error) {
	ops := b.tracker.Snapshots()
	sort.Slice(ops, func(i, j int) bool { return ops[i].StartedAt.Before(ops[j].StartedAt) })

	views := make([]map[string]any, len(ops))
	for i, op := range ops {
		views[i] = operationView(op)
	}
	return map[string]any{"operations": views}, nil
}

func (b *Bridge) handleCancelOperation(ctx context.Context, params map[string]any) (any, error) {
	opID, err := stringParam(params, "operation_id")
	if err != nil {
		return nil, err
	}
	if err := b.tracker.Cancel(opID); err != nil {
		return nil, types.NewValidationError("unknown operation %q", opID)
	}
	return map[string]any{"cancelled": true, "operation_id": opID}, nil
}

func (b *Bridge) handleClearCache(ctx context.Context, params map[string]any) (any, error) {
	removed, err := b.cache.Clear()
	if err != nil {
		return nil, err
	}
	return map[string]any{"removed": removed}, nil
}

func (b *Bridge) handleCacheStats(ctx context.Context, params map[string]any) (any, error) {
	stats, err := b.cache.Size()
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"files":       stats.Files,
		"total_bytes": stats.TotalBytes,
	}, nil
}

func (b *Bridge) handleCircuitStatus(ctx context.Context, params map[string]any) (any, error) {
	return map[string]any{"circuits": b.breakers.Snapshots()}, nil
}

func (b *Bridge) handleResetCircuit(ctx context.Context, params map[string]any) (any, error) {
	service, err := stringParam(params, "service")
	if err != nil {
		return nil, err
	}
	b.breakers.Get(service).Reset()
	return map[string]any{"reset": true, "service": service}, nil
}

func (b *Bridge) handleDiagnostics(ctx context.Context, params map[string]any) (any, error) {
	cacheStats, err := b.cache.Size()
	if err != nil {
		return nil, err
	}

	active := 0
	for _, op := range b.tracker.Snapshots() {
		if !op.Status.Terminal() {
			active++
		}
	}

	snap := b.stats.Snapshot()
	return map[string]any{
		"version":           types.Version,
		"circuits":          b.breakers.Snapshots(),
		"counters":          snap.Counters,
		"timings":           snap.Timings,
		"cache":             map[string]any{"files": cacheStats.Files, "total_bytes": cacheStats.TotalBytes},
		"active_operations": active,
	}, nil
}

// operationView flattens a snapshot with its derived fields for the wire.
func operationView(op progress.Operation) map[string]any {
	return map[string]any{
		"operation_id":      op.ID,
		"status":            string(op.Status),
		"total_bytes":       op.TotalBytes,
		"transferred_bytes": op.TransferredBytes,
		"percent":           op.Percent(),
		"speed_bps":         op.SpeedBps,
		"eta_seconds":       op.ETASeconds(),
		"error":             op.ErrorMessage,
	}
}

func stringParam(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", types.NewValidationError("missing required parameter %q", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", types.NewValidationError("parameter %q must be a non-empty string", key)
	}
	return s, nil
}

func optionalString(params map[string]any, key, fallback string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return fallback
}
