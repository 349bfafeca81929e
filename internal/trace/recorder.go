package trace

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/openbridge/openbridge/internal/ids"
)

// Recorder is the orchestrator's handle on tracing. It is nil-safe
// throughout: with tracing disabled every method is a cheap no-op, so call
// sites stay free of feature flags.
type Recorder struct {
	store    Store
	sanitize SanitizeConfig
	ttl      int
	logger   *zap.Logger
}

// NewRecorder wraps a store. A nil store produces a disabled recorder.
func NewRecorder(store Store, sanitize SanitizeConfig, ttlSeconds int, logger *zap.Logger) *Recorder {
	if store == nil {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: store, sanitize: sanitize, ttl: ttlSeconds, logger: logger}
}

// Enabled reports whether traces are being recorded.
func (r *Recorder) Enabled() bool {
	return r != nil && r.store != nil
}

// Begin opens the trace record for one request. Returns nil when disabled.
func (r *Recorder) Begin(requestID, method, path string, stream bool) *Record {
	if !r.Enabled() {
		return nil
	}
	now := ids.NowUnix()
	return &Record{
		RequestID: requestID,
		CreatedAt: now,
		UpdatedAt: now,
		Method:    method,
		Path:      path,
		Stream:    stream,
	}
}

// Snapshot renders a value into a sanitized JSON tree fit for storage.
func (r *Recorder) Snapshot(value any) any {
	if !r.Enabled() || value == nil {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return map[string]any{"_unserializable": err.Error()}
	}
	var tree any
	if err := json.Unmarshal(data, &tree); err != nil {
		return map[string]any{"_unserializable": err.Error()}
	}
	return Sanitize(tree, r.sanitize)
}

// Save best-effort persists the record; failures are logged, never returned.
func (r *Recorder) Save(ctx context.Context, record *Record) {
	if !r.Enabled() || record == nil {
		return
	}
	record.UpdatedAt = ids.NowUnix()
	if err := r.store.Set(ctx, record, r.ttl); err != nil {
		r.logger.Warn("trace save failed",
			zap.String("request_id", record.RequestID),
			zap.Error(err))
	}
}

// Lookup finds a record by response id, falling back to request id so traces
// captured before a response id was allocated stay reachable.
func (r *Recorder) Lookup(ctx context.Context, id string) (*Record, error) {
	if !r.Enabled() {
		return nil, ErrNotFound
	}
	record, err := r.store.GetByResponseID(ctx, id)
	if err == nil {
		return record, nil
	}
	return r.store.GetByRequestID(ctx, id)
}

// Close releases the underlying store.
func (r *Recorder) Close() error {
	if !r.Enabled() {
		return nil
	}
	return r.store.Close()
}
