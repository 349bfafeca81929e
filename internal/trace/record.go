// Package trace is the debug side-car: best-effort, sanitized request traces
// that can be fetched later by response id. It must never fail a request and
// never store upstream bearer material.
package trace

import (
	"context"
	"errors"

	"github.com/openbridge/openbridge/internal/config"
)

// ErrNotFound reports a missing or expired trace.
var ErrNotFound = errors.New("trace not found")

// Record is one request trace. Snapshot fields hold sanitized JSON trees, so
// the whole record is safe to serialize and hand to a debugging client.
type Record struct {
	RequestID  string `json:"request_id"`
	ResponseID string `json:"response_id,omitempty"`
	CreatedAt  int64  `json:"created_at"`
	UpdatedAt  int64  `json:"updated_at"`

	Method string `json:"method,omitempty"`
	Path   string `json:"path,omitempty"`
	Stream bool   `json:"stream,omitempty"`

	ResponsesRequest  any `json:"responses_request,omitempty"`
	ChatRequest       any `json:"chat_request,omitempty"`
	MessagesForState  any `json:"messages_for_state,omitempty"`
	ToolMap           any `json:"tool_map,omitempty"`
	ResponsesResponse any `json:"responses_response,omitempty"`
	AssistantMessage  any `json:"assistant_message,omitempty"`
	Upstream          any `json:"upstream,omitempty"`
	Error             any `json:"error,omitempty"`

	Notes []string `json:"notes,omitempty"`
}

// Store is the trace persistence contract. Records are written under their
// request id; a response-id index makes the debug endpoint's lookup work.
type Store interface {
	GetByRequestID(ctx context.Context, requestID string) (*Record, error)
	GetByResponseID(ctx context.Context, responseID string) (*Record, error)
	Set(ctx context.Context, record *Record, ttlSeconds int) error
	Close() error
}

// New builds the trace store for the configuration. Tracing disabled yields a
// nil store. Traces follow the state backend choice: a remote state backend
// keeps traces in the same Redis, everything else stays in process memory.
func New(cfg *config.Config) (Store, error) {
	if !cfg.TraceEnabled {
		return nil, nil
	}
	if cfg.StateBackend == "remote" {
		return NewRedisStore(cfg.RemoteStateURL, DefaultKeyPrefix)
	}
	return NewMemoryStore(cfg.TraceMaxEntries), nil
}
