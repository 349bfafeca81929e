// Package state persists completed responses so follow-up requests can
// continue a conversation by previous_response_id. Stores are narrow
// key-value collaborators: translation and streaming stay correct when the
// backend is disabled.
package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/openbridge/openbridge/internal/config"
	"github.com/openbridge/openbridge/internal/protocol"
)

// ErrNotFound reports a missing or expired response id.
var ErrNotFound = errors.New("response not found")

// StoredResponse is the persisted outcome of one completed request: the final
// response, the reconstructed chat transcript (without the system message),
// the virtualized function-name map and the resolved upstream model.
type StoredResponse struct {
	Response        protocol.ResponsesResponse `json:"response"`
	Messages        []protocol.ChatMessage     `json:"messages"`
	ToolFunctionMap map[string]string          `json:"tool_function_map,omitempty"`
	Model           string                     `json:"model,omitempty"`
}

// Store is the key→record contract shared by all backends. Set with
// ttlSeconds 0 stores without expiry. Delete reports whether the id existed.
type Store interface {
	Get(ctx context.Context, id string) (*StoredResponse, error)
	Set(ctx context.Context, id string, record *StoredResponse, ttlSeconds int) error
	Delete(ctx context.Context, id string) (bool, error)
	Close() error
}

// New builds the store selected by the configuration. The disabled backend
// yields a nil store; callers treat nil as "state not implemented".
func New(cfg *config.Config) (Store, error) {
	switch cfg.StateBackend {
	case "memory":
		return NewMemoryStore(0), nil
	case "remote":
		return NewRedisStore(cfg.RemoteStateURL, cfg.StateKeyPrefix)
	case "disabled":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.StateBackend)
	}
}
