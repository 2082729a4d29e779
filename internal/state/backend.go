package state

import (
	"context"
	"fmt"

	"github.com/stackform-io/stackform/internal/ir"
)

// Backend is a state storage backend.
type Backend interface {
	Read(ctx context.Context) (*ir.State, error)
	Write(ctx context.Context, state *ir.State) error
	// Checkpoint persists an in-progress snapshot without advancing the
	// serial, so an interrupted apply keeps its completed operations.
	Checkpoint(ctx context.Context, state *ir.State) error
	Lock() error
	Unlock() error
}

// BackendConfig selects and configures a state backend. It is read from
// .stackform/backend.json when present.
type BackendConfig struct {
	Type   string            `json:"type"` // "local" or "s3"
	Config map[string]string `json:"config"`
}

// NewBackend creates a state backend from configuration.
func NewBackend(cfg *BackendConfig) (Backend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("backend configuration is nil")
	}
	switch cfg.Type {
	case "local", "":
		return nil, fmt.Errorf("use state.Manager for local backend")
	case "s3":
		return newS3Backend(cfg.Config)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}
