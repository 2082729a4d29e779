package provider

import "context"

// Action is the operation a provider proposes for a single resource.
type Action int

const (
	ActionNoop Action = iota
	ActionCreate
	ActionUpdate
	ActionReplace
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionUpdate:
		return "update"
	case ActionReplace:
		return "replace"
	case ActionDelete:
		return "delete"
	default:
		return "noop"
	}
}

// ConfigureRequest carries provider-level settings (region, profile, ...).
type ConfigureRequest struct {
	Settings map[string]string
}

type ConfigureResponse struct{}

// PlanRequest asks a provider to propose an action for one resource.
// Desired and prior payloads are JSON documents; a nil DesiredJSON means
// the resource is being removed from configuration.
type PlanRequest struct {
	Type        string
	Name        string
	DesiredJSON []byte
	PriorJSON   []byte
}

type PlanResponse struct {
	Action Action
	// ChangedAttributes names the top-level attributes that differ between
	// desired and prior. The engine uses it for ignoreChanges filtering and
	// replace escalation.
	ChangedAttributes []string
}

type ApplyRequest struct {
	Type        string
	Name        string
	DesiredJSON []byte
	PriorJSON   []byte
}

type ApplyResponse struct {
	// NewStateJSON is the provider-assigned attribute snapshot for the
	// resource after a successful create or update.
	NewStateJSON []byte
}

type ReadRequest struct {
	Type        string
	ID          string
	CurrentJSON []byte
}

type ReadResponse struct {
	Exists       bool
	NewStateJSON []byte
}

type DeleteRequest struct {
	Type        string
	ID          string
	CurrentJSON []byte
}

type DeleteResponse struct{}

// Interface is implemented by every resource provider. Providers run
// in-process and are loaded through the Registry.
type Interface interface {
	Configure(ctx context.Context, req *ConfigureRequest) (*ConfigureResponse, error)
	Plan(ctx context.Context, req *PlanRequest) (*PlanResponse, error)
	Apply(ctx context.Context, req *ApplyRequest) (*ApplyResponse, error)
	Read(ctx context.Context, req *ReadRequest) (*ReadResponse, error)
	Delete(ctx context.Context, req *DeleteRequest) (*DeleteResponse, error)
}
