// Package null implements a provider with no remote API. It is used to
// model trigger-only resources and to exercise the engine in tests.
package null

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stackform-io/stackform/internal/provider"
)

func init() {
	provider.Register("null", func() provider.Interface { return New() })
}

type Provider struct{}

func New() *Provider {
	return &Provider{}
}

// Config is the declared shape of a null_resource.
type Config struct {
	Triggers map[string]string `json:"triggers"`
	// Fail makes Apply return an error. Used to exercise failure paths.
	Fail bool `json:"fail,omitempty"`
}

type State struct {
	ID       string            `json:"id"`
	Triggers map[string]string `json:"triggers"`
}

func (p *Provider) Configure(ctx context.Context, req *provider.ConfigureRequest) (*provider.ConfigureResponse, error) {
	return &provider.ConfigureResponse{}, nil
}

// Plan creates on first sight and replaces when triggers change.
func (p *Provider) Plan(ctx context.Context, req *provider.PlanRequest) (*provider.PlanResponse, error) {
	var desired Config
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	if len(req.PriorJSON) == 0 {
		return &provider.PlanResponse{Action: provider.ActionCreate}, nil
	}

	var prior State
	if err := json.Unmarshal(req.PriorJSON, &prior); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
	}

	if !equal(desired.Triggers, prior.Triggers) {
		return &provider.PlanResponse{
			Action:            provider.ActionReplace,
			ChangedAttributes: []string{"triggers"},
		}, nil
	}
	return &provider.PlanResponse{Action: provider.ActionNoop}, nil
}

func (p *Provider) Apply(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	var desired Config
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if desired.Fail {
		return nil, fmt.Errorf("null resource %s configured to fail", req.Name)
	}

	state := State{
		ID:       fmt.Sprintf("null-%s", req.Name),
		Triggers: desired.Triggers,
	}
	stateJSON, _ := json.Marshal(state)
	return &provider.ApplyResponse{NewStateJSON: stateJSON}, nil
}

func (p *Provider) Read(ctx context.Context, req *provider.ReadRequest) (*provider.ReadResponse, error) {
	// Null resources have no remote counterpart to drift from.
	return &provider.ReadResponse{
		Exists:       true,
		NewStateJSON: req.CurrentJSON,
	}, nil
}

func (p *Provider) Delete(ctx context.Context, req *provider.DeleteRequest) (*provider.DeleteResponse, error) {
	return &provider.DeleteResponse{}, nil
}

func equal(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
