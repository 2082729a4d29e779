package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stackform-io/stackform/internal/ir"
	"github.com/stackform-io/stackform/internal/logging"
	"github.com/stackform-io/stackform/internal/provider"
)

// RefreshResult summarizes what a refresh changed.
type RefreshResult struct {
	Drifted []string
	Removed []string
}

// Refresh reads every tracked resource from its provider and reconciles
// recorded outputs with reality. Resources that no longer exist are
// dropped from state.
func (e *Engine) Refresh(ctx context.Context, state *ir.State) (*RefreshResult, error) {
	result := &RefreshResult{}
	kept := make([]*ir.ResourceState, 0, len(state.Resources))

	for _, res := range state.Resources {
		addr := res.Address()

		if err := e.registry.Load(res.Provider); err != nil {
			return nil, fmt.Errorf("failed to load provider %s: %w", res.Provider, err)
		}
		prov, err := e.registry.Get(res.Provider)
		if err != nil {
			return nil, err
		}

		var id string
		if v, ok := res.Outputs["id"]; ok {
			id = fmt.Sprintf("%v", v)
		}
		var currentJSON []byte
		if res.Outputs != nil {
			currentJSON, _ = json.Marshal(res.Outputs)
		}

		resp, err := prov.Read(ctx, &provider.ReadRequest{
			Type:        res.Type,
			ID:          id,
			CurrentJSON: currentJSON,
		})
		if err != nil {
			return nil, classifyFailure(addr, err)
		}

		if !resp.Exists {
			logging.Info("resource no longer exists, removing from state", "address", addr)
			result.Removed = append(result.Removed, addr)
			continue
		}

		if len(resp.NewStateJSON) > 0 {
			var outputs map[string]any
			if err := json.Unmarshal(resp.NewStateJSON, &outputs); err != nil {
				return nil, fmt.Errorf("provider returned invalid state for %s: %w", addr, err)
			}
			if hashValue(outputs) != hashValue(res.Outputs) {
				res.Outputs = outputs
				result.Drifted = append(result.Drifted, addr)
			}
		}
		kept = append(kept, res)
	}

	state.Resources = kept
	return result, nil
}
