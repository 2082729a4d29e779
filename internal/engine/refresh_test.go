package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackform-io/stackform/internal/ir"
	"github.com/stackform-io/stackform/internal/provider"
)

func TestRefresh_DetectsDrift(t *testing.T) {
	registerFake(t, "drifter", &fakeProvider{
		readFn: func(req *provider.ReadRequest) (*provider.ReadResponse, error) {
			return &provider.ReadResponse{
				Exists:       true,
				NewStateJSON: []byte(`{"id":"d-1","size":"changed-remotely"}`),
			}, nil
		},
	})

	eng := newTestEngine(t)
	state := &ir.State{Version: 1, Resources: []*ir.ResourceState{
		{Type: "drifter:Thing", Name: "d", Provider: "drifter",
			Inputs:  map[string]any{"size": "small"},
			Outputs: map[string]any{"id": "d-1", "size": "small"}},
	}}

	result, err := eng.Refresh(context.Background(), state)
	require.NoError(t, err)

	assert.Equal(t, []string{"drifter:Thing.d"}, result.Drifted)
	assert.Empty(t, result.Removed)
	assert.Equal(t, "changed-remotely", state.Resources[0].Outputs["size"])
}

func TestRefresh_RemovesVanishedResources(t *testing.T) {
	registerFake(t, "vanisher", &fakeProvider{
		readFn: func(req *provider.ReadRequest) (*provider.ReadResponse, error) {
			return &provider.ReadResponse{Exists: false}, nil
		},
	})

	eng := newTestEngine(t)
	state := &ir.State{Version: 1, Resources: []*ir.ResourceState{
		{Type: "vanisher:Thing", Name: "v", Provider: "vanisher",
			Outputs: map[string]any{"id": "v-1"}},
	}}

	result, err := eng.Refresh(context.Background(), state)
	require.NoError(t, err)

	assert.Equal(t, []string{"vanisher:Thing.v"}, result.Removed)
	assert.Empty(t, state.Resources)
}

func TestRefresh_NoChanges(t *testing.T) {
	eng := newTestEngine(t)
	state := &ir.State{Version: 1, Resources: []*ir.ResourceState{
		{Type: "null_resource", Name: "a", Provider: "null",
			Inputs:  map[string]any{"triggers": map[string]any{"v": "1"}},
			Outputs: map[string]any{"id": "null-a"}},
	}}

	result, err := eng.Refresh(context.Background(), state)
	require.NoError(t, err)

	assert.Empty(t, result.Drifted)
	assert.Empty(t, result.Removed)
	require.Len(t, state.Resources, 1)
}
