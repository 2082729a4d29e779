package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackform-io/stackform/internal/ir"
)

func TestExpandCount_FlattensAndSubstitutes(t *testing.T) {
	resources := []*ir.Resource{
		{
			Type: "null_resource", Name: "worker", Provider: "null", Count: 3,
			Properties: map[string]any{
				"triggers": map[string]any{"index": "worker-${count.index}"},
			},
		},
	}

	expanded := ExpandCount(resources)
	require.Len(t, expanded, 3)

	assert.Equal(t, "null_resource.worker[0]", expanded[0].Address())
	assert.Equal(t, "null_resource.worker[2]", expanded[2].Address())
	assert.Zero(t, expanded[0].Count)

	triggers := expanded[1].Properties["triggers"].(map[string]any)
	assert.Equal(t, "worker-1", triggers["index"])
}

func TestExpandCount_ZeroCountPassesThrough(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null_resource", Name: "single", Provider: "null"},
	}

	expanded := ExpandCount(resources)
	require.Len(t, expanded, 1)
	assert.Same(t, resources[0], expanded[0])
}

func TestExpandCount_ClonesAreIndependent(t *testing.T) {
	resources := []*ir.Resource{
		{
			Type: "null_resource", Name: "worker", Provider: "null", Count: 2,
			Lifecycle: &ir.Lifecycle{IgnoreChanges: []string{"triggers"}},
			DependsOn: []string{"null_resource.base"},
			Properties: map[string]any{
				"triggers": map[string]any{"v": "1"},
			},
		},
	}

	expanded := ExpandCount(resources)
	require.Len(t, expanded, 2)

	expanded[0].Properties["triggers"].(map[string]any)["v"] = "mutated"
	assert.Equal(t, "1", expanded[1].Properties["triggers"].(map[string]any)["v"])

	expanded[0].Lifecycle.IgnoreChanges[0] = "mutated"
	assert.Equal(t, "triggers", expanded[1].Lifecycle.IgnoreChanges[0])

	assert.Equal(t, []string{"null_resource.base"}, expanded[1].DependsOn)
}
