package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackform-io/stackform/internal/ir"
)

func indexOf(list []string, item string) int {
	for i, v := range list {
		if v == item {
			return i
		}
	}
	return -1
}

func TestBuildGraph_NoDependencies(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null", Name: "a", Provider: "null"},
		{Type: "null", Name: "b", Provider: "null"},
		{Type: "null", Name: "c", Provider: "null"},
	}

	g, err := BuildGraph(resources)
	require.NoError(t, err)
	assert.Len(t, g.CreationOrder(), 3)
}

func TestBuildGraph_ExplicitDependsOn(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null", Name: "a", Provider: "null", DependsOn: []string{"null.b"}},
		{Type: "null", Name: "b", Provider: "null"},
		{Type: "null", Name: "c", Provider: "null", DependsOn: []string{"null.a"}},
	}

	g, err := BuildGraph(resources)
	require.NoError(t, err)

	order := g.CreationOrder()
	require.Len(t, order, 3)

	assert.Less(t, indexOf(order, "null.b"), indexOf(order, "null.a"))
	assert.Less(t, indexOf(order, "null.a"), indexOf(order, "null.c"))
}

func TestBuildGraph_ImplicitReference(t *testing.T) {
	resources := []*ir.Resource{
		{
			Type:     "aws:S3.BucketPolicy",
			Name:     "policy",
			Provider: "aws",
			Properties: map[string]any{
				"bucket": "ref://aws:S3.Bucket/logs/id",
			},
		},
		{Type: "aws:S3.Bucket", Name: "logs", Provider: "aws"},
	}

	g, err := BuildGraph(resources)
	require.NoError(t, err)

	order := g.CreationOrder()
	assert.Less(t, indexOf(order, "aws:S3.Bucket.logs"), indexOf(order, "aws:S3.BucketPolicy.policy"))
	assert.Equal(t, []string{"aws:S3.Bucket.logs"}, g.Dependencies("aws:S3.BucketPolicy.policy"))
}

func TestBuildGraph_DestructionOrderIsReversed(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null", Name: "a", Provider: "null"},
		{Type: "null", Name: "b", Provider: "null", DependsOn: []string{"null.a"}},
		{Type: "null", Name: "c", Provider: "null", DependsOn: []string{"null.b"}},
	}

	g, err := BuildGraph(resources)
	require.NoError(t, err)

	order := g.DestructionOrder()
	assert.Less(t, indexOf(order, "null.c"), indexOf(order, "null.b"))
	assert.Less(t, indexOf(order, "null.b"), indexOf(order, "null.a"))
}

func TestBuildGraph_CycleNamesMembers(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null", Name: "a", Provider: "null", DependsOn: []string{"null.b"}},
		{Type: "null", Name: "b", Provider: "null", DependsOn: []string{"null.c"}},
		{Type: "null", Name: "c", Provider: "null", DependsOn: []string{"null.a"}},
		{Type: "null", Name: "free", Provider: "null"},
	}

	_, err := BuildGraph(resources)
	require.Error(t, err)

	var cycleErr *CyclicDependencyError
	require.ErrorAs(t, err, &cycleErr)
	assert.Len(t, cycleErr.Cycle, 3)
	assert.Contains(t, cycleErr.Cycle, "null.a")
	assert.Contains(t, cycleErr.Cycle, "null.b")
	assert.Contains(t, cycleErr.Cycle, "null.c")
	assert.NotContains(t, cycleErr.Cycle, "null.free")
	assert.Contains(t, err.Error(), "dependency cycle detected")
}

func TestBuildGraph_SelfReferenceIsCycle(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null", Name: "a", Provider: "null", DependsOn: []string{"null.a"}},
	}

	_, err := BuildGraph(resources)
	var cycleErr *CyclicDependencyError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, []string{"null.a"}, cycleErr.Cycle)
}

func TestBuildGraph_UnknownDependency(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null", Name: "a", Provider: "null", DependsOn: []string{"null.missing"}},
	}

	_, err := BuildGraph(resources)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown resource null.missing")
}

func TestBuildGraph_UnknownReference(t *testing.T) {
	resources := []*ir.Resource{
		{
			Type: "null", Name: "a", Provider: "null",
			Properties: map[string]any{"x": "ref://null/missing/id"},
		},
	}

	_, err := BuildGraph(resources)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "references unknown resource")
}

func TestBuildGraph_DuplicateAddress(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null", Name: "a", Provider: "null"},
		{Type: "null", Name: "a", Provider: "null"},
	}

	_, err := BuildGraph(resources)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate resource address")
}

func TestBuildGraphFromState_ToleratesDanglingEdges(t *testing.T) {
	records := []*ir.ResourceState{
		{Type: "null", Name: "a", Provider: "null", Dependencies: []string{"null.gone"}},
		{Type: "null", Name: "b", Provider: "null", Dependencies: []string{"null.a"}},
	}

	g, err := BuildGraphFromState(records)
	require.NoError(t, err)

	order := g.DestructionOrder()
	assert.Less(t, indexOf(order, "null.b"), indexOf(order, "null.a"))
}

func TestTransitiveDeps(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null", Name: "a", Provider: "null"},
		{Type: "null", Name: "b", Provider: "null", DependsOn: []string{"null.a"}},
		{Type: "null", Name: "c", Provider: "null", DependsOn: []string{"null.b"}},
		{Type: "null", Name: "d", Provider: "null"},
	}

	g, err := BuildGraph(resources)
	require.NoError(t, err)

	assert.Equal(t, []string{"null.a", "null.b"}, g.TransitiveDeps("null.c"))
	assert.Equal(t, []string{"null.b", "null.c"}, g.TransitiveDependents("null.a"))
	assert.Empty(t, g.TransitiveDeps("null.d"))
}

func TestParseRef(t *testing.T) {
	typ, name, attr, ok := parseRef("ref://aws:S3.Bucket/logs/arn")
	require.True(t, ok)
	assert.Equal(t, "aws:S3.Bucket", typ)
	assert.Equal(t, "logs", name)
	assert.Equal(t, "arn", attr)

	// Attribute defaults to id.
	_, _, attr, ok = parseRef("ref://null/thing")
	require.True(t, ok)
	assert.Equal(t, "id", attr)

	_, _, _, ok = parseRef("not-a-ref")
	assert.False(t, ok)

	_, _, _, ok = parseRef("ref://only-type")
	assert.False(t, ok)
}

func TestExtractRefs_Nested(t *testing.T) {
	props := map[string]any{
		"plain": "value",
		"list":  []any{"ref://null/a/id", map[string]any{"deep": "ref://null/b/id"}},
	}

	refs := extractRefs(props)
	assert.ElementsMatch(t, []string{"ref://null/a/id", "ref://null/b/id"}, refs)
}
