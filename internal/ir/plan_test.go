package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlanSummaryCount(t *testing.T) {
	s := &PlanSummary{}
	s.Count(ActionCreate)
	s.Count(ActionCreate)
	s.Count(ActionUpdate)
	s.Count(ActionReplace)
	s.Count(ActionDelete)
	s.Count(ActionNoop)

	assert.Equal(t, 2, s.Create)
	assert.Equal(t, 1, s.Update)
	assert.Equal(t, 1, s.Replace)
	assert.Equal(t, 1, s.Delete)
	assert.Equal(t, 1, s.NoOp)
}

func TestResourceAddress(t *testing.T) {
	r := &Resource{Type: "aws:S3.Bucket", Name: "logs"}
	assert.Equal(t, "aws:S3.Bucket.logs", r.Address())

	// Untyped resources fall back to null_resource.
	bare := &Resource{Name: "x"}
	assert.Equal(t, "null_resource.x", bare.Address())
}

func TestStateLookup(t *testing.T) {
	s := &State{Resources: []*ResourceState{
		{Type: "null_resource", Name: "a"},
	}}

	assert.NotNil(t, s.Lookup("null_resource.a"))
	assert.Nil(t, s.Lookup("null_resource.b"))
}

func TestPlanEmpty(t *testing.T) {
	assert.True(t, (&Plan{}).Empty())
	assert.False(t, (&Plan{Changes: []*ResourceChange{{Address: "null_resource.a"}}}).Empty())
}
