package aws

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackform-io/stackform/internal/provider"
)

func TestGenericPlan_CreateWithoutPrior(t *testing.T) {
	resp, err := genericPlan(&provider.PlanRequest{
		Type:        "aws:IAM.Role",
		DesiredJSON: []byte(`{"name":"app","assumeRolePolicy":"{}"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, provider.ActionCreate, resp.Action)
}

func TestGenericPlan_NoopWhenEqual(t *testing.T) {
	doc := []byte(`{"name":"app","tags":{"env":"prod"}}`)
	resp, err := genericPlan(&provider.PlanRequest{
		Type:        "aws:IAM.Role",
		DesiredJSON: doc,
		PriorJSON:   doc,
	})
	require.NoError(t, err)
	assert.Equal(t, provider.ActionNoop, resp.Action)
}

func TestGenericPlan_ReportsChangedAttributes(t *testing.T) {
	resp, err := genericPlan(&provider.PlanRequest{
		Type:        "aws:IAM.Role",
		DesiredJSON: []byte(`{"name":"app","description":"new"}`),
		PriorJSON:   []byte(`{"name":"app","description":"old","tags":{"a":"b"}}`),
	})
	require.NoError(t, err)
	assert.Equal(t, provider.ActionUpdate, resp.Action)
	assert.ElementsMatch(t, []string{"description", "tags"}, resp.ChangedAttributes)
}

func TestChangedAttributes_NestedValues(t *testing.T) {
	desired := map[string]any{"tags": map[string]any{"env": "prod"}}
	prior := map[string]any{"tags": map[string]any{"env": "dev"}}
	assert.Equal(t, []string{"tags"}, changedAttributes(desired, prior))

	same := map[string]any{"tags": map[string]any{"env": "prod"}}
	assert.Empty(t, changedAttributes(desired, same))
}

func TestWafScope(t *testing.T) {
	assert.Equal(t, "REGIONAL", string(wafScope("REGIONAL")))
	assert.Equal(t, "CLOUDFRONT", string(wafScope("CLOUDFRONT")))
	assert.Equal(t, "REGIONAL", string(wafScope("")))
}
