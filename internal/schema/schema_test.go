package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackform-io/stackform/internal/ir"
)

func TestNewRegistry_CompilesEmbeddedSchemas(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	assert.Contains(t, r.Immutable("aws:S3.Bucket"), "bucket")
	assert.Contains(t, r.Immutable("aws:WAFv2.WebACL"), "scope")
	assert.Empty(t, r.Immutable("unknown:Type"))
}

func TestValidate_MissingRequiredAttribute(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	err = r.Validate(&ir.Resource{
		Type: "aws:S3.Bucket", Name: "bad", Provider: "aws",
		Properties: map[string]any{"acl": "private"},
	})
	require.Error(t, err)

	var ve *ViolationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "aws:S3.Bucket.bad", ve.Address)
	assert.Contains(t, ve.Error(), "bucket")
}

func TestValidate_WrongType(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	err = r.Validate(&ir.Resource{
		Type: "aws:S3.Bucket", Name: "bad", Provider: "aws",
		Properties: map[string]any{"bucket": "valid-name", "versioning": "yes"},
	})
	require.Error(t, err)

	var ve *ViolationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Error(), "versioning")
}

func TestValidate_ValidResource(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	err = r.Validate(&ir.Resource{
		Type: "aws:S3.Bucket", Name: "good", Provider: "aws",
		Properties: map[string]any{
			"bucket":     "my-logs-bucket",
			"acl":        "private",
			"versioning": true,
			"tags":       map[string]any{"env": "prod"},
		},
	})
	assert.NoError(t, err)
}

func TestValidate_UnknownTypePasses(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	err = r.Validate(&ir.Resource{
		Type: "custom:Thing", Name: "x", Provider: "custom",
		Properties: map[string]any{"anything": "goes"},
	})
	assert.NoError(t, err)
}

func TestAdd_RegistersNewType(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	require.NoError(t, r.Add("custom:Thing",
		[]byte(`{"type":"object","required":["name"]}`), []string{"name"}))

	err = r.Validate(&ir.Resource{
		Type: "custom:Thing", Name: "x", Provider: "custom",
		Properties: map[string]any{},
	})
	require.Error(t, err)
	assert.Equal(t, []string{"name"}, r.Immutable("custom:Thing"))
}

func TestAdd_BadSchemaFails(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	err = r.Add("broken:Thing", []byte(`{"type": 42}`), nil)
	require.Error(t, err)
}
