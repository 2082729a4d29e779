package state

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackform-io/stackform/internal/ir"
)

func TestNewS3Backend_RequiresBucket(t *testing.T) {
	_, err := newS3Backend(map[string]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket")
}

func TestNewS3Backend_Defaults(t *testing.T) {
	backend, err := newS3Backend(map[string]string{"bucket": "my-state-bucket"})
	require.NoError(t, err)

	b := backend.(*s3Backend)
	assert.Equal(t, "my-state-bucket", b.bucket)
	assert.Equal(t, "stackform/state.json", b.key)
	assert.Equal(t, "us-east-1", b.region)
	assert.Empty(t, b.dynamoDBTable)
	assert.False(t, b.encrypt)
}

func TestNewS3Backend_ExplicitConfig(t *testing.T) {
	backend, err := newS3Backend(map[string]string{
		"bucket":         "states",
		"key":            "prod/state.json",
		"region":         "eu-west-1",
		"dynamodb_table": "stackform-locks",
		"encrypt":        "true",
	})
	require.NoError(t, err)

	b := backend.(*s3Backend)
	assert.Equal(t, "prod/state.json", b.key)
	assert.Equal(t, "eu-west-1", b.region)
	assert.Equal(t, "stackform-locks", b.dynamoDBTable)
	assert.True(t, b.encrypt)
	assert.NotNil(t, b.dbClient)
}

func TestS3Backend_LockWithoutTableIsNoop(t *testing.T) {
	backend, err := newS3Backend(map[string]string{"bucket": "states"})
	require.NoError(t, err)

	assert.NoError(t, backend.Lock())
	assert.NoError(t, backend.Unlock())
}

// Both store implementations must support incremental checkpointing.
var (
	_ Backend = (*s3Backend)(nil)
	_ interface {
		Checkpoint(ctx context.Context, state *ir.State) error
	} = (*Manager)(nil)
)

func TestCheckpointSnapshot(t *testing.T) {
	s := &ir.State{Version: 1, Serial: 4, Lineage: "lin"}

	snapshot := checkpointSnapshot(s)
	assert.Equal(t, 5, snapshot.Serial)
	assert.Equal(t, "lin", snapshot.Lineage)

	// The caller's serial is untouched so the final Write still
	// advances it exactly once.
	assert.Equal(t, 4, s.Serial)
}
