package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackform-io/stackform/internal/ir"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(filepath.Join(t.TempDir(), ".stackform", "state.json"))
}

func TestManager_ReadMissingFileYieldsEmptyState(t *testing.T) {
	mgr := testManager(t)

	s, err := mgr.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, s.Version)
	assert.Zero(t, s.Serial)
	assert.Empty(t, s.Resources)
}

func TestManager_WriteReadRoundtrip(t *testing.T) {
	mgr := testManager(t)
	ctx := context.Background()

	s := &ir.State{Version: 1, Resources: []*ir.ResourceState{
		{Type: "null_resource", Name: "a", Provider: "null",
			Inputs:  map[string]any{"triggers": map[string]any{"v": "1"}},
			Outputs: map[string]any{"id": "null-a"}},
	}}

	require.NoError(t, mgr.Write(ctx, s))
	assert.Equal(t, 1, s.Serial)
	assert.NotEmpty(t, s.Lineage)

	read, err := mgr.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, read.Serial)
	assert.Equal(t, s.Lineage, read.Lineage)
	require.Len(t, read.Resources, 1)
	assert.Equal(t, "null-a", read.Resources[0].Outputs["id"])
}

func TestManager_SerialBumpsOnEveryWrite(t *testing.T) {
	mgr := testManager(t)
	ctx := context.Background()

	s := &ir.State{Version: 1}
	require.NoError(t, mgr.Write(ctx, s))
	require.NoError(t, mgr.Write(ctx, s))
	require.NoError(t, mgr.Write(ctx, s))
	assert.Equal(t, 3, s.Serial)
}

func TestManager_ConflictDetection(t *testing.T) {
	mgr := testManager(t)
	ctx := context.Background()

	s := &ir.State{Version: 1}
	require.NoError(t, mgr.Write(ctx, s))

	// A second process reads the same state and advances it twice.
	other, err := mgr.Read(ctx)
	require.NoError(t, err)
	require.NoError(t, mgr.Write(ctx, other))
	require.NoError(t, mgr.Write(ctx, other))

	err = mgr.Write(ctx, s)
	require.Error(t, err)
	var conflict *StateConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, 3, conflict.DiskSerial)
}

func TestManager_ConflictOnSingleInterleavedWrite(t *testing.T) {
	mgr := testManager(t)
	ctx := context.Background()

	s := &ir.State{Version: 1}
	require.NoError(t, mgr.Write(ctx, s))

	// Another process commits exactly once between our read and our
	// write. Without a checkpoint of our own, any advance is theirs.
	other := NewManager(mgr.path)
	theirs, err := other.Read(ctx)
	require.NoError(t, err)
	require.NoError(t, other.Write(ctx, theirs))

	err = mgr.Write(ctx, s)
	var conflict *StateConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, 1, conflict.Expected)
	assert.Equal(t, 2, conflict.DiskSerial)
}

func TestManager_CheckpointAllowanceResetsAfterWrite(t *testing.T) {
	mgr := testManager(t)
	ctx := context.Background()

	s := &ir.State{Version: 1}
	require.NoError(t, mgr.Write(ctx, s))
	require.NoError(t, mgr.Checkpoint(ctx, s))
	require.NoError(t, mgr.Write(ctx, s))
	require.Equal(t, 2, s.Serial)

	other := NewManager(mgr.path)
	theirs, err := other.Read(ctx)
	require.NoError(t, err)
	require.NoError(t, other.Write(ctx, theirs))

	// The earlier checkpoint must not excuse this foreign write.
	err = mgr.Write(ctx, s)
	var conflict *StateConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, 3, conflict.DiskSerial)
}

func TestManager_CheckpointDoesNotAdvanceInMemorySerial(t *testing.T) {
	mgr := testManager(t)
	ctx := context.Background()

	s := &ir.State{Version: 1}
	require.NoError(t, mgr.Write(ctx, s))
	require.Equal(t, 1, s.Serial)

	s.Resources = append(s.Resources, &ir.ResourceState{
		Type: "null_resource", Name: "a", Provider: "null",
		Outputs: map[string]any{"id": "null-a"},
	})
	require.NoError(t, mgr.Checkpoint(ctx, s))
	assert.Equal(t, 1, s.Serial)

	// The checkpoint is visible on disk at the next serial.
	disk, err := mgr.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, disk.Serial)
	require.Len(t, disk.Resources, 1)

	// The final write after checkpoints must not see a conflict.
	require.NoError(t, mgr.Write(ctx, s))
	assert.Equal(t, 2, s.Serial)
}

func TestManager_LockBlocksSecondLocker(t *testing.T) {
	mgr := testManager(t)

	require.NoError(t, mgr.Lock())
	err := mgr.Lock()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked by another process")

	require.NoError(t, mgr.Unlock())
	require.NoError(t, mgr.Lock())
	require.NoError(t, mgr.Unlock())
}

func TestManager_UnlockWithoutLockIsHarmless(t *testing.T) {
	mgr := testManager(t)
	assert.NoError(t, mgr.Unlock())
}

func TestManager_WriteIsAtomic(t *testing.T) {
	mgr := testManager(t)
	ctx := context.Background()

	require.NoError(t, mgr.Write(ctx, &ir.State{Version: 1}))

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(mgr.path))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}
}

func TestEncryption_Roundtrip(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "correct horse battery staple")

	content := []byte(`{"version":1,"serial":3}`)
	encrypted, err := EncryptState(content)
	require.NoError(t, err)
	assert.True(t, IsEncrypted(encrypted))
	assert.NotContains(t, string(encrypted), "serial")

	decrypted, err := DecryptState(encrypted)
	require.NoError(t, err)
	assert.Equal(t, content, decrypted)
}

func TestEncryption_NoKeyPassesThrough(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "")

	content := []byte(`{"version":1}`)
	out, err := EncryptState(content)
	require.NoError(t, err)
	assert.Equal(t, content, out)
	assert.False(t, IsEncrypted(out))
}

func TestEncryption_WrongKeyFails(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "first key")
	encrypted, err := EncryptState([]byte(`{"version":1}`))
	require.NoError(t, err)

	t.Setenv(EncryptionKeyEnvVar, "second key")
	_, err = DecryptState(encrypted)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wrong key")
}

func TestEncryption_DecryptWithoutKeyFails(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "some key")
	encrypted, err := EncryptState([]byte(`{"version":1}`))
	require.NoError(t, err)

	t.Setenv(EncryptionKeyEnvVar, "")
	_, err = DecryptState(encrypted)
	require.Error(t, err)
	assert.Contains(t, err.Error(), EncryptionKeyEnvVar)
}

func TestManager_EncryptedStateRoundtrip(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "state passphrase")

	mgr := testManager(t)
	ctx := context.Background()

	s := &ir.State{Version: 1, Outputs: map[string]any{"secret": "value"}}
	require.NoError(t, mgr.Write(ctx, s))

	raw, err := os.ReadFile(mgr.path)
	require.NoError(t, err)
	assert.True(t, IsEncrypted(raw))
	assert.NotContains(t, string(raw), "secret")

	read, err := mgr.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "value", read.Outputs["secret"])
}

func TestNewBackend(t *testing.T) {
	_, err := NewBackend(nil)
	require.Error(t, err)

	_, err = NewBackend(&BackendConfig{Type: "local"})
	require.Error(t, err)

	_, err = NewBackend(&BackendConfig{Type: "consul"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backend type")

	_, err = NewBackend(&BackendConfig{Type: "s3", Config: map[string]string{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket")
}
