package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackform-io/stackform/internal/ir"
	"github.com/stackform-io/stackform/internal/state"
)

func TestSplitAddress(t *testing.T) {
	typ, name, ok := splitAddress("null_resource.example")
	require.True(t, ok)
	assert.Equal(t, "null_resource", typ)
	assert.Equal(t, "example", name)

	// Dotted type names split at the last dot.
	typ, name, ok = splitAddress("aws:S3.Bucket.my-bucket")
	require.True(t, ok)
	assert.Equal(t, "aws:S3.Bucket", typ)
	assert.Equal(t, "my-bucket", name)

	_, _, ok = splitAddress("nodot")
	assert.False(t, ok)

	_, _, ok = splitAddress("trailing.")
	assert.False(t, ok)
}

func TestActionSymbols(t *testing.T) {
	assert.Equal(t, "+", actionSymbol(ir.ActionCreate))
	assert.Equal(t, "-", actionSymbol(ir.ActionDelete))
	assert.Equal(t, "-/+", actionSymbol(ir.ActionReplace))
	assert.Equal(t, "~", actionSymbol(ir.ActionUpdate))
}

func TestResolveProject_DirectoryArgument(t *testing.T) {
	dir := t.TempDir()

	p, err := resolveProject([]string{dir})
	require.NoError(t, err)
	assert.Equal(t, dir, p.dir)
	assert.Equal(t, "main.pkl", p.entryPoint)
	assert.Equal(t, filepath.Join(dir, ".stackform", "state.json"), p.statePath())
}

func TestResolveProject_FileArgument(t *testing.T) {
	dir := t.TempDir()
	entry := filepath.Join(dir, "infra.pkl")
	require.NoError(t, os.WriteFile(entry, []byte("resources {}\n"), 0o644))

	p, err := resolveProject([]string{entry})
	require.NoError(t, err)
	assert.Equal(t, dir, p.dir)
	assert.Equal(t, "infra.pkl", p.entryPoint)
}

func TestResolveProject_MissingPath(t *testing.T) {
	_, err := resolveProject([]string{"/does/not/exist"})
	require.Error(t, err)
}

func TestOpenStateStore_DefaultsToLocal(t *testing.T) {
	dir := t.TempDir()
	p := &project{dir: dir, entryPoint: "main.pkl"}

	store, err := openStateStore(p)
	require.NoError(t, err)
	_, isLocal := store.(*state.Manager)
	assert.True(t, isLocal)
}

func TestOpenStateStore_ExplicitLocalBackend(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, stateDirName), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, stateDirName, "backend.json"),
		[]byte(`{"type":"local"}`), 0o644))

	p := &project{dir: dir, entryPoint: "main.pkl"}
	store, err := openStateStore(p)
	require.NoError(t, err)
	_, isLocal := store.(*state.Manager)
	assert.True(t, isLocal)
}

func TestOpenStateStore_BadBackendConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, stateDirName), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, stateDirName, "backend.json"),
		[]byte(`{"type":"consul"}`), 0o644))

	p := &project{dir: dir, entryPoint: "main.pkl"}
	_, err := openStateStore(p)
	require.Error(t, err)
}

// Local and remote stores both satisfy the CLI's storage contract,
// including incremental checkpointing during apply.
var (
	_ stateStore = (*state.Manager)(nil)
	_ stateStore = (state.Backend)(nil)
)

func TestRootCommandSilencesCobraOutput(t *testing.T) {
	// Errors and usage are rendered by main; cobra echoing them would
	// leak the pending-changes sentinel into plan's output.
	assert.True(t, rootCmd.SilenceErrors)
	assert.True(t, rootCmd.SilenceUsage)
}
