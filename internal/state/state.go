package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/stackform-io/stackform/internal/ir"
)

// StateConflictError reports that the state file on disk advanced past
// the serial this process started from, meaning another writer got there
// first.
type StateConflictError struct {
	Path       string
	Expected   int
	DiskSerial int
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("state conflict on %s: expected serial %d but found %d (state was modified by another process)",
		e.Path, e.Expected, e.DiskSerial)
}

// Manager reads and writes the local JSON state file.
type Manager struct {
	path string

	// checkpointed records that this manager wrote an in-progress
	// snapshot at serial+1, so checkConflict can tell our own
	// checkpoint apart from another writer's commit.
	checkpointed bool
}

func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Read loads state from the configured path. A missing file yields an
// empty state. Encrypted files are transparently decrypted.
func (m *Manager) Read(ctx context.Context) (*ir.State, error) {
	raw, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return &ir.State{Version: 1, Serial: 0}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file %s: %w", m.path, err)
	}

	return decodeState(raw, m.path)
}

// Write persists state atomically, bumping the serial. Before writing it
// re-reads the file and fails with StateConflictError if another process
// advanced the same lineage past the serial this state was read at.
func (m *Manager) Write(ctx context.Context, state *ir.State) error {
	if err := m.checkConflict(state); err != nil {
		return err
	}

	if state.Lineage == "" {
		state.Lineage = uuid.NewString()
	}
	state.Version = 1
	state.Serial++

	if err := m.writeFile(state); err != nil {
		return err
	}
	m.checkpointed = false
	return nil
}

// Checkpoint persists state without bumping the serial or checking for
// conflicts. Used for incremental saves during apply while the lock is
// held; the final Write still advances the serial once.
func (m *Manager) Checkpoint(ctx context.Context, state *ir.State) error {
	snapshot := checkpointSnapshot(state)
	if snapshot.Lineage == "" {
		snapshot.Lineage = uuid.NewString()
		state.Lineage = snapshot.Lineage
	}
	if err := m.writeFile(snapshot); err != nil {
		return err
	}
	m.checkpointed = true
	return nil
}

// checkpointSnapshot copies state at the next serial, leaving the
// caller's serial untouched so the final Write advances it exactly once.
func checkpointSnapshot(state *ir.State) *ir.State {
	snapshot := *state
	snapshot.Serial = state.Serial + 1
	snapshot.Version = 1
	return &snapshot
}

func (m *Manager) checkConflict(state *ir.State) error {
	raw, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read state file %s: %w", m.path, err)
	}

	disk, err := decodeState(raw, m.path)
	if err != nil {
		return err
	}
	// Our own checkpoints sit at serial+1 on disk; anything past the
	// serial we read at that we did not write ourselves is a conflict.
	allowed := state.Serial
	if m.checkpointed {
		allowed = state.Serial + 1
	}
	if disk.Lineage != "" && disk.Lineage == state.Lineage && disk.Serial > allowed {
		return &StateConflictError{Path: m.path, Expected: state.Serial, DiskSerial: disk.Serial}
	}
	return nil
}

// writeFile serializes, optionally encrypts, and atomically replaces the
// state file via a temp file in the same directory.
func (m *Manager) writeFile(state *ir.State) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	content, err := SerializeState(state)
	if err != nil {
		return err
	}

	encrypted, err := EncryptState(content)
	if err != nil {
		return fmt.Errorf("failed to encrypt state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(m.path), ".state-*.json.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(encrypted); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, m.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace state file %s: %w", m.path, err)
	}
	return nil
}

// SerializeState renders state as indented JSON.
func SerializeState(state *ir.State) ([]byte, error) {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize state: %w", err)
	}
	return append(data, '\n'), nil
}

func decodeState(raw []byte, path string) (*ir.State, error) {
	if IsEncrypted(raw) {
		decrypted, err := DecryptState(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt state: %w", err)
		}
		raw = decrypted
	}

	var state ir.State
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("failed to parse state file %s: %w", path, err)
	}
	if state.Version == 0 {
		state.Version = 1
	}
	return &state, nil
}
