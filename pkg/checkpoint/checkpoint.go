// Package checkpoint persists per-run pipeline state so interrupted
// runs can resume without redoing completed phases. Phase completion is
// keyed by the content fingerprint of the phase's input, so a changed
// source file invalidates downstream phases instead of being skipped.
package checkpoint

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	rferrors "github.com/rentflow/rentflow/pkg/errors"
)

// PhaseState records one completed pipeline phase.
type PhaseState struct {
	CompletedAt time.Time `json:"completed_at"`
	Rows        int64     `json:"rows,omitempty"`

	// Fingerprint of the phase input at completion time.
	Fingerprint string `json:"fingerprint,omitempty"`
}

// RunState tracks one pipeline run across phases.
type RunState struct {
	RunID       string                `json:"run_id"`
	SourceURL   string                `json:"source_url,omitempty"`
	Phases      map[string]PhaseState `json:"phases"`
	StartedAt   time.Time             `json:"started_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`

	mu sync.Mutex
}

// NewRunState creates a fresh run record.
func NewRunState(runID, sourceURL string) *RunState {
	now := time.Now().UTC()
	return &RunState{
		RunID:     runID,
		SourceURL: sourceURL,
		Phases:    make(map[string]PhaseState),
		StartedAt: now,
		UpdatedAt: now,
	}
}

// MarkPhase records a phase as completed with the fingerprint of its input.
func (r *RunState) MarkPhase(name, fingerprint string, rows int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	r.Phases[name] = PhaseState{CompletedAt: now, Rows: rows, Fingerprint: fingerprint}
	r.UpdatedAt = now
}

// ShouldSkip reports whether a phase already completed for the same
// input fingerprint. A differing fingerprint means the input changed
// and the phase must run again.
func (r *RunState) ShouldSkip(name, fingerprint string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.Phases[name]
	return ok && state.Fingerprint == fingerprint
}

// Complete marks the whole run finished.
func (r *RunState) Complete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	r.CompletedAt = &now
	r.UpdatedAt = now
}

// IsComplete reports whether the run finished.
func (r *RunState) IsComplete() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.CompletedAt != nil
}

// Backend stores run state. Implementations exist for the local
// filesystem and Redis.
type Backend interface {
	Save(ctx context.Context, state *RunState) error
	Load(ctx context.Context, runID string) (*RunState, error)
	Delete(ctx context.Context, runID string) error
	ListIncomplete(ctx context.Context) ([]*RunState, error)
	Name() string
}

// FileBackend persists run state as JSON files in a state directory.
type FileBackend struct {
	dir string
}

// NewFileBackend creates the state directory if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, rferrors.Wrap(err, rferrors.CodeInvalidConfig, "failed to create state directory").
			WithContext("dir", dir)
	}
	return &FileBackend{dir: dir}, nil
}

func (b *FileBackend) path(runID string) string {
	return filepath.Join(b.dir, runID+".run.json")
}

func (b *FileBackend) Save(_ context.Context, state *RunState) error {
	state.mu.Lock()
	data, err := json.MarshalIndent(state, "", "  ")
	state.mu.Unlock()
	if err != nil {
		return err
	}

	// Write-then-rename so a crash never leaves a torn state file.
	tmp := b.path(state.RunID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return rferrors.Wrap(err, rferrors.CodeStoreWrite, "failed to write run state")
	}
	return os.Rename(tmp, b.path(state.RunID))
}

func (b *FileBackend) Load(_ context.Context, runID string) (*RunState, error) {
	data, err := os.ReadFile(b.path(runID))
	if err != nil {
		return nil, rferrors.Wrap(err, rferrors.CodeStoreQuery, "run state not found").
			WithContext("run_id", runID)
	}
	var state RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, rferrors.Wrap(err, rferrors.CodeStoreQuery, "run state corrupted").
			WithContext("run_id", runID)
	}
	if state.Phases == nil {
		state.Phases = make(map[string]PhaseState)
	}
	return &state, nil
}

func (b *FileBackend) Delete(_ context.Context, runID string) error {
	err := os.Remove(b.path(runID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (b *FileBackend) ListIncomplete(ctx context.Context) ([]*RunState, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, err
	}

	var states []*RunState
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".run.json") {
			continue
		}
		state, err := b.Load(ctx, strings.TrimSuffix(name, ".run.json"))
		if err != nil {
			continue
		}
		if state.CompletedAt == nil {
			states = append(states, state)
		}
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].StartedAt.Before(states[j].StartedAt)
	})
	return states, nil
}

func (b *FileBackend) Name() string { return "file" }
