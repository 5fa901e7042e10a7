package checkpoint

import (
	"context"
	"testing"
	"time"
)

func TestFileBackendRoundTrip(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("backend: %v", err)
	}
	ctx := context.Background()

	state := NewRunState("run-1", "https://example.com/data.csv")
	state.MarkPhase("bronze", "fp-abc", 1000)
	if err := backend.Save(ctx, state); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := backend.Load(ctx, "run-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.SourceURL != state.SourceURL {
		t.Errorf("source url: want %s, got %s", state.SourceURL, loaded.SourceURL)
	}
	phase, ok := loaded.Phases["bronze"]
	if !ok {
		t.Fatal("bronze phase not persisted")
	}
	if phase.Rows != 1000 || phase.Fingerprint != "fp-abc" {
		t.Errorf("phase state lost: %+v", phase)
	}
}

func TestFileBackendLoadMissing(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("backend: %v", err)
	}
	if _, err := backend.Load(context.Background(), "nope"); err == nil {
		t.Error("expected error for unknown run id")
	}
}

func TestShouldSkip(t *testing.T) {
	state := NewRunState("run-1", "")
	state.MarkPhase("silver", "fp-1", 500)

	tests := []struct {
		name        string
		phase       string
		fingerprint string
		want        bool
	}{
		{"same phase same input", "silver", "fp-1", true},
		{"same phase changed input", "silver", "fp-2", false},
		{"unknown phase", "gold", "fp-1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := state.ShouldSkip(tt.phase, tt.fingerprint); got != tt.want {
				t.Errorf("ShouldSkip(%q, %q) = %v, want %v",
					tt.phase, tt.fingerprint, got, tt.want)
			}
		})
	}
}

func TestListIncomplete(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("backend: %v", err)
	}
	ctx := context.Background()

	older := NewRunState("run-old", "")
	older.StartedAt = time.Now().Add(-time.Hour)
	newer := NewRunState("run-new", "")
	done := NewRunState("run-done", "")
	done.Complete()

	for _, s := range []*RunState{newer, older, done} {
		if err := backend.Save(ctx, s); err != nil {
			t.Fatalf("save %s: %v", s.RunID, err)
		}
	}

	incomplete, err := backend.ListIncomplete(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(incomplete) != 2 {
		t.Fatalf("expected 2 incomplete runs, got %d", len(incomplete))
	}
	if incomplete[0].RunID != "run-old" || incomplete[1].RunID != "run-new" {
		t.Errorf("expected oldest-first ordering, got %s then %s",
			incomplete[0].RunID, incomplete[1].RunID)
	}
}

func TestCompleteIsTerminal(t *testing.T) {
	state := NewRunState("run-1", "")
	if state.IsComplete() {
		t.Error("new run must not be complete")
	}
	state.Complete()
	if !state.IsComplete() {
		t.Error("run must be complete after Complete()")
	}
}
