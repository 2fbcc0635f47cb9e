package iterative

import (
	"testing"

	"github.com/steveyegge/quill/internal/types"
)

func TestSnapshotStack(t *testing.T) {
	base := version{doc: &types.Document{ID: "base"}, score: 40}
	s := newSnapshotStack(base)

	if s.depth() != 0 {
		t.Fatalf("new stack depth = %d, want 0", s.depth())
	}
	if _, ok := s.pop(); ok {
		t.Fatal("pop must never remove the baseline")
	}
	if s.top().doc.ID != "base" {
		t.Errorf("top of empty stack = %q, want base", s.top().doc.ID)
	}

	s.push(version{doc: &types.Document{ID: "v1"}, score: 55})
	s.push(version{doc: &types.Document{ID: "v2"}, score: 52})
	if s.depth() != 2 {
		t.Errorf("depth = %d, want 2", s.depth())
	}
	if got := s.best().doc.ID; got != "v1" {
		t.Errorf("best = %q, want v1", got)
	}

	want := []float64{40, 55, 52}
	got := s.history()
	if len(got) != len(want) {
		t.Fatalf("history = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("history[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	popped, ok := s.pop()
	if !ok || popped.doc.ID != "v2" {
		t.Errorf("pop = %v/%v, want v2", popped.doc, ok)
	}
	if s.top().doc.ID != "v1" {
		t.Errorf("top after pop = %q, want v1", s.top().doc.ID)
	}
}

func TestSnapshotStack_BestPrefersNewestOnTie(t *testing.T) {
	s := newSnapshotStack(version{doc: &types.Document{ID: "base"}, score: 60})
	s.push(version{doc: &types.Document{ID: "v1"}, score: 60})
	if got := s.best().doc.ID; got != "v1" {
		t.Errorf("best = %q, want v1", got)
	}

	s = newSnapshotStack(version{doc: &types.Document{ID: "base"}, score: 60})
	s.push(version{doc: &types.Document{ID: "v1"}, score: 58})
	if got := s.best().doc.ID; got != "base" {
		t.Errorf("best = %q, want base", got)
	}
}
