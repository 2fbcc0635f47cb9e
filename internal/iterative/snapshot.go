package iterative

import "github.com/steveyegge/quill/internal/types"

// version is one retained document state with the score it was given.
// Documents in a version are never mutated after they are stored.
type version struct {
	doc        *types.Document
	score      float64
	assessment *types.WeaknessAssessment
}

// snapshotStack holds the baseline plus one version per kept iteration.
// Version i pairs with score-history entry i; rollback pops the top.
type snapshotStack struct {
	base     version
	versions []version
}

func newSnapshotStack(base version) *snapshotStack {
	return &snapshotStack{base: base}
}

func (s *snapshotStack) push(v version) {
	s.versions = append(s.versions, v)
}

// pop discards the newest snapshot. The baseline is never popped.
func (s *snapshotStack) pop() (version, bool) {
	if len(s.versions) == 0 {
		return version{}, false
	}
	v := s.versions[len(s.versions)-1]
	s.versions = s.versions[:len(s.versions)-1]
	return v, true
}

// top is the current version: the newest snapshot, or the baseline.
func (s *snapshotStack) top() version {
	if len(s.versions) == 0 {
		return s.base
	}
	return s.versions[len(s.versions)-1]
}

// depth is the number of snapshots, not counting the baseline.
func (s *snapshotStack) depth() int {
	return len(s.versions)
}

// history is the score of every retained version, baseline first.
func (s *snapshotStack) history() []float64 {
	out := make([]float64, 0, len(s.versions)+1)
	out = append(out, s.base.score)
	for _, v := range s.versions {
		out = append(out, v.score)
	}
	return out
}

// best is the highest-scoring retained version; ties go to the newest.
func (s *snapshotStack) best() version {
	best := s.base
	for _, v := range s.versions {
		if v.score >= best.score {
			best = v
		}
	}
	return best
}
