// Package strategy holds the improvement-plan data model and the
// per-category planners that turn weakness assessments into plans.
package strategy

import (
	"sort"

	"github.com/steveyegge/quill/internal/types"
)

// Type classifies the mix of actions in a strategy.
type Type string

const (
	TypeEdit       Type = "edit"
	TypeInsert     Type = "insert"
	TypeHybrid     Type = "hybrid"
	TypeRegenerate Type = "regenerate"
)

// Region is the part of a section an edit targets.
type Region string

const (
	RegionBeginning  Region = "beginning"
	RegionMiddle     Region = "middle"
	RegionEnd        Region = "end"
	RegionThroughout Region = "throughout"
)

// IsValid checks if the region value is valid
func (r Region) IsValid() bool {
	switch r {
	case RegionBeginning, RegionMiddle, RegionEnd, RegionThroughout:
		return true
	}
	return false
}

// EditAction revises part of one existing section.
type EditAction struct {
	SectionID       string         `json:"section_id"`
	SectionNumber   int            `json:"section_number"`
	Region          Region         `json:"region"`
	ImprovementType string         `json:"improvement_type"`
	Description     string         `json:"description"`
	Severity        types.Severity `json:"severity,omitempty"`
}

// InsertAction adds Count new sections after section AfterSection
// (0 means before the first section).
type InsertAction struct {
	AfterSection int    `json:"after_section"`
	Count        int    `json:"count"`
	Purpose      string `json:"purpose"`
}

// RegenerateAction rewrites one section from scratch.
type RegenerateAction struct {
	SectionID     string `json:"section_id"`
	SectionNumber int    `json:"section_number"`
	Reason        string `json:"reason"`
	Guidance      string `json:"guidance,omitempty"`
}

// ImprovementStrategy is a typed change plan for one category. A strategy
// with no actions means no further improvement is possible.
type ImprovementStrategy struct {
	ID                  string             `json:"id"`
	Category            types.Category     `json:"category"`
	Priority            types.Severity     `json:"priority"`
	CurrentScore        float64            `json:"current_score"`
	GoalScore           float64            `json:"goal_score"`
	Type                Type               `json:"strategy_type"`
	EditActions         []EditAction       `json:"edit_actions,omitempty"`
	InsertActions       []InsertAction     `json:"insert_actions,omitempty"`
	RegenerateActions   []RegenerateAction `json:"regenerate_actions,omitempty"`
	AffectedSections    []int              `json:"affected_sections,omitempty"`
	ExpectedImprovement float64            `json:"expected_improvement"`
	Rationale           string             `json:"rationale,omitempty"`
}

// IsEmpty reports whether the strategy carries no actions. Nil is empty.
func (s *ImprovementStrategy) IsEmpty() bool {
	return s == nil || s.ActionCount() == 0
}

// ActionCount is the total number of actions.
func (s *ImprovementStrategy) ActionCount() int {
	if s == nil {
		return 0
	}
	return len(s.EditActions) + len(s.InsertActions) + len(s.RegenerateActions)
}

// DeriveType classifies the current action lists.
func (s *ImprovementStrategy) DeriveType() Type {
	kinds := 0
	t := TypeEdit
	if len(s.EditActions) > 0 {
		kinds++
		t = TypeEdit
	}
	if len(s.InsertActions) > 0 {
		kinds++
		t = TypeInsert
	}
	if len(s.RegenerateActions) > 0 {
		kinds++
		t = TypeRegenerate
	}
	if kinds > 1 {
		return TypeHybrid
	}
	return t
}

// RecomputeAffected rebuilds AffectedSections from the action lists.
func (s *ImprovementStrategy) RecomputeAffected() {
	s.AffectedSections = affectedOf(s, nil)
}

// Clone returns a copy with independent action slices.
func (s *ImprovementStrategy) Clone() *ImprovementStrategy {
	if s == nil {
		return nil
	}
	out := *s
	out.EditActions = append([]EditAction(nil), s.EditActions...)
	out.InsertActions = append([]InsertAction(nil), s.InsertActions...)
	out.RegenerateActions = append([]RegenerateAction(nil), s.RegenerateActions...)
	out.AffectedSections = append([]int(nil), s.AffectedSections...)
	return &out
}

// affectedOf collects the sorted, distinct section numbers the actions touch,
// restricted to allow when it is non-nil.
func affectedOf(s *ImprovementStrategy, allow *SectionFilter) []int {
	seen := make(map[int]bool)
	add := func(n int) {
		if allow != nil && !allow.Allows(n) {
			return
		}
		seen[n] = true
	}
	for _, a := range s.EditActions {
		add(a.SectionNumber)
	}
	for _, a := range s.RegenerateActions {
		add(a.SectionNumber)
	}
	for _, a := range s.InsertActions {
		if a.AfterSection > 0 {
			add(a.AfterSection)
		}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]int, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// ExpectedImprovement estimates the score gain of a plan. It grows with the
// number of actions and never exceeds the gap to the goal.
func ExpectedImprovement(currentScore, goalScore float64, actions int) float64 {
	gap := goalScore - currentScore
	if gap <= 0 || actions <= 0 {
		return 0
	}
	share := 0.15 * float64(actions)
	if share > 1 {
		share = 1
	}
	return gap * share
}
