package strategy

import (
	"context"
	"errors"
	"testing"

	"github.com/steveyegge/quill/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockAssessor returns a fixed assessment and counts calls.
type mockAssessor struct {
	assessFunc func(ctx context.Context, doc *types.Document, c types.Category) (*types.WeaknessAssessment, error)
	calls      int
}

func (m *mockAssessor) Assess(ctx context.Context, doc *types.Document, c types.Category) (*types.WeaknessAssessment, error) {
	m.calls++
	return m.assessFunc(ctx, doc, c)
}

func fixedAssessment(score float64, ws ...types.Weakness) *mockAssessor {
	return &mockAssessor{
		assessFunc: func(_ context.Context, _ *types.Document, c types.Category) (*types.WeaknessAssessment, error) {
			return &types.WeaknessAssessment{Category: c, OverallScore: score, TargetScore: 80, Weaknesses: ws}, nil
		},
	}
}

func tensionPlanner(t *testing.T, a types.Assessor) *WeaknessPlanner {
	t.Helper()
	p, err := NewWeaknessPlanner(DefaultProfiles()[types.CategoryTension], a)
	require.NoError(t, err)
	p.newID = func() string { return "strategy-1" }
	return p
}

func TestWeaknessPlannerMapping(t *testing.T) {
	assessor := fixedAssessment(50,
		types.Weakness{Kind: "flat_tension", Severity: types.SeverityMedium, Description: "flat", AffectedSections: []int{4, 2}},
		types.Weakness{Kind: "missing_cliffhanger", Severity: types.SeverityHigh, Description: "no hook", AffectedSections: []int{4}},
		types.Weakness{Kind: "flat_tension", Severity: types.SeverityMedium, Description: "dup", AffectedSections: []int{2}},
		types.Weakness{Kind: "premature_release", Severity: types.SeverityLow, AffectedSections: []int{5}},
		types.Weakness{Kind: "low_stakes", Severity: types.SeverityHigh, Description: "stakes unclear", Suggestion: "show the cost"},
		types.Weakness{Kind: "flat_tension", Severity: types.SeverityMedium, AffectedSections: []int{99}},
	)
	p := tensionPlanner(t, assessor)

	s, err := p.Plan(context.Background(), PlanRequest{
		Document:    numberedDocument(10),
		Category:    types.CategoryTension,
		TargetScore: 80,
	})
	require.NoError(t, err)
	require.NotNil(t, s)

	assert.Equal(t, "strategy-1", s.ID)
	assert.Equal(t, types.CategoryTension, s.Category)
	assert.Equal(t, types.SeverityHigh, s.Priority)
	assert.Equal(t, 50.0, s.CurrentScore)
	assert.Equal(t, 80.0, s.GoalScore)

	require.Len(t, s.EditActions, 3)
	assert.Equal(t, 2, s.EditActions[0].SectionNumber)
	assert.Equal(t, "escalation", s.EditActions[0].ImprovementType)
	assert.Equal(t, 4, s.EditActions[1].SectionNumber)
	assert.Equal(t, "escalation", s.EditActions[1].ImprovementType)
	assert.Equal(t, 4, s.EditActions[2].SectionNumber)
	assert.Equal(t, "cliffhanger", s.EditActions[2].ImprovementType)
	assert.Equal(t, RegionEnd, s.EditActions[2].Region)
	assert.Equal(t, "s4", s.EditActions[2].SectionID)

	require.Len(t, s.InsertActions, 1)
	assert.Equal(t, 3, s.InsertActions[0].AfterSection)
	assert.Equal(t, 1, s.InsertActions[0].Count)
	assert.Equal(t, "stakes unclear: show the cost", s.InsertActions[0].Purpose)

	assert.Equal(t, TypeHybrid, s.Type)
	assert.Equal(t, []int{2, 3, 4}, s.AffectedSections)
	assert.InDelta(t, 18.0, s.ExpectedImprovement, 1e-9)
	assert.Equal(t, 1, assessor.calls)
}

func TestWeaknessPlannerRegenerateDropsEdits(t *testing.T) {
	assessor := fixedAssessment(30,
		types.Weakness{Kind: "flat_tension", Severity: types.SeverityMedium, AffectedSections: []int{3, 6}},
		types.Weakness{Kind: "flat_tension", Severity: types.SeverityCritical, CurrentScore: 10, TargetScore: 70, AffectedSections: []int{3}},
	)
	p := tensionPlanner(t, assessor)

	s, err := p.Plan(context.Background(), PlanRequest{Document: numberedDocument(8), Category: types.CategoryTension, TargetScore: 80})
	require.NoError(t, err)

	require.Len(t, s.RegenerateActions, 1)
	assert.Equal(t, "s3", s.RegenerateActions[0].SectionID)
	require.Len(t, s.EditActions, 1)
	assert.Equal(t, 6, s.EditActions[0].SectionNumber)
	assert.Equal(t, types.SeverityCritical, s.Priority)
	assert.Equal(t, TypeHybrid, s.Type)
}

func TestWeaknessPlannerNothingToDo(t *testing.T) {
	ctx := context.Background()
	doc := numberedDocument(3)

	atTarget := tensionPlanner(t, fixedAssessment(85,
		types.Weakness{Kind: "flat_tension", Severity: types.SeverityCritical, AffectedSections: []int{1}}))
	s, err := atTarget.Plan(ctx, PlanRequest{Document: doc, Category: types.CategoryTension, TargetScore: 80})
	require.NoError(t, err)
	assert.Nil(t, s)

	belowThreshold := tensionPlanner(t, fixedAssessment(40,
		types.Weakness{Kind: "flat_tension", Severity: types.SeverityLow, AffectedSections: []int{1}}))
	s, err = belowThreshold.Plan(ctx, PlanRequest{Document: doc, Category: types.CategoryTension, TargetScore: 80})
	require.NoError(t, err)
	assert.Nil(t, s)
	assert.True(t, s.IsEmpty())
}

func TestWeaknessPlannerReusesAssessment(t *testing.T) {
	assessor := fixedAssessment(0)
	p := tensionPlanner(t, assessor)

	s, err := p.Plan(context.Background(), PlanRequest{
		Document:    numberedDocument(3),
		Category:    types.CategoryTension,
		TargetScore: 80,
		Assessment: &types.WeaknessAssessment{
			Category:     types.CategoryTension,
			OverallScore: 40,
			Weaknesses:   []types.Weakness{{Kind: "flat_tension", Severity: types.SeverityHigh, AffectedSections: []int{2}}},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Zero(t, assessor.calls)
	assert.Len(t, s.EditActions, 1)
}

func TestWeaknessPlannerAppliesFilter(t *testing.T) {
	assessor := fixedAssessment(40,
		types.Weakness{Kind: "flat_tension", Severity: types.SeverityHigh, AffectedSections: []int{1, 2, 3}},
	)
	p := tensionPlanner(t, assessor)
	ctx := context.Background()
	doc := numberedDocument(3)

	s, err := p.Plan(ctx, PlanRequest{Document: doc, Category: types.CategoryTension, TargetScore: 80, Filter: NewSectionFilter(2)})
	require.NoError(t, err)
	require.Len(t, s.EditActions, 1)
	assert.Equal(t, []int{2}, s.AffectedSections)

	// filtered down to nothing means nothing to do
	s, err = p.Plan(ctx, PlanRequest{Document: doc, Category: types.CategoryTension, TargetScore: 80, Filter: NewSectionFilter(7)})
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestWeaknessPlannerErrors(t *testing.T) {
	boom := errors.New("scorer down")
	p := tensionPlanner(t, &mockAssessor{
		assessFunc: func(context.Context, *types.Document, types.Category) (*types.WeaknessAssessment, error) {
			return nil, boom
		},
	})

	_, err := p.Plan(context.Background(), PlanRequest{Document: numberedDocument(2), Category: types.CategoryTension})
	assert.ErrorIs(t, err, boom)

	_, err = p.Plan(context.Background(), PlanRequest{Document: &types.Document{}})
	assert.ErrorIs(t, err, types.ErrEmptyDocument)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Plan(ctx, PlanRequest{Document: numberedDocument(2), Category: types.CategoryTension})
	assert.ErrorIs(t, err, context.Canceled)

	_, err = NewWeaknessPlanner(Profile{Category: "nope"}, fixedAssessment(0))
	assert.ErrorIs(t, err, types.ErrUnknownCategory)
	_, err = NewWeaknessPlanner(Profile{Category: types.CategoryTheme}, nil)
	assert.Error(t, err)
}

func TestInsertAfterPlacements(t *testing.T) {
	ten := numberedDocument(10)
	assert.Equal(t, 3, InsertAfter(PlacementEstablishing, ten))
	assert.Equal(t, 5, InsertAfter(PlacementMidpoint, ten))
	assert.Equal(t, 9, InsertAfter(PlacementClimax, ten))
	assert.Equal(t, 10, InsertAfter(PlacementResolution, ten))

	one := numberedDocument(1)
	for _, p := range []Placement{PlacementEstablishing, PlacementMidpoint, PlacementClimax, PlacementResolution} {
		assert.Equal(t, 1, InsertAfter(p, one))
	}
	assert.Zero(t, InsertAfter(PlacementClimax, &types.Document{}))
}

func TestExpectedImprovement(t *testing.T) {
	assert.Zero(t, ExpectedImprovement(80, 70, 3))
	assert.Zero(t, ExpectedImprovement(50, 70, 0))
	assert.InDelta(t, 3.0, ExpectedImprovement(50, 70, 1), 1e-9)
	assert.InDelta(t, 20.0, ExpectedImprovement(50, 70, 7), 1e-9)
	assert.InDelta(t, 20.0, ExpectedImprovement(50, 70, 40), 1e-9)
}

func TestRegistry(t *testing.T) {
	assessor := fixedAssessment(40,
		types.Weakness{Kind: "theme_drift", Severity: types.SeverityHigh, AffectedSections: []int{1}},
	)
	r, err := NewRegistry(assessor)
	require.NoError(t, err)

	for _, c := range types.AllCategories() {
		p, err := r.Planner(c)
		require.NoError(t, err, c)
		wp, ok := p.(*WeaknessPlanner)
		require.True(t, ok)
		assert.Equal(t, c, wp.Profile().Category)
	}

	s, err := r.Plan(context.Background(), PlanRequest{Document: numberedDocument(2), Category: types.CategoryTheme, TargetScore: 80})
	require.NoError(t, err)
	require.Len(t, s.EditActions, 1)
	assert.Equal(t, "theme_reinforcement", s.EditActions[0].ImprovementType)

	_, err = r.Plan(context.Background(), PlanRequest{Category: "bogus"})
	assert.ErrorIs(t, err, types.ErrUnknownCategory)

	called := false
	require.NoError(t, r.Register(types.CategoryStyle, PlannerFunc(func(context.Context, PlanRequest) (*ImprovementStrategy, error) {
		called = true
		return nil, nil
	})))
	_, err = r.Plan(context.Background(), PlanRequest{Category: types.CategoryStyle})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Error(t, r.Register("bogus", PlannerFunc(nil)))
}
