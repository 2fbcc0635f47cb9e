package iterative

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/steveyegge/quill/internal/strategy"
	"github.com/steveyegge/quill/internal/types"
)

// mockAssessor returns a fixed score per category unless assessFunc is set
type mockAssessor struct {
	mu         sync.Mutex
	assessFunc func(ctx context.Context, doc *types.Document, category types.Category) (*types.WeaknessAssessment, error)
	scores     map[types.Category]float64
	calls      int
	docs       []*types.Document
}

func (m *mockAssessor) Assess(ctx context.Context, doc *types.Document, category types.Category) (*types.WeaknessAssessment, error) {
	m.mu.Lock()
	m.calls++
	m.docs = append(m.docs, doc)
	fn := m.assessFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, doc, category)
	}
	score := 50.0
	if s, ok := m.scores[category]; ok {
		score = s
	}
	return &types.WeaknessAssessment{Category: category, OverallScore: score}, nil
}

func (m *mockAssessor) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockPlanner plans an edit of section 1 unless planFunc is set
type mockPlanner struct {
	mu       sync.Mutex
	planFunc func(ctx context.Context, req strategy.PlanRequest, call int) (*strategy.ImprovementStrategy, error)
	calls    int
	requests []strategy.PlanRequest
}

func (m *mockPlanner) Plan(ctx context.Context, req strategy.PlanRequest) (*strategy.ImprovementStrategy, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	m.requests = append(m.requests, req)
	fn := m.planFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, req, call)
	}
	return editPlan(req.Document, req.Category, 1), nil
}

// mockExecutor sets every edited section's content to "v<call>" unless
// executeFunc is set
type mockExecutor struct {
	mu          sync.Mutex
	executeFunc func(ctx context.Context, doc *types.Document, s *strategy.ImprovementStrategy, call int) (*ExecutionResult, error)
	calls       int
	strategies  []*strategy.ImprovementStrategy
}

func (m *mockExecutor) Execute(ctx context.Context, doc *types.Document, s *strategy.ImprovementStrategy) (*ExecutionResult, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	m.strategies = append(m.strategies, s)
	fn := m.executeFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, doc, s, call)
	}
	return applyEdits(doc, s, fmt.Sprintf("v%d", call)), nil
}

func (m *mockExecutor) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockValidator adds changes[i] to the previous score on call i+1 and
// repeats the last change when the script runs out
type mockValidator struct {
	mu      sync.Mutex
	changes []float64
	calls   int
}

func scripted(changes ...float64) *mockValidator {
	return &mockValidator{changes: changes}
}

func (m *mockValidator) Validate(ctx context.Context, prev, cur *types.Document, category types.Category, prevScore float64) Validation {
	m.mu.Lock()
	m.calls++
	change := 0.0
	if len(m.changes) > 0 {
		idx := min(m.calls, len(m.changes)) - 1
		change = m.changes[idx]
	}
	m.mu.Unlock()
	score := types.ClampScore(prevScore + change)
	return Validation{
		NewScore:    score,
		ScoreChange: score - prevScore,
		Diff:        Diff(prev, cur),
		Assessment:  &types.WeaknessAssessment{Category: category, OverallScore: score},
	}
}

func testDocument(n int) *types.Document {
	doc := &types.Document{ID: "novel", Title: "Test Novel"}
	for i := 1; i <= n; i++ {
		doc.Sections = append(doc.Sections, types.Section{
			ID:      fmt.Sprintf("s%d", i),
			Number:  i,
			Title:   fmt.Sprintf("Chapter %d", i),
			Content: fmt.Sprintf("chapter %d text", i),
		})
	}
	return doc
}

// editPlan edits the given section numbers of doc.
func editPlan(doc *types.Document, category types.Category, numbers ...int) *strategy.ImprovementStrategy {
	s := &strategy.ImprovementStrategy{ID: "plan", Category: category, CurrentScore: 50, GoalScore: 80}
	for _, n := range numbers {
		sec := doc.SectionByNumber(n)
		if sec == nil {
			continue
		}
		s.EditActions = append(s.EditActions, strategy.EditAction{
			SectionID:       sec.ID,
			SectionNumber:   n,
			Region:          strategy.RegionThroughout,
			ImprovementType: "test",
			Description:     "improve",
		})
	}
	s.Type = s.DeriveType()
	s.RecomputeAffected()
	return s
}

func applyEdits(doc *types.Document, s *strategy.ImprovementStrategy, content string) *ExecutionResult {
	res := &ExecutionResult{Document: doc}
	for _, a := range s.EditActions {
		if sec := doc.SectionByID(a.SectionID); sec != nil {
			sec.Content = content
			res.EditsApplied++
		}
	}
	return res
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestController fills in mocks and a quiet logger for nil fields.
func newTestController(cfg Config) (*Controller, error) {
	if cfg.Assessor == nil {
		cfg.Assessor = &mockAssessor{}
	}
	if cfg.Planner == nil {
		cfg.Planner = &mockPlanner{}
	}
	if cfg.Executor == nil {
		cfg.Executor = &mockExecutor{}
	}
	if cfg.Logger == nil {
		cfg.Logger = quietLogger()
	}
	return NewController(cfg)
}
