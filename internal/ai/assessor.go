package ai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/steveyegge/quill/internal/contextbudget"
	"github.com/steveyegge/quill/internal/types"
)

// AssessorConfig configures an Assessor.
type AssessorConfig struct {
	Caller Caller
	// Budget reduces the document before it is sent. Nil uses defaults.
	Budget *contextbudget.Manager
	// ContextBudget is the token budget for the document view; 0 sends the
	// full document.
	ContextBudget int
	TargetScore   float64
	MaxTokens     int
	Logger        *slog.Logger
}

// Assessor scores a document for one category with the model. Results are
// memoized by prompt so re-assessing an unchanged document is stable.
type Assessor struct {
	cfg    AssessorConfig
	budget *contextbudget.Manager
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]*types.WeaknessAssessment
}

var _ types.Assessor = (*Assessor)(nil)

// NewAssessor creates an Assessor.
func NewAssessor(cfg AssessorConfig) (*Assessor, error) {
	if cfg.Caller == nil {
		return nil, errors.New("caller is required")
	}
	if cfg.ContextBudget < 0 {
		return nil, errors.New("ContextBudget cannot be negative")
	}
	if cfg.TargetScore == 0 {
		cfg.TargetScore = 80
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4096
	}
	budget := cfg.Budget
	if budget == nil {
		budget = contextbudget.NewManager(contextbudget.DefaultConfig())
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Assessor{
		cfg:    cfg,
		budget: budget,
		logger: logger.With("component", "assessor"),
		cache:  make(map[string]*types.WeaknessAssessment),
	}, nil
}

type assessmentResponse struct {
	OverallScore float64 `json:"overall_score"`
	Summary      string  `json:"summary"`
	Weaknesses   []struct {
		Kind             string  `json:"kind"`
		Description      string  `json:"description"`
		Severity         string  `json:"severity"`
		CurrentScore     float64 `json:"current_score"`
		TargetScore      float64 `json:"target_score"`
		AffectedSections []int   `json:"affected_sections"`
		Suggestion       string  `json:"suggestion"`
	} `json:"weaknesses"`
}

// Assess implements types.Assessor.
func (a *Assessor) Assess(ctx context.Context, doc *types.Document, category types.Category) (*types.WeaknessAssessment, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	if !category.IsValid() {
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownCategory, category)
	}

	view := doc
	if a.cfg.ContextBudget > 0 {
		r := a.budget.Reduce(doc, a.cfg.ContextBudget)
		view = r.Document
		if r.Tier != contextbudget.TierFull {
			a.logger.Debug("assessing reduced document", "tier", r.Tier, "estimate", r.Estimate.Total,
				"budget", a.cfg.ContextBudget, "sufficient", r.Sufficient)
		}
	}

	prompt := buildAssessmentPrompt(view, category, a.cfg.TargetScore)
	key := promptKey(prompt)

	a.mu.Lock()
	cached, ok := a.cache[key]
	a.mu.Unlock()
	if ok {
		return cloneAssessment(cached), nil
	}

	text, _, err := a.cfg.Caller.CallAI(ctx, prompt, "assess-"+string(category), a.cfg.MaxTokens)
	if err != nil {
		return nil, fmt.Errorf("assess %s: %w", category, err)
	}

	parsed := Parse[assessmentResponse](text, "assessment")
	if !parsed.Success {
		return nil, fmt.Errorf("assess %s: failed to parse response: %s", category, parsed.Error)
	}

	result := a.toAssessment(parsed.Data, doc, category)

	a.mu.Lock()
	a.cache[key] = result
	a.mu.Unlock()

	a.logger.Info("assessment complete", "category", category, "score", result.OverallScore,
		"weaknesses", len(result.Weaknesses))
	return cloneAssessment(result), nil
}

// toAssessment normalizes the model's answer: scores are clamped, unknown
// severities become medium and section numbers not in doc are dropped.
func (a *Assessor) toAssessment(resp assessmentResponse, doc *types.Document, category types.Category) *types.WeaknessAssessment {
	out := &types.WeaknessAssessment{
		Category:     category,
		OverallScore: types.ClampScore(resp.OverallScore),
		TargetScore:  a.cfg.TargetScore,
		Summary:      resp.Summary,
		AssessedAt:   time.Now(),
	}
	for i, w := range resp.Weaknesses {
		sev, err := types.ParseSeverity(w.Severity)
		if err != nil {
			sev = types.SeverityMedium
		}
		var sections []int
		for _, n := range w.AffectedSections {
			if doc.SectionByNumber(n) != nil {
				sections = append(sections, n)
			}
		}
		target := w.TargetScore
		if target == 0 {
			target = a.cfg.TargetScore
		}
		out.Weaknesses = append(out.Weaknesses, types.Weakness{
			ID:               fmt.Sprintf("%s-%d", category, i+1),
			Kind:             w.Kind,
			Description:      w.Description,
			Severity:         sev,
			CurrentScore:     types.ClampScore(w.CurrentScore),
			TargetScore:      types.ClampScore(target),
			AffectedSections: sections,
			Suggestion:       w.Suggestion,
		})
	}
	return out
}

func promptKey(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

func cloneAssessment(a *types.WeaknessAssessment) *types.WeaknessAssessment {
	out := *a
	out.Weaknesses = make([]types.Weakness, len(a.Weaknesses))
	for i, w := range a.Weaknesses {
		w.AffectedSections = append([]int(nil), w.AffectedSections...)
		out.Weaknesses[i] = w
	}
	return &out
}
