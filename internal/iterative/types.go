package iterative

import (
	"context"
	"time"

	"github.com/steveyegge/quill/internal/events"
	"github.com/steveyegge/quill/internal/strategy"
	"github.com/steveyegge/quill/internal/types"
)

// Executor applies a strategy to a document. It receives a private copy of
// the document and returns a new one; it must not retain or mutate shared
// state. Per-action failures are reported in the result, not as an error.
// An error aborts the run; an error wrapping types.ErrResourceExceeded
// triggers the degraded retry.
type Executor interface {
	Execute(ctx context.Context, doc *types.Document, s *strategy.ImprovementStrategy) (*ExecutionResult, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, doc *types.Document, s *strategy.ImprovementStrategy) (*ExecutionResult, error)

// Execute calls f(ctx, doc, s).
func (f ExecutorFunc) Execute(ctx context.Context, doc *types.Document, s *strategy.ImprovementStrategy) (*ExecutionResult, error) {
	return f(ctx, doc, s)
}

// ActionKind names the kind of a strategy action.
type ActionKind string

const (
	ActionEdit       ActionKind = "edit"
	ActionInsert     ActionKind = "insert"
	ActionRegenerate ActionKind = "regenerate"
)

// ActionResult records one applied action.
type ActionResult struct {
	Kind          ActionKind `json:"kind"`
	SectionID     string     `json:"section_id,omitempty"`
	SectionNumber int        `json:"section_number"`
	Success       bool       `json:"success"`
	Message       string     `json:"message,omitempty"`
	InputTokens   int        `json:"input_tokens,omitempty"`
	OutputTokens  int        `json:"output_tokens,omitempty"`
}

// ActionFailure records one action that could not be applied.
type ActionFailure struct {
	Kind          ActionKind `json:"kind"`
	SectionID     string     `json:"section_id,omitempty"`
	SectionNumber int        `json:"section_number"`
	Error         string     `json:"error"`
}

// ExecutionResult is the executor's best-effort outcome.
type ExecutionResult struct {
	Document             *types.Document `json:"-"`
	EditsApplied         int             `json:"edits_applied"`
	InsertionsApplied    int             `json:"insertions_applied"`
	RegenerationsApplied int             `json:"regenerations_applied"`
	ActionResults        []ActionResult  `json:"action_results,omitempty"`
	Failures             []ActionFailure `json:"failures,omitempty"`
	InputTokens          int             `json:"input_tokens"`
	OutputTokens         int             `json:"output_tokens"`
}

// Applied is the number of successful actions.
func (r *ExecutionResult) Applied() int {
	if r == nil {
		return 0
	}
	return r.EditsApplied + r.InsertionsApplied + r.RegenerationsApplied
}

// StopReason says why a run ended.
type StopReason string

const (
	StopAlreadyAtTarget StopReason = "already_at_target"
	StopTargetReached   StopReason = "target_reached"
	StopNoImprovements  StopReason = "no_further_improvements"
	StopMarginalReturns StopReason = "marginal_returns"
	StopMaxIterations   StopReason = "max_iterations"
	StopFailed          StopReason = "failed"
	StopCancelled       StopReason = "cancelled"
)

// QualityMetrics summarizes what a run did to the document.
type QualityMetrics struct {
	SectionsImproved   int `json:"sections_improved"`
	SectionsUnchanged  int `json:"sections_unchanged"`
	SectionsRegressed  int `json:"sections_regressed"`
	TotalEdits         int `json:"total_edits"`
	TotalInsertions    int `json:"total_insertions"`
	TotalRegenerations int `json:"total_regenerations"`
	FailedActions      int `json:"failed_actions"`
	Rollbacks          int `json:"rollbacks"`
	SnapshotCount      int `json:"snapshot_count"`
}

// Result is the outcome of one optimization run. On failure Document is
// the caller's original document and ScoreImprovement is zero.
type Result struct {
	RunID            string             `json:"run_id"`
	Category         types.Category     `json:"category"`
	Document         *types.Document    `json:"-"`
	BaselineScore    float64            `json:"baseline_score"`
	FinalScore       float64            `json:"final_score"`
	TargetScore      float64            `json:"target_score"`
	ScoreImprovement float64            `json:"score_improvement"`
	Iterations       int                `json:"iterations"`
	Executions       []*ExecutionResult `json:"executions,omitempty"`
	Success          bool               `json:"success"`
	Message          string             `json:"message"`
	StopReason       StopReason         `json:"stop_reason"`
	Degraded         bool               `json:"degraded"`
	Metrics          QualityMetrics     `json:"metrics"`
	ScoreHistory     []float64          `json:"score_history"`
	Duration         time.Duration      `json:"duration"`
	Err              error              `json:"-"`
}

// TargetReached reports whether the run ended at or above its target.
func (r *Result) TargetReached() bool {
	return r.StopReason == StopTargetReached || r.StopReason == StopAlreadyAtTarget
}

// RunOption customizes a single run.
type RunOption func(*runOptions)

type runOptions struct {
	targetScore float64
	observer    events.Observer
	filter      *strategy.SectionFilter
}

// WithTargetScore overrides the controller's target for this run.
func WithTargetScore(score float64) RunOption {
	return func(o *runOptions) {
		if score > 0 {
			o.targetScore = score
		}
	}
}

// WithProgress registers a message/percent callback for this run.
func WithProgress(fn events.ProgressFunc) RunOption {
	return func(o *runOptions) {
		o.observer = events.Multi(o.observer, events.FromProgressFunc(fn))
	}
}

// WithObserver registers an event observer for this run.
func WithObserver(obs events.Observer) RunOption {
	return func(o *runOptions) {
		o.observer = events.Multi(o.observer, obs)
	}
}

// WithSectionFilter restricts every plan to the allowed sections.
func WithSectionFilter(f *strategy.SectionFilter) RunOption {
	return func(o *runOptions) {
		o.filter = f
	}
}
