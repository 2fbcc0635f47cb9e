package events

import (
	"sync"
	"time"
)

// EventType represents the type of progress event emitted during an optimization run.
type EventType string

const (
	// EventTypeBaselineAssessed indicates the baseline score was computed
	EventTypeBaselineAssessed EventType = "baseline_assessed"
	// EventTypePlanGenerated indicates the planner produced a strategy for this iteration
	EventTypePlanGenerated EventType = "plan_generated"
	// EventTypeActionsExecuted indicates the executor applied a strategy
	EventTypeActionsExecuted EventType = "actions_executed"
	// EventTypeValidated indicates the new document was scored
	EventTypeValidated EventType = "validated"
	// EventTypeRegressionDetected indicates the quality gate rolled back an iteration
	EventTypeRegressionDetected EventType = "regression_detected"
	// EventTypeDegradedRetry indicates the run restarted with a minimal context view
	EventTypeDegradedRetry EventType = "degraded_retry"
	// EventTypeRunCompleted indicates a run reached a terminal state
	EventTypeRunCompleted EventType = "run_completed"
	// EventTypeRunFailed indicates a run aborted on a collaborator error
	EventTypeRunFailed EventType = "run_failed"

	// Multi-category events
	// EventTypeCategoryStarted indicates the coordinator began a category
	EventTypeCategoryStarted EventType = "category_started"
	// EventTypeCategorySkipped indicates a category was skipped after an early stop
	EventTypeCategorySkipped EventType = "category_skipped"
)

// IsTerminal reports whether the event ends a run.
func (t EventType) IsTerminal() bool {
	return t == EventTypeRunCompleted || t == EventTypeRunFailed
}

// EventSeverity represents the severity level of an event.
type EventSeverity string

const (
	// SeverityInfo is for routine progress
	SeverityInfo EventSeverity = "info"
	// SeverityWarning is for recoverable trouble (regression, degraded retry)
	SeverityWarning EventSeverity = "warning"
	// SeverityError is for failed runs
	SeverityError EventSeverity = "error"
)

// ProgressEvent is one observation of an optimization run. Events are
// purely informational; observers cannot influence the run.
type ProgressEvent struct {
	// ID is the unique identifier for this event
	ID string `json:"id"`
	// Type is the type of event
	Type EventType `json:"type"`
	// Timestamp is when the event occurred
	Timestamp time.Time `json:"timestamp"`
	// RunID identifies the optimization run
	RunID string `json:"run_id"`
	// Category is the quality category being optimized
	Category string `json:"category"`
	// Iteration is the 1-based loop iteration (0 for baseline and coordinator events)
	Iteration int `json:"iteration"`
	// Severity is the severity level of this event
	Severity EventSeverity `json:"severity"`
	// Message is a human-readable description of the event
	Message string `json:"message"`
	// Percent is the approximate completion of the run, 0-100
	Percent int `json:"percent"`
	// Score is the most recent score known when the event fired
	Score float64 `json:"score"`
	// Data contains structured, type-specific data (must be JSON-serializable)
	Data map[string]interface{} `json:"data,omitempty"`
}

// PlanData describes the strategy generated for an iteration.
type PlanData struct {
	StrategyID          string  `json:"strategy_id"`
	StrategyType        string  `json:"strategy_type"`
	Actions             int     `json:"actions"`
	AffectedSections    []int   `json:"affected_sections,omitempty"`
	ExpectedImprovement float64 `json:"expected_improvement"`
	Degraded            bool    `json:"degraded"`
}

// ExecutionData summarizes what the executor applied.
type ExecutionData struct {
	Edits         int `json:"edits"`
	Insertions    int `json:"insertions"`
	Regenerations int `json:"regenerations"`
	Failures      int `json:"failures"`
	InputTokens   int `json:"input_tokens"`
	OutputTokens  int `json:"output_tokens"`
}

// ValidationData is the outcome of re-scoring a document.
type ValidationData struct {
	PreviousScore float64 `json:"previous_score"`
	NewScore      float64 `json:"new_score"`
	ScoreChange   float64 `json:"score_change"`
	Blended       bool    `json:"blended"`
	Bonus         float64 `json:"bonus"`
	Error         string  `json:"error,omitempty"`
}

// RegressionData describes a rollback.
type RegressionData struct {
	ScoreChange   float64 `json:"score_change"`
	RestoredScore float64 `json:"restored_score"`
	Rollbacks     int     `json:"rollbacks"`
}

// CompletionData is attached to terminal events.
type CompletionData struct {
	Success       bool    `json:"success"`
	StopReason    string  `json:"stop_reason"`
	BaselineScore float64 `json:"baseline_score"`
	FinalScore    float64 `json:"final_score"`
	Improvement   float64 `json:"improvement"`
	Iterations    int     `json:"iterations"`
	Rollbacks     int     `json:"rollbacks"`
	Error         string  `json:"error,omitempty"`
}

// Observer receives progress events. Implementations must not block for
// long; they run on the optimization goroutine.
type Observer interface {
	OnProgress(event ProgressEvent)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(event ProgressEvent)

// OnProgress calls f(event).
func (f ObserverFunc) OnProgress(event ProgressEvent) {
	f(event)
}

// ProgressFunc is the simple message/percent callback shape.
type ProgressFunc func(message string, percent int)

// FromProgressFunc wraps a ProgressFunc as an Observer. A nil fn yields nil.
func FromProgressFunc(fn ProgressFunc) Observer {
	if fn == nil {
		return nil
	}
	return ObserverFunc(func(e ProgressEvent) {
		fn(e.Message, e.Percent)
	})
}

type multi []Observer

func (m multi) OnProgress(event ProgressEvent) {
	for _, o := range m {
		o.OnProgress(event)
	}
}

// Multi fans events out to every non-nil observer. Returns nil when none
// are given.
func Multi(observers ...Observer) Observer {
	var out multi
	for _, o := range observers {
		if o != nil {
			out = append(out, o)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return out
}

// Recorder keeps every event it sees. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []ProgressEvent
}

// OnProgress implements Observer.
func (r *Recorder) OnProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ProgressEvent(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// Count returns how many events of type t were recorded.
func (r *Recorder) Count(t EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

// Reset discards recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
