package events

import (
	"time"

	"github.com/google/uuid"
)

// NewSimpleEvent creates a ProgressEvent without structured data.
func NewSimpleEvent(eventType EventType, runID, category string, iteration int, severity EventSeverity, message string, percent int, score float64) *ProgressEvent {
	return &ProgressEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now(),
		RunID:     runID,
		Category:  category,
		Iteration: iteration,
		Severity:  severity,
		Message:   message,
		Percent:   clampPercent(percent),
		Score:     score,
	}
}

// NewPlanEvent creates a plan_generated event with type-safe data.
func NewPlanEvent(runID, category string, iteration int, message string, percent int, score float64, data PlanData) (*ProgressEvent, error) {
	event := NewSimpleEvent(EventTypePlanGenerated, runID, category, iteration, SeverityInfo, message, percent, score)
	if err := event.SetPlanData(data); err != nil {
		return nil, err
	}
	return event, nil
}

// NewExecutionEvent creates an actions_executed event with type-safe data.
// Runs with failed actions are reported at warning severity.
func NewExecutionEvent(runID, category string, iteration int, message string, percent int, score float64, data ExecutionData) (*ProgressEvent, error) {
	severity := SeverityInfo
	if data.Failures > 0 {
		severity = SeverityWarning
	}
	event := NewSimpleEvent(EventTypeActionsExecuted, runID, category, iteration, severity, message, percent, score)
	if err := event.SetExecutionData(data); err != nil {
		return nil, err
	}
	return event, nil
}

// NewValidationEvent creates a validated event with type-safe data.
func NewValidationEvent(runID, category string, iteration int, message string, percent int, data ValidationData) (*ProgressEvent, error) {
	severity := SeverityInfo
	if data.Error != "" {
		severity = SeverityWarning
	}
	event := NewSimpleEvent(EventTypeValidated, runID, category, iteration, severity, message, percent, data.NewScore)
	if err := event.SetValidationData(data); err != nil {
		return nil, err
	}
	return event, nil
}

// NewRegressionEvent creates a regression_detected event with type-safe data.
func NewRegressionEvent(runID, category string, iteration int, message string, percent int, data RegressionData) (*ProgressEvent, error) {
	event := NewSimpleEvent(EventTypeRegressionDetected, runID, category, iteration, SeverityWarning, message, percent, data.RestoredScore)
	if err := event.SetRegressionData(data); err != nil {
		return nil, err
	}
	return event, nil
}

// NewCompletionEvent creates a run_completed or run_failed event depending
// on data.Success.
func NewCompletionEvent(runID, category string, iteration int, message string, data CompletionData) (*ProgressEvent, error) {
	eventType, severity := EventTypeRunCompleted, SeverityInfo
	if !data.Success {
		eventType, severity = EventTypeRunFailed, SeverityError
	}
	event := NewSimpleEvent(eventType, runID, category, iteration, severity, message, 100, data.FinalScore)
	if err := event.SetCompletionData(data); err != nil {
		return nil, err
	}
	return event, nil
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
