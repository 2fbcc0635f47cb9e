// Package storage records optimization runs and their progress events.
//
// The optimization core never persists anything; the CLI writes a RunRecord
// for every finished run and, when enabled, streams events through an
// EventObserver.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/steveyegge/quill/internal/iterative"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the interface for run history backends
type Store interface {
	// Runs
	RecordRun(ctx context.Context, run *RunRecord) error
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*RunRecord, error)

	// Events
	RecordEvent(ctx context.Context, event *EventRecord) error
	ListEvents(ctx context.Context, runID string) ([]*EventRecord, error)

	// Retention
	PruneRuns(ctx context.Context, olderThan time.Time) (int, error)
	PruneExcessRuns(ctx context.Context, keep int) (int, error)

	Close() error
}

// RunRecord is the stored summary of one single-category run.
type RunRecord struct {
	ID string `json:"id"`
	// GroupID ties together the per-category runs of one multi-category invocation.
	GroupID       string                   `json:"group_id,omitempty"`
	DocumentPath  string                   `json:"document_path,omitempty"`
	DocumentTitle string                   `json:"document_title,omitempty"`
	Category      string                   `json:"category"`
	BaselineScore float64                  `json:"baseline_score"`
	FinalScore    float64                  `json:"final_score"`
	TargetScore   float64                  `json:"target_score"`
	Improvement   float64                  `json:"improvement"`
	Iterations    int                      `json:"iterations"`
	StopReason    string                   `json:"stop_reason"`
	Success       bool                     `json:"success"`
	Degraded      bool                     `json:"degraded"`
	Message       string                   `json:"message"`
	Error         string                   `json:"error,omitempty"`
	Metrics       iterative.QualityMetrics `json:"metrics"`
	ScoreHistory  []float64                `json:"score_history"`
	InputTokens   int                      `json:"input_tokens"`
	OutputTokens  int                      `json:"output_tokens"`
	Duration      time.Duration            `json:"duration"`
	CreatedAt     time.Time                `json:"created_at"`
}

// RunFilter narrows ListRuns. Zero values match everything.
type RunFilter struct {
	Category     string
	DocumentPath string
	GroupID      string
	Since        time.Time
	Limit        int
}

// EventRecord is a stored progress event.
type EventRecord struct {
	ID        string                 `json:"id"`
	RunID     string                 `json:"run_id"`
	Type      string                 `json:"type"`
	Category  string                 `json:"category"`
	Iteration int                    `json:"iteration"`
	Severity  string                 `json:"severity"`
	Message   string                 `json:"message"`
	Percent   int                    `json:"percent"`
	Score     float64                `json:"score"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewRunRecord summarizes a controller result. docPath and groupID may be empty.
func NewRunRecord(r *iterative.Result, docPath, groupID string) *RunRecord {
	rec := &RunRecord{
		ID:            r.RunID,
		GroupID:       groupID,
		DocumentPath:  docPath,
		Category:      string(r.Category),
		BaselineScore: r.BaselineScore,
		FinalScore:    r.FinalScore,
		TargetScore:   r.TargetScore,
		Improvement:   r.ScoreImprovement,
		Iterations:    r.Iterations,
		StopReason:    string(r.StopReason),
		Success:       r.Success,
		Degraded:      r.Degraded,
		Message:       r.Message,
		Metrics:       r.Metrics,
		ScoreHistory:  append([]float64(nil), r.ScoreHistory...),
		Duration:      r.Duration,
		CreatedAt:     time.Now(),
	}
	if r.Document != nil {
		rec.DocumentTitle = r.Document.Title
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
	}
	for _, ex := range r.Executions {
		if ex == nil {
			continue
		}
		rec.InputTokens += ex.InputTokens
		rec.OutputTokens += ex.OutputTokens
	}
	return rec
}

// NewRunRecords summarizes every per-category run of a coordinator result.
func NewRunRecords(m *iterative.MultiResult, docPath, groupID string) []*RunRecord {
	out := make([]*RunRecord, 0, len(m.PerCategory))
	for _, r := range m.PerCategory {
		if r == nil {
			continue
		}
		out = append(out, NewRunRecord(r, docPath, groupID))
	}
	return out
}
