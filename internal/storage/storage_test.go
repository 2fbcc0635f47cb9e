package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/quill/internal/events"
	"github.com/steveyegge/quill/internal/iterative"
	"github.com/steveyegge/quill/internal/types"
)

func TestNewRunRecord(t *testing.T) {
	res := &iterative.Result{
		RunID:            "run-1",
		Category:         types.CategoryTension,
		Document:         &types.Document{ID: "d", Title: "The Salt Road"},
		BaselineScore:    60,
		FinalScore:       72,
		TargetScore:      80,
		ScoreImprovement: 12,
		Iterations:       2,
		StopReason:       iterative.StopMaxIterations,
		Success:          true,
		ScoreHistory:     []float64{60, 66, 72},
		Executions: []*iterative.ExecutionResult{
			{InputTokens: 100, OutputTokens: 50},
			nil,
			{InputTokens: 30, OutputTokens: 20},
		},
		Duration: time.Second,
		Err:      errors.New("judge unavailable"),
	}

	rec := NewRunRecord(res, "novel.yaml", "group-1")
	assert.Equal(t, "run-1", rec.ID)
	assert.Equal(t, "group-1", rec.GroupID)
	assert.Equal(t, "The Salt Road", rec.DocumentTitle)
	assert.Equal(t, "tension", rec.Category)
	assert.Equal(t, "max_iterations", rec.StopReason)
	assert.Equal(t, 130, rec.InputTokens)
	assert.Equal(t, 70, rec.OutputTokens)
	assert.Equal(t, "judge unavailable", rec.Error)
	assert.False(t, rec.CreatedAt.IsZero())

	res.ScoreHistory[0] = 0
	assert.Equal(t, 60.0, rec.ScoreHistory[0], "score history is copied")
}

func TestNewRunRecords(t *testing.T) {
	m := &iterative.MultiResult{PerCategory: []*iterative.Result{
		{RunID: "a", Category: types.CategoryHook},
		nil,
		{RunID: "b", Category: types.CategoryPacing},
	}}
	recs := NewRunRecords(m, "novel.yaml", "g")
	require.Len(t, recs, 2)
	assert.Equal(t, "a", recs[0].ID)
	assert.Equal(t, "g", recs[1].GroupID)
}

type memStore struct {
	Store
	events    []*EventRecord
	recordErr error
}

func (m *memStore) RecordEvent(ctx context.Context, ev *EventRecord) error {
	if m.recordErr != nil {
		return m.recordErr
	}
	m.events = append(m.events, ev)
	return nil
}

func TestEventObserver(t *testing.T) {
	store := &memStore{}
	obs := NewEventObserver(context.Background(), store, nil)

	ev := events.NewSimpleEvent(events.EventTypeValidated, "run-1", "hook", 2, events.SeverityInfo, "scored", 60, 71)
	obs.OnProgress(*ev)
	obs.OnProgress(events.ProgressEvent{Type: events.EventTypeCategorySkipped, Category: "theme"})

	require.Len(t, store.events, 2)
	assert.Equal(t, ev.ID, store.events[0].ID)
	assert.Equal(t, "validated", store.events[0].Type)
	assert.Equal(t, 2, store.events[0].Iteration)
	assert.NotEmpty(t, store.events[1].ID, "missing IDs are assigned")
	assert.False(t, store.events[1].Timestamp.IsZero())
	assert.Equal(t, int64(2), obs.Stored())

	store.recordErr = errors.New("disk full")
	obs.OnProgress(*ev)
	assert.Equal(t, int64(1), obs.Failed())
}

func TestEventObserver_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := &memStore{}
	obs := NewEventObserver(ctx, store, nil)

	obs.OnProgress(events.ProgressEvent{ID: "x", Type: events.EventTypeRunCompleted})
	assert.Empty(t, store.events)
	assert.Equal(t, int64(1), obs.Failed())
}
