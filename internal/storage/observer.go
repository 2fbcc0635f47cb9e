package storage

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/steveyegge/quill/internal/events"
)

// EventObserver writes progress events to a Store. Storage failures are
// logged and counted; they never reach the optimization run.
type EventObserver struct {
	store   Store
	ctx     context.Context
	timeout time.Duration
	logger  *slog.Logger
	failed  atomic.Int64
	stored  atomic.Int64
}

// NewEventObserver creates an observer writing to store. ctx bounds every
// write; a nil logger uses slog.Default().
func NewEventObserver(ctx context.Context, store Store, logger *slog.Logger) *EventObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventObserver{
		store:   store,
		ctx:     ctx,
		timeout: 5 * time.Second,
		logger:  logger.With("component", "event-recorder"),
	}
}

// OnProgress implements events.Observer.
func (o *EventObserver) OnProgress(event events.ProgressEvent) {
	if o.ctx.Err() != nil {
		o.failed.Add(1)
		return
	}
	ctx, cancel := context.WithTimeout(o.ctx, o.timeout)
	defer cancel()

	if err := o.store.RecordEvent(ctx, NewEventRecord(event)); err != nil {
		o.failed.Add(1)
		o.logger.Warn("failed to record event", "type", event.Type, "run_id", event.RunID, "error", err)
		return
	}
	o.stored.Add(1)
}

// Stored returns how many events were written.
func (o *EventObserver) Stored() int64 {
	return o.stored.Load()
}

// Failed returns how many events could not be written.
func (o *EventObserver) Failed() int64 {
	return o.failed.Load()
}

// NewEventRecord converts a progress event for storage, assigning an ID
// when the event has none.
func NewEventRecord(event events.ProgressEvent) *EventRecord {
	id := event.ID
	if id == "" {
		id = uuid.New().String()
	}
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return &EventRecord{
		ID:        id,
		RunID:     event.RunID,
		Type:      string(event.Type),
		Category:  event.Category,
		Iteration: event.Iteration,
		Severity:  string(event.Severity),
		Message:   event.Message,
		Percent:   event.Percent,
		Score:     event.Score,
		Data:      event.Data,
		Timestamp: ts,
	}
}

// ProgressEvent converts a stored event back for display.
func (r *EventRecord) ProgressEvent() events.ProgressEvent {
	return events.ProgressEvent{
		ID:        r.ID,
		Type:      events.EventType(r.Type),
		Timestamp: r.Timestamp,
		RunID:     r.RunID,
		Category:  r.Category,
		Iteration: r.Iteration,
		Severity:  events.EventSeverity(r.Severity),
		Message:   r.Message,
		Percent:   r.Percent,
		Score:     r.Score,
		Data:      r.Data,
	}
}
