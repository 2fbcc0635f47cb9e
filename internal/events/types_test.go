package events

import (
	"sync"
	"testing"
)

func TestEventTypeIsTerminal(t *testing.T) {
	tests := []struct {
		name     string
		et       EventType
		expected bool
	}{
		{"completed", EventTypeRunCompleted, true},
		{"failed", EventTypeRunFailed, true},
		{"validated", EventTypeValidated, false},
		{"regression", EventTypeRegressionDetected, false},
		{"empty", EventType(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.et.IsTerminal(); got != tt.expected {
				t.Errorf("%q.IsTerminal() = %v, expected %v", tt.et, got, tt.expected)
			}
		})
	}
}

func TestFromProgressFunc(t *testing.T) {
	if FromProgressFunc(nil) != nil {
		t.Fatal("expected nil observer for nil func")
	}

	var gotMsg string
	var gotPct int
	obs := FromProgressFunc(func(message string, percent int) {
		gotMsg, gotPct = message, percent
	})
	obs.OnProgress(ProgressEvent{Message: "baseline 50.0", Percent: 10})

	if gotMsg != "baseline 50.0" || gotPct != 10 {
		t.Errorf("got (%q, %d), expected (\"baseline 50.0\", 10)", gotMsg, gotPct)
	}
}

func TestMulti(t *testing.T) {
	if Multi() != nil || Multi(nil, nil) != nil {
		t.Fatal("expected nil for no observers")
	}

	a, b := &Recorder{}, &Recorder{}
	if Multi(a, nil) != Observer(a) {
		t.Error("single observer should be returned as-is")
	}

	m := Multi(a, nil, b)
	m.OnProgress(ProgressEvent{Type: EventTypeValidated})
	m.OnProgress(ProgressEvent{Type: EventTypeRunCompleted})

	for name, r := range map[string]*Recorder{"a": a, "b": b} {
		if got := len(r.Events()); got != 2 {
			t.Errorf("recorder %s saw %d events, expected 2", name, got)
		}
	}
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			et := EventTypeValidated
			if i%5 == 0 {
				et = EventTypeRegressionDetected
			}
			r.OnProgress(ProgressEvent{Type: et, Iteration: i})
		}(i)
	}
	wg.Wait()

	if got := len(r.Events()); got != 50 {
		t.Fatalf("expected 50 events, got %d", got)
	}
	if got := r.Count(EventTypeRegressionDetected); got != 10 {
		t.Errorf("expected 10 regression events, got %d", got)
	}
	if got := len(r.Types()); got != 50 {
		t.Errorf("expected 50 types, got %d", got)
	}

	r.Reset()
	if len(r.Events()) != 0 {
		t.Error("expected no events after reset")
	}
}

func TestConstructorsSetSeverity(t *testing.T) {
	exec, err := NewExecutionEvent("run-1", "tension", 1, "applied", 40, 55, ExecutionData{Edits: 2, Failures: 1})
	if err != nil {
		t.Fatalf("NewExecutionEvent: %v", err)
	}
	if exec.Severity != SeverityWarning {
		t.Errorf("execution with failures: severity %q, expected warning", exec.Severity)
	}

	failed, err := NewCompletionEvent("run-1", "tension", 2, "aborted", CompletionData{Success: false, Error: "boom"})
	if err != nil {
		t.Fatalf("NewCompletionEvent: %v", err)
	}
	if failed.Type != EventTypeRunFailed || failed.Severity != SeverityError {
		t.Errorf("got %s/%s, expected run_failed/error", failed.Type, failed.Severity)
	}
	if failed.Percent != 100 {
		t.Errorf("terminal percent %d, expected 100", failed.Percent)
	}

	done, err := NewCompletionEvent("run-1", "tension", 2, "target achieved", CompletionData{Success: true, FinalScore: 81})
	if err != nil {
		t.Fatalf("NewCompletionEvent: %v", err)
	}
	if done.Type != EventTypeRunCompleted || done.Score != 81 {
		t.Errorf("got %s score %.1f, expected run_completed score 81", done.Type, done.Score)
	}

	simple := NewSimpleEvent(EventTypeBaselineAssessed, "run-1", "tension", 0, SeverityInfo, "baseline", 140, 50)
	if simple.Percent != 100 {
		t.Errorf("percent not clamped: %d", simple.Percent)
	}
	if simple.ID == "" {
		t.Error("expected generated ID")
	}
}

func TestTypedDataRoundTrip(t *testing.T) {
	event, err := NewRegressionEvent("run-1", "theme", 2, "rolled back", 60, RegressionData{ScoreChange: -8, RestoredScore: 55, Rollbacks: 1})
	if err != nil {
		t.Fatalf("NewRegressionEvent: %v", err)
	}
	got, err := event.GetRegressionData()
	if err != nil {
		t.Fatalf("GetRegressionData: %v", err)
	}
	if got.ScoreChange != -8 || got.RestoredScore != 55 || got.Rollbacks != 1 {
		t.Errorf("unexpected data: %+v", got)
	}
	if event.Score != 55 {
		t.Errorf("event score %.1f, expected restored score 55", event.Score)
	}
}
