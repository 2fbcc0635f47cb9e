package main

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/steveyegge/quill/internal/events"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func TestExtractEventMetadata(t *testing.T) {
	tests := []struct {
		name  string
		event events.ProgressEvent
		want  string
	}{
		{
			name:  "baseline",
			event: events.ProgressEvent{Type: events.EventTypeBaselineAssessed, Score: 61.5},
			want:  "score 61.5",
		},
		{
			name: "plan from stored json",
			event: events.ProgressEvent{Type: events.EventTypePlanGenerated, Data: map[string]interface{}{
				"strategy_type": "targeted_edit", "actions": float64(3), "expected_improvement": 7.5, "degraded": true,
			}},
			want: "targeted_edit | 3 actions | +7.5 expected | degraded",
		},
		{
			name: "execution without failures",
			event: events.ProgressEvent{Type: events.EventTypeActionsExecuted, Data: map[string]interface{}{
				"edits": 2, "insertions": 1, "regenerations": 0,
			}},
			want: "2 edits | 1 inserted | 0 regenerated",
		},
		{
			name: "execution with failures",
			event: events.ProgressEvent{Type: events.EventTypeActionsExecuted, Data: map[string]interface{}{
				"edits": 1, "failures": 2,
			}},
			want: "1 edits | 0 inserted | 0 regenerated | 2 failed",
		},
		{
			name: "validated with judge",
			event: events.ProgressEvent{Type: events.EventTypeValidated, Score: 70, Data: map[string]interface{}{
				"previous_score": 64.0, "new_score": 70.0, "score_change": 6.0, "blended": true, "bonus": 2.0,
			}},
			want: "64.0 → 70.0 | +6.0 | judge blended | bonus 2.0",
		},
		{
			name: "regression",
			event: events.ProgressEvent{Type: events.EventTypeRegressionDetected, Data: map[string]interface{}{
				"score_change": -8.0, "restored_score": 64.0, "rollbacks": float64(1),
			}},
			want: "-8.0 | restored 64.0 | 1 rollbacks",
		},
		{
			name: "completed",
			event: events.ProgressEvent{Type: events.EventTypeRunCompleted, Iteration: 4, Data: map[string]interface{}{
				"baseline_score": 55.0, "final_score": 81.0, "iterations": float64(4), "stop_reason": "target_reached",
			}},
			want: "55.0 → 81.0 | 4 iterations | target_reached",
		},
		{
			name:  "completed without data falls back to event fields",
			event: events.ProgressEvent{Type: events.EventTypeRunFailed, Iteration: 2, Score: 40},
			want:  "0.0 → 40.0 | 2 iterations | unknown",
		},
		{
			name:  "no metadata",
			event: events.ProgressEvent{Type: events.EventTypeCategoryStarted},
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractEventMetadata(tt.event); got != tt.want {
				t.Errorf("extractEventMetadata() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTruncateString(t *testing.T) {
	tests := []struct {
		in     string
		maxLen int
		want   string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is too long", 10, "this is..."},
		{"ünïcödé text", 8, "ünïcö..."},
		{"abcdef", 1, "..."},
	}
	for _, tt := range tests {
		if got := truncateString(tt.in, tt.maxLen); got != tt.want {
			t.Errorf("truncateString(%q, %d) = %q, want %q", tt.in, tt.maxLen, got, tt.want)
		}
	}
}

func TestProgressDisplay_SkipsChatterUnlessVerbose(t *testing.T) {
	plan := events.NewSimpleEvent(events.EventTypePlanGenerated, "run-1", "tension", 1, events.SeverityInfo, "planned 2 actions", 40, 0)
	done := events.NewSimpleEvent(events.EventTypeRunCompleted, "run-1", "tension", 1, events.SeverityInfo, "done", 100, 82)

	var quiet bytes.Buffer
	d := newProgressDisplay(&quiet, false)
	d.OnProgress(*plan)
	d.OnProgress(*done)
	if strings.Contains(quiet.String(), "planned 2 actions") {
		t.Errorf("plan event shown without --verbose:\n%s", quiet.String())
	}
	if !strings.Contains(quiet.String(), "done") {
		t.Errorf("completion event missing:\n%s", quiet.String())
	}

	var verbose bytes.Buffer
	newProgressDisplay(&verbose, true).OnProgress(*plan)
	if !strings.Contains(verbose.String(), "planned 2 actions") {
		t.Errorf("plan event hidden with --verbose:\n%s", verbose.String())
	}
}

func TestDisplayProgressEvent(t *testing.T) {
	ev := events.ProgressEvent{
		Type:      events.EventTypeBaselineAssessed,
		Timestamp: time.Date(2025, 3, 1, 9, 30, 5, 0, time.UTC),
		Category:  "pacing",
		Severity:  events.SeverityInfo,
		Message:   "baseline assessed",
		Score:     58,
	}
	var buf bytes.Buffer
	displayProgressEvent(&buf, ev)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d:\n%s", len(lines), buf.String())
	}
	if want := "🔍 [09:30:05] pacing baseline_assessed: baseline assessed"; lines[0] != want {
		t.Errorf("line 1 = %q, want %q", lines[0], want)
	}
	if want := "  score 58.0"; lines[1] != want {
		t.Errorf("line 2 = %q, want %q", lines[1], want)
	}
}

func TestGetEventEmoji_FallsBackToSeverity(t *testing.T) {
	ev := events.ProgressEvent{Type: "custom", Severity: events.SeverityWarning}
	if got := getEventEmoji(ev); got != "⚠️" {
		t.Errorf("getEventEmoji() = %q, want warning emoji", got)
	}
	ev.Severity = events.SeverityInfo
	if got := getEventEmoji(ev); got != "•" {
		t.Errorf("getEventEmoji() = %q, want bullet", got)
	}
}
