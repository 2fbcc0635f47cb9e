package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/steveyegge/quill/internal/events"
)

// progressDisplay prints progress events in a two-line format. Safe for
// the concurrent events of a parallel multi-category run.
type progressDisplay struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool
}

func newProgressDisplay(out io.Writer, verbose bool) *progressDisplay {
	return &progressDisplay{out: out, verbose: verbose}
}

// OnProgress implements events.Observer.
func (d *progressDisplay) OnProgress(event events.ProgressEvent) {
	if !d.verbose && shouldSkipEvent(event) {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	displayProgressEvent(d.out, event)
}

// shouldSkipEvent hides the per-step chatter unless --verbose is set
func shouldSkipEvent(event events.ProgressEvent) bool {
	return event.Type == events.EventTypePlanGenerated || event.Type == events.EventTypeActionsExecuted
}

// displayProgressEvent formats and prints a single event
func displayProgressEvent(w io.Writer, event events.ProgressEvent) {
	emoji := getEventEmoji(event)
	severityColor := getSeverityColor(event.Severity)
	timestamp := event.Timestamp.Format("15:04:05")

	category := color.New(color.FgGreen).Sprint(event.Category)
	eventType := color.New(color.FgMagenta).Sprint(event.Type)

	// Line 1: emoji + [timestamp] + category + event_type: message
	maxMessageLen := 60 - len(event.Category) - len(string(event.Type))
	message := truncateString(event.Message, maxMessageLen)
	fmt.Fprintf(w, "%s [%s] %s %s: %s\n", emoji, timestamp, category, eventType, severityColor.Sprint(message))

	// Line 2: metadata fields, pipe-separated
	if metadata := extractEventMetadata(event); metadata != "" {
		fmt.Fprintf(w, "  %s\n", color.New(color.FgHiBlack).Sprint(metadata))
	}
}

// getEventEmoji returns the appropriate emoji for each event type
func getEventEmoji(event events.ProgressEvent) string {
	switch event.Type {
	case events.EventTypeBaselineAssessed:
		return "🔍"
	case events.EventTypePlanGenerated:
		return "🧠"
	case events.EventTypeActionsExecuted:
		return "📝"
	case events.EventTypeValidated:
		return "✨"
	case events.EventTypeRegressionDetected:
		return "↩️"
	case events.EventTypeDegradedRetry:
		return "🩹"
	case events.EventTypeCategoryStarted:
		return "🚀"
	case events.EventTypeCategorySkipped:
		return "⏭️"
	case events.EventTypeRunCompleted:
		return "✅"
	case events.EventTypeRunFailed:
		return "❌"
	}

	switch event.Severity {
	case events.SeverityWarning:
		return "⚠️"
	case events.SeverityError:
		return "❌"
	default:
		return "•"
	}
}

// getSeverityColor returns the appropriate color for a severity level
func getSeverityColor(severity events.EventSeverity) *color.Color {
	switch severity {
	case events.SeverityInfo:
		return color.New(color.FgCyan)
	case events.SeverityWarning:
		return color.New(color.FgYellow)
	case events.SeverityError:
		return color.New(color.FgRed, color.Bold)
	default:
		return color.New(color.FgWhite)
	}
}

// extractEventMetadata extracts the key fields of each event type as a
// pipe-separated line
func extractEventMetadata(event events.ProgressEvent) string {
	var fields []string

	switch event.Type {
	case events.EventTypeBaselineAssessed:
		fields = []string{fmt.Sprintf("score %.1f", event.Score)}

	case events.EventTypePlanGenerated:
		// plan: type | actions | expected gain
		strategyType := getStringField(event.Data, "strategy_type", "unknown")
		actions := fmt.Sprintf("%d actions", getIntField(event.Data, "actions", 0))
		expected := fmt.Sprintf("+%.1f expected", getFloatField(event.Data, "expected_improvement", 0))
		fields = []string{strategyType, actions, expected}
		if getBoolField(event.Data, "degraded", false) {
			fields = append(fields, "degraded")
		}

	case events.EventTypeActionsExecuted:
		// execution: edits | insertions | regenerations | failures
		fields = []string{
			fmt.Sprintf("%d edits", getIntField(event.Data, "edits", 0)),
			fmt.Sprintf("%d inserted", getIntField(event.Data, "insertions", 0)),
			fmt.Sprintf("%d regenerated", getIntField(event.Data, "regenerations", 0)),
		}
		if failures := getIntField(event.Data, "failures", 0); failures > 0 {
			fields = append(fields, fmt.Sprintf("%d failed", failures))
		}

	case events.EventTypeValidated:
		// validated: previous -> new | change | blended/bonus
		prev := getFloatField(event.Data, "previous_score", 0)
		next := getFloatField(event.Data, "new_score", event.Score)
		fields = []string{
			fmt.Sprintf("%.1f → %.1f", prev, next),
			fmt.Sprintf("%+.1f", getFloatField(event.Data, "score_change", next-prev)),
		}
		if getBoolField(event.Data, "blended", false) {
			fields = append(fields, "judge blended")
		}
		if bonus := getFloatField(event.Data, "bonus", 0); bonus > 0 {
			fields = append(fields, fmt.Sprintf("bonus %.1f", bonus))
		}
		if errMsg := getStringField(event.Data, "error", ""); errMsg != "" {
			fields = append(fields, truncateString(errMsg, 40))
		}

	case events.EventTypeRegressionDetected:
		fields = []string{
			fmt.Sprintf("%+.1f", getFloatField(event.Data, "score_change", 0)),
			fmt.Sprintf("restored %.1f", getFloatField(event.Data, "restored_score", 0)),
			fmt.Sprintf("%d rollbacks", getIntField(event.Data, "rollbacks", 0)),
		}

	case events.EventTypeRunCompleted, events.EventTypeRunFailed:
		// completion: baseline -> final | iterations | stop reason
		fields = []string{
			fmt.Sprintf("%.1f → %.1f", getFloatField(event.Data, "baseline_score", 0), getFloatField(event.Data, "final_score", event.Score)),
			fmt.Sprintf("%d iterations", getIntField(event.Data, "iterations", event.Iteration)),
			getStringField(event.Data, "stop_reason", "unknown"),
		}
		if errMsg := getStringField(event.Data, "error", ""); errMsg != "" {
			fields = append(fields, truncateString(errMsg, 40))
		}
	}

	if len(fields) == 0 {
		return ""
	}
	return truncateString(joinFields(fields), 70)
}

// Helper functions to safely extract typed fields from event data
func getStringField(data map[string]interface{}, key, defaultValue string) string {
	if val, ok := data[key].(string); ok {
		return val
	}
	return defaultValue
}

func getIntField(data map[string]interface{}, key string, defaultValue int) int {
	if val, ok := data[key].(int); ok {
		return val
	}
	if val, ok := data[key].(float64); ok {
		return int(val)
	}
	return defaultValue
}

func getFloatField(data map[string]interface{}, key string, defaultValue float64) float64 {
	if val, ok := data[key].(float64); ok {
		return val
	}
	if val, ok := data[key].(int); ok {
		return float64(val)
	}
	return defaultValue
}

func getBoolField(data map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := data[key].(bool); ok {
		return val
	}
	return defaultValue
}

func joinFields(fields []string) string {
	var kept []string
	for _, f := range fields {
		if f != "" {
			kept = append(kept, f)
		}
	}
	return strings.Join(kept, " | ")
}

// truncateString shortens s to maxLen runes, marking the cut with "..."
func truncateString(s string, maxLen int) string {
	if maxLen <= 3 {
		maxLen = 3
	}
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
