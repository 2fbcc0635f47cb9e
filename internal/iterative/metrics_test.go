package iterative

import (
	"errors"
	"testing"
	"time"
)

func TestInMemoryMetricsCollector_BasicCollection(t *testing.T) {
	collector := NewInMemoryMetricsCollector()

	// Simulate a two-iteration run
	collector.RecordIterationStart("run-1", 1)
	collector.RecordIterationEnd("run-1", &IterationMetrics{
		Iteration:    1,
		InputTokens:  100,
		OutputTokens: 200,
		DiffLines:    10,
		ScoreBefore:  50,
		ScoreAfter:   58,
		ScoreChange:  8,
		Decision:     "continue",
		Duration:     100 * time.Millisecond,
	})

	collector.RecordIterationStart("run-1", 2)
	collector.RecordIterationEnd("run-1", &IterationMetrics{
		Iteration:    2,
		InputTokens:  110,
		OutputTokens: 220,
		DiffLines:    2,
		ScoreBefore:  58,
		ScoreAfter:   66,
		ScoreChange:  8,
		Decision:     "target_reached",
		Duration:     90 * time.Millisecond,
	})

	result := &Result{RunID: "run-1", Category: "tension", Iterations: 2, Success: true, StopReason: StopTargetReached}
	collector.RecordRunComplete(result, &RunMetrics{
		Category:         "tension",
		TotalIterations:  2,
		Success:          true,
		StopReason:       StopTargetReached,
		ScoreImprovement: 16,
		TotalDuration:    200 * time.Millisecond,
	})

	runs := collector.GetRuns()
	if len(runs) != 1 {
		t.Fatalf("Expected 1 run, got %d", len(runs))
	}

	run := runs[0]
	if len(run.Iterations) != 2 {
		t.Errorf("Expected 2 iterations, got %d", len(run.Iterations))
	}
	if run.TotalInputTokens != 210 {
		t.Errorf("Expected 210 input tokens, got %d", run.TotalInputTokens)
	}
	if run.TotalOutputTokens != 420 {
		t.Errorf("Expected 420 output tokens, got %d", run.TotalOutputTokens)
	}
}

func TestInMemoryMetricsCollector_InterleavedRuns(t *testing.T) {
	collector := NewInMemoryMetricsCollector()

	collector.RecordIterationEnd("a", &IterationMetrics{Iteration: 1, InputTokens: 10})
	collector.RecordIterationEnd("b", &IterationMetrics{Iteration: 1, InputTokens: 1000})
	collector.RecordIterationEnd("a", &IterationMetrics{Iteration: 2, InputTokens: 10})

	collector.RecordRunComplete(&Result{RunID: "b"}, &RunMetrics{Category: "pacing", TotalIterations: 1, Success: true})
	collector.RecordRunComplete(&Result{RunID: "a"}, &RunMetrics{Category: "tension", TotalIterations: 2, Success: true})

	runs := collector.GetRuns()
	if len(runs) != 2 {
		t.Fatalf("Expected 2 runs, got %d", len(runs))
	}
	if runs[0].TotalInputTokens != 1000 || len(runs[0].Iterations) != 1 {
		t.Errorf("run b: got %d tokens over %d iterations", runs[0].TotalInputTokens, len(runs[0].Iterations))
	}
	if runs[1].TotalInputTokens != 20 || len(runs[1].Iterations) != 2 {
		t.Errorf("run a: got %d tokens over %d iterations", runs[1].TotalInputTokens, len(runs[1].Iterations))
	}
}

func TestInMemoryMetricsCollector_AggregateMetrics(t *testing.T) {
	collector := NewInMemoryMetricsCollector()

	record := func(id, category string, iterations int, success bool, reason StopReason, improvement float64, rollbacks int, tokensIn, tokensOut int) {
		collector.RecordIterationEnd(id, &IterationMetrics{Iteration: 1, InputTokens: tokensIn, OutputTokens: tokensOut})
		collector.RecordRunComplete(&Result{RunID: id}, &RunMetrics{
			Category:         category,
			TotalIterations:  iterations,
			Success:          success,
			StopReason:       reason,
			Rollbacks:        rollbacks,
			ScoreImprovement: improvement,
			TotalDuration:    time.Second,
		})
	}

	record("r1", "tension", 2, true, StopTargetReached, 20, 0, 1_000_000, 0)
	record("r2", "tension", 4, true, StopMaxIterations, 10, 1, 0, 1_000_000)
	record("r3", "pacing", 0, true, StopAlreadyAtTarget, 0, 0, 0, 0)
	record("r4", "pacing", 0, false, StopFailed, 0, 0, 0, 0)
	collector.RecordValidationError("r2", 3, errors.New("timeout"))

	agg := collector.GetAggregateMetrics()

	if agg.TotalRuns != 4 {
		t.Errorf("Expected 4 runs, got %d", agg.TotalRuns)
	}
	if agg.SucceededRuns != 3 || agg.FailedRuns != 1 {
		t.Errorf("Expected 3 succeeded and 1 failed, got %d/%d", agg.SucceededRuns, agg.FailedRuns)
	}
	if agg.TargetReachedRuns != 2 {
		t.Errorf("Expected 2 runs at target, got %d", agg.TargetReachedRuns)
	}
	if agg.TotalIterations != 6 {
		t.Errorf("Expected 6 total iterations, got %d", agg.TotalIterations)
	}
	if agg.MeanIterations != 1.5 {
		t.Errorf("Expected mean iterations 1.5, got %.2f", agg.MeanIterations)
	}
	if agg.TotalRollbacks != 1 {
		t.Errorf("Expected 1 rollback, got %d", agg.TotalRollbacks)
	}
	if agg.MeanScoreImprovement != 10 {
		t.Errorf("Expected mean improvement 10, got %.2f", agg.MeanScoreImprovement)
	}
	if agg.ValidationErrors != 1 {
		t.Errorf("Expected 1 validation error, got %d", agg.ValidationErrors)
	}
	if agg.EstimatedCostUSD != 18.0 {
		t.Errorf("Expected cost $18.00, got $%.2f", agg.EstimatedCostUSD)
	}
	if agg.TotalDuration != 4*time.Second {
		t.Errorf("Expected 4s total duration, got %v", agg.TotalDuration)
	}
	if rate := agg.SuccessRate(); rate != 75 {
		t.Errorf("Expected 75%% success rate, got %.1f", rate)
	}
	if agg.ByStopReason[StopFailed] != 1 || agg.ByStopReason[StopTargetReached] != 1 {
		t.Errorf("Unexpected stop reason counts: %v", agg.ByStopReason)
	}

	tension := agg.ByCategory["tension"]
	if tension == nil {
		t.Fatal("Expected tension category metrics")
	}
	if tension.Count != 2 || tension.SucceededCount != 2 {
		t.Errorf("tension: count %d succeeded %d", tension.Count, tension.SucceededCount)
	}
	if tension.MeanIterations != 3 {
		t.Errorf("tension: expected mean iterations 3, got %.2f", tension.MeanIterations)
	}
	if tension.MeanScoreImprovement != 15 {
		t.Errorf("tension: expected mean improvement 15, got %.2f", tension.MeanScoreImprovement)
	}

	pacing := agg.ByCategory["pacing"]
	if pacing == nil || pacing.Count != 2 || pacing.SucceededCount != 1 {
		t.Errorf("pacing: unexpected metrics %+v", pacing)
	}
}

func TestInMemoryMetricsCollector_Empty(t *testing.T) {
	collector := NewInMemoryMetricsCollector()
	collector.RecordValidationError("x", 1, errors.New("boom"))

	agg := collector.GetAggregateMetrics()
	if agg.TotalRuns != 0 {
		t.Errorf("Expected no runs, got %d", agg.TotalRuns)
	}
	if agg.SuccessRate() != 0 {
		t.Errorf("Expected 0%% success rate, got %.1f", agg.SuccessRate())
	}
	if agg.ValidationErrors != 1 {
		t.Errorf("Expected 1 validation error, got %d", agg.ValidationErrors)
	}
}

func TestInMemoryMetricsCollector_NilMetricsIgnored(t *testing.T) {
	collector := NewInMemoryMetricsCollector()
	collector.RecordIterationEnd("x", nil)
	collector.RecordRunComplete(&Result{RunID: "x"}, nil)

	if len(collector.GetRuns()) != 0 {
		t.Error("Expected nil metrics to be ignored")
	}
}

func TestPercentile(t *testing.T) {
	tests := []struct {
		name   string
		values []int
		p      int
		want   int
	}{
		{"empty", nil, 50, 0},
		{"single", []int{3}, 95, 3},
		{"median", []int{1, 2, 3, 4, 5}, 50, 3},
		{"p95", []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 95, 10},
		{"p100 clamps", []int{1, 2, 3}, 100, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := percentile(tt.values, tt.p); got != tt.want {
				t.Errorf("percentile(%v, %d) = %d, want %d", tt.values, tt.p, got, tt.want)
			}
		})
	}
}

func TestAggregateMetrics_IterationPercentiles(t *testing.T) {
	collector := NewInMemoryMetricsCollector()
	for i, n := range []int{1, 2, 2, 3, 5} {
		id := string(rune('a' + i))
		collector.RecordRunComplete(&Result{RunID: id}, &RunMetrics{Category: "hook", TotalIterations: n, Success: true})
	}
	// failed runs do not count toward percentiles
	collector.RecordRunComplete(&Result{RunID: "f"}, &RunMetrics{Category: "hook", TotalIterations: 9})

	agg := collector.GetAggregateMetrics()
	if agg.P50Iterations != 2 {
		t.Errorf("Expected P50 2, got %d", agg.P50Iterations)
	}
	if agg.P95Iterations != 5 {
		t.Errorf("Expected P95 5, got %d", agg.P95Iterations)
	}
}
