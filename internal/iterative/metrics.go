package iterative

import (
	"sort"
	"sync"
	"time"
)

// MetricsCollector provides instrumentation for optimization runs.
// Implementations can track per-iteration and per-run metrics to measure
// score improvement, cost, latency, and convergence behavior. Calls for
// different runs may arrive concurrently (parallel category mode).
//
// This interface is optional - leave Config.Metrics nil to disable
// metrics collection.
type MetricsCollector interface {
	// RecordIterationStart is called at the beginning of each iteration
	RecordIterationStart(runID string, iteration int)

	// RecordIterationEnd is called when an iteration has been validated and gated
	RecordIterationEnd(runID string, metrics *IterationMetrics)

	// RecordValidationError is called when the validator could not score a document
	RecordValidationError(runID string, iteration int, err error)

	// RecordRunComplete is called when a run reaches a terminal state
	RecordRunComplete(result *Result, metrics *RunMetrics)

	// GetAggregateMetrics returns rolled-up statistics across all runs
	GetAggregateMetrics() *AggregateMetrics
}

// IterationMetrics captures metrics for a single loop iteration.
type IterationMetrics struct {
	// Iteration is the iteration number (1-based)
	Iteration int

	// InputTokens and OutputTokens are the executor's reported usage
	InputTokens  int
	OutputTokens int

	// Actions is the number of actions in the strategy
	Actions int

	// Failures is the number of actions the executor could not apply
	Failures int

	// SectionsChanged and SectionsAdded come from the structural diff
	SectionsChanged int
	SectionsAdded   int

	// DiffLines is the number of lines changed from the previous version
	DiffLines int

	// ScoreBefore, ScoreAfter and ScoreChange describe the validation
	ScoreBefore float64
	ScoreAfter  float64
	ScoreChange float64

	// Blended and Bonus record validator adjustments
	Blended bool
	Bonus   float64

	// Decision is the gate decision taken after validation
	Decision string

	// Duration is the time spent on this iteration
	Duration time.Duration
}

// RunMetrics captures metrics for a whole run.
type RunMetrics struct {
	// Category is the quality category optimized
	Category string

	// TotalIterations is the number of executed iterations
	TotalIterations int

	// Success and StopReason mirror the result
	Success    bool
	StopReason StopReason

	// Degraded is set when the run was retried with a minimal context view
	Degraded bool

	// Rollbacks is the number of regressions rolled back
	Rollbacks int

	// ScoreImprovement is final minus baseline score
	ScoreImprovement float64

	// TotalDuration is the total time spent on the run
	TotalDuration time.Duration

	// TotalInputTokens is the sum of input tokens across all iterations
	TotalInputTokens int

	// TotalOutputTokens is the sum of output tokens across all iterations
	TotalOutputTokens int

	// Iterations contains the per-iteration metrics
	Iterations []*IterationMetrics
}

// AggregateMetrics provides rolled-up statistics across multiple runs.
type AggregateMetrics struct {
	// TotalRuns is the total number of runs recorded
	TotalRuns int

	// SucceededRuns counts runs with Success set
	SucceededRuns int

	// TargetReachedRuns counts runs that ended at or above target
	TargetReachedRuns int

	// FailedRuns counts hard failures and cancellations
	FailedRuns int

	// DegradedRuns counts runs that needed the minimal-context retry
	DegradedRuns int

	// TotalIterations is the sum of iterations across all runs
	TotalIterations int

	// MeanIterations is the average iterations per run
	MeanIterations float64

	// P50Iterations is the median iterations of successful runs
	P50Iterations int

	// P95Iterations is the 95th percentile iterations of successful runs
	P95Iterations int

	// TotalRollbacks is the sum of rollbacks across all runs
	TotalRollbacks int

	// MeanScoreImprovement is the average improvement of successful runs
	MeanScoreImprovement float64

	// TotalInputTokens is the sum of input tokens across all runs
	TotalInputTokens int64

	// TotalOutputTokens is the sum of output tokens across all runs
	TotalOutputTokens int64

	// EstimatedCostUSD is the estimated cost in USD (based on token counts)
	EstimatedCostUSD float64

	// TotalDuration is the sum of all run durations
	TotalDuration time.Duration

	// ValidationErrors is the total number of validator failures; each one
	// counted as zero progress
	ValidationErrors int

	// ByCategory breaks down metrics by category
	ByCategory map[string]*CategoryMetrics

	// ByStopReason counts runs per stop reason
	ByStopReason map[StopReason]int
}

// SuccessRate returns the percentage of runs that succeeded.
func (a *AggregateMetrics) SuccessRate() float64 {
	if a.TotalRuns == 0 {
		return 0
	}
	return float64(a.SucceededRuns) / float64(a.TotalRuns) * 100
}

// CategoryMetrics provides aggregate statistics for one category.
type CategoryMetrics struct {
	// Count is the number of runs for this category
	Count int

	// SucceededCount is the number that succeeded
	SucceededCount int

	// MeanIterations is the average iterations for this category
	MeanIterations float64

	// TotalInputTokens is the sum of input tokens
	TotalInputTokens int64

	// TotalOutputTokens is the sum of output tokens
	TotalOutputTokens int64

	// MeanScoreImprovement is the average score delta of successful runs
	MeanScoreImprovement float64
}

// Token prices used for the cost estimate, USD per million tokens.
const (
	inputCostPerMToken  = 3.0
	outputCostPerMToken = 15.0
)

// InMemoryMetricsCollector is a simple in-memory implementation of MetricsCollector.
// It stores all metrics in memory for analysis and testing.
type InMemoryMetricsCollector struct {
	mu sync.Mutex

	// runs holds all completed run metrics
	runs []*RunMetrics

	// current tracks iterations of runs still in flight, keyed by run id
	current map[string][]*IterationMetrics

	// validationErrors tracks validator failures
	validationErrors int
}

// NewInMemoryMetricsCollector creates a new in-memory metrics collector
func NewInMemoryMetricsCollector() *InMemoryMetricsCollector {
	return &InMemoryMetricsCollector{
		runs:    make([]*RunMetrics, 0),
		current: make(map[string][]*IterationMetrics),
	}
}

// RecordIterationStart implements MetricsCollector
func (m *InMemoryMetricsCollector) RecordIterationStart(runID string, iteration int) {
	// Nothing to do - we record metrics at iteration end
	_ = runID
	_ = iteration
}

// RecordIterationEnd implements MetricsCollector
func (m *InMemoryMetricsCollector) RecordIterationEnd(runID string, metrics *IterationMetrics) {
	if metrics == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current[runID] = append(m.current[runID], metrics)
}

// RecordValidationError implements MetricsCollector
func (m *InMemoryMetricsCollector) RecordValidationError(runID string, iteration int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validationErrors++
}

// RecordRunComplete implements MetricsCollector
func (m *InMemoryMetricsCollector) RecordRunComplete(result *Result, metrics *RunMetrics) {
	if metrics == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	runID := ""
	if result != nil {
		runID = result.RunID
	}
	metrics.Iterations = m.current[runID]
	for _, it := range metrics.Iterations {
		metrics.TotalInputTokens += it.InputTokens
		metrics.TotalOutputTokens += it.OutputTokens
	}
	delete(m.current, runID)

	m.runs = append(m.runs, metrics)
}

// GetAggregateMetrics implements MetricsCollector
func (m *InMemoryMetricsCollector) GetAggregateMetrics() *AggregateMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	agg := &AggregateMetrics{
		ByCategory:   make(map[string]*CategoryMetrics),
		ByStopReason: make(map[StopReason]int),
	}
	if len(m.runs) == 0 {
		agg.ValidationErrors = m.validationErrors
		return agg
	}

	var iterationCounts []int
	var improvementSum float64
	iterationsByCategory := make(map[string]int)

	for _, run := range m.runs {
		agg.TotalRuns++
		agg.TotalIterations += run.TotalIterations
		agg.TotalRollbacks += run.Rollbacks
		agg.TotalInputTokens += int64(run.TotalInputTokens)
		agg.TotalOutputTokens += int64(run.TotalOutputTokens)
		agg.TotalDuration += run.TotalDuration
		agg.ByStopReason[run.StopReason]++

		if run.Degraded {
			agg.DegradedRuns++
		}
		if run.Success {
			agg.SucceededRuns++
			improvementSum += run.ScoreImprovement
			iterationCounts = append(iterationCounts, run.TotalIterations)
		} else {
			agg.FailedRuns++
		}
		if run.StopReason == StopTargetReached || run.StopReason == StopAlreadyAtTarget {
			agg.TargetReachedRuns++
		}

		cm := agg.ByCategory[run.Category]
		if cm == nil {
			cm = &CategoryMetrics{}
			agg.ByCategory[run.Category] = cm
		}
		cm.Count++
		cm.TotalInputTokens += int64(run.TotalInputTokens)
		cm.TotalOutputTokens += int64(run.TotalOutputTokens)
		iterationsByCategory[run.Category] += run.TotalIterations
		if run.Success {
			cm.SucceededCount++
			// incremental mean
			cm.MeanScoreImprovement += (run.ScoreImprovement - cm.MeanScoreImprovement) / float64(cm.SucceededCount)
		}
	}

	agg.MeanIterations = float64(agg.TotalIterations) / float64(agg.TotalRuns)
	if agg.SucceededRuns > 0 {
		agg.MeanScoreImprovement = improvementSum / float64(agg.SucceededRuns)
	}
	for name, cm := range agg.ByCategory {
		cm.MeanIterations = float64(iterationsByCategory[name]) / float64(cm.Count)
	}

	if len(iterationCounts) > 0 {
		sort.Ints(iterationCounts)
		agg.P50Iterations = percentile(iterationCounts, 50)
		agg.P95Iterations = percentile(iterationCounts, 95)
	}

	agg.ValidationErrors = m.validationErrors
	agg.EstimatedCostUSD = (float64(agg.TotalInputTokens)/1_000_000)*inputCostPerMToken +
		(float64(agg.TotalOutputTokens)/1_000_000)*outputCostPerMToken

	return agg
}

// GetRuns returns all collected run metrics (useful for analysis)
func (m *InMemoryMetricsCollector) GetRuns() []*RunMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*RunMetrics(nil), m.runs...)
}

// percentile calculates the Nth percentile from a sorted slice
func percentile(sorted []int, p int) int {
	if len(sorted) == 0 {
		return 0
	}
	index := (len(sorted) * p) / 100
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}
