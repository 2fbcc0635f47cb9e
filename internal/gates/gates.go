// Package gates decides, after each validated iteration, whether an
// optimization run keeps its result, rolls it back, or stops.
package gates

import (
	"fmt"
	"strings"
)

// GateType identifies different quality gates
type GateType string

const (
	GateRegression  GateType = "regression"
	GateTarget      GateType = "target"
	GateImprovement GateType = "improvement"
	GateIterations  GateType = "iterations"
	GateApproval    GateType = "approval"
)

// Result represents the outcome of a quality gate check
type Result struct {
	Gate   GateType
	Passed bool
	Output string
	Error  error
}

// Decision is what the controller does next.
type Decision string

const (
	// DecisionContinue keeps the iteration and plans again
	DecisionContinue Decision = "continue"
	// DecisionRollback discards the iteration and plans again from the prior version
	DecisionRollback Decision = "rollback"
	// DecisionTargetReached stops successfully at the target score
	DecisionTargetReached Decision = "target_reached"
	// DecisionMarginal stops because the last gain was too small
	DecisionMarginal Decision = "marginal_returns"
	// DecisionExhausted stops at the iteration cap
	DecisionExhausted Decision = "max_iterations"
)

// IsTerminal reports whether the decision ends the run.
func (d Decision) IsTerminal() bool {
	switch d {
	case DecisionTargetReached, DecisionMarginal, DecisionExhausted:
		return true
	}
	return false
}

// Policy holds the fixed thresholds of the convergence gates. A zero field
// means "use the default"; see WithDefaults.
type Policy struct {
	// RegressionThreshold: a score drop larger than this rolls back (default 5).
	// Zero takes the default; use a small positive value to roll back on
	// any drop.
	RegressionThreshold float64
	// MinImprovement: after the first iteration a smaller gain stops the run (default 2).
	// Zero takes the default; NoMinImprovement (any negative value) turns
	// the marginal-returns stop off.
	MinImprovement float64
	// MaxIterations caps the loop (default 3).
	MaxIterations int
}

// Default thresholds.
const (
	DefaultRegressionThreshold = 5.0
	DefaultMinImprovement      = 2.0
	DefaultMaxIterations       = 3

	// NoMinImprovement disables the marginal-returns gate.
	NoMinImprovement = -1.0
)

// DefaultPolicy returns the standard thresholds.
func DefaultPolicy() Policy {
	return Policy{
		RegressionThreshold: DefaultRegressionThreshold,
		MinImprovement:      DefaultMinImprovement,
		MaxIterations:       DefaultMaxIterations,
	}
}

// WithDefaults fills zero fields with the defaults. Negative values are
// kept, so NoMinImprovement survives.
func (p Policy) WithDefaults() Policy {
	if p.RegressionThreshold == 0 {
		p.RegressionThreshold = DefaultRegressionThreshold
	}
	if p.MinImprovement == 0 {
		p.MinImprovement = DefaultMinImprovement
	}
	if p.MaxIterations == 0 {
		p.MaxIterations = DefaultMaxIterations
	}
	return p
}

// Validate checks the thresholds.
func (p Policy) Validate() error {
	if p.RegressionThreshold < 0 {
		return fmt.Errorf("regression threshold must be non-negative, got %.2f", p.RegressionThreshold)
	}
	if p.MaxIterations < 1 {
		return fmt.Errorf("max iterations must be at least 1, got %d", p.MaxIterations)
	}
	return nil
}

// Check is the input to one gate evaluation.
type Check struct {
	Iteration   int
	NewScore    float64
	ScoreChange float64
	TargetScore float64
}

// Outcome is the decision plus the per-gate results that led to it.
type Outcome struct {
	Decision Decision
	Results  []*Result
	Reason   string
}

// Evaluate runs the gates in order: regression, target, improvement,
// iterations. The first failing gate decides; if all pass the run
// continues.
func (p Policy) Evaluate(c Check) Outcome {
	p = p.WithDefaults()
	var results []*Result

	regression := &Result{Gate: GateRegression, Passed: c.ScoreChange >= -p.RegressionThreshold}
	results = append(results, regression)
	if !regression.Passed {
		regression.Output = fmt.Sprintf("score dropped %.1f (limit %.1f)", -c.ScoreChange, p.RegressionThreshold)
		return Outcome{Decision: DecisionRollback, Results: results, Reason: regression.Output}
	}
	regression.Output = fmt.Sprintf("score change %+.1f", c.ScoreChange)

	// the target gate "passes" while the run still has work to do
	target := &Result{Gate: GateTarget, Passed: c.NewScore < c.TargetScore}
	results = append(results, target)
	if !target.Passed {
		target.Output = fmt.Sprintf("score %.1f reached target %.1f", c.NewScore, c.TargetScore)
		return Outcome{Decision: DecisionTargetReached, Results: results, Reason: target.Output}
	}
	target.Output = fmt.Sprintf("score %.1f below target %.1f", c.NewScore, c.TargetScore)

	improvement := &Result{Gate: GateImprovement, Passed: c.Iteration <= 1 || p.MarginalStopDisabled() || c.ScoreChange >= p.MinImprovement}
	results = append(results, improvement)
	if !improvement.Passed {
		improvement.Output = fmt.Sprintf("gain %.1f below minimum %.1f", c.ScoreChange, p.MinImprovement)
		return Outcome{Decision: DecisionMarginal, Results: results, Reason: improvement.Output}
	}
	improvement.Output = fmt.Sprintf("gain %.1f", c.ScoreChange)

	iterations := &Result{Gate: GateIterations, Passed: c.Iteration < p.MaxIterations}
	results = append(results, iterations)
	if !iterations.Passed {
		iterations.Output = fmt.Sprintf("reached %d of %d iterations", c.Iteration, p.MaxIterations)
		return Outcome{Decision: DecisionExhausted, Results: results, Reason: iterations.Output}
	}
	iterations.Output = fmt.Sprintf("iteration %d of %d", c.Iteration, p.MaxIterations)

	return Outcome{Decision: DecisionContinue, Results: results, Reason: "continue"}
}

// MarginalStopDisabled reports whether small gains keep the run going.
func (p Policy) MarginalStopDisabled() bool {
	return p.MinImprovement < 0
}

// Exhausted reports whether iteration has used up the budget. The
// controller uses it after a rollback, which skips the other gates.
func (p Policy) Exhausted(iteration int) bool {
	return iteration >= p.WithDefaults().MaxIterations
}

// FormatResults renders gate results one per line.
func FormatResults(results []*Result) string {
	var sb strings.Builder
	for _, r := range results {
		status := "PASS"
		if !r.Passed {
			status = "FAIL"
		}
		fmt.Fprintf(&sb, "%-12s %s  %s\n", r.Gate, status, r.Output)
		if r.Error != nil {
			fmt.Fprintf(&sb, "%-12s error: %v\n", "", r.Error)
		}
	}
	return sb.String()
}
