package iterative

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/steveyegge/quill/internal/contextbudget"
	"github.com/steveyegge/quill/internal/events"
	"github.com/steveyegge/quill/internal/gates"
	"github.com/steveyegge/quill/internal/strategy"
	"github.com/steveyegge/quill/internal/types"
)

// DefaultTargetScore is used when neither the config nor the run sets one.
const DefaultTargetScore = 80.0

// Config wires a Controller to its collaborators.
type Config struct {
	Assessor types.Assessor   // Required: primary scorer
	Planner  strategy.Planner // Required
	Executor Executor         // Required
	Judge    types.Judge      // Optional: secondary judgment for the validator

	// Validator overrides the default Validator built from Assessor and Judge.
	Validator ScoreValidator

	// Budget is the context budget manager (defaults to contextbudget.DefaultConfig()).
	Budget *contextbudget.Manager

	// Gate holds the regression, improvement and iteration thresholds.
	Gate gates.Policy

	// MaxIterations overrides Gate.MaxIterations when positive.
	MaxIterations int

	// TargetScore is the default target (DefaultTargetScore when zero).
	TargetScore float64

	// ContextBudget, when positive, bounds the planner's document view in tokens.
	ContextBudget int

	Observer events.Observer  // Optional
	Metrics  MetricsCollector // Optional
	Logger   *slog.Logger     // Optional
}

// Controller runs the assess, plan, execute, validate loop. A Controller
// holds no per-run state and may serve concurrent runs.
type Controller struct {
	assessor  types.Assessor
	planner   strategy.Planner
	executor  Executor
	validator ScoreValidator
	budget    *contextbudget.Manager
	gate      gates.Policy
	target    float64
	ctxBudget int
	observer  events.Observer
	metrics   MetricsCollector
	logger    *slog.Logger
}

// NewController validates cfg and creates a controller.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Assessor == nil {
		return nil, fmt.Errorf("assessor is required")
	}
	if cfg.Planner == nil {
		return nil, fmt.Errorf("planner is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cfg.MaxIterations < 0 {
		return nil, fmt.Errorf("MaxIterations cannot be negative: %d", cfg.MaxIterations)
	}
	if cfg.TargetScore < 0 || cfg.TargetScore > 100 {
		return nil, fmt.Errorf("TargetScore must be within [0,100], got %.1f", cfg.TargetScore)
	}
	if cfg.ContextBudget < 0 {
		return nil, fmt.Errorf("ContextBudget cannot be negative: %d", cfg.ContextBudget)
	}

	gate := cfg.Gate.WithDefaults()
	if cfg.MaxIterations > 0 {
		gate.MaxIterations = cfg.MaxIterations
	}
	if err := gate.Validate(); err != nil {
		return nil, fmt.Errorf("gate policy: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	validator := cfg.Validator
	if validator == nil {
		v, err := NewValidator(ValidatorConfig{
			Assessor:            cfg.Assessor,
			Judge:               cfg.Judge,
			RegressionThreshold: gate.RegressionThreshold,
			Logger:              logger,
		})
		if err != nil {
			return nil, err
		}
		validator = v
	}

	budget := cfg.Budget
	if budget == nil {
		budget = contextbudget.NewManager(contextbudget.DefaultConfig())
	}

	target := cfg.TargetScore
	if target == 0 {
		target = DefaultTargetScore
	}

	return &Controller{
		assessor:  cfg.Assessor,
		planner:   cfg.Planner,
		executor:  cfg.Executor,
		validator: validator,
		budget:    budget,
		gate:      gate,
		target:    target,
		ctxBudget: cfg.ContextBudget,
		observer:  cfg.Observer,
		metrics:   cfg.Metrics,
		logger:    logger.With("component", "controller"),
	}, nil
}

// MaxIterations is the effective iteration cap.
func (c *Controller) MaxIterations() int {
	return c.gate.MaxIterations
}

// TargetScore is the default target.
func (c *Controller) TargetScore() float64 {
	return c.target
}

// Assessor returns the primary assessor.
func (c *Controller) Assessor() types.Assessor {
	return c.assessor
}

// Optimize improves doc for category until the target is reached, returns
// diminish, or the iteration cap is hit. doc is never modified. The result
// is always non-nil; hard failures set Success=false and return doc itself.
func (c *Controller) Optimize(ctx context.Context, doc *types.Document, category types.Category, opts ...RunOption) *Result {
	ro := runOptions{targetScore: c.target}
	for _, opt := range opts {
		opt(&ro)
	}
	ro.observer = events.Multi(c.observer, ro.observer)

	start := time.Now()
	runID := uuid.New().String()
	log := c.logger.With("run_id", runID, "category", category)

	var result *Result
	var err error
	switch {
	case doc == nil || len(doc.Sections) == 0:
		err = types.ErrEmptyDocument
	case !category.IsValid():
		err = fmt.Errorf("%w: %q", types.ErrUnknownCategory, category)
	default:
		err = doc.Validate()
	}
	if err == nil && !doc.Sorted() {
		doc = doc.Clone()
		doc.SortSections()
	}

	if err == nil {
		log.Info("optimization started", "target", ro.targetScore, "sections", len(doc.Sections))
		result, err = c.run(ctx, newRunState(runID, doc, category, ro, false))
		if err != nil && types.IsResourceExceeded(err) && ctx.Err() == nil {
			log.Warn("context limit hit, retrying with minimal context", "error", err)
			c.emit(ro.observer, events.NewSimpleEvent(events.EventTypeDegradedRetry, runID, string(category), 0,
				events.SeverityWarning, "input too large, retrying with minimal context", 5, 0))
			result, err = c.run(ctx, newRunState(runID, doc, category, ro, true))
		}
	}

	if err != nil {
		result = c.failure(runID, doc, category, ro.targetScore, err)
		log.Error("optimization failed", "error", err)
	}
	result.Duration = time.Since(start)

	c.complete(ro.observer, result)
	return result
}

// OptimizeSections is Optimize restricted to the sections sel picks.
func (c *Controller) OptimizeSections(ctx context.Context, doc *types.Document, category types.Category, sel strategy.SectionSelector, opts ...RunOption) *Result {
	if doc == nil {
		return c.Optimize(ctx, doc, category, opts...)
	}
	filter, err := sel.Resolve(doc)
	if err != nil {
		ro := runOptions{targetScore: c.target}
		for _, opt := range opts {
			opt(&ro)
		}
		result := c.failure(uuid.New().String(), doc, category, ro.targetScore, err)
		c.complete(events.Multi(c.observer, ro.observer), result)
		return result
	}
	return c.Optimize(ctx, doc, category, append(opts, WithSectionFilter(filter))...)
}

// runState is the private state of one run. It is discarded afterwards.
type runState struct {
	runID    string
	original *types.Document
	category types.Category
	opts     runOptions
	degraded bool

	assessor   types.Assessor
	snapshots  *snapshotStack
	baseline   float64
	iteration  int
	metrics    QualityMetrics
	executions []*ExecutionResult
	improved   map[string]bool
	regressed  map[string]bool
}

func newRunState(runID string, doc *types.Document, category types.Category, opts runOptions, degraded bool) *runState {
	return &runState{
		runID:     runID,
		original:  doc,
		category:  category,
		opts:      opts,
		degraded:  degraded,
		improved:  make(map[string]bool),
		regressed: make(map[string]bool),
	}
}

// run executes the state machine once. A returned error is a hard failure.
func (c *Controller) run(ctx context.Context, rs *runState) (*Result, error) {
	log := c.logger.With("run_id", rs.runID, "category", rs.category, "degraded", rs.degraded)
	cat := string(rs.category)

	// in degraded mode every scorer sees the minimal view
	rs.assessor = c.assessor
	validator := c.validator
	if rs.degraded {
		rs.assessor = &reducingAssessor{inner: c.assessor, budget: c.budget}
		if base, ok := c.validator.(*Validator); ok {
			v := *base
			v.cfg.Assessor = rs.assessor
			validator = &v
		}
	}

	// Assessing
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	baseline, err := rs.assessor.Assess(ctx, rs.original, rs.category)
	if err != nil {
		return nil, fmt.Errorf("baseline assessment: %w", err)
	}
	if baseline == nil {
		return nil, fmt.Errorf("baseline assessment: assessor returned no assessment")
	}
	rs.baseline = types.ClampScore(baseline.OverallScore)
	rs.snapshots = newSnapshotStack(version{doc: rs.original, score: rs.baseline, assessment: baseline})
	log.Info("baseline assessed", "score", rs.baseline, "weaknesses", len(baseline.Weaknesses))
	c.emit(rs.opts.observer, events.NewSimpleEvent(events.EventTypeBaselineAssessed, rs.runID, cat, 0,
		events.SeverityInfo, fmt.Sprintf("baseline %s score %.1f (target %.1f)", cat, rs.baseline, rs.opts.targetScore), 10, rs.baseline))

	if rs.baseline >= rs.opts.targetScore {
		return c.finish(rs, StopAlreadyAtTarget, rs.snapshots.base,
			fmt.Sprintf("already at target: %.1f >= %.1f", rs.baseline, rs.opts.targetScore)), nil
	}

	maxIter := c.gate.MaxIterations
	for rs.iteration = 1; rs.iteration <= maxIter; rs.iteration++ {
		i := rs.iteration
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if c.metrics != nil {
			c.metrics.RecordIterationStart(rs.runID, i)
		}
		iterStart := time.Now()
		current := rs.snapshots.top()

		// Planning
		req := strategy.PlanRequest{
			Document:    c.plannerView(current.doc, rs.degraded),
			Category:    rs.category,
			TargetScore: rs.opts.targetScore,
			Filter:      rs.opts.filter,
			Assessment:  current.assessment,
		}
		plan, err := c.planner.Plan(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("planning at iteration %d: %w", i, err)
		}
		if plan != nil && rs.opts.filter != nil {
			plan = strategy.Filter(plan, rs.opts.filter)
		}
		if plan.IsEmpty() {
			rs.iteration = i - 1
			log.Info("planner found nothing to improve", "iteration", i)
			return c.finish(rs, StopNoImprovements, rs.snapshots.best(), "no further improvements"), nil
		}
		log.Debug("plan generated", "iteration", i, "type", plan.Type, "actions", plan.ActionCount())
		if ev, err := events.NewPlanEvent(rs.runID, cat, i,
			fmt.Sprintf("iteration %d: %s plan with %d actions", i, plan.Type, plan.ActionCount()),
			c.percent(i, 0.25), current.score, events.PlanData{
				StrategyID:          plan.ID,
				StrategyType:        string(plan.Type),
				Actions:             plan.ActionCount(),
				AffectedSections:    plan.AffectedSections,
				ExpectedImprovement: plan.ExpectedImprovement,
				Degraded:            rs.degraded,
			}); err == nil {
			c.emit(rs.opts.observer, ev)
		}

		// Executing
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		exec, err := c.executor.Execute(ctx, current.doc.Clone(), plan)
		if err != nil {
			return nil, fmt.Errorf("execution at iteration %d: %w", i, err)
		}
		if exec == nil || exec.Document == nil {
			return nil, fmt.Errorf("execution at iteration %d: executor returned no document", i)
		}
		rs.executions = append(rs.executions, exec)
		rs.metrics.TotalEdits += exec.EditsApplied
		rs.metrics.TotalInsertions += exec.InsertionsApplied
		rs.metrics.TotalRegenerations += exec.RegenerationsApplied
		rs.metrics.FailedActions += len(exec.Failures)
		if ev, err := events.NewExecutionEvent(rs.runID, cat, i,
			fmt.Sprintf("iteration %d: applied %d actions, %d failed", i, exec.Applied(), len(exec.Failures)),
			c.percent(i, 0.6), current.score, events.ExecutionData{
				Edits:         exec.EditsApplied,
				Insertions:    exec.InsertionsApplied,
				Regenerations: exec.RegenerationsApplied,
				Failures:      len(exec.Failures),
				InputTokens:   exec.InputTokens,
				OutputTokens:  exec.OutputTokens,
			}); err == nil {
			c.emit(rs.opts.observer, ev)
		}

		next := version{doc: exec.Document.Clone()}
		next.doc.SortSections()

		// Validating
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		val := validator.Validate(ctx, current.doc, next.doc, rs.category, current.score)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if val.Err != nil && c.metrics != nil {
			c.metrics.RecordValidationError(rs.runID, i, val.Err)
		}
		next.score = val.NewScore
		next.assessment = val.Assessment
		rs.snapshots.push(next)

		vd := events.ValidationData{
			PreviousScore: current.score,
			NewScore:      val.NewScore,
			ScoreChange:   val.ScoreChange,
			Blended:       val.Blended,
			Bonus:         val.BonusApplied,
		}
		if val.Err != nil {
			vd.Error = val.Err.Error()
		}
		if ev, err := events.NewValidationEvent(rs.runID, cat, i,
			fmt.Sprintf("iteration %d: score %.1f (%+.1f)", i, val.NewScore, val.ScoreChange),
			c.percent(i, 0.9), vd); err == nil {
			c.emit(rs.opts.observer, ev)
		}

		// Quality gate
		outcome := c.gate.Evaluate(gates.Check{
			Iteration:   i,
			NewScore:    val.NewScore,
			ScoreChange: val.ScoreChange,
			TargetScore: rs.opts.targetScore,
		})
		touched := append(append([]string(nil), val.Diff.ChangedSectionIDs...), val.Diff.AddedSectionIDs...)

		if c.metrics != nil {
			c.metrics.RecordIterationEnd(rs.runID, &IterationMetrics{
				Iteration:       i,
				InputTokens:     exec.InputTokens,
				OutputTokens:    exec.OutputTokens,
				Actions:         plan.ActionCount(),
				Failures:        len(exec.Failures),
				SectionsChanged: val.Diff.Changed,
				SectionsAdded:   val.Diff.Added,
				DiffLines:       val.Diff.DiffLines,
				ScoreBefore:     current.score,
				ScoreAfter:      val.NewScore,
				ScoreChange:     val.ScoreChange,
				Blended:         val.Blended,
				Bonus:           val.BonusApplied,
				Decision:        string(outcome.Decision),
				Duration:        time.Since(iterStart),
			})
		}

		if outcome.Decision == gates.DecisionRollback {
			rs.snapshots.pop()
			rs.metrics.Rollbacks++
			for _, id := range touched {
				rs.regressed[id] = true
			}
			restored := rs.snapshots.top()
			log.Warn("regression detected, rolled back", "iteration", i,
				"score_change", val.ScoreChange, "restored_score", restored.score)
			if ev, err := events.NewRegressionEvent(rs.runID, cat, i,
				fmt.Sprintf("iteration %d: score fell %.1f, rolled back to %.1f", i, -val.ScoreChange, restored.score),
				c.percent(i, 0.95), events.RegressionData{
					ScoreChange:   val.ScoreChange,
					RestoredScore: restored.score,
					Rollbacks:     rs.metrics.Rollbacks,
				}); err == nil {
				c.emit(rs.opts.observer, ev)
			}
			if c.gate.Exhausted(i) {
				return c.finish(rs, StopMaxIterations, rs.snapshots.best(),
					fmt.Sprintf("max iterations (%d) reached", maxIter)), nil
			}
			continue
		}

		for _, id := range touched {
			if val.ScoreChange > 0 {
				rs.improved[id] = true
			} else if val.ScoreChange < 0 {
				rs.regressed[id] = true
			}
		}
		log.Info("iteration validated", "iteration", i, "score", val.NewScore,
			"score_change", val.ScoreChange, "decision", outcome.Decision)

		switch outcome.Decision {
		case gates.DecisionTargetReached:
			return c.finish(rs, StopTargetReached, rs.snapshots.top(),
				fmt.Sprintf("target achieved: %.1f >= %.1f", val.NewScore, rs.opts.targetScore)), nil
		case gates.DecisionMarginal:
			return c.finish(rs, StopMarginalReturns, rs.snapshots.best(),
				fmt.Sprintf("marginal returns: %+.1f below %.1f", val.ScoreChange, c.gate.MinImprovement)), nil
		case gates.DecisionExhausted:
			return c.finish(rs, StopMaxIterations, rs.snapshots.best(),
				fmt.Sprintf("max iterations (%d) reached", maxIter)), nil
		}
	}

	// not reached: the gate reports exhaustion at MaxIterations
	rs.iteration = maxIter
	return c.finish(rs, StopMaxIterations, rs.snapshots.best(), fmt.Sprintf("max iterations (%d) reached", maxIter)), nil
}

// plannerView is the document the planner sees.
func (c *Controller) plannerView(doc *types.Document, degraded bool) *types.Document {
	if degraded {
		return c.budget.ReduceTo(doc, contextbudget.TierMinimal).Document
	}
	if c.ctxBudget > 0 {
		return c.budget.Reduce(doc, c.ctxBudget).Document
	}
	return doc
}

// finish builds a successful result ending on v.
func (c *Controller) finish(rs *runState, reason StopReason, v version, message string) *Result {
	r := &Result{
		RunID:            rs.runID,
		Category:         rs.category,
		Document:         v.doc,
		BaselineScore:    rs.baseline,
		FinalScore:       v.score,
		TargetScore:      rs.opts.targetScore,
		ScoreImprovement: v.score - rs.baseline,
		Iterations:       rs.iteration,
		Executions:       rs.executions,
		Success:          true,
		Message:          message,
		StopReason:       reason,
		Degraded:         rs.degraded,
		ScoreHistory:     rs.snapshots.history(),
	}
	if reason == StopAlreadyAtTarget {
		r.Iterations = 0
	}

	m := rs.metrics
	m.SnapshotCount = rs.snapshots.depth()
	m.SectionsImproved = len(rs.improved)
	m.SectionsRegressed = len(rs.regressed)
	diff := Diff(rs.original, v.doc)
	m.SectionsUnchanged = diff.Unchanged
	r.Metrics = m
	return r
}

// failure builds the result for a hard failure: original document, no
// improvement.
func (c *Controller) failure(runID string, doc *types.Document, category types.Category, target float64, err error) *Result {
	reason := StopFailed
	msg := fmt.Sprintf("optimization failed: %v", err)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		reason = StopCancelled
		msg = fmt.Sprintf("optimization cancelled: %v", err)
	}
	return &Result{
		RunID:       runID,
		Category:    category,
		Document:    doc,
		TargetScore: target,
		Success:     false,
		Message:     msg,
		StopReason:  reason,
		Err:         err,
	}
}

// complete reports the terminal event and run metrics.
func (c *Controller) complete(obs events.Observer, r *Result) {
	data := events.CompletionData{
		Success:       r.Success,
		StopReason:    string(r.StopReason),
		BaselineScore: r.BaselineScore,
		FinalScore:    r.FinalScore,
		Improvement:   r.ScoreImprovement,
		Iterations:    r.Iterations,
		Rollbacks:     r.Metrics.Rollbacks,
	}
	if r.Err != nil {
		data.Error = r.Err.Error()
	}
	if ev, err := events.NewCompletionEvent(r.RunID, string(r.Category), r.Iterations, r.Message, data); err == nil {
		c.emit(obs, ev)
	}
	if r.Success {
		c.logger.Info("optimization finished", "run_id", r.RunID, "category", r.Category,
			"stop_reason", r.StopReason, "baseline", r.BaselineScore, "final", r.FinalScore,
			"iterations", r.Iterations, "rollbacks", r.Metrics.Rollbacks)
	}

	if c.metrics != nil {
		c.metrics.RecordRunComplete(r, &RunMetrics{
			Category:         string(r.Category),
			TotalIterations:  r.Iterations,
			Success:          r.Success,
			StopReason:       r.StopReason,
			Degraded:         r.Degraded,
			Rollbacks:        r.Metrics.Rollbacks,
			ScoreImprovement: r.ScoreImprovement,
			TotalDuration:    r.Duration,
		})
	}
}

// percent maps a phase fraction of iteration i onto 10-95.
func (c *Controller) percent(i int, phase float64) int {
	return 10 + int(85*(float64(i-1)+phase)/float64(c.gate.MaxIterations))
}

func (c *Controller) emit(obs events.Observer, ev *events.ProgressEvent) {
	if obs == nil || ev == nil {
		return
	}
	obs.OnProgress(*ev)
}

// reducingAssessor scores the minimal-tier view of a document.
type reducingAssessor struct {
	inner  types.Assessor
	budget *contextbudget.Manager
}

func (a *reducingAssessor) Assess(ctx context.Context, doc *types.Document, category types.Category) (*types.WeaknessAssessment, error) {
	return a.inner.Assess(ctx, a.budget.ReduceTo(doc, contextbudget.TierMinimal).Document, category)
}
