// Package iterative runs the assess, plan, execute, validate loop that
// raises one quality category of a document toward a target score.
//
// # Overview
//
// A run starts from a baseline assessment. Each iteration asks the planner
// for an ImprovementStrategy built from the current version's weaknesses,
// hands a private copy of the document to the executor, re-scores the
// result with the validator and lets the quality gate decide what happens
// next. Runs end when the target is reached, the planner has nothing left
// to do, returns become marginal, or the iteration cap is hit.
//
// # Snapshots and rollback
//
// Every validated version is pushed on a snapshot stack together with its
// score. When the score drops by more than the regression threshold the
// newest snapshot is popped and the next iteration plans from the restored
// version. The caller's document is never modified; when a run stops for
// any reason other than reaching the target it returns the best version it
// retained.
//
// # Validation
//
// Validator scores with the primary assessor. When the text really changed
// but the score did not rise, an optional Judge is blended in by confidence
// tier, and if the score still has not moved a bounded per-section bonus is
// applied. Validation never fails a run: an assessor error counts as zero
// progress.
//
// # Degraded mode
//
// If a collaborator reports that its input was too large
// (types.ErrResourceExceeded), the run is retried once with every scorer
// and the planner seeing the minimal context view from contextbudget. The
// executor still works on the full document.
//
// # Multiple categories
//
// Coordinator optimizes several categories in sequential, by-score or
// parallel order. Parallel runs work on independent copies whose changes
// are merged deterministically afterwards.
//
// # Usage Example
//
//	ctrl, err := iterative.NewController(iterative.Config{
//	    Assessor: assessor,
//	    Planner:  registry,
//	    Executor: executor,
//	    Judge:    judge,
//	})
//	if err != nil {
//	    return err
//	}
//	result := ctrl.Optimize(ctx, doc, types.CategoryTension,
//	    iterative.WithTargetScore(75),
//	    iterative.WithProgress(func(msg string, pct int) {
//	        fmt.Printf("[%3d%%] %s\n", pct, msg)
//	    }))
//	if !result.Success {
//	    return result.Err
//	}
//
// # Metrics
//
// An optional MetricsCollector receives per-iteration and per-run metrics.
// InMemoryMetricsCollector aggregates them for reports and tests.
package iterative
