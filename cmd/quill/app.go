package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/steveyegge/quill/internal/ai"
	"github.com/steveyegge/quill/internal/config"
	"github.com/steveyegge/quill/internal/contextbudget"
	"github.com/steveyegge/quill/internal/cost"
	"github.com/steveyegge/quill/internal/gates"
	"github.com/steveyegge/quill/internal/iterative"
	"github.com/steveyegge/quill/internal/storage/sqlite"
	"github.com/steveyegge/quill/internal/strategy"
)

// optimizer bundles everything a run needs
type optimizer struct {
	controller *iterative.Controller
	metrics    *iterative.InMemoryMetricsCollector
	tracker    *cost.Tracker
}

// newOptimizer wires the Anthropic-backed collaborators to a controller.
func newOptimizer(cfg *config.Config, logger *slog.Logger) (*optimizer, error) {
	tracker, err := cost.NewTracker(&cfg.Budget, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cost tracker: %w", err)
	}

	retry := ai.DefaultRetryConfig()
	if cfg.AI.Timeout > 0 {
		retry.Timeout = cfg.AI.Timeout
	}
	retry.MaxConcurrentCalls = cfg.AI.MaxConcurrent

	supervisor, err := ai.NewSupervisor(&ai.Config{
		APIKey:            cfg.AI.APIKey,
		Model:             cfg.AI.Model,
		Retry:             retry,
		CostTracker:       tracker,
		RequestsPerMinute: cfg.AI.RequestsPerMinute,
		MaxPromptTokens:   cfg.AI.MaxPromptTokens,
		Logger:            logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AI supervisor: %w", err)
	}

	opt, err := buildOptimizer(supervisor, cfg, logger)
	if err != nil {
		return nil, err
	}
	opt.tracker = tracker
	return opt, nil
}

// buildOptimizer assembles the controller around any ai.Caller.
func buildOptimizer(caller ai.Caller, cfg *config.Config, logger *slog.Logger) (*optimizer, error) {
	budget := contextbudget.NewManager(contextbudget.DefaultConfig())

	assessor, err := ai.NewAssessor(ai.AssessorConfig{
		Caller:        caller,
		Budget:        budget,
		ContextBudget: cfg.Optimizer.ContextBudget,
		TargetScore:   cfg.Optimizer.TargetScore,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create assessor: %w", err)
	}

	executor, err := ai.NewExecutor(ai.ExecutorConfig{
		Caller:    caller,
		Budget:    budget,
		MaxTokens: cfg.AI.MaxTokens,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create executor: %w", err)
	}

	planner, err := strategy.NewRegistry(assessor)
	if err != nil {
		return nil, fmt.Errorf("failed to create planners: %w", err)
	}

	ccfg := iterative.Config{
		Assessor: assessor,
		Planner:  planner,
		Executor: executor,
		Budget:   budget,
		Gate: gates.Policy{
			RegressionThreshold: cfg.Optimizer.RegressionThreshold,
			MinImprovement:      cfg.Optimizer.MinImprovement,
			MaxIterations:       cfg.Optimizer.MaxIterations,
		},
		MaxIterations: cfg.Optimizer.MaxIterations,
		TargetScore:   cfg.Optimizer.TargetScore,
		ContextBudget: cfg.Optimizer.ContextBudget,
		Logger:        logger,
	}
	if cfg.AI.UseJudge {
		judge, err := ai.NewJudge(caller, 0, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create judge: %w", err)
		}
		ccfg.Judge = judge
	}

	metrics := iterative.NewInMemoryMetricsCollector()
	ccfg.Metrics = metrics

	controller, err := iterative.NewController(ccfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create controller: %w", err)
	}
	return &optimizer{controller: controller, metrics: metrics}, nil
}

// openHistory opens the run history database, applying retention when
// configured. Returns nil when history is disabled.
func openHistory(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sqlite.SQLiteStorage, error) {
	if !cfg.History.Enabled() {
		return nil, nil
	}
	store, err := sqlite.New(cfg.History.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open run history: %w", err)
	}
	if cfg.History.PruneOnStart {
		if _, err := pruneHistory(ctx, store, cfg.History.RetentionDays, cfg.History.MaxRuns, logger); err != nil {
			logger.Warn("history pruning failed", "error", err)
		}
	}
	return store, nil
}

// pruneHistory applies both retention limits and returns the number of runs removed.
func pruneHistory(ctx context.Context, store *sqlite.SQLiteStorage, retentionDays, maxRuns int, logger *slog.Logger) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	byAge, err := store.PruneRuns(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	byCount, err := store.PruneExcessRuns(ctx, maxRuns)
	if err != nil {
		return byAge, err
	}
	if total := byAge + byCount; total > 0 {
		logger.Info("pruned run history", "expired", byAge, "excess", byCount)
	}
	return byAge + byCount, nil
}

func costStatePath(historyDB string) string {
	return filepath.Join(filepath.Dir(historyDB), "cost.json")
}
