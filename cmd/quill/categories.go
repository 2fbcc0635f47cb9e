package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/steveyegge/quill/internal/ai"
	"github.com/steveyegge/quill/internal/events"
	"github.com/steveyegge/quill/internal/iterative"
	"github.com/steveyegge/quill/internal/storage"
	"github.com/steveyegge/quill/internal/types"
)

var (
	categoriesFlags     runFlags
	categoriesList      string
	categoriesOrder     string
	categoriesStopEarly bool
	categoriesThreshold float64
	categoriesParallel  int
	categoriesShowAll   bool
)

var categoriesCmd = &cobra.Command{
	Use:   "categories [document]",
	Short: "Improve a document across several quality categories",
	Long: `Run optimize for each category in turn and combine the results.

Orders:
  sequential  categories run in the given order, each on the previous output
  by-score    weakest baseline score first
  parallel    categories run concurrently on copies; changes are merged by section

With --stop-on-success the remaining categories are skipped once one
category improves by at least --threshold points.`,
	Example: `  quill categories novel.yaml --categories tension,pacing,hook --order by-score
  quill categories --list`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if categoriesShowAll {
			printCategories(cmd.OutOrStdout())
			return nil
		}
		if len(args) == 0 {
			return fmt.Errorf("a document path is required")
		}
		return runCategories(cmd, args[0])
	},
}

func init() {
	categoriesCmd.Flags().StringVar(&categoriesList, "categories", "", "comma-separated categories (default: all)")
	categoriesCmd.Flags().StringVar(&categoriesOrder, "order", "", "sequential, by-score or parallel (default from config)")
	categoriesCmd.Flags().BoolVar(&categoriesStopEarly, "stop-on-success", false, "stop after a strong improvement")
	categoriesCmd.Flags().Float64Var(&categoriesThreshold, "threshold", 0, "improvement that counts as strong (default from config)")
	categoriesCmd.Flags().IntVar(&categoriesParallel, "parallel", 0, "maximum concurrent categories in parallel order")
	categoriesCmd.Flags().BoolVar(&categoriesShowAll, "list", false, "list the categories and exit")
	categoriesFlags.register(categoriesCmd)

	rootCmd.AddCommand(categoriesCmd)
}

func runCategories(cmd *cobra.Command, docPath string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	doc, err := types.LoadDocument(docPath)
	if err != nil {
		return err
	}

	categories := types.AllCategories()
	if categoriesList != "" {
		if categories, err = types.ParseCategories(categoriesList); err != nil {
			return err
		}
	}

	orderName := cfg.Optimizer.Order
	if categoriesOrder != "" {
		orderName = categoriesOrder
	}
	order, err := iterative.ParseOrder(orderName)
	if err != nil {
		return err
	}

	opts := iterative.CoordinatorOptions{
		Order:                  order,
		StopOnStrongSuccess:    cfg.Optimizer.StopOnStrongSuccess || categoriesStopEarly,
		StrongSuccessThreshold: cfg.Optimizer.StrongSuccessThreshold,
		TargetScore:            categoriesFlags.target,
		MaxParallel:            cfg.Optimizer.MaxParallel,
	}
	if categoriesThreshold > 0 {
		opts.StrongSuccessThreshold = categoriesThreshold
	}
	if categoriesParallel > 0 {
		opts.MaxParallel = categoriesParallel
	}

	opt, err := newOptimizer(cfg, logger)
	if err != nil {
		return err
	}
	coordinator, err := iterative.NewCoordinator(opt.controller)
	if err != nil {
		return err
	}

	store, err := openHistory(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	var observers []events.Observer
	if !categoriesFlags.quiet {
		observers = append(observers, newProgressDisplay(out, categoriesFlags.verbose))
	}
	if store != nil && cfg.History.RecordEvents {
		observers = append(observers, storage.NewEventObserver(ctx, store, logger))
	}
	opts.Observer = events.Multi(observers...)

	multi, err := coordinator.Run(ai.WithCostKey(ctx, doc.ID), doc, categories, opts)
	if err != nil {
		return err
	}

	if store != nil {
		groupID := uuid.New().String()
		for _, rec := range storage.NewRunRecords(multi, docPath, groupID) {
			if err := store.RecordRun(ctx, rec); err != nil {
				logger.Warn("failed to record run", "run_id", rec.ID, "error", err)
			}
		}
	}

	printMultiResult(out, multi)
	printAggregate(out, opt.metrics.GetAggregateMetrics())

	return maybeWrite(out, readlinePrompter{}, doc, multi.Document, docPath, &categoriesFlags,
		fmt.Sprintf("%d categories, total improvement %+.1f", len(multi.PerCategory), multi.TotalImprovement))
}

// printMultiResult prints one row per category
func printMultiResult(w io.Writer, m *iterative.MultiResult) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Fprintf(w, "\n%s\n", cyan("=== Categories ==="))
	fmt.Fprintf(w, "%-14s %8s %8s %8s %5s  %s\n", "CATEGORY", "BASELINE", "FINAL", "CHANGE", "ITER", "STOP")
	for _, r := range m.PerCategory {
		change := fmt.Sprintf("%+.1f", r.ScoreImprovement)
		switch {
		case !r.Success:
			change = color.New(color.FgRed).Sprint(change)
		case r.ScoreImprovement > 0:
			change = color.New(color.FgGreen).Sprint(change)
		}
		fmt.Fprintf(w, "%-14s %8.1f %8.1f %8s %5d  %s\n",
			r.Category, r.BaselineScore, r.FinalScore, change, r.Iterations, r.StopReason)
	}
	for _, c := range m.Skipped {
		fmt.Fprintf(w, "%s\n", gray(fmt.Sprintf("%-14s skipped", c)))
	}

	status := color.New(color.FgGreen).Sprint("✓ success")
	if !m.Success {
		status = color.New(color.FgRed, color.Bold).Sprint("✗ some categories failed")
	}
	fmt.Fprintf(w, "\nOrder:    %s\n", joinCategories(m.Order))
	fmt.Fprintf(w, "Total:    %+.1f\n", m.TotalImprovement)
	fmt.Fprintf(w, "Status:   %s\n", status)
	fmt.Fprintf(w, "Duration: %s\n", m.Duration.Round(time.Millisecond))
}

func printAggregate(w io.Writer, a *iterative.AggregateMetrics) {
	if a == nil || a.TotalRuns == 0 {
		return
	}
	gray := color.New(color.FgHiBlack).SprintFunc()
	fmt.Fprintln(w, gray(fmt.Sprintf("%d runs, %.0f%% succeeded, %.1f iterations on average, %d rollbacks, %d validation errors",
		a.TotalRuns, a.SuccessRate(), a.MeanIterations, a.TotalRollbacks, a.ValidationErrors)))
}

func printCategories(w io.Writer) {
	yellow := color.New(color.FgYellow).SprintFunc()
	for _, c := range types.AllCategories() {
		fmt.Fprintf(w, "%s\n  %s\n", yellow(c), ai.Rubric(c))
	}
}

func joinCategories(cs []types.Category) string {
	parts := make([]string, len(cs))
	for i, c := range cs {
		parts[i] = string(c)
	}
	return strings.Join(parts, " → ")
}
