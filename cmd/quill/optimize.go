package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/quill/internal/ai"
	"github.com/steveyegge/quill/internal/events"
	"github.com/steveyegge/quill/internal/gates"
	"github.com/steveyegge/quill/internal/iterative"
	"github.com/steveyegge/quill/internal/storage"
	"github.com/steveyegge/quill/internal/strategy"
	"github.com/steveyegge/quill/internal/types"
)

// runFlags are shared by optimize, sections and categories
type runFlags struct {
	target  float64
	out     string
	yes     bool
	dryRun  bool
	verbose bool
	quiet   bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&f.target, "target", 0, "target score (default from config)")
	cmd.Flags().StringVarP(&f.out, "out", "o", "", "output path (default <name>.optimized<ext>)")
	cmd.Flags().BoolVarP(&f.yes, "yes", "y", false, "write the result without asking")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "do not write the optimized document")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "show every progress event")
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "show no progress events")
}

var (
	optimizeFlags runFlags
	optimizeCat   string

	sectionsFlags  runFlags
	sectionsCat    string
	sectionsSelect string
)

var optimizeCmd = &cobra.Command{
	Use:   "optimize <document>",
	Short: "Improve a document for one quality category",
	Long: `Assess the document for a category, then plan, apply and validate
improvements until the target score is reached, gains become marginal,
or the iteration limit is hit. Iterations that lower the score by more
than the regression threshold are rolled back.

Documents are .json or .yaml files.`,
	Example: `  quill optimize novel.yaml --category tension
  quill optimize novel.yaml -c pacing --target 85 -o novel.v2.yaml --yes`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		category, err := types.NormalizeCategory(optimizeCat)
		if err != nil {
			return err
		}
		return runSingle(cmd, args[0], category, nil, &optimizeFlags)
	},
}

var sectionsCmd = &cobra.Command{
	Use:   "sections <document>",
	Short: "Improve selected sections for one quality category",
	Long: `Like optimize, but only the selected sections are edited or
regenerated. The whole document is still assessed.

Selectors: "3-7" (range), "1,4,9" (numbers) or "ids:open,close" (section ids).`,
	Example: `  quill sections novel.yaml --category hook --select 1-3`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		category, err := types.NormalizeCategory(sectionsCat)
		if err != nil {
			return err
		}
		sel, err := strategy.ParseSelector(sectionsSelect)
		if err != nil {
			return err
		}
		return runSingle(cmd, args[0], category, &sel, &sectionsFlags)
	},
}

func init() {
	optimizeCmd.Flags().StringVarP(&optimizeCat, "category", "c", "", "quality category (see 'quill categories --list')")
	_ = optimizeCmd.MarkFlagRequired("category")
	optimizeFlags.register(optimizeCmd)

	sectionsCmd.Flags().StringVarP(&sectionsCat, "category", "c", "", "quality category")
	sectionsCmd.Flags().StringVarP(&sectionsSelect, "select", "s", "", "sections to improve")
	_ = sectionsCmd.MarkFlagRequired("category")
	_ = sectionsCmd.MarkFlagRequired("select")
	sectionsFlags.register(sectionsCmd)

	rootCmd.AddCommand(optimizeCmd, sectionsCmd)
}

func runSingle(cmd *cobra.Command, docPath string, category types.Category, sel *strategy.SectionSelector, flags *runFlags) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	doc, err := types.LoadDocument(docPath)
	if err != nil {
		return err
	}

	opt, err := newOptimizer(cfg, logger)
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

	var recorder storage.Store
	if store != nil {
		recorder = store
	}
	result := optimizeOnce(ctx, opt, recorder, doc, docPath, category, sel, flags, out)

	printResult(out, result)
	if result.Err != nil {
		return fmt.Errorf("optimization failed: %w", result.Err)
	}
	return maybeWrite(out, readlinePrompter{}, doc, result.Document, docPath, flags, summarize(result))
}

// optimizeOnce runs one category and records it. recorder may be nil.
func optimizeOnce(ctx context.Context, opt *optimizer, recorder storage.Store, doc *types.Document, docPath string,
	category types.Category, sel *strategy.SectionSelector, flags *runFlags, out io.Writer) *iterative.Result {
	var observers []events.Observer
	if !flags.quiet {
		observers = append(observers, newProgressDisplay(out, flags.verbose))
	}
	if recorder != nil && cfg.History.RecordEvents {
		observers = append(observers, storage.NewEventObserver(ctx, recorder, logger))
	}

	opts := []iterative.RunOption{iterative.WithObserver(events.Multi(observers...))}
	if flags.target > 0 {
		opts = append(opts, iterative.WithTargetScore(flags.target))
	}

	runCtx := ai.WithCostKey(ctx, doc.ID)
	var result *iterative.Result
	if sel != nil {
		result = opt.controller.OptimizeSections(runCtx, doc, category, *sel, opts...)
	} else {
		result = opt.controller.Optimize(runCtx, doc, category, opts...)
	}

	if recorder != nil {
		if err := recorder.RecordRun(ctx, storage.NewRunRecord(result, docPath, "")); err != nil {
			logger.Warn("failed to record run", "run_id", result.RunID, "error", err)
		}
	}
	return result
}

// maybeWrite saves the optimized document after confirmation. Nothing is
// written when no section changed.
func maybeWrite(out io.Writer, prompter gates.Prompter, before, after *types.Document, docPath string, flags *runFlags, summary string) error {
	if flags.dryRun || after == nil {
		return nil
	}
	diff := iterative.Diff(before, after)
	if diff.Changed+diff.Added == 0 {
		fmt.Fprintln(out, "No changes to write.")
		return nil
	}

	path := flags.out
	if path == "" {
		path = optimizedPath(docPath)
	}
	ok, err := confirmWrite(out, prompter, before, after, path, summary, flags.yes)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(out, "Discarded.")
		return nil
	}
	if err := types.SaveDocument(path, after); err != nil {
		return err
	}
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintf(out, "%s Wrote %s\n", green("✓"), path)
	return nil
}

// optimizedPath turns novel.yaml into novel.optimized.yaml
func optimizedPath(docPath string) string {
	ext := filepath.Ext(docPath)
	return strings.TrimSuffix(docPath, ext) + ".optimized" + ext
}

func summarize(r *iterative.Result) string {
	return fmt.Sprintf("%s: %.1f → %.1f (%+.1f) in %d iterations, %s",
		r.Category, r.BaselineScore, r.FinalScore, r.ScoreImprovement, r.Iterations, r.StopReason)
}

// printResult prints the outcome of a single-category run
func printResult(w io.Writer, r *iterative.Result) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Fprintf(w, "\n%s\n", cyan(fmt.Sprintf("=== %s ===", strings.ToUpper(string(r.Category)))))

	status := color.New(color.FgGreen).Sprint("✓ success")
	if !r.Success {
		status = color.New(color.FgRed, color.Bold).Sprint("✗ failed")
	} else if !r.TargetReached() {
		status = color.New(color.FgYellow).Sprint("~ below target")
	}
	fmt.Fprintf(w, "Status:      %s (%s)\n", status, r.StopReason)
	fmt.Fprintf(w, "Score:       %.1f → %.1f (%+.1f, target %.1f)\n", r.BaselineScore, r.FinalScore, r.ScoreImprovement, r.TargetScore)
	fmt.Fprintf(w, "Iterations:  %d\n", r.Iterations)
	if len(r.ScoreHistory) > 0 {
		parts := make([]string, len(r.ScoreHistory))
		for i, s := range r.ScoreHistory {
			parts[i] = fmt.Sprintf("%.1f", s)
		}
		fmt.Fprintf(w, "History:     %s\n", strings.Join(parts, " → "))
	}
	if r.Degraded {
		fmt.Fprintf(w, "Context:     %s\n", yellow("minimal (input was too large)"))
	}

	m := r.Metrics
	fmt.Fprintf(w, "Sections:    %d improved, %d unchanged, %d regressed\n", m.SectionsImproved, m.SectionsUnchanged, m.SectionsRegressed)
	fmt.Fprintf(w, "Actions:     %d edits, %d insertions, %d regenerations, %d failed\n",
		m.TotalEdits, m.TotalInsertions, m.TotalRegenerations, m.FailedActions)
	if m.Rollbacks > 0 {
		fmt.Fprintf(w, "Rollbacks:   %s\n", yellow(m.Rollbacks))
	}
	fmt.Fprintf(w, "Duration:    %s\n", r.Duration.Round(time.Millisecond))
	if r.Message != "" {
		fmt.Fprintf(w, "Message:     %s\n", r.Message)
	}
}
