package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/quill/internal/storage"
	"github.com/steveyegge/quill/internal/storage/sqlite"
)

var (
	historyCategory string
	historyLimit    int
	historySince    time.Duration
	historyEvents   bool

	pruneDays    int
	pruneMaxRuns int
	pruneVacuum  bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past optimization runs",
	Long:  `List, inspect and prune the run history database.`,
	Args:  cobra.NoArgs,
	RunE:  runHistoryList,
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	Args:  cobra.NoArgs,
	RunE:  runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run and its events",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := requireHistory(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		run, err := store.GetRun(ctx, args[0])
		if errors.Is(err, storage.ErrNotFound) {
			// Accept a unique ID prefix
			run, err = findRunByPrefix(cmd, store, args[0])
		}
		if err != nil {
			return err
		}
		printRun(cmd.OutOrStdout(), run)

		if !historyEvents {
			return nil
		}
		evs, err := store.ListEvents(ctx, run.ID)
		if err != nil {
			return err
		}
		printStoredEvents(cmd.OutOrStdout(), evs)
		return nil
	},
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete expired runs",
	Long: `Delete runs older than the retention period and keep at most
max-runs of the newest runs. Defaults come from the history config.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := requireHistory(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		days := cfg.History.RetentionDays
		if cmd.Flags().Changed("older-than") {
			days = pruneDays
		}
		maxRuns := cfg.History.MaxRuns
		if cmd.Flags().Changed("max-runs") {
			maxRuns = pruneMaxRuns
		}
		if days < 1 {
			return fmt.Errorf("--older-than must be at least 1 day")
		}

		deleted, err := pruneHistory(ctx, store, days, maxRuns, logger)
		if err != nil {
			return err
		}
		if pruneVacuum {
			if err := store.Vacuum(ctx); err != nil {
				return err
			}
		}
		runs, events, err := store.Counts(ctx)
		if err != nil {
			return err
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted %d runs (%d runs, %d events remain)\n", green("✓"), deleted, runs, events)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{historyCmd, historyListCmd} {
		c.Flags().StringVarP(&historyCategory, "category", "c", "", "only runs for this category")
		c.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum runs to show")
		c.Flags().DurationVar(&historySince, "since", 0, "only runs newer than this (e.g. 72h)")
	}
	historyShowCmd.Flags().BoolVarP(&historyEvents, "events", "e", true, "show the run's events")
	historyPruneCmd.Flags().IntVar(&pruneDays, "older-than", 0, "retention in days (default history.retention_days)")
	historyPruneCmd.Flags().IntVar(&pruneMaxRuns, "max-runs", 0, "runs to keep, 0 for unlimited (default history.max_runs)")
	historyPruneCmd.Flags().BoolVar(&pruneVacuum, "vacuum", false, "reclaim disk space afterwards")

	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyPruneCmd)
	rootCmd.AddCommand(historyCmd)
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	store, err := requireHistory(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	filter := storage.RunFilter{Limit: historyLimit}
	if historyCategory != "" {
		filter.Category = strings.ToLower(historyCategory)
	}
	if historySince > 0 {
		filter.Since = time.Now().Add(-historySince)
	}
	runs, err := store.ListRuns(cmd.Context(), filter)
	if err != nil {
		return err
	}
	printRunList(cmd.OutOrStdout(), runs)
	return nil
}

// requireHistory opens the history database without pruning
func requireHistory(cmd *cobra.Command) (*sqlite.SQLiteStorage, error) {
	if !cfg.History.Enabled() {
		return nil, fmt.Errorf("run history is disabled (set history.db_path or --db)")
	}
	return sqlite.New(cfg.History.DBPath)
}

func findRunByPrefix(cmd *cobra.Command, store storage.Store, prefix string) (*storage.RunRecord, error) {
	runs, err := store.ListRuns(cmd.Context(), storage.RunFilter{})
	if err != nil {
		return nil, err
	}
	var matches []*storage.RunRecord
	for _, r := range runs {
		if strings.HasPrefix(r.ID, prefix) {
			matches = append(matches, r)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("run %s: %w", prefix, storage.ErrNotFound)
	case 1:
		return matches[0], nil
	}
	return nil, fmt.Errorf("run ID prefix %q is ambiguous (%d matches)", prefix, len(matches))
}

func printRunList(w io.Writer, runs []*storage.RunRecord) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	gray := color.New(color.FgHiBlack).SprintFunc()
	fmt.Fprintf(w, "%-8s %-16s %-14s %13s %5s  %-24s %s\n", "ID", "WHEN", "CATEGORY", "SCORE", "ITER", "STOP", "DOCUMENT")
	for _, r := range runs {
		score := fmt.Sprintf("%.1f→%.1f", r.BaselineScore, r.FinalScore)
		stop := r.StopReason
		if !r.Success {
			stop = color.New(color.FgRed).Sprint(stop)
		}
		fmt.Fprintf(w, "%-8s %-16s %-14s %13s %5d  %-24s %s\n",
			shortID(r.ID), r.CreatedAt.Format("2006-01-02 15:04"), r.Category, score, r.Iterations, stop,
			gray(truncateString(r.DocumentPath, 40)))
	}
}

func printRun(w io.Writer, r *storage.RunRecord) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Fprintf(w, "\n%s\n", cyan(fmt.Sprintf("=== Run %s ===", r.ID)))
	if r.GroupID != "" {
		fmt.Fprintf(w, "Group:       %s\n", r.GroupID)
	}
	fmt.Fprintf(w, "Document:    %s (%s)\n", r.DocumentTitle, r.DocumentPath)
	fmt.Fprintf(w, "Category:    %s\n", r.Category)
	fmt.Fprintf(w, "When:        %s (%s)\n", r.CreatedAt.Format(time.RFC3339), r.Duration)
	fmt.Fprintf(w, "Score:       %.1f → %.1f (%+.1f, target %.1f)\n", r.BaselineScore, r.FinalScore, r.Improvement, r.TargetScore)
	fmt.Fprintf(w, "Stop:        %s (success=%t, degraded=%t)\n", r.StopReason, r.Success, r.Degraded)
	fmt.Fprintf(w, "Tokens:      %s in, %s out\n", formatTokens(int64(r.InputTokens)), formatTokens(int64(r.OutputTokens)))
	m := r.Metrics
	fmt.Fprintf(w, "Sections:    %d improved, %d unchanged, %d regressed\n", m.SectionsImproved, m.SectionsUnchanged, m.SectionsRegressed)
	fmt.Fprintf(w, "Actions:     %d edits, %d insertions, %d regenerations, %d failed, %d rollbacks\n",
		m.TotalEdits, m.TotalInsertions, m.TotalRegenerations, m.FailedActions, m.Rollbacks)
	if r.Message != "" {
		fmt.Fprintf(w, "Message:     %s\n", r.Message)
	}
	if r.Error != "" {
		fmt.Fprintf(w, "Error:       %s\n", yellow(r.Error))
	}
}

func printStoredEvents(w io.Writer, evs []*storage.EventRecord) {
	if len(evs) == 0 {
		return
	}
	fmt.Fprintln(w)
	for _, e := range evs {
		displayProgressEvent(w, e.ProgressEvent())
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
