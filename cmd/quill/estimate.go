package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/quill/internal/contextbudget"
	"github.com/steveyegge/quill/internal/types"
)

var estimateBudget int

var estimateCmd = &cobra.Command{
	Use:   "estimate <document>",
	Short: "Estimate the token size of a document and its reduced views",
	Long: `Print the estimated token cost of the document by source and the size
of each reduction tier. With --budget, also show which tier the optimizer
would send for that budget.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := types.LoadDocument(args[0])
		if err != nil {
			return err
		}
		budget := estimateBudget
		if budget == 0 {
			budget = cfg.Optimizer.ContextBudget
		}
		printEstimate(cmd.OutOrStdout(), contextbudget.NewManager(contextbudget.DefaultConfig()), doc, budget)
		return nil
	},
}

func init() {
	estimateCmd.Flags().IntVar(&estimateBudget, "budget", 0, "token budget to fit (default optimizer.context_budget)")
	rootCmd.AddCommand(estimateCmd)
}

func printEstimate(w io.Writer, m *contextbudget.Manager, doc *types.Document, budget int) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	est := m.EstimateSize(doc, contextbudget.Options{})
	fmt.Fprintf(w, "\n%s\n", cyan(fmt.Sprintf("=== %s ===", doc.Title)))
	fmt.Fprintf(w, "Sections: %d   Characters: %d   World entries: %d\n\n", len(doc.Sections), len(doc.Characters), len(doc.World))

	fmt.Fprintf(w, "%s\n", yellow("Estimated tokens:"))
	fmt.Fprintf(w, "  World:     %s\n", formatTokens(int64(est.Breakdown.World)))
	fmt.Fprintf(w, "  Sections:  %s\n", formatTokens(int64(est.Breakdown.Sections)))
	fmt.Fprintf(w, "  Entities:  %s\n", formatTokens(int64(est.Breakdown.Entities)))
	fmt.Fprintf(w, "  Overhead:  %s\n", formatTokens(int64(est.Breakdown.Overhead)))
	fmt.Fprintf(w, "  Total:     %s\n\n", formatTokens(int64(est.Total)))

	fmt.Fprintf(w, "%s\n", yellow("Reduction tiers:"))
	fmt.Fprintf(w, "  %-8s %9s %9s %9s %7s\n", "TIER", "TOKENS", "SECTIONS", "ENTITIES", "WORLD")
	for _, tier := range []contextbudget.Tier{contextbudget.TierFull, contextbudget.TierReduced, contextbudget.TierMinimal} {
		r := m.ReduceTo(doc, tier)
		fmt.Fprintf(w, "  %-8s %9s %9d %9d %7d\n", tier, formatTokens(int64(r.Estimate.Total)),
			r.SectionsIncluded, r.EntitiesIncluded, r.WorldIncluded)
	}

	if budget <= 0 {
		return
	}
	r := m.Reduce(doc, budget)
	fmt.Fprintln(w)
	if r.Sufficient {
		fmt.Fprintf(w, "Budget %s: %s tier (%s tokens)\n", formatTokens(int64(budget)),
			color.New(color.FgGreen).Sprint(r.Tier), formatTokens(int64(r.Estimate.Total)))
		return
	}
	fmt.Fprintf(w, "Budget %s: %s even the minimal view needs %s tokens\n", formatTokens(int64(budget)),
		color.New(color.FgRed, color.Bold).Sprint("insufficient,"), formatTokens(int64(r.Estimate.Total)))
}
