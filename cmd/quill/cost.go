package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/quill/internal/cost"
)

var costRuns int

var costCmd = &cobra.Command{
	Use:   "cost",
	Short: "Show AI cost budget and usage statistics",
	Long:  `Display current AI cost budget status, usage statistics, and per-document spending.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		budget := cfg.Budget
		out := cmd.OutOrStdout()
		if !budget.Enabled {
			fmt.Fprintln(out, "Cost budgeting is disabled")
			fmt.Fprintln(out, "Set QUILL_COST_ENABLED=true to enable cost tracking")
			return nil
		}

		tracker, err := cost.NewTracker(&budget, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize cost tracker: %w", err)
		}
		printCostStats(out, tracker.GetStats(), costRuns)
		return nil
	},
}

func init() {
	costCmd.Flags().IntVar(&costRuns, "runs", 10, "documents to list by token usage")
	rootCmd.AddCommand(costCmd)
}

func printCostStats(w io.Writer, stats cost.BudgetStats, topRuns int) {
	cfg := stats.Config
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Fprintf(w, "\n%s\n\n", cyan("=== AI Cost Budget Status ==="))

	statusColor := color.New(color.FgGreen)
	statusIcon := "✓"
	switch stats.Status {
	case cost.BudgetWarning:
		statusColor = color.New(color.FgYellow)
		statusIcon = "⚠️"
	case cost.BudgetExceeded:
		statusColor = color.New(color.FgRed, color.Bold)
		statusIcon = "🚨"
	}
	fmt.Fprintf(w, "%s Budget Status: %s\n\n", statusIcon, statusColor.Sprint(stats.Status.String()))

	fmt.Fprintf(w, "%s\n", yellow("Hourly Budget:"))
	if cfg.MaxTokensPerHour > 0 {
		tokenPercent := float64(stats.HourlyTokensUsed) / float64(cfg.MaxTokensPerHour) * 100
		fmt.Fprintf(w, "  Tokens:  %s / %s (%.1f%%)\n", formatTokens(stats.HourlyTokensUsed), formatTokens(cfg.MaxTokensPerHour), tokenPercent)
		fmt.Fprintf(w, "           %s\n", renderProgressBar(tokenPercent, 40))
	} else {
		fmt.Fprintf(w, "  Tokens:  %s (unlimited)\n", formatTokens(stats.HourlyTokensUsed))
	}
	if cfg.MaxCostPerHour > 0 {
		costPercent := stats.HourlyCostUsed / cfg.MaxCostPerHour * 100
		fmt.Fprintf(w, "  Cost:    $%.4f / $%.2f (%.1f%%)\n", stats.HourlyCostUsed, cfg.MaxCostPerHour, costPercent)
		fmt.Fprintf(w, "           %s\n", renderProgressBar(costPercent, 40))
	} else {
		fmt.Fprintf(w, "  Cost:    $%.4f (unlimited)\n", stats.HourlyCostUsed)
	}
	fmt.Fprintf(w, "  Window:  %s → %s (resets in %s)\n\n",
		stats.WindowStartTime.Format("15:04:05"),
		stats.WindowStartTime.Add(cfg.BudgetResetInterval).Format("15:04:05"),
		stats.ResetsIn.Round(time.Second))

	fmt.Fprintf(w, "%s\n", yellow("All-Time Usage:"))
	fmt.Fprintf(w, "  Tokens:  %s\n", formatTokens(stats.TotalTokensUsed))
	fmt.Fprintf(w, "  Cost:    $%.2f\n", stats.TotalCostUsed)
	if stats.TotalTokensUsed > 0 {
		fmt.Fprintf(w, "  Avg:     $%.2f per 1M tokens\n", stats.TotalCostUsed/float64(stats.TotalTokensUsed)*1_000_000)
	}
	fmt.Fprintln(w)

	if len(stats.RunTokensUsed) > 0 && topRuns > 0 {
		fmt.Fprintf(w, "%s\n", yellow("Documents:"))
		keys := make([]string, 0, len(stats.RunTokensUsed))
		for k := range stats.RunTokensUsed {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			a, b := stats.RunTokensUsed[keys[i]], stats.RunTokensUsed[keys[j]]
			if a != b {
				return a > b
			}
			return keys[i] < keys[j]
		})
		if len(keys) > topRuns {
			keys = keys[:topRuns]
		}
		for _, k := range keys {
			used := stats.RunTokensUsed[k]
			line := fmt.Sprintf("  %-32s %s", truncateString(k, 32), formatTokens(used))
			if cfg.MaxTokensPerRun > 0 {
				line += fmt.Sprintf(" / %s", formatTokens(cfg.MaxTokensPerRun))
			}
			fmt.Fprintln(w, line)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "%s\n", yellow("Configuration:"))
	fmt.Fprintf(w, "  Alert Threshold:    %.0f%%\n", cfg.AlertThreshold*100)
	fmt.Fprintf(w, "  Budget Reset:       %v\n", cfg.BudgetResetInterval)
	if cfg.MaxTokensPerRun > 0 {
		fmt.Fprintf(w, "  Per-Document Limit: %s\n", formatTokens(cfg.MaxTokensPerRun))
	}
	state := cfg.PersistStatePath
	if state == "" {
		state = "(not persisted)"
	}
	fmt.Fprintf(w, "  State Persistence:  %s\n\n", state)

	fmt.Fprintf(w, "%s\n", yellow("Pricing (per 1M tokens):"))
	fmt.Fprintf(w, "  Input:   $%.2f\n", cfg.InputTokenCost)
	fmt.Fprintf(w, "  Output:  $%.2f\n\n", cfg.OutputTokenCost)
}

// formatTokens formats a token count for readability
func formatTokens(tokens int64) string {
	switch {
	case tokens < 1000:
		return fmt.Sprintf("%d", tokens)
	case tokens < 1_000_000:
		return fmt.Sprintf("%.1fK", float64(tokens)/1000)
	default:
		return fmt.Sprintf("%.2fM", float64(tokens)/1_000_000)
	}
}

// renderProgressBar renders a text-based progress bar
func renderProgressBar(percent float64, width int) string {
	percent = max(0, min(percent, 100))
	filled := int(percent / 100.0 * float64(width))

	var barColor *color.Color
	switch {
	case percent >= 100:
		barColor = color.New(color.FgRed, color.Bold)
	case percent >= 80:
		barColor = color.New(color.FgYellow)
	default:
		barColor = color.New(color.FgGreen)
	}

	var b strings.Builder
	b.WriteString(barColor.Sprint(strings.Repeat("█", filled)))
	b.WriteString(color.New(color.FgHiBlack).Sprint(strings.Repeat("░", width-filled)))
	return "[" + b.String() + "]"
}
