// Command quill iteratively refines a novel manuscript one quality
// category at a time.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/quill/internal/config"
)

// Global flags and the state PersistentPreRunE builds from them
var (
	configPath string
	logLevel   string
	logJSON    bool
	dbPath     string

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "quill",
	Short: "Iterative novel refinement",
	Long: `quill scores a manuscript on one quality category at a time (tension,
pacing, character, ...) and improves it in assess, plan, execute, validate
iterations, rolling back any iteration that makes the score worse.`,
	PersistentPreRunE: setup,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $XDG_CONFIG_HOME/quill/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "write logs as JSON")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "run history database (overrides history.db_path; \"none\" disables)")
}

func main() {
	if err := Execute(context.Background()); err != nil {
		red := color.New(color.FgRed).SprintFunc()
		fmt.Fprintf(os.Stderr, "%s %v\n", red("Error:"), err)
		os.Exit(1)
	}
}

// Execute runs the root command with signal handling
func Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return rootCmd.ExecuteContext(ctx)
}

// setup loads configuration and installs the logger before any command runs
func setup(cmd *cobra.Command, args []string) error {
	l, err := newLogger(os.Stderr, logLevel, logJSON)
	if err != nil {
		return err
	}
	logger = l
	slog.SetDefault(logger)

	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	switch dbPath {
	case "":
	case "none":
		loaded.History.DBPath = ""
	default:
		loaded.History.DBPath = dbPath
	}
	if loaded.Budget.PersistStatePath == "" && loaded.History.DBPath != "" {
		loaded.Budget.PersistStatePath = costStatePath(loaded.History.DBPath)
	}
	cfg = loaded
	logger.Debug("configuration loaded", "model", cfg.AI.Model, "history", cfg.History.String())
	return nil
}

func newLogger(w io.Writer, level string, asJSON bool) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn", "warning", "":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if asJSON {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
