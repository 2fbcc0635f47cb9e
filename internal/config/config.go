// Package config loads quill's settings from a YAML file, a .env file and
// QUILL_* environment variables, in that order of precedence (lowest first).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/steveyegge/quill/internal/cost"
)

// Config is the complete quill configuration.
type Config struct {
	AI        AIConfig        `yaml:"ai" validate:"required"`
	Optimizer OptimizerConfig `yaml:"optimizer" validate:"required"`
	Budget    cost.Config     `yaml:"budget"`
	History   HistoryConfig   `yaml:"history" validate:"required"`
}

// AIConfig configures the Anthropic-backed collaborators.
type AIConfig struct {
	// APIKey falls back to ANTHROPIC_API_KEY; it is not required to load
	// config, only to run the optimizer.
	APIKey            string        `yaml:"api_key"`
	Model             string        `yaml:"model" validate:"required"`
	MaxTokens         int           `yaml:"max_tokens" validate:"min=256,max=64000"`
	RequestsPerMinute float64       `yaml:"requests_per_minute" validate:"gte=0"`
	MaxConcurrent     int           `yaml:"max_concurrent" validate:"gte=0,lte=32"`
	MaxPromptTokens   int           `yaml:"max_prompt_tokens" validate:"gte=0"`
	Timeout           time.Duration `yaml:"timeout" validate:"gte=0"`
	UseJudge          bool          `yaml:"use_judge"`
}

// OptimizerConfig holds the loop and convergence settings.
type OptimizerConfig struct {
	MaxIterations       int     `yaml:"max_iterations" validate:"min=1,max=50"`
	TargetScore         float64 `yaml:"target_score" validate:"gte=0,lte=100"`
	ContextBudget       int     `yaml:"context_budget" validate:"gte=0"`
	RegressionThreshold float64 `yaml:"regression_threshold" validate:"gte=0,lte=100"`
	// MinImprovement of 0 takes the default; -1 disables the marginal-returns stop.
	MinImprovement float64 `yaml:"min_improvement" validate:"gte=-1,lte=100"`
	// Order is sequential, by-score or parallel.
	Order                  string  `yaml:"order" validate:"omitempty,oneof=sequential by-score by_score score parallel"`
	StopOnStrongSuccess    bool    `yaml:"stop_on_strong_success"`
	StrongSuccessThreshold float64 `yaml:"strong_success_threshold" validate:"gte=0,lte=100"`
	MaxParallel            int     `yaml:"max_parallel" validate:"gte=0,lte=16"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		AI: AIConfig{
			Model:         "claude-sonnet-4-5-20250929",
			MaxTokens:     8192,
			MaxConcurrent: 3,
			Timeout:       120 * time.Second,
			UseJudge:      true,
		},
		Optimizer: OptimizerConfig{
			MaxIterations:          3,
			TargetScore:            80,
			RegressionThreshold:    5,
			MinImprovement:         2,
			Order:                  "sequential",
			StrongSuccessThreshold: 10,
			MaxParallel:            4,
		},
		Budget:  *cost.DefaultConfig(),
		History: DefaultHistoryConfig(),
	}
}

// Load reads configuration. An empty path resolves via ResolvePath; a
// missing file is not an error and yields the defaults plus environment
// overrides.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = ResolvePath()
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	cfg.History.DBPath = expandTilde(cfg.History.DBPath)
	cfg.Budget.PersistStatePath = expandTilde(cfg.Budget.PersistStatePath)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// ResolvePath finds the config file: QUILL_CONFIG, then
// $XDG_CONFIG_HOME/quill/config.yaml, then ~/.config/quill/config.yaml.
func ResolvePath() string {
	if path := os.Getenv("QUILL_CONFIG"); path != "" {
		return path
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "quill", "config.yaml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "quill", "config.yaml")
}

// applyEnv overrides file values with QUILL_* variables.
//
// Environment variables:
//   - ANTHROPIC_API_KEY: API key when ai.api_key is empty
//   - QUILL_MODEL: model name
//   - QUILL_MAX_TOKENS: per-call output cap
//   - QUILL_REQUESTS_PER_MINUTE: request pacing (0 = unpaced)
//   - QUILL_USE_JUDGE: consult the secondary judge
//   - QUILL_MAX_ITERATIONS, QUILL_TARGET_SCORE, QUILL_CONTEXT_BUDGET: loop settings
//   - QUILL_REGRESSION_THRESHOLD, QUILL_MIN_IMPROVEMENT: convergence gate
//   - QUILL_ORDER: multi-category order
//   - QUILL_DB_PATH, QUILL_HISTORY_RETENTION_DAYS, QUILL_HISTORY_PRUNE_ON_START: run history
//   - QUILL_COST_*: see cost.ApplyEnv
func (c *Config) applyEnv() error {
	if c.AI.APIKey == "" {
		c.AI.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if err := parseEnvString("QUILL_MODEL", &c.AI.Model); err != nil {
		return err
	}
	if err := parseEnvInt("QUILL_MAX_TOKENS", &c.AI.MaxTokens); err != nil {
		return err
	}
	if err := parseEnvFloat("QUILL_REQUESTS_PER_MINUTE", &c.AI.RequestsPerMinute); err != nil {
		return err
	}
	if err := parseEnvBool("QUILL_USE_JUDGE", &c.AI.UseJudge); err != nil {
		return err
	}
	if err := parseEnvInt("QUILL_MAX_ITERATIONS", &c.Optimizer.MaxIterations); err != nil {
		return err
	}
	if err := parseEnvFloat("QUILL_TARGET_SCORE", &c.Optimizer.TargetScore); err != nil {
		return err
	}
	if err := parseEnvInt("QUILL_CONTEXT_BUDGET", &c.Optimizer.ContextBudget); err != nil {
		return err
	}
	if err := parseEnvFloat("QUILL_REGRESSION_THRESHOLD", &c.Optimizer.RegressionThreshold); err != nil {
		return err
	}
	if err := parseEnvFloat("QUILL_MIN_IMPROVEMENT", &c.Optimizer.MinImprovement); err != nil {
		return err
	}
	if err := parseEnvString("QUILL_ORDER", &c.Optimizer.Order); err != nil {
		return err
	}
	if err := c.History.applyEnv(); err != nil {
		return err
	}
	cost.ApplyEnv(&c.Budget)
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate runs the struct tag rules and the checks that span fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("config validation failed: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("config validation failed: %w", err)
	}
	if err := c.Budget.Validate(); err != nil {
		return fmt.Errorf("budget: %w", err)
	}
	if err := c.History.Validate(); err != nil {
		return fmt.Errorf("history: %w", err)
	}
	if c.AI.MaxPromptTokens > 0 && c.Optimizer.ContextBudget > c.AI.MaxPromptTokens {
		return fmt.Errorf("optimizer.context_budget (%d) must not exceed ai.max_prompt_tokens (%d)",
			c.Optimizer.ContextBudget, c.AI.MaxPromptTokens)
	}
	return nil
}

// expandTilde expands a tilde (~) at the beginning of a path to the user's home directory
func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
