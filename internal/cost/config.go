package cost

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Config holds cost budgeting configuration
type Config struct {
	// MaxTokensPerHour is the maximum number of tokens (input + output) allowed per hour
	// 0 = unlimited
	// Default: 500000
	MaxTokensPerHour int64 `json:"max_tokens_per_hour" yaml:"max_tokens_per_hour"`

	// MaxTokensPerRun is the maximum number of tokens one document may use
	// 0 = unlimited
	// Default: 250000 (a full multi-category pass over a mid-length novel)
	MaxTokensPerRun int64 `json:"max_tokens_per_run" yaml:"max_tokens_per_run"`

	// MaxCostPerHour is the maximum cost in USD allowed per hour
	// 0.0 = unlimited (use token limits instead)
	// Default: 5.00
	MaxCostPerHour float64 `json:"max_cost_per_hour" yaml:"max_cost_per_hour"`

	// AlertThreshold is the fraction of budget usage that triggers a warning
	// Default: 0.80
	AlertThreshold float64 `json:"alert_threshold" yaml:"alert_threshold"`

	// BudgetResetInterval is how often the hourly budget resets
	// Default: 1 hour
	BudgetResetInterval time.Duration `json:"budget_reset_interval" yaml:"budget_reset_interval"`

	// PersistStatePath is where budget state is persisted between invocations
	// Empty disables persistence
	PersistStatePath string `json:"persist_state_path" yaml:"persist_state_path"`

	// Enabled controls whether cost budgeting is active
	// Default: true
	Enabled bool `json:"enabled" yaml:"enabled"`

	// InputTokenCost is the cost per 1M input tokens (in USD)
	// Default: $3.00 for Claude Sonnet 4.5
	InputTokenCost float64 `json:"input_token_cost" yaml:"input_token_cost"`

	// OutputTokenCost is the cost per 1M output tokens (in USD)
	// Default: $15.00 for Claude Sonnet 4.5
	OutputTokenCost float64 `json:"output_token_cost" yaml:"output_token_cost"`
}

// DefaultConfig returns default cost budgeting configuration
func DefaultConfig() *Config {
	return &Config{
		Enabled:             true,
		MaxTokensPerHour:    500000,
		MaxTokensPerRun:     250000,
		MaxCostPerHour:      5.00,
		AlertThreshold:      0.80,
		BudgetResetInterval: time.Hour,
		InputTokenCost:      3.00,
		OutputTokenCost:     15.00,
	}
}

// LoadFromEnv applies QUILL_COST_* overrides to the defaults. An invalid
// combination falls back to the defaults.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()
	ApplyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		slog.Warn("invalid cost config from environment, using defaults", "error", err)
		return DefaultConfig()
	}
	return cfg
}

// ApplyEnv overrides fields of cfg from QUILL_COST_* variables. Unparseable
// or out-of-range values are ignored.
func ApplyEnv(cfg *Config) {
	if val := os.Getenv("QUILL_COST_ENABLED"); val != "" {
		cfg.Enabled = parseBool(val)
	}

	if val := os.Getenv("QUILL_COST_MAX_TOKENS_PER_HOUR"); val != "" {
		if tokens, err := strconv.ParseInt(val, 10, 64); err == nil && tokens >= 0 {
			cfg.MaxTokensPerHour = tokens
		}
	}

	if val := os.Getenv("QUILL_COST_MAX_TOKENS_PER_RUN"); val != "" {
		if tokens, err := strconv.ParseInt(val, 10, 64); err == nil && tokens >= 0 {
			cfg.MaxTokensPerRun = tokens
		}
	}

	if val := os.Getenv("QUILL_COST_MAX_COST_PER_HOUR"); val != "" {
		if cost, err := strconv.ParseFloat(val, 64); err == nil && cost >= 0 {
			cfg.MaxCostPerHour = cost
		}
	}

	if val := os.Getenv("QUILL_COST_ALERT_THRESHOLD"); val != "" {
		if threshold, err := strconv.ParseFloat(val, 64); err == nil && threshold > 0 && threshold <= 1.0 {
			cfg.AlertThreshold = threshold
		}
	}

	if val := os.Getenv("QUILL_COST_BUDGET_RESET_INTERVAL"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil && duration > 0 {
			cfg.BudgetResetInterval = duration
		}
	}

	if val := os.Getenv("QUILL_COST_PERSIST_STATE_PATH"); val != "" {
		cfg.PersistStatePath = val
	}

	if val := os.Getenv("QUILL_COST_INPUT_TOKEN_COST"); val != "" {
		if cost, err := strconv.ParseFloat(val, 64); err == nil && cost >= 0 {
			cfg.InputTokenCost = cost
		}
	}

	if val := os.Getenv("QUILL_COST_OUTPUT_TOKEN_COST"); val != "" {
		if cost, err := strconv.ParseFloat(val, 64); err == nil && cost >= 0 {
			cfg.OutputTokenCost = cost
		}
	}
}

// Validate checks that the configuration has safe and reasonable values
func (c *Config) Validate() error {
	if c.MaxTokensPerHour < 0 {
		return fmt.Errorf("max_tokens_per_hour must be non-negative, got %d", c.MaxTokensPerHour)
	}

	if c.MaxTokensPerRun < 0 {
		return fmt.Errorf("max_tokens_per_run must be non-negative, got %d", c.MaxTokensPerRun)
	}

	if c.MaxCostPerHour < 0 {
		return fmt.Errorf("max_cost_per_hour must be non-negative, got %.2f", c.MaxCostPerHour)
	}

	if c.AlertThreshold <= 0 || c.AlertThreshold > 1.0 {
		return fmt.Errorf("alert_threshold must be between 0 and 1, got %.2f", c.AlertThreshold)
	}

	if c.BudgetResetInterval <= 0 {
		return fmt.Errorf("budget_reset_interval must be positive, got %v", c.BudgetResetInterval)
	}

	if c.InputTokenCost < 0 {
		return fmt.Errorf("input_token_cost must be non-negative, got %.2f", c.InputTokenCost)
	}

	if c.OutputTokenCost < 0 {
		return fmt.Errorf("output_token_cost must be non-negative, got %.2f", c.OutputTokenCost)
	}

	return nil
}

// parseBool parses a boolean string; unknown values mean true
func parseBool(val string) bool {
	switch val {
	case "false", "0", "no", "off":
		return false
	default:
		return true
	}
}
