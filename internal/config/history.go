package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// HistoryConfig holds configuration for the run history database
type HistoryConfig struct {
	// DBPath is the SQLite file run history is written to
	// Empty disables history
	// Default: $XDG_DATA_HOME/quill/history.db
	DBPath string `yaml:"db_path"`

	// RetentionDays is how long finished runs (and their events) are kept
	// Default: 90, Range: 1-3650
	RetentionDays int `yaml:"retention_days" validate:"min=1,max=3650"`

	// MaxRuns caps the number of runs kept regardless of age
	// Set to 0 for unlimited
	// Default: 1000, Range: 0 or 10-100000
	MaxRuns int `yaml:"max_runs"`

	// RecordEvents controls whether progress events are stored with each run
	// Default: true
	RecordEvents bool `yaml:"record_events"`

	// PruneOnStart prunes expired runs when the database is opened
	// Default: true
	PruneOnStart bool `yaml:"prune_on_start"`
}

// DefaultHistoryConfig returns the default history configuration
func DefaultHistoryConfig() HistoryConfig {
	return HistoryConfig{
		DBPath:        defaultDBPath(),
		RetentionDays: 90,
		MaxRuns:       1000,
		RecordEvents:  true,
		PruneOnStart:  true,
	}
}

func defaultDBPath() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "quill", "history.db")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "quill-history.db"
	}
	return filepath.Join(home, ".local", "share", "quill", "history.db")
}

// Validate checks if the configuration has valid values
func (c HistoryConfig) Validate() error {
	if c.RetentionDays < 1 || c.RetentionDays > 3650 {
		return fmt.Errorf("retention_days must be between 1 and 3650 (got %d)", c.RetentionDays)
	}
	if c.MaxRuns < 0 {
		return fmt.Errorf("max_runs cannot be negative (got %d)", c.MaxRuns)
	}
	if c.MaxRuns > 0 && c.MaxRuns < 10 {
		return fmt.Errorf("max_runs must be 0 (unlimited) or >= 10 (got %d)", c.MaxRuns)
	}
	if c.MaxRuns > 100000 {
		return fmt.Errorf("max_runs too large (got %d, max 100000)", c.MaxRuns)
	}
	return nil
}

// Enabled reports whether run history should be recorded.
func (c HistoryConfig) Enabled() bool {
	return c.DBPath != ""
}

// String returns a human-readable representation of the config
func (c HistoryConfig) String() string {
	return fmt.Sprintf("HistoryConfig{DBPath: %s, RetentionDays: %d, MaxRuns: %d, RecordEvents: %t, PruneOnStart: %t}",
		c.DBPath, c.RetentionDays, c.MaxRuns, c.RecordEvents, c.PruneOnStart)
}

func (c *HistoryConfig) applyEnv() error {
	if err := parseEnvString("QUILL_DB_PATH", &c.DBPath); err != nil {
		return err
	}
	if err := parseEnvInt("QUILL_HISTORY_RETENTION_DAYS", &c.RetentionDays); err != nil {
		return err
	}
	if err := parseEnvInt("QUILL_HISTORY_MAX_RUNS", &c.MaxRuns); err != nil {
		return err
	}
	if err := parseEnvBool("QUILL_HISTORY_RECORD_EVENTS", &c.RecordEvents); err != nil {
		return err
	}
	return parseEnvBool("QUILL_HISTORY_PRUNE_ON_START", &c.PruneOnStart)
}

// parseEnvInt parses an int from an environment variable
func parseEnvInt(key string, dest *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvFloat parses a float from an environment variable
func parseEnvFloat(key string, dest *float64) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvBool parses a bool from an environment variable
func parseEnvBool(key string, dest *bool) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvString parses a string from an environment variable
func parseEnvString(key string, dest *string) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	*dest = value
	return nil
}
