// Package cost enforces token and dollar budgets on AI calls and keeps
// running totals across invocations.
package cost

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// BudgetStatus represents the current budget state
type BudgetStatus int

const (
	BudgetHealthy  BudgetStatus = iota // Under alert threshold
	BudgetWarning                      // Over alert threshold but under limit
	BudgetExceeded                     // Over limit, new calls are refused
)

func (s BudgetStatus) String() string {
	switch s {
	case BudgetHealthy:
		return "HEALTHY"
	case BudgetWarning:
		return "WARNING"
	case BudgetExceeded:
		return "EXCEEDED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// BudgetState is the persisted usage record.
type BudgetState struct {
	HourlyTokensUsed int64     `json:"hourly_tokens_used"`
	HourlyCostUsed   float64   `json:"hourly_cost_used"`
	WindowStartTime  time.Time `json:"window_start_time"`

	// RunTokensUsed is keyed by document ID
	RunTokensUsed map[string]int64 `json:"run_tokens_used"`

	TotalTokensUsed int64   `json:"total_tokens_used"`
	TotalCostUsed   float64 `json:"total_cost_used"`

	LastUpdated time.Time `json:"last_updated"`
}

// Tracker records AI usage and decides whether further calls fit the budget.
// It is safe for concurrent use.
type Tracker struct {
	config *Config
	state  *BudgetState
	logger *slog.Logger
	mu     sync.Mutex

	lastWarningTime  time.Time
	lastExceededTime time.Time
	warningLogged    bool
}

// NewTracker creates a tracker, loading persisted state when configured.
func NewTracker(cfg *Config, logger *slog.Logger) (*Tracker, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	t := &Tracker{
		config: cfg,
		logger: logger.With("component", "cost"),
		state: &BudgetState{
			WindowStartTime: time.Now(),
			RunTokensUsed:   make(map[string]int64),
			LastUpdated:     time.Now(),
		},
	}

	if cfg.PersistStatePath != "" {
		if err := t.loadState(); err != nil {
			t.logger.Warn("failed to load cost state, starting fresh", "path", cfg.PersistStatePath, "error", err)
		} else {
			t.logger.Debug("loaded cost state", "path", cfg.PersistStatePath,
				"total_cost", t.state.TotalCostUsed, "hourly_tokens", t.state.HourlyTokensUsed)
		}
	}

	t.checkAndResetWindow()
	return t, nil
}

// RecordUsage records token usage against runKey and returns the resulting
// BudgetStatus. The status is returned as interface{} to satisfy
// ai.CostTracker without an import cycle.
func (t *Tracker) RecordUsage(ctx context.Context, runKey string, inputTokens, outputTokens int64) (interface{}, error) {
	if !t.config.Enabled {
		return BudgetHealthy, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	total := inputTokens + outputTokens
	cost := t.calculateCost(inputTokens, outputTokens)

	t.checkAndResetWindow()

	t.state.HourlyTokensUsed += total
	t.state.HourlyCostUsed += cost
	t.state.TotalTokensUsed += total
	t.state.TotalCostUsed += cost
	t.state.LastUpdated = time.Now()
	if runKey != "" {
		t.state.RunTokensUsed[runKey] += total
	}

	if err := t.persistState(); err != nil {
		t.logger.Warn("failed to persist cost state", "error", err)
	}

	status := t.statusLocked()
	t.emitAlertsIfNeeded(status)
	return status, nil
}

// CheckBudget returns the current budget status
func (t *Tracker) CheckBudget() BudgetStatus {
	if !t.config.Enabled {
		return BudgetHealthy
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.checkAndResetWindow()
	return t.statusLocked()
}

// CanProceed reports whether another call for runKey fits the budget, and
// if not, why.
func (t *Tracker) CanProceed(runKey string) (bool, string) {
	if !t.config.Enabled {
		return true, ""
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.checkAndResetWindow()

	if t.isHourlyTokenLimitExceeded() {
		return false, fmt.Sprintf("hourly token budget exceeded (%d/%d tokens used)",
			t.state.HourlyTokensUsed, t.config.MaxTokensPerHour)
	}
	if t.isHourlyCostLimitExceeded() {
		return false, fmt.Sprintf("hourly cost budget exceeded ($%.2f/$%.2f used)",
			t.state.HourlyCostUsed, t.config.MaxCostPerHour)
	}
	if runKey != "" && t.isRunLimitExceeded(runKey) {
		return false, fmt.Sprintf("per-run token budget exceeded for %s (%d/%d tokens used)",
			runKey, t.state.RunTokensUsed[runKey], t.config.MaxTokensPerRun)
	}
	return true, ""
}

// BudgetStats is a point-in-time view of usage.
type BudgetStats struct {
	Status           BudgetStatus     `json:"status"`
	HourlyTokensUsed int64            `json:"hourly_tokens_used"`
	HourlyCostUsed   float64          `json:"hourly_cost_used"`
	TotalTokensUsed  int64            `json:"total_tokens_used"`
	TotalCostUsed    float64          `json:"total_cost_used"`
	RunTokensUsed    map[string]int64 `json:"run_tokens_used"`
	WindowStartTime  time.Time        `json:"window_start_time"`
	ResetsIn         time.Duration    `json:"resets_in"`
	LastUpdated      time.Time        `json:"last_updated"`
	Config           Config           `json:"config"`
}

// GetStats returns current usage statistics
func (t *Tracker) GetStats() BudgetStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.checkAndResetWindow()

	runs := make(map[string]int64, len(t.state.RunTokensUsed))
	for k, v := range t.state.RunTokensUsed {
		runs[k] = v
	}
	status := BudgetHealthy
	if t.config.Enabled {
		status = t.statusLocked()
	}
	return BudgetStats{
		Status:           status,
		HourlyTokensUsed: t.state.HourlyTokensUsed,
		HourlyCostUsed:   t.state.HourlyCostUsed,
		TotalTokensUsed:  t.state.TotalTokensUsed,
		TotalCostUsed:    t.state.TotalCostUsed,
		RunTokensUsed:    runs,
		WindowStartTime:  t.state.WindowStartTime,
		ResetsIn:         max(time.Until(t.state.WindowStartTime.Add(t.config.BudgetResetInterval)), 0),
		LastUpdated:      t.state.LastUpdated,
		Config:           *t.config,
	}
}

// ResetRun forgets the per-run total for runKey.
func (t *Tracker) ResetRun(runKey string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.state.RunTokensUsed, runKey)
	if err := t.persistState(); err != nil {
		t.logger.Warn("failed to persist cost state", "error", err)
	}
}

func (t *Tracker) statusLocked() BudgetStatus {
	if t.isHourlyTokenLimitExceeded() || t.isHourlyCostLimitExceeded() {
		return BudgetExceeded
	}
	if t.config.MaxTokensPerHour > 0 &&
		float64(t.state.HourlyTokensUsed)/float64(t.config.MaxTokensPerHour) >= t.config.AlertThreshold {
		return BudgetWarning
	}
	if t.config.MaxCostPerHour > 0 && t.state.HourlyCostUsed/t.config.MaxCostPerHour >= t.config.AlertThreshold {
		return BudgetWarning
	}
	return BudgetHealthy
}

func (t *Tracker) isHourlyTokenLimitExceeded() bool {
	return t.config.MaxTokensPerHour > 0 && t.state.HourlyTokensUsed >= t.config.MaxTokensPerHour
}

func (t *Tracker) isHourlyCostLimitExceeded() bool {
	return t.config.MaxCostPerHour > 0 && t.state.HourlyCostUsed >= t.config.MaxCostPerHour
}

func (t *Tracker) isRunLimitExceeded(runKey string) bool {
	return t.config.MaxTokensPerRun > 0 && t.state.RunTokensUsed[runKey] >= t.config.MaxTokensPerRun
}

func (t *Tracker) calculateCost(inputTokens, outputTokens int64) float64 {
	inputCost := float64(inputTokens) * t.config.InputTokenCost / 1_000_000
	outputCost := float64(outputTokens) * t.config.OutputTokenCost / 1_000_000
	return inputCost + outputCost
}

// checkAndResetWindow must be called with the lock held (or before the
// tracker is shared).
func (t *Tracker) checkAndResetWindow() {
	now := time.Now()
	if now.Sub(t.state.WindowStartTime) >= t.config.BudgetResetInterval {
		t.state.HourlyTokensUsed = 0
		t.state.HourlyCostUsed = 0
		t.state.WindowStartTime = now
		t.warningLogged = false
	}
}

func (t *Tracker) persistState() error {
	if t.config.PersistStatePath == "" {
		return nil
	}

	data, err := json.MarshalIndent(t.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if dir := filepath.Dir(t.config.PersistStatePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create state directory: %w", err)
		}
	}
	if err := os.WriteFile(t.config.PersistStatePath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}

func (t *Tracker) loadState() error {
	data, err := os.ReadFile(t.config.PersistStatePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read state file: %w", err)
	}

	var state BudgetState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if state.RunTokensUsed == nil {
		state.RunTokensUsed = make(map[string]int64)
	}
	t.state = &state
	return nil
}

func (t *Tracker) emitAlertsIfNeeded(status BudgetStatus) {
	now := time.Now()

	switch status {
	case BudgetWarning:
		if !t.warningLogged && now.Sub(t.lastWarningTime) > 5*time.Minute {
			t.logger.Warn("cost budget warning",
				"hourly_tokens", t.state.HourlyTokensUsed, "max_tokens", t.config.MaxTokensPerHour,
				"hourly_cost", t.state.HourlyCostUsed, "max_cost", t.config.MaxCostPerHour)
			t.lastWarningTime = now
			t.warningLogged = true
		}

	case BudgetExceeded:
		if now.Sub(t.lastExceededTime) > 5*time.Minute {
			resetIn := time.Until(t.state.WindowStartTime.Add(t.config.BudgetResetInterval))
			t.logger.Error("cost budget exceeded, pausing AI calls until reset",
				"hourly_tokens", t.state.HourlyTokensUsed, "max_tokens", t.config.MaxTokensPerHour,
				"hourly_cost", t.state.HourlyCostUsed, "max_cost", t.config.MaxCostPerHour,
				"resets_in", resetIn.Round(time.Minute))
			t.lastExceededTime = now
		}
	}
}
