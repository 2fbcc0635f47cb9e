package cost

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.MaxTokensPerHour = 10000
	cfg.MaxTokensPerRun = 6000
	cfg.MaxCostPerHour = 0
	return cfg
}

func TestNewTracker_Validation(t *testing.T) {
	if _, err := NewTracker(nil, nil); err == nil {
		t.Error("expected error for nil config")
	}
	cfg := DefaultConfig()
	cfg.AlertThreshold = 1.5
	if _, err := NewTracker(cfg, nil); err == nil {
		t.Error("expected error for invalid alert threshold")
	}
}

func TestTracker_StatusTransitions(t *testing.T) {
	tr, err := NewTracker(testConfig(), quietLogger())
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	ctx := context.Background()

	status, _ := tr.RecordUsage(ctx, "novel-a", 3000, 1000)
	if status != BudgetHealthy {
		t.Errorf("status = %v, want HEALTHY", status)
	}

	status, _ = tr.RecordUsage(ctx, "novel-b", 3000, 1000)
	if status != BudgetWarning {
		t.Errorf("status = %v, want WARNING at 80%%", status)
	}
	if ok, _ := tr.CanProceed("novel-b"); !ok {
		t.Error("warning must not block calls")
	}

	status, _ = tr.RecordUsage(ctx, "novel-b", 2000, 0)
	if status != BudgetExceeded {
		t.Errorf("status = %v, want EXCEEDED", status)
	}
	ok, reason := tr.CanProceed("novel-c")
	if ok {
		t.Fatal("expected CanProceed to refuse over the hourly limit")
	}
	if !strings.Contains(reason, "hourly token budget") {
		t.Errorf("reason = %q", reason)
	}
	if tr.CheckBudget() != BudgetExceeded {
		t.Error("CheckBudget should report EXCEEDED")
	}
}

func TestTracker_PerRunLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTokensPerHour = 0
	tr, err := NewTracker(cfg, quietLogger())
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}

	tr.RecordUsage(context.Background(), "novel-a", 5000, 1000)
	ok, reason := tr.CanProceed("novel-a")
	if ok {
		t.Fatal("expected per-run limit to block novel-a")
	}
	if !strings.Contains(reason, "novel-a") {
		t.Errorf("reason should name the run: %q", reason)
	}
	if ok, _ := tr.CanProceed("novel-b"); !ok {
		t.Error("other runs must not be blocked")
	}

	tr.ResetRun("novel-a")
	if ok, _ := tr.CanProceed("novel-a"); !ok {
		t.Error("ResetRun should clear the per-run total")
	}
}

func TestTracker_CostCalculation(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTokensPerHour = 0
	cfg.MaxTokensPerRun = 0
	tr, _ := NewTracker(cfg, quietLogger())

	tr.RecordUsage(context.Background(), "", 1_000_000, 100_000)
	stats := tr.GetStats()
	want := 3.00 + 1.50
	if diff := stats.TotalCostUsed - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("TotalCostUsed = %v, want %v", stats.TotalCostUsed, want)
	}
	if stats.TotalTokensUsed != 1_100_000 {
		t.Errorf("TotalTokensUsed = %d", stats.TotalTokensUsed)
	}
	if len(stats.RunTokensUsed) != 0 {
		t.Errorf("empty run key must not be tracked: %v", stats.RunTokensUsed)
	}
}

func TestTracker_CostLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTokensPerHour = 0
	cfg.MaxTokensPerRun = 0
	cfg.MaxCostPerHour = 1.00
	tr, _ := NewTracker(cfg, quietLogger())

	tr.RecordUsage(context.Background(), "x", 0, 70_000) // $1.05
	ok, reason := tr.CanProceed("x")
	if ok || !strings.Contains(reason, "hourly cost budget") {
		t.Errorf("CanProceed = %v %q, want cost refusal", ok, reason)
	}
}

func TestTracker_WindowReset(t *testing.T) {
	cfg := testConfig()
	cfg.BudgetResetInterval = 20 * time.Millisecond
	tr, _ := NewTracker(cfg, quietLogger())

	tr.RecordUsage(context.Background(), "x", 10000, 0)
	if ok, _ := tr.CanProceed("y"); ok {
		t.Fatal("expected hourly limit to block")
	}
	time.Sleep(30 * time.Millisecond)
	if ok, reason := tr.CanProceed("y"); !ok {
		t.Errorf("window should have reset: %s", reason)
	}
	if got := tr.GetStats().TotalTokensUsed; got != 10000 {
		t.Errorf("totals survive the reset, got %d", got)
	}
}

func TestTracker_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	tr, _ := NewTracker(cfg, quietLogger())

	status, err := tr.RecordUsage(context.Background(), "x", 1_000_000, 0)
	if err != nil || status != BudgetHealthy {
		t.Errorf("disabled tracker: status=%v err=%v", status, err)
	}
	if ok, _ := tr.CanProceed("x"); !ok {
		t.Error("disabled tracker must always allow")
	}
}

func TestTracker_PersistsState(t *testing.T) {
	cfg := testConfig()
	cfg.PersistStatePath = filepath.Join(t.TempDir(), "state", "cost.json")

	tr, _ := NewTracker(cfg, quietLogger())
	tr.RecordUsage(context.Background(), "novel-a", 1200, 300)

	reloaded, err := NewTracker(cfg, quietLogger())
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	stats := reloaded.GetStats()
	if stats.TotalTokensUsed != 1500 {
		t.Errorf("TotalTokensUsed = %d, want 1500", stats.TotalTokensUsed)
	}
	if stats.RunTokensUsed["novel-a"] != 1500 {
		t.Errorf("RunTokensUsed = %v", stats.RunTokensUsed)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("QUILL_COST_MAX_TOKENS_PER_HOUR", "1234")
	t.Setenv("QUILL_COST_MAX_TOKENS_PER_RUN", "not-a-number")
	t.Setenv("QUILL_COST_ALERT_THRESHOLD", "0.5")
	t.Setenv("QUILL_COST_ENABLED", "off")
	t.Setenv("QUILL_COST_BUDGET_RESET_INTERVAL", "30m")

	cfg := LoadFromEnv()
	if cfg.MaxTokensPerHour != 1234 {
		t.Errorf("MaxTokensPerHour = %d", cfg.MaxTokensPerHour)
	}
	if cfg.MaxTokensPerRun != DefaultConfig().MaxTokensPerRun {
		t.Errorf("unparseable value should be ignored, got %d", cfg.MaxTokensPerRun)
	}
	if cfg.AlertThreshold != 0.5 {
		t.Errorf("AlertThreshold = %v", cfg.AlertThreshold)
	}
	if cfg.Enabled {
		t.Error("Enabled should be false")
	}
	if cfg.BudgetResetInterval != 30*time.Minute {
		t.Errorf("BudgetResetInterval = %v", cfg.BudgetResetInterval)
	}
}

func TestBudgetStatusString(t *testing.T) {
	for status, want := range map[BudgetStatus]string{
		BudgetHealthy:   "HEALTHY",
		BudgetWarning:   "WARNING",
		BudgetExceeded:  "EXCEEDED",
		BudgetStatus(7): "UNKNOWN(7)",
	} {
		if got := status.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(status), got, want)
		}
	}
}
