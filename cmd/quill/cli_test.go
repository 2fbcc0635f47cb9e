package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/quill/internal/ai"
	"github.com/steveyegge/quill/internal/config"
	"github.com/steveyegge/quill/internal/contextbudget"
	"github.com/steveyegge/quill/internal/cost"
	"github.com/steveyegge/quill/internal/gates"
	"github.com/steveyegge/quill/internal/iterative"
	"github.com/steveyegge/quill/internal/storage"
	"github.com/steveyegge/quill/internal/storage/sqlite"
	"github.com/steveyegge/quill/internal/types"
)

// scriptedCaller answers every model call with the same text
type scriptedCaller struct {
	mu    sync.Mutex
	text  string
	calls int
}

func (c *scriptedCaller) CallAI(ctx context.Context, prompt, operation string, maxTokens int) (string, ai.Usage, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.text, ai.Usage{InputTokens: 120, OutputTokens: 30}, nil
}

func testDocument() *types.Document {
	return &types.Document{
		ID:    "salt-road",
		Title: "The Salt Road",
		Sections: []types.Section{
			{ID: "arrival", Number: 1, Title: "Arrival", Content: "Mira reaches the coast at dusk."},
			{ID: "market", Number: 2, Title: "Market", Content: "She trades salt for a torn map."},
		},
	}
}

// useTestGlobals installs the package globals a command would set up
func useTestGlobals(t *testing.T) {
	t.Helper()
	prevCfg, prevLogger := cfg, logger
	cfg = config.Default()
	cfg.History.DBPath = filepath.Join(t.TempDir(), "history.db")
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	t.Cleanup(func() { cfg, logger = prevCfg, prevLogger })
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := newLogger(&buf, "info", true)
	require.NoError(t, err)
	l.Debug("hidden")
	l.Info("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	l, err = newLogger(&buf, "", false)
	require.NoError(t, err)
	l.Info("below warn")
	assert.Empty(t, buf.String())

	_, err = newLogger(&buf, "loud", false)
	assert.Error(t, err)
}

func TestOptimizedPath(t *testing.T) {
	assert.Equal(t, "novel.optimized.yaml", optimizedPath("novel.yaml"))
	assert.Equal(t, filepath.Join("drafts", "v2.optimized.json"), optimizedPath(filepath.Join("drafts", "v2.json")))
	assert.Equal(t, "notes.optimized", optimizedPath("notes"))
}

func TestCostStatePath(t *testing.T) {
	assert.Equal(t, filepath.Join("data", "cost.json"), costStatePath(filepath.Join("data", "history.db")))
}

func TestMaybeWrite(t *testing.T) {
	before := testDocument()
	after := before.Clone()
	after.Sections[1].Content = "She trades salt for a map that is missing its south edge."

	answer := func(s string) gates.Prompter {
		return gates.PrompterFunc(func(string) (string, error) { return s, nil })
	}

	t.Run("auto approve writes the default path", func(t *testing.T) {
		docPath := filepath.Join(t.TempDir(), "novel.yaml")
		var out bytes.Buffer
		err := maybeWrite(&out, answer("n"), before, after, docPath, &runFlags{yes: true}, "tension: 60 → 75")
		require.NoError(t, err)

		saved, err := types.LoadDocument(optimizedPath(docPath))
		require.NoError(t, err)
		assert.Equal(t, after.Sections[1].Content, saved.Sections[1].Content)
		assert.Contains(t, out.String(), "Wrote")
	})

	t.Run("rejected discards", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "out.json")
		var out bytes.Buffer
		err := maybeWrite(&out, answer("n"), before, after, "novel.json", &runFlags{out: path}, "summary")
		require.NoError(t, err)
		assert.Contains(t, out.String(), "Discarded.")
		_, statErr := os.Stat(path)
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("approved after viewing changes", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "out.json")
		replies := []string{"d", "y"}
		prompter := gates.PrompterFunc(func(string) (string, error) {
			r := replies[0]
			replies = replies[1:]
			return r, nil
		})
		var out bytes.Buffer
		err := maybeWrite(&out, prompter, before, after, "novel.json", &runFlags{out: path}, "summary")
		require.NoError(t, err)
		assert.Contains(t, out.String(), "1 changed, 0 added")
		assert.Contains(t, out.String(), "#2 Market")
		_, statErr := os.Stat(path)
		assert.NoError(t, statErr)
	})

	t.Run("prompt error is returned", func(t *testing.T) {
		failing := gates.PrompterFunc(func(string) (string, error) { return "", errors.New("tty gone") })
		err := maybeWrite(io.Discard, failing, before, after, "novel.json", &runFlags{out: filepath.Join(t.TempDir(), "x.json")}, "summary")
		assert.ErrorContains(t, err, "tty gone")
	})

	t.Run("dry run and unchanged documents write nothing", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, maybeWrite(io.Discard, answer("y"), before, after, filepath.Join(dir, "a.yaml"), &runFlags{dryRun: true, yes: true}, "s"))

		var out bytes.Buffer
		require.NoError(t, maybeWrite(&out, answer("y"), before, before.Clone(), filepath.Join(dir, "b.yaml"), &runFlags{yes: true}, "s"))
		assert.Contains(t, out.String(), "No changes to write.")

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

func TestOptimizeOnce_RecordsRunAndEvents(t *testing.T) {
	useTestGlobals(t)
	ctx := context.Background()

	caller := &scriptedCaller{text: `{"overall_score": 91, "summary": "Already taut."}`}
	opt, err := buildOptimizer(caller, cfg, logger)
	require.NoError(t, err)

	store, err := sqlite.New(cfg.History.DBPath)
	require.NoError(t, err)
	defer store.Close()

	var out bytes.Buffer
	doc := testDocument()
	result := optimizeOnce(ctx, opt, store, doc, "novel.yaml", types.CategoryTension, nil, &runFlags{}, &out)

	require.NoError(t, result.Err)
	assert.Equal(t, iterative.StopAlreadyAtTarget, result.StopReason)
	assert.True(t, result.Success)
	assert.Equal(t, 0, result.Iterations)
	assert.Equal(t, doc.Sections, result.Document.Sections)

	run, err := store.GetRun(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, "novel.yaml", run.DocumentPath)
	assert.Equal(t, "tension", run.Category)
	assert.Equal(t, 91.0, run.FinalScore)
	assert.Equal(t, string(iterative.StopAlreadyAtTarget), run.StopReason)

	evs, err := store.ListEvents(ctx, result.RunID)
	require.NoError(t, err)
	require.NotEmpty(t, evs)
	assert.Equal(t, "run_completed", evs[len(evs)-1].Type)

	assert.Contains(t, out.String(), "baseline_assessed")

	agg := opt.metrics.GetAggregateMetrics()
	assert.Equal(t, 1, agg.TotalRuns)
}

func TestOptimizeOnce_QuietWithoutHistory(t *testing.T) {
	useTestGlobals(t)

	caller := &scriptedCaller{text: `{"overall_score": 95}`}
	opt, err := buildOptimizer(caller, cfg, logger)
	require.NoError(t, err)

	var out bytes.Buffer
	result := optimizeOnce(context.Background(), opt, nil, testDocument(), "novel.yaml", types.CategoryPacing, nil, &runFlags{quiet: true, target: 90}, &out)
	require.NoError(t, result.Err)
	assert.Equal(t, 90.0, result.TargetScore)
	assert.Empty(t, out.String())
}

func TestPrintResult_FailedRun(t *testing.T) {
	var out bytes.Buffer
	printResult(&out, &iterative.Result{
		Category:     types.CategoryHook,
		StopReason:   iterative.StopFailed,
		TargetScore:  80,
		ScoreHistory: []float64{52},
		Message:      "assessment failed",
		Duration:     1500 * time.Millisecond,
	})
	s := out.String()
	assert.Contains(t, s, "=== HOOK ===")
	assert.Contains(t, s, "✗ failed (failed)")
	assert.Contains(t, s, "History:     52.0")
	assert.Contains(t, s, "Duration:    1.5s")
}

func TestPruneHistory(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer store.Close()

	now := time.Now()
	for i, age := range []time.Duration{0, time.Hour, 2 * time.Hour, 40 * 24 * time.Hour} {
		require.NoError(t, store.RecordRun(ctx, &storage.RunRecord{
			ID:        string(rune('a' + i)),
			Category:  "tension",
			CreatedAt: now.Add(-age),
		}))
	}

	deleted, err := pruneHistory(ctx, store, 30, 2, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	runs, _, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, runs)
}

func TestFormatTokens(t *testing.T) {
	tests := map[int64]string{
		0:         "0",
		999:       "999",
		1500:      "1.5K",
		250000:    "250.0K",
		1_250_000: "1.25M",
	}
	for in, want := range tests {
		if got := formatTokens(in); got != want {
			t.Errorf("formatTokens(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestRenderProgressBar(t *testing.T) {
	assert.Equal(t, "[█████░░░░░]", renderProgressBar(50, 10))
	assert.Equal(t, "[░░░░░░░░░░]", renderProgressBar(-5, 10))
	assert.Equal(t, "[██████████]", renderProgressBar(250, 10))
}

func TestPrintCostStats(t *testing.T) {
	budget := cost.DefaultConfig()
	budget.MaxTokensPerRun = 10_000
	var out bytes.Buffer
	printCostStats(&out, cost.BudgetStats{
		Status:           cost.BudgetWarning,
		HourlyTokensUsed: 420_000,
		TotalTokensUsed:  1_200_000,
		TotalCostUsed:    6,
		RunTokensUsed:    map[string]int64{"salt-road": 9000, "tide-house": 3000, "small": 10},
		Config:           *budget,
	}, 2)

	s := out.String()
	assert.Contains(t, s, "420.0K / 500.0K (84.0%)")
	assert.Contains(t, s, "$5.00 per 1M tokens")
	assert.Contains(t, s, "(not persisted)")
	assert.Less(t, strings.Index(s, "salt-road"), strings.Index(s, "tide-house"))
	assert.NotContains(t, s, "small")
}

func TestPrintEstimate(t *testing.T) {
	var out bytes.Buffer
	printEstimate(&out, contextbudget.NewManager(contextbudget.DefaultConfig()), testDocument(), 100_000)
	s := out.String()
	assert.Contains(t, s, "=== The Salt Road ===")
	assert.Contains(t, s, "Reduction tiers:")
	assert.Contains(t, s, "Budget 100.0K")
}
