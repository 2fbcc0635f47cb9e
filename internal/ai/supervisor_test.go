package ai

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/steveyegge/quill/internal/contextbudget"
	"github.com/steveyegge/quill/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"
)

type sendFunc func(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestSupervisor builds a Supervisor around send without touching the network.
func newTestSupervisor(send sendFunc) *Supervisor {
	retry := DefaultRetryConfig()
	retry.MaxRetries = 2
	retry.InitialBackoff = time.Millisecond
	retry.MaxBackoff = 5 * time.Millisecond
	retry.Timeout = time.Second
	retry.MaxQuotaWait = 15 * time.Minute

	logger := quietLogger()
	cb := NewCircuitBreaker(retry.FailureThreshold, retry.SuccessThreshold, retry.OpenTimeout)
	cb.logger = logger
	return &Supervisor{
		send:            send,
		model:           ModelSonnet,
		retry:           retry,
		circuitBreaker:  cb,
		concurrencySem:  semaphore.NewWeighted(int64(retry.MaxConcurrentCalls)),
		estimator:       contextbudget.CharEstimator{},
		maxPromptTokens: DefaultMaxPromptTokens,
		logger:          logger,
	}
}

func textMessage(text string, in, out int64) *anthropic.Message {
	return &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{{Type: "text", Text: text}},
		Usage:   anthropic.Usage{InputTokens: in, OutputTokens: out},
	}
}

type mockCostTracker struct {
	mu      sync.Mutex
	allow   bool
	reason  string
	records []string
	tokens  int64
}

func (m *mockCostTracker) RecordUsage(ctx context.Context, key string, in, out int64) (interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, key)
	m.tokens += in + out
	return nil, nil
}

func (m *mockCostTracker) CanProceed(key string) (bool, string) {
	return m.allow, m.reason
}

func TestNewSupervisor(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := NewSupervisor(&Config{})
	require.Error(t, err)

	s, err := NewSupervisor(&Config{APIKey: "test-key", RequestsPerMinute: 60, Logger: quietLogger()})
	require.NoError(t, err)
	assert.Equal(t, GetDefaultModel(), s.Model())
	assert.NotNil(t, s.circuitBreaker)
	assert.NotNil(t, s.limiter)
	assert.Equal(t, DefaultMaxPromptTokens, s.maxPromptTokens)

	t.Setenv("QUILL_MODEL_DEFAULT", "claude-test")
	assert.Equal(t, "claude-test", GetDefaultModel())
}

func TestCallAI(t *testing.T) {
	var got anthropic.MessageNewParams
	s := newTestSupervisor(func(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
		got = params
		return textMessage(`{"ok": true}`, 120, 30), nil
	})
	tracker := &mockCostTracker{allow: true}
	s.costTracker = tracker

	ctx := WithCostKey(context.Background(), "novel-1")
	text, usage, err := s.CallAI(ctx, "score this", "assess", 0)
	require.NoError(t, err)
	assert.Equal(t, `{"ok": true}`, text)
	assert.Equal(t, int64(120), usage.InputTokens)
	assert.Equal(t, int64(30), usage.OutputTokens)
	assert.Equal(t, int64(4096), got.MaxTokens)
	assert.Equal(t, anthropic.Model(ModelSonnet), got.Model)
	assert.Equal(t, []string{"novel-1"}, tracker.records)
	assert.Equal(t, int64(150), tracker.tokens)
}

func TestCallAI_PromptTooLarge(t *testing.T) {
	called := false
	s := newTestSupervisor(func(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
		called = true
		return textMessage("", 0, 0), nil
	})
	s.maxPromptTokens = 10

	_, _, err := s.CallAI(context.Background(), strings.Repeat("word ", 100), "assess", 0)
	require.Error(t, err)
	assert.True(t, types.IsResourceExceeded(err))
	var re *types.ResourceExceededError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 10, re.Limit)
	assert.Greater(t, re.Estimated, 10)
	assert.False(t, called)
}

func TestCallAI_BudgetExceeded(t *testing.T) {
	s := newTestSupervisor(func(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
		t.Fatal("send must not be called over budget")
		return nil, nil
	})
	s.costTracker = &mockCostTracker{allow: false, reason: "hourly token limit reached"}

	_, _, err := s.CallAI(context.Background(), "hello", "assess", 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBudgetExceeded)
	assert.Contains(t, err.Error(), "hourly token limit")
}

func TestCallAI_RetriesThenSucceeds(t *testing.T) {
	attempts := 0
	s := newTestSupervisor(func(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("HTTP 500: internal server error")
		}
		return textMessage("done", 1, 1), nil
	})

	text, _, err := s.CallAI(context.Background(), "hello", "rewrite", 100)
	require.NoError(t, err)
	assert.Equal(t, "done", text)
	assert.Equal(t, 2, attempts)
}
