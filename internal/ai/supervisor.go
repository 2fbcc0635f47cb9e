package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/steveyegge/quill/internal/contextbudget"
	"github.com/steveyegge/quill/internal/types"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ModelSonnet is the default model for assessment, rewriting and judging.
//
// Environment variable override:
// - QUILL_MODEL_DEFAULT: Override default model (default: Sonnet)
const ModelSonnet = "claude-sonnet-4-5-20250929"

// DefaultMaxPromptTokens is a little under the model's context window so
// the response still fits.
const DefaultMaxPromptTokens = 180000

// GetDefaultModel returns the default model, checking QUILL_MODEL_DEFAULT env var first
func GetDefaultModel() string {
	if model := os.Getenv("QUILL_MODEL_DEFAULT"); model != "" {
		return model
	}
	return ModelSonnet
}

// ErrBudgetExceeded is returned when the cost tracker refuses a call.
var ErrBudgetExceeded = errors.New("AI budget exceeded")

// Usage is the token accounting of one call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	Duration     time.Duration
	Model        string
}

// Caller is the narrow interface the collaborators use to reach the model.
// Supervisor implements it; tests substitute scripted callers.
type Caller interface {
	CallAI(ctx context.Context, prompt, operation string, maxTokens int) (string, Usage, error)
}

// CostTracker defines the interface for cost budgeting.
// This allows dependency injection and testing without circular imports
type CostTracker interface {
	// RecordUsage records token usage against a key (usually the document ID)
	// Returns budget status (as interface{} to avoid circular dependencies) and error
	RecordUsage(ctx context.Context, key string, inputTokens, outputTokens int64) (interface{}, error)
	// CanProceed checks if we can make another AI call within budget
	CanProceed(key string) (bool, string)
}

// Supervisor owns the Anthropic client and everything that guards it:
// retries with backoff, a circuit breaker, a concurrency cap, request
// pacing, a prompt size limit and optional cost tracking.
//
// The responsibilities are spread across files:
// - supervisor.go: client, config and CallAI (this file)
// - retry.go: error classification, circuit breaker and retry loop
// - json_parser.go: tolerant JSON extraction from model output
// - assessor.go, executor.go, judge.go: the collaborators built on CallAI
type Supervisor struct {
	send            func(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error)
	model           string
	retry           RetryConfig
	circuitBreaker  *CircuitBreaker
	concurrencySem  *semaphore.Weighted
	limiter         *rate.Limiter
	costTracker     CostTracker
	estimator       contextbudget.Estimator
	maxPromptTokens int
	logger          *slog.Logger
}

var _ Caller = (*Supervisor)(nil)

// Config holds supervisor configuration
type Config struct {
	APIKey      string      // Anthropic API key (if empty, reads from ANTHROPIC_API_KEY env var)
	Model       string      // Model to use (default: GetDefaultModel())
	Retry       RetryConfig // Retry configuration (uses defaults if not specified)
	CostTracker CostTracker // Optional cost tracker for budget enforcement

	// RequestsPerMinute paces calls (0 = unpaced).
	RequestsPerMinute float64

	// MaxPromptTokens rejects larger prompts before sending them
	// (default: DefaultMaxPromptTokens, negative disables the check).
	MaxPromptTokens int

	Logger *slog.Logger
}

// NewSupervisor creates a new AI supervisor
func NewSupervisor(cfg *Config) (*Supervisor, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
	}

	model := cfg.Model
	if model == "" {
		model = GetDefaultModel()
	}

	// Use default retry config if not specified
	retry := cfg.Retry
	if retry.MaxRetries == 0 {
		retry = DefaultRetryConfig()
	}

	maxPrompt := cfg.MaxPromptTokens
	if maxPrompt == 0 {
		maxPrompt = DefaultMaxPromptTokens
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "ai")

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	s := &Supervisor{
		send: func(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
			return client.Messages.New(ctx, params)
		},
		model:           model,
		retry:           retry,
		costTracker:     cfg.CostTracker,
		estimator:       contextbudget.CharEstimator{},
		maxPromptTokens: maxPrompt,
		logger:          logger,
	}

	if retry.CircuitBreakerEnabled {
		s.circuitBreaker = NewCircuitBreaker(retry.FailureThreshold, retry.SuccessThreshold, retry.OpenTimeout)
		s.circuitBreaker.logger = logger
		logger.Debug("circuit breaker initialized", "threshold", retry.FailureThreshold,
			"recovery", retry.SuccessThreshold, "timeout", retry.OpenTimeout)
	}
	if retry.MaxConcurrentCalls > 0 {
		s.concurrencySem = semaphore.NewWeighted(int64(retry.MaxConcurrentCalls))
	}
	if cfg.RequestsPerMinute > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerMinute/60), 1)
	}
	return s, nil
}

// Model is the model requests are sent to.
func (s *Supervisor) Model() string {
	return s.model
}

// HealthCheck returns an error while the circuit breaker is open.
func (s *Supervisor) HealthCheck(ctx context.Context) error {
	if s.circuitBreaker != nil {
		state, failures, _ := s.circuitBreaker.GetMetrics()
		if state == CircuitOpen {
			return fmt.Errorf("AI supervisor unavailable: %w (failures=%d, retry in %v)",
				ErrCircuitOpen, failures, s.retry.OpenTimeout)
		}
	}
	return nil
}

type costKeyCtx struct{}

// WithCostKey attributes AI usage made with ctx to key.
func WithCostKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, costKeyCtx{}, key)
}

func costKey(ctx context.Context) string {
	if key, ok := ctx.Value(costKeyCtx{}).(string); ok && key != "" {
		return key
	}
	return "quill"
}

// CallAI sends one prompt and returns the concatenated text of the reply.
// Prompts over the size limit and context-window rejections come back as
// *types.ResourceExceededError.
func (s *Supervisor) CallAI(ctx context.Context, prompt, operation string, maxTokens int) (string, Usage, error) {
	start := time.Now()
	usage := Usage{Model: s.model}

	if maxTokens == 0 {
		maxTokens = 4096
	}

	if s.maxPromptTokens > 0 {
		if est := s.estimator.Estimate(prompt); est > s.maxPromptTokens {
			return "", usage, &types.ResourceExceededError{Op: operation, Estimated: est, Limit: s.maxPromptTokens}
		}
	}

	key := costKey(ctx)
	if s.costTracker != nil {
		if ok, reason := s.costTracker.CanProceed(key); !ok {
			return "", usage, fmt.Errorf("%s: %w: %s", operation, ErrBudgetExceeded, reason)
		}
	}

	var response *anthropic.Message
	err := s.retryWithBackoff(ctx, operation, func(attemptCtx context.Context) error {
		if s.limiter != nil {
			if err := s.limiter.Wait(attemptCtx); err != nil {
				return err
			}
		}
		resp, apiErr := s.send(attemptCtx, anthropic.MessageNewParams{
			Model:     anthropic.Model(s.model),
			MaxTokens: int64(maxTokens),
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if apiErr != nil {
			return apiErr
		}
		response = resp
		return nil
	})
	if err != nil {
		return "", usage, err
	}

	var text strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	usage.InputTokens = response.Usage.InputTokens
	usage.OutputTokens = response.Usage.OutputTokens
	usage.Duration = time.Since(start)

	if s.costTracker != nil {
		if _, err := s.costTracker.RecordUsage(ctx, key, usage.InputTokens, usage.OutputTokens); err != nil {
			s.logger.Warn("failed to record AI usage", "operation", operation, "error", err)
		}
	}

	s.logger.Debug("AI call", "operation", operation, "input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens, "duration", usage.Duration)
	return text.String(), usage, nil
}
