package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/steveyegge/quill/internal/types"
)

// RetryConfig holds retry configuration for API calls
type RetryConfig struct {
	MaxRetries        int           // Maximum number of retries (default: 3)
	InitialBackoff    time.Duration // Initial backoff duration (default: 1s)
	MaxBackoff        time.Duration // Maximum backoff duration (default: 30s)
	BackoffMultiplier float64       // Backoff multiplier (default: 2.0)
	Timeout           time.Duration // Per-request timeout (default: 120s)

	// Circuit breaker settings
	CircuitBreakerEnabled bool          // Enable circuit breaker (default: true)
	FailureThreshold      int           // Weighted failures before opening circuit (default: 5)
	SuccessThreshold      int           // Successes in half-open before closing (default: 2)
	OpenTimeout           time.Duration // How long to keep circuit open (default: 30s)

	// MaxConcurrentCalls caps in-flight API calls (default: 3, 0 = unlimited)
	MaxConcurrentCalls int

	// MaxQuotaWait is the longest a quota error may pause a call before it
	// fails instead (default: 15m, QUILL_MAX_QUOTA_WAIT, capped at 24h)
	MaxQuotaWait time.Duration
}

const (
	defaultMaxQuotaWait = 15 * time.Minute
	maxQuotaWaitCap     = 24 * time.Hour
	// defaultQuotaWait is assumed when a 429 carries no retry hint
	defaultQuotaWait = time.Hour
)

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:            3,
		InitialBackoff:        1 * time.Second,
		MaxBackoff:            30 * time.Second,
		BackoffMultiplier:     2.0,
		Timeout:               120 * time.Second,
		CircuitBreakerEnabled: true,
		FailureThreshold:      5,
		SuccessThreshold:      2,
		OpenTimeout:           30 * time.Second,
		MaxConcurrentCalls:    3,
		MaxQuotaWait:          maxQuotaWaitFromEnv(),
	}
}

func maxQuotaWaitFromEnv() time.Duration {
	v := os.Getenv("QUILL_MAX_QUOTA_WAIT")
	if v == "" {
		return defaultMaxQuotaWait
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return defaultMaxQuotaWait
	}
	return min(d, maxQuotaWaitCap)
}

// ErrorType classifies API failures for retry and circuit breaker decisions.
type ErrorType int

const (
	ErrorUnknown   ErrorType = iota // Unrecognized; not retried
	ErrorTransient                  // 5xx, timeouts, connection resets; retried with backoff
	ErrorQuota                      // 429 / quota; retried after the advertised wait
	ErrorInvalid                    // 4xx request errors; never retried
	ErrorAuth                       // 401/403; never retried
	ErrorTooLarge                   // prompt exceeds the context window; never retried
)

func (e ErrorType) String() string {
	switch e {
	case ErrorTransient:
		return "TRANSIENT"
	case ErrorQuota:
		return "QUOTA"
	case ErrorInvalid:
		return "INVALID"
	case ErrorAuth:
		return "AUTH"
	case ErrorTooLarge:
		return "TOO_LARGE"
	default:
		return "UNKNOWN"
	}
}

// failureWeight is how much one failure of type e counts toward the
// circuit breaker threshold.
func (e ErrorType) failureWeight() int {
	switch e {
	case ErrorQuota:
		return 3
	case ErrorTransient, ErrorUnknown:
		return 1
	default:
		return 0
	}
}

var (
	retryInRegex    = regexp.MustCompile(`(?i)(?:try again in|wait)\s+(\d+)\s*(second|minute|hour)s?`)
	retryAfterRegex = regexp.MustCompile(`(?i)retry[-_]after"?\s*[:=]?\s*(\d+)`)
)

// parseRetryAfterFromMessage extracts a wait hint such as "try again in 12
// minutes" or "retry_after: 600" from an error message.
func parseRetryAfterFromMessage(msg string) time.Duration {
	if m := retryInRegex.FindStringSubmatch(msg); m != nil {
		n, _ := strconv.Atoi(m[1])
		switch strings.ToLower(m[2]) {
		case "second":
			return time.Duration(n) * time.Second
		case "minute":
			return time.Duration(n) * time.Minute
		case "hour":
			return time.Duration(n) * time.Hour
		}
	}
	if m := retryAfterRegex.FindStringSubmatch(msg); m != nil {
		n, _ := strconv.Atoi(m[1])
		return time.Duration(n) * time.Second
	}
	return 0
}

// parseRetryAfterHeader reads Retry-After as seconds or an HTTP date.
func parseRetryAfterHeader(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// classifyError maps an error to its ErrorType and, for quota errors, the
// time to wait before retrying.
func classifyError(err error) (ErrorType, time.Duration) {
	if err == nil {
		return ErrorUnknown, 0
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch code := apiErr.StatusCode; {
		case code == http.StatusTooManyRequests:
			wait := defaultQuotaWait
			if apiErr.Response != nil {
				if d := parseRetryAfterHeader(apiErr.Response.Header.Get("Retry-After")); d > 0 {
					wait = d
				}
			}
			return ErrorQuota, wait
		case code == http.StatusRequestEntityTooLarge:
			return ErrorTooLarge, 0
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			return ErrorAuth, 0
		case code == http.StatusBadRequest:
			if isPromptTooLong(apiErr.RawJSON()) {
				return ErrorTooLarge, 0
			}
			return ErrorInvalid, 0
		case code >= 500 || code == http.StatusRequestTimeout || code == 529:
			return ErrorTransient, 0
		case code >= 400:
			return ErrorInvalid, 0
		}
		return ErrorUnknown, 0
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTransient, 0
	}

	msg := strings.ToLower(err.Error())
	switch {
	case isPromptTooLong(msg) || strings.Contains(msg, "413"):
		return ErrorTooLarge, 0
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "quota"):
		wait := parseRetryAfterFromMessage(msg)
		if wait == 0 {
			wait = defaultQuotaWait
		}
		return ErrorQuota, wait
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") ||
		strings.Contains(msg, "unauthorized") || strings.Contains(msg, "invalid x-api-key"):
		return ErrorAuth, 0
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") || strings.Contains(msg, "504") || strings.Contains(msg, "529") ||
		strings.Contains(msg, "internal server error") || strings.Contains(msg, "bad gateway") ||
		strings.Contains(msg, "service unavailable") || strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "timeout") || strings.Contains(msg, "temporary failure"):
		return ErrorTransient, 0
	case strings.Contains(msg, "400") || strings.Contains(msg, "404"):
		return ErrorInvalid, 0
	}
	return ErrorUnknown, 0
}

func isPromptTooLong(body string) bool {
	body = strings.ToLower(body)
	return strings.Contains(body, "prompt is too long") || strings.Contains(body, "context window") ||
		strings.Contains(body, "too many tokens")
}

// isRetriableError reports whether err is worth another attempt.
func isRetriableError(err error) bool {
	t, _ := classifyError(err)
	return t == ErrorTransient || t == ErrorQuota
}

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation, requests pass through
	CircuitOpen                         // Too many failures, block requests (fail fast)
	CircuitHalfOpen                     // Testing recovery, allow limited requests
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "CLOSED"
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrCircuitOpen is returned when the circuit breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker stops calling a failing API until it has had time to recover.
type CircuitBreaker struct {
	mu sync.Mutex

	state            CircuitState
	failureCount     int
	successCount     int
	lastFailureTime  time.Time
	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
	logger           *slog.Logger
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(failureThreshold, successThreshold int, openTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:            CircuitClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		openTimeout:      openTimeout,
		logger:           slog.Default(),
	}
}

// Allow returns ErrCircuitOpen while the circuit is open and the open
// timeout has not elapsed.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed, CircuitHalfOpen:
		return nil
	case CircuitOpen:
		if time.Since(cb.lastFailureTime) > cb.openTimeout {
			cb.transition(CircuitHalfOpen)
			return nil
		}
	}
	return ErrCircuitOpen
}

// RecordSuccess records a successful request
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failureCount = 0
	case CircuitHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.transition(CircuitClosed)
		}
	}
}

// RecordFailure records a failed request of unknown type
func (cb *CircuitBreaker) RecordFailure() {
	cb.recordFailureWithType(ErrorUnknown)
}

func (cb *CircuitBreaker) recordFailureWithType(t ErrorType) {
	weight := t.failureWeight()
	if weight == 0 {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailureTime = time.Now()
	switch cb.state {
	case CircuitClosed:
		cb.failureCount += weight
		if cb.failureCount >= cb.failureThreshold {
			cb.transition(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.transition(CircuitOpen)
	}
}

// GetState returns the current state (for testing/monitoring)
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// GetMetrics returns current metrics (for monitoring/logging)
func (cb *CircuitBreaker) GetMetrics() (state CircuitState, failures, successes int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state, cb.failureCount, cb.successCount
}

// transition must be called with the lock held.
func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	cb.successCount = 0
	if to == CircuitClosed {
		cb.failureCount = 0
	}
	cb.logger.Info("circuit breaker state transition", "from", from, "to", to,
		"failures", cb.failureCount, "open_timeout", cb.openTimeout)
}

// retryWithBackoff executes an operation with retry and exponential backoff.
// Quota errors wait for the advertised time when it is within MaxQuotaWait.
// Context-window rejections are returned as *types.ResourceExceededError.
func (s *Supervisor) retryWithBackoff(ctx context.Context, operation string, fn func(context.Context) error) error {
	if s.concurrencySem != nil {
		if err := s.concurrencySem.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("failed to acquire concurrency slot for %s: %w", operation, err)
		}
		defer s.concurrencySem.Release(1)
	}

	var lastErr error
	backoff := s.retry.InitialBackoff

	for attempt := 0; attempt <= s.retry.MaxRetries; attempt++ {
		if s.circuitBreaker != nil {
			if err := s.circuitBreaker.Allow(); err != nil {
				state, failures, _ := s.circuitBreaker.GetMetrics()
				s.logger.Warn("AI call blocked by circuit breaker", "operation", operation,
					"state", state, "failures", failures)
				return fmt.Errorf("%s failed: %w", operation, err)
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, s.retry.Timeout)
		err := fn(attemptCtx)
		cancel()

		if err == nil {
			if s.circuitBreaker != nil {
				s.circuitBreaker.RecordSuccess()
			}
			if attempt > 0 {
				s.logger.Info("AI call succeeded after retries", "operation", operation, "retries", attempt)
			}
			return nil
		}
		lastErr = err

		// a cancelled caller is not an API failure
		if ctx.Err() != nil {
			return fmt.Errorf("%s failed: %w", operation, ctx.Err())
		}

		errType, wait := classifyError(err)
		if s.circuitBreaker != nil {
			s.circuitBreaker.recordFailureWithType(errType)
		}

		switch errType {
		case ErrorTooLarge:
			return &types.ResourceExceededError{Op: operation, Err: err}
		case ErrorTransient:
		case ErrorQuota:
			if wait > s.retry.MaxQuotaWait {
				return fmt.Errorf("%s failed: quota wait %v exceeds limit %v: %w", operation, wait, s.retry.MaxQuotaWait, err)
			}
		default:
			s.logger.Warn("AI call failed with non-retriable error", "operation", operation,
				"type", errType, "error", err)
			return fmt.Errorf("%s failed: %w", operation, err)
		}

		if attempt == s.retry.MaxRetries {
			break
		}

		delay := backoff
		if errType == ErrorQuota && wait > 0 {
			delay = wait
		}
		s.logger.Warn("AI call failed, retrying", "operation", operation, "attempt", attempt+1,
			"max_attempts", s.retry.MaxRetries+1, "type", errType, "delay", delay, "error", err)

		select {
		case <-time.After(delay):
			backoff = min(time.Duration(float64(backoff)*s.retry.BackoffMultiplier), s.retry.MaxBackoff)
		case <-ctx.Done():
			return fmt.Errorf("%s failed: context canceled during backoff: %w", operation, ctx.Err())
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operation, s.retry.MaxRetries+1, lastErr)
}
