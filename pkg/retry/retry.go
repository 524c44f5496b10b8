// Package retry implements the transient-error backoff, cache-busting retry,
// and ordered model-fallback logic used around every LLM call: exponential
// backoff with jitter for rate-limit/connection/server/timeout errors, a
// request-id cache-busting prefix to escape a bad cached response, and a
// fallback chain across models where each model gets its own retry budget.
package retry

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"time"
)

// ModelError wraps an error encountered while querying a specific model,
// preserving which model and task were involved.
type ModelError struct {
	Model string
	Task  string
	Err   error
}

func (e *ModelError) Error() string {
	if e.Task != "" {
		return fmt.Sprintf("model %q (task %q): %v", e.Model, e.Task, e.Err)
	}
	return fmt.Sprintf("model %q: %v", e.Model, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }

// Category labels a transient error for logging/metrics.
type Category string

const (
	CategoryRateLimit Category = "rate limit"
	CategoryConnection Category = "connection"
	CategoryServer     Category = "server"
	CategoryTimeout    Category = "timeout"
	CategoryNone       Category = ""
)

// Classify inspects an error's message (case-insensitively) to decide
// whether it looks like a transient failure worth retrying, mirroring the
// substring classification in the Python reference implementation's
// make_api_call_with_retry.
func Classify(err error) (Category, bool) {
	if err == nil {
		return CategoryNone, false
	}
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "rate_limit") || strings.Contains(msg, "429") || strings.Contains(msg, "rate limit"):
		return CategoryRateLimit, true
	case strings.Contains(msg, "connection") || strings.Contains(msg, "getaddrinfo failed"):
		return CategoryConnection, true
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") || strings.Contains(msg, "503") ||
		strings.Contains(msg, "504") || strings.Contains(msg, "internal server error"):
		return CategoryServer, true
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return CategoryTimeout, true
	default:
		return CategoryNone, false
	}
}

// BackoffOptions configures Do.
type BackoffOptions struct {
	// MaxRetries caps the number of attempts (default 5).
	MaxRetries int
	// BaseDelay is the backoff base in seconds (default 2).
	BaseDelay time.Duration
	// Sleep overrides time.Sleep for tests.
	Sleep func(time.Duration)
	// OnRetry is called before each sleep, with the category and delay.
	OnRetry func(attempt int, category Category, delay time.Duration)
}

func (o BackoffOptions) withDefaults() BackoffOptions {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 5
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 2 * time.Second
	}
	if o.Sleep == nil {
		o.Sleep = time.Sleep
	}
	return o
}

// Do runs fn, retrying on transient errors (per Classify) with exponential
// backoff plus up to 10% jitter: delay = base*2^attempt + uniform(0, that*0.1).
// A non-retryable error, or a retryable error on the last attempt, is
// returned immediately.
func Do[T any](fn func() (T, error), opts BackoffOptions) (T, error) {
	opts = opts.withDefaults()

	var zero T
	var lastErr error

	for attempt := 0; attempt < opts.MaxRetries; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		category, retryable := Classify(err)
		if !retryable {
			return zero, err
		}
		if attempt == opts.MaxRetries-1 {
			return zero, err
		}

		exponential := float64(opts.BaseDelay) * math.Pow(2, float64(attempt))
		jitter := rand.Float64() * exponential * 0.1
		delay := time.Duration(exponential + jitter)

		if opts.OnRetry != nil {
			opts.OnRetry(attempt, category, delay)
		}
		opts.Sleep(delay)
	}

	return zero, lastErr
}

// CacheBustPrefix generates a "[Request ID: NNNNNN - ...]" prefix to prepend
// to a variable prompt so a retried request misses the response cache
// instead of replaying a malformed cached answer.
func CacheBustPrefix() string {
	id := 100000 + rand.Intn(900000)
	return fmt.Sprintf("[Request ID: %s - Please ensure your response is properly formatted JSON]\n\n", strconv.Itoa(id))
}

// FallbackResult describes which model ultimately produced a result.
type FallbackResult[T any] struct {
	Value T
	Model string
}

// FallbackOptions configures RunWithFallback.
type FallbackOptions[T any] struct {
	// MaxRetriesPerModel caps attempts per model (default 3). If
	// FallbackModels is non-empty, the primary model gets only a single
	// attempt before moving on, matching the reference implementation's
	// "fail fast to fallback" behavior.
	MaxRetriesPerModel int
	// FallbackModels are tried in order after the primary model is exhausted.
	FallbackModels []string
	// IsProblematic reports whether a successful call's result should still
	// be treated as a failure worth retrying/falling back on (e.g.
	// malformed JSON).
	IsProblematic func(T) bool
	Backoff       BackoffOptions
}

// Call is the shape of a single attempt: given the model name and a
// cache-busting prefix (empty on the first attempt, non-empty on retries),
// perform the request and return its result.
type Call[T any] func(model, cacheBustPrefix string) (T, error)

// RunWithFallback runs call against the primary model, retrying transient
// errors and problematic (parsed-but-invalid) results with a cache-busting
// prefix, then moves to each fallback model in order (each with its own
// retry budget) if the primary is exhausted.
func RunWithFallback[T any](primaryModel string, call Call[T], opts FallbackOptions[T]) (FallbackResult[T], error) {
	if opts.MaxRetriesPerModel <= 0 {
		opts.MaxRetriesPerModel = 3
	}

	primaryAttempts := opts.MaxRetriesPerModel
	if len(opts.FallbackModels) > 0 {
		primaryAttempts = 1
	}

	result, err := attemptModel(primaryModel, call, primaryAttempts, opts)
	if err == nil {
		return FallbackResult[T]{Value: result, Model: primaryModel}, nil
	}

	var lastErr error = &ModelError{Model: primaryModel, Err: err}

	for _, fallbackModel := range opts.FallbackModels {
		result, fbErr := attemptModel(fallbackModel, call, opts.MaxRetriesPerModel, opts)
		if fbErr == nil {
			return FallbackResult[T]{Value: result, Model: fallbackModel}, nil
		}
		lastErr = &ModelError{Model: fallbackModel, Err: fbErr}
	}

	var zero FallbackResult[T]
	return zero, lastErr
}

func attemptModel[T any](model string, call Call[T], maxAttempts int, opts FallbackOptions[T]) (T, error) {
	var zero T
	cacheBust := ""

	for attempt := 0; attempt < maxAttempts; attempt++ {
		result, err := Do(func() (T, error) {
			return call(model, cacheBust)
		}, opts.Backoff)

		if err != nil {
			if attempt == maxAttempts-1 {
				return zero, err
			}
			cacheBust = CacheBustPrefix()
			continue
		}

		if opts.IsProblematic != nil && opts.IsProblematic(result) {
			if attempt == maxAttempts-1 {
				return zero, errors.New("response remained problematic after all attempts")
			}
			cacheBust = CacheBustPrefix()
			continue
		}

		return result, nil
	}

	return zero, errors.New("exhausted attempts")
}
