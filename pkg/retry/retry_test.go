package retry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyRateLimit(t *testing.T) {
	cat, retryable := Classify(errors.New("Error: rate_limit_exceeded"))
	assert.True(t, retryable)
	assert.Equal(t, CategoryRateLimit, cat)
}

func TestClassifyServerError(t *testing.T) {
	cat, retryable := Classify(errors.New("received 503 Service Unavailable"))
	assert.True(t, retryable)
	assert.Equal(t, CategoryServer, cat)
}

func TestClassifyTimeout(t *testing.T) {
	cat, retryable := Classify(errors.New("context deadline exceeded: timed out"))
	assert.True(t, retryable)
	assert.Equal(t, CategoryTimeout, cat)
}

func TestClassifyNonRetryable(t *testing.T) {
	cat, retryable := Classify(errors.New("invalid api key"))
	assert.False(t, retryable)
	assert.Equal(t, CategoryNone, cat)
}

func TestClassifyNilError(t *testing.T) {
	_, retryable := Classify(nil)
	assert.False(t, retryable)
}

func TestDoSucceedsWithoutRetry(t *testing.T) {
	calls := 0
	result, err := Do(func() (string, error) {
		calls++
		return "ok", nil
	}, BackoffOptions{Sleep: func(time.Duration) {}})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	var delays []time.Duration

	result, err := Do(func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("503 server error")
		}
		return 42, nil
	}, BackoffOptions{
		MaxRetries: 5,
		BaseDelay:  10 * time.Millisecond,
		Sleep:      func(d time.Duration) { delays = append(delays, d) },
	})

	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 3, calls)
	assert.Len(t, delays, 2)
}

func TestDoStopsImmediatelyOnNonRetryable(t *testing.T) {
	calls := 0
	_, err := Do(func() (int, error) {
		calls++
		return 0, errors.New("bad request: invalid schema")
	}, BackoffOptions{Sleep: func(time.Duration) {}})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoReturnsErrorAfterExhaustingRetries(t *testing.T) {
	calls := 0
	_, err := Do(func() (int, error) {
		calls++
		return 0, errors.New("connection reset")
	}, BackoffOptions{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		Sleep:      func(time.Duration) {},
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestCacheBustPrefixShape(t *testing.T) {
	prefix := CacheBustPrefix()
	assert.Contains(t, prefix, "[Request ID: ")
	assert.Contains(t, prefix, "Please ensure your response is properly formatted JSON")
}

func TestRunWithFallbackPrimarySucceeds(t *testing.T) {
	result, err := RunWithFallback("primary", Call[string](func(model, cacheBust string) (string, error) {
		return "from " + model, nil
	}), FallbackOptions[string]{
		Backoff: BackoffOptions{Sleep: func(time.Duration) {}},
	})

	require.NoError(t, err)
	assert.Equal(t, "primary", result.Model)
	assert.Equal(t, "from primary", result.Value)
}

func TestRunWithFallbackMovesToFallbackModel(t *testing.T) {
	result, err := RunWithFallback("primary", Call[string](func(model, cacheBust string) (string, error) {
		if model == "primary" {
			return "", errors.New("503 server error")
		}
		return "from " + model, nil
	}), FallbackOptions[string]{
		FallbackModels: []string{"fallback-1", "fallback-2"},
		Backoff:        BackoffOptions{Sleep: func(time.Duration) {}},
	})

	require.NoError(t, err)
	assert.Equal(t, "fallback-1", result.Model)
}

func TestRunWithFallbackAllExhaustedReturnsModelError(t *testing.T) {
	_, err := RunWithFallback("primary", Call[string](func(model, cacheBust string) (string, error) {
		return "", errors.New("503 server error")
	}), FallbackOptions[string]{
		FallbackModels: []string{"fallback-1"},
		Backoff:        BackoffOptions{Sleep: func(time.Duration) {}},
	})

	require.Error(t, err)
	var modelErr *ModelError
	require.ErrorAs(t, err, &modelErr)
	assert.Equal(t, "fallback-1", modelErr.Model)
}

func TestRunWithFallbackRetriesOnProblematicResult(t *testing.T) {
	calls := 0
	result, err := RunWithFallback("primary", Call[string](func(model, cacheBust string) (string, error) {
		calls++
		if calls == 1 {
			return "malformed", nil
		}
		assert.NotEmpty(t, cacheBust)
		return "valid", nil
	}), FallbackOptions[string]{
		MaxRetriesPerModel: 3,
		IsProblematic:      func(s string) bool { return s == "malformed" },
		Backoff:            BackoffOptions{Sleep: func(time.Duration) {}},
	})

	require.NoError(t, err)
	assert.Equal(t, "valid", result.Value)
	assert.Equal(t, 2, calls)
}

func TestModelErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	me := &ModelError{Model: "m", Task: "analyze", Err: cause}
	assert.ErrorIs(t, me, cause)
	assert.Contains(t, me.Error(), "m")
	assert.Contains(t, me.Error(), "analyze")
}
