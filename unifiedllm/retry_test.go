package unifiedllm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(retries int) RetryPolicy {
	return RetryPolicy{MaxRetries: retries, BaseDelay: 0.001, BackoffMultiplier: 1, MaxDelay: 0.001}
}

func serverError() error {
	return &ServerError{ProviderError: ProviderError{SDKError: SDKError{Message: "overloaded"}, Retryable: true}}
}

func TestRetryPolicyDelay(t *testing.T) {
	policy := RetryPolicy{BaseDelay: 0.5, BackoffMultiplier: 3, MaxDelay: 10}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 500 * time.Millisecond},
		{1, 1500 * time.Millisecond},
		{2, 4500 * time.Millisecond},
		{3, 10 * time.Second},
		{12, 10 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, policy.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestRetryPolicyJitterStaysInBand(t *testing.T) {
	policy := DefaultRetryPolicy()
	require.True(t, policy.Jitter)
	for range 50 {
		d := policy.Delay(1)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.Less(t, d, 3*time.Second)
	}
}

func TestRetry(t *testing.T) {
	tests := []struct {
		name      string
		retries   int
		errs      []error
		wantCalls int
		wantErr   bool
	}{
		{name: "first call succeeds", retries: 2, wantCalls: 1},
		{name: "recovers after transient failures", retries: 3, errs: []error{serverError(), serverError()}, wantCalls: 3},
		{name: "exhausts budget", retries: 2, errs: []error{serverError(), serverError(), serverError(), serverError()}, wantCalls: 3, wantErr: true},
		{name: "zero retries makes one call", retries: 0, errs: []error{serverError()}, wantCalls: 1, wantErr: true},
		{name: "auth errors are final", retries: 3, errs: []error{&AuthenticationError{}}, wantCalls: 1, wantErr: true},
		{name: "unknown errors retry", retries: 1, errs: []error{errors.New("connection reset")}, wantCalls: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			got, err := Retry(context.Background(), fastPolicy(tt.retries), func(context.Context) (string, error) {
				calls++
				if calls <= len(tt.errs) {
					return "", tt.errs[calls-1]
				}
				return "ok", nil
			})
			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "ok", got)
		})
	}
}

func TestRetryReportsEachRetry(t *testing.T) {
	policy := fastPolicy(2)
	var attempts []int
	policy.OnRetry = func(_ error, attempt int, _ time.Duration) {
		attempts = append(attempts, attempt)
	}

	_, err := Retry(context.Background(), policy, func(context.Context) (int, error) {
		return 0, serverError()
	})
	assert.Error(t, err)
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestRetryHonorsRetryAfter(t *testing.T) {
	long := 120.0
	calls := 0
	_, err := Retry(context.Background(), DefaultRetryPolicy(), func(context.Context) (int, error) {
		calls++
		return 0, &RateLimitError{ProviderError: ProviderError{Retryable: true, RetryAfter: &long}}
	})
	var rl *RateLimitError
	assert.ErrorAs(t, err, &rl)
	assert.Equal(t, 1, calls, "Retry-After beyond the max delay is returned immediately")
}

func TestRetryCancellation(t *testing.T) {
	t.Run("before the first call", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		calls := 0
		_, err := Retry(ctx, fastPolicy(3), func(context.Context) (int, error) {
			calls++
			return 0, nil
		})
		assert.True(t, IsAbort(err))
		assert.Zero(t, calls)
	})

	t.Run("during backoff", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		policy := RetryPolicy{MaxRetries: 5, BaseDelay: 10, BackoffMultiplier: 1, MaxDelay: 10}
		calls := 0
		done := make(chan error, 1)
		go func() {
			_, err := Retry(ctx, policy, func(context.Context) (int, error) {
				calls++
				return 0, serverError()
			})
			done <- err
		}()
		time.Sleep(20 * time.Millisecond)
		cancel()

		select {
		case err := <-done:
			assert.True(t, IsAbort(err))
			assert.Equal(t, 1, calls)
		case <-time.After(5 * time.Second):
			t.Fatal("retry did not observe cancellation")
		}
	})
}
