package unifiedllm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFromStatusCode(t *testing.T) {
	tests := []struct {
		status    int
		check     func(error) bool
		retryable bool
	}{
		{400, is[*InvalidRequestError], false},
		{401, is[*AuthenticationError], false},
		{403, is[*AccessDeniedError], false},
		{404, is[*NotFoundError], false},
		{408, is[*RequestTimeoutError], true},
		{413, is[*ContextLengthError], false},
		{422, is[*InvalidRequestError], false},
		{429, is[*RateLimitError], true},
		{500, is[*ServerError], true},
		{503, is[*ServerError], true},
		{529, is[*ServerError], true},
		{0, is[*ProviderError], true},
	}

	cause := errors.New("upstream")
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			err := ErrorFromStatusCode(tt.status, "failed", "openai", cause)
			assert.True(t, tt.check(err), "got %T", err)
			assert.Equal(t, tt.retryable, IsRetryable(err))
			assert.ErrorIs(t, err, cause)
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"quota exceeded", &QuotaExceededError{}, false},
		{"content filter", &ContentFilterError{}, false},
		{"configuration", &ConfigurationError{}, false},
		{"network", &NetworkError{}, true},
		{"provider flag off", &ProviderError{Retryable: false}, false},
		{"provider flag on", &ProviderError{Retryable: true}, true},
		{"wrapped rate limit", fmt.Errorf("call: %w", &RateLimitError{}), true},
		{"wrapped auth", fmt.Errorf("call: %w", &AuthenticationError{}), false},
		{"abort", &AbortError{}, false},
		{"context canceled", fmt.Errorf("call: %w", context.Canceled), false},
		{"deadline", context.DeadlineExceeded, true},
		{"unknown", errors.New("unknown"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
		})
	}
}

func TestErrorMessages(t *testing.T) {
	pe := &ProviderError{SDKError: SDKError{Message: "rate limit exceeded"}, Provider: "openai", StatusCode: 429, Retryable: true}
	assert.Equal(t, "[openai] rate limit exceeded (status=429, retryable=true)", pe.Error())

	wrapped := &SDKError{Message: "request cancelled", Cause: context.Canceled}
	assert.Equal(t, "request cancelled: context canceled", wrapped.Error())
	assert.ErrorIs(t, wrapped, context.Canceled)
}

func TestIsAbort(t *testing.T) {
	assert.True(t, IsAbort(&AbortError{}))
	assert.True(t, IsAbort(fmt.Errorf("wrapped: %w", context.Canceled)))
	assert.False(t, IsAbort(&ServerError{}))
	assert.False(t, IsAbort(context.DeadlineExceeded))
	assert.False(t, IsAbort(nil))
}
