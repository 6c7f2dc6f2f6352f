package unifiedllm

import (
	"context"
	"errors"
	"fmt"
)

// SDKError is the base error type for all unified LLM errors.
type SDKError struct {
	Message string
	Cause   error
}

func (e *SDKError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *SDKError) Unwrap() error {
	return e.Cause
}

// ProviderError represents an error returned by an LLM provider.
type ProviderError struct {
	SDKError
	Provider   string
	StatusCode int
	ErrorCode  string
	Retryable  bool
	RetryAfter *float64
	Raw        map[string]interface{}
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("[%s] %s (status=%d, retryable=%v)", e.Provider, e.Message, e.StatusCode, e.Retryable)
}

// Concrete provider error types.

type AuthenticationError struct{ ProviderError }
type AccessDeniedError struct{ ProviderError }
type NotFoundError struct{ ProviderError }
type InvalidRequestError struct{ ProviderError }
type RateLimitError struct{ ProviderError }
type ServerError struct{ ProviderError }
type ContentFilterError struct{ ProviderError }
type ContextLengthError struct{ ProviderError }
type QuotaExceededError struct{ ProviderError }

// Non-provider errors.

type RequestTimeoutError struct{ SDKError }
type AbortError struct{ SDKError }
type NetworkError struct{ SDKError }
type ConfigurationError struct{ SDKError }

// ErrorFromStatusCode maps an HTTP status code to the matching error type.
// Unknown codes produce a retryable *ProviderError.
func ErrorFromStatusCode(statusCode int, message, provider string, cause error) error {
	pe := ProviderError{
		SDKError:   SDKError{Message: message, Cause: cause},
		Provider:   provider,
		StatusCode: statusCode,
	}

	switch statusCode {
	case 400, 422:
		return &InvalidRequestError{ProviderError: pe}
	case 401:
		return &AuthenticationError{ProviderError: pe}
	case 403:
		return &AccessDeniedError{ProviderError: pe}
	case 404:
		return &NotFoundError{ProviderError: pe}
	case 408:
		return &RequestTimeoutError{SDKError: pe.SDKError}
	case 413:
		return &ContextLengthError{ProviderError: pe}
	case 429:
		pe.Retryable = true
		return &RateLimitError{ProviderError: pe}
	case 500, 502, 503, 504, 529:
		pe.Retryable = true
		return &ServerError{ProviderError: pe}
	default:
		pe.Retryable = true
		return &pe
	}
}

// IsRetryable returns true if the error is safe to retry. Wrapped errors
// are classified by the first typed error in their chain.
func IsRetryable(err error) bool {
	if err == nil || IsAbort(err) {
		return false
	}
	var (
		auth    *AuthenticationError
		denied  *AccessDeniedError
		missing *NotFoundError
		invalid *InvalidRequestError
		ctxLen  *ContextLengthError
		quota   *QuotaExceededError
		filter  *ContentFilterError
		config  *ConfigurationError
		rate    *RateLimitError
		server  *ServerError
		network *NetworkError
		timeout *RequestTimeoutError
		pe      *ProviderError
	)
	switch {
	case errors.As(err, &auth), errors.As(err, &denied), errors.As(err, &missing),
		errors.As(err, &invalid), errors.As(err, &ctxLen), errors.As(err, &quota),
		errors.As(err, &filter), errors.As(err, &config):
		return false
	case errors.As(err, &rate), errors.As(err, &server), errors.As(err, &network),
		errors.As(err, &timeout):
		return true
	case errors.As(err, &pe):
		return pe.Retryable
	case errors.Is(err, context.DeadlineExceeded):
		return true
	default:
		// Unknown errors default to retryable.
		return true
	}
}

// IsAbort reports whether err is a caller cancellation rather than a
// provider failure.
func IsAbort(err error) bool {
	var abort *AbortError
	return errors.As(err, &abort) || errors.Is(err, context.Canceled)
}
