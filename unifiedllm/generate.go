package unifiedllm

import (
	"context"
	"time"
)

// GenerateOptions configures a single-shot Generate call.
type GenerateOptions struct {
	Model          string
	Prompt         string    // simple text prompt (mutually exclusive with Messages)
	Messages       []Message // full conversation (mutually exclusive with Prompt)
	System         string
	ResponseFormat *ResponseFormat
	Temperature    *float64
	MaxTokens      *int
	Provider       string
	MaxRetries     int           // default 2; negative disables retries
	Timeout        time.Duration // per call, zero means none
	Client         Completer
}

// Generate is the high-level blocking generation function. It wraps
// Complete with automatic retries and prompt standardization.
func Generate(ctx context.Context, opts GenerateOptions) (*GenerateResult, error) {
	if opts.Prompt != "" && len(opts.Messages) > 0 {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: "cannot specify both prompt and messages",
		}}
	}

	client := opts.Client
	if client == nil {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: "generate requires a client",
		}}
	}

	retryPolicy := DefaultRetryPolicy()
	switch {
	case opts.MaxRetries > 0:
		retryPolicy.MaxRetries = opts.MaxRetries
	case opts.MaxRetries < 0:
		retryPolicy.MaxRetries = 0
	}

	messages := opts.Messages
	if opts.Prompt != "" {
		messages = []Message{UserMessage(opts.Prompt)}
	}
	if opts.System != "" {
		messages = append([]Message{SystemMessage(opts.System)}, messages...)
	}

	req := Request{
		Model:          opts.Model,
		Messages:       messages,
		Provider:       opts.Provider,
		ResponseFormat: opts.ResponseFormat,
		Temperature:    opts.Temperature,
		MaxTokens:      opts.MaxTokens,
	}

	start := time.Now()
	attempts := 0
	resp, err := Retry(ctx, retryPolicy, func(ctx context.Context) (*Response, error) {
		attempts++
		if opts.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
			defer cancel()
		}
		return client.Complete(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	return &GenerateResult{
		Text:         resp.Text(),
		FinishReason: resp.FinishReason,
		Usage:        resp.Usage,
		Attempts:     attempts,
		Duration:     time.Since(start),
		Response:     *resp,
	}, nil
}
