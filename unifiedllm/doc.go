// Package unifiedllm provides a provider-agnostic completion client that
// wraps the gollm library (github.com/teilomillet/gollm).
//
// # Architecture
//
//   - ProviderAdapter and Completer: the contract every backend satisfies.
//   - Retry and the error hierarchy: classification of provider failures
//     into retryable, fatal and aborted.
//   - Client: provider routing plus a middleware chain. NewClientFromEnv
//     registers every provider whose API key is set.
//   - Generate: single-shot convenience with retries and per-call timeout.
//
// # Quick Start
//
//	adapter, _ := unifiedllm.NewGollmAdapter("anthropic", os.Getenv("ANTHROPIC_API_KEY"))
//	client := unifiedllm.NewClient(
//	    unifiedllm.WithProvider("anthropic", adapter),
//	    unifiedllm.WithMiddleware(unifiedllm.LoggingMiddleware(logger)),
//	)
//
//	resp, _ := client.Complete(ctx, unifiedllm.Request{
//	    Messages: []unifiedllm.Message{unifiedllm.UserMessage("Hello")},
//	})
//	if resp.Truncated() {
//	    // ask the model to continue
//	}
//
// # Truncation
//
// Response.Truncated reports a "length" finish reason. gollm returns plain
// text, so GollmAdapter estimates output tokens at four characters per
// token and reports "length" once the estimate reaches 95% of the budget.
package unifiedllm
