package unifiedllm

import "context"

// Completer is anything that turns a Request into a Response. *Client and
// every ProviderAdapter satisfy it; the agent loop depends only on this.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// ProviderAdapter is the interface every provider backend must implement.
type ProviderAdapter interface {
	Completer

	// Name returns the provider identifier (e.g. "openai", "anthropic").
	Name() string
}

// Closer is implemented by adapters that hold resources.
type Closer interface {
	Close() error
}
