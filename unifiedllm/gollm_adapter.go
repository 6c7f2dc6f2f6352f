package unifiedllm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"
)

// GollmAdapter wraps a gollm.LLM instance and implements ProviderAdapter.
// It translates between the unified types and gollm's API. gollm keeps
// model settings on the LLM itself, so calls are serialized.
type GollmAdapter struct {
	provider    string
	llm         gollm.LLM
	model       string
	maxTokens   int
	temperature float64

	mu sync.Mutex
}

// GollmAdapterOption configures a GollmAdapter.
type GollmAdapterOption func(*gollmAdapterConfig)

type gollmAdapterConfig struct {
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
}

// WithModel sets the default model for the adapter.
func WithModel(model string) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.model = model
	}
}

// WithMaxTokens sets the default max tokens.
func WithMaxTokens(n int) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.maxTokens = n
	}
}

// WithTemperature sets the default temperature.
func WithTemperature(t float64) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.temperature = t
	}
}

// NewGollmAdapter creates a new GollmAdapter for the given provider.
// If apiKey is empty, gollm will attempt to read it from environment variables.
func NewGollmAdapter(provider string, apiKey string, opts ...GollmAdapterOption) (*GollmAdapter, error) {
	cfg := &gollmAdapterConfig{
		apiKey:      apiKey,
		temperature: 0.2,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	model := cfg.model
	if model == "" {
		if info := GetLatestModel(provider); info != nil {
			model = info.ID
		} else {
			model = "gpt-4o-mini"
		}
	}
	if cfg.maxTokens <= 0 {
		cfg.maxTokens = DefaultMaxOutput(model)
	}

	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(model),
		gollm.SetMaxTokens(cfg.maxTokens),
		gollm.SetTemperature(cfg.temperature),
		gollm.SetMaxRetries(0), // Retries are handled by Retry.
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}

	if cfg.apiKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(cfg.apiKey))
	}

	llm, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gollm LLM for provider %s: %w", provider, err)
	}

	return &GollmAdapter{
		provider:    provider,
		llm:         llm,
		model:       model,
		maxTokens:   cfg.maxTokens,
		temperature: cfg.temperature,
	}, nil
}

// Name returns the provider identifier.
func (a *GollmAdapter) Name() string {
	return a.provider
}

// Complete sends a blocking request and returns the full response.
func (a *GollmAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	prompt := a.translateRequest(req)

	a.mu.Lock()
	a.applyRequestOptions(req)
	text, err := a.llm.Generate(ctx, prompt)
	a.mu.Unlock()
	if err != nil {
		if ctx.Err() != nil {
			return nil, &AbortError{SDKError: SDKError{Message: "request cancelled", Cause: ctx.Err()}}
		}
		return nil, a.translateError(err)
	}

	return a.buildResponse(req, text), nil
}

// translateRequest flattens a unified Request into a gollm Prompt. gollm
// takes a single prompt string, so prior turns are rendered as a labelled
// transcript and the response schema is folded into the system prompt.
func (a *GollmAdapter) translateRequest(req Request) *gollm.Prompt {
	var system []string
	var turns []string

	for _, msg := range req.Messages {
		text := msg.TextContent()
		if text == "" {
			continue
		}
		switch msg.Role {
		case RoleSystem:
			system = append(system, text)
		case RoleUser:
			turns = append(turns, text)
		case RoleAssistant:
			turns = append(turns, "[Assistant]: "+text)
		}
	}

	if req.ResponseFormat != nil && len(req.ResponseFormat.JSONSchema) > 0 {
		schema, err := json.Marshal(req.ResponseFormat.JSONSchema)
		if err == nil {
			system = append(system, "The JSON object you produce must match this JSON Schema:\n"+string(schema))
		}
	}

	promptText := strings.Join(turns, "\n\n")
	if promptText == "" {
		promptText = "Hello"
	}

	var promptOpts []gollm.PromptOption
	if len(system) > 0 {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(strings.Join(system, "\n\n"), gollm.CacheTypeEphemeral))
	}
	if req.MaxTokens != nil {
		promptOpts = append(promptOpts, gollm.WithMaxLength(*req.MaxTokens))
	}

	return gollm.NewPrompt(promptText, promptOpts...)
}

// applyRequestOptions sets every per-call option on the gollm LLM,
// falling back to the adapter defaults. Callers hold a.mu.
func (a *GollmAdapter) applyRequestOptions(req Request) {
	model := a.model
	if req.Model != "" {
		model = req.Model
	}
	temperature := a.temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := a.maxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	a.llm.SetOption("model", model)
	a.llm.SetOption("temperature", temperature)
	a.llm.SetOption("max_tokens", maxTokens)
}

// truncationRatio is the share of the token budget at which output is
// treated as cut off. gollm does not surface the provider stop reason.
const truncationRatio = 0.95

// buildResponse constructs a unified Response from the generated text.
func (a *GollmAdapter) buildResponse(req Request, text string) *Response {
	model := req.Model
	if model == "" {
		model = a.model
	}

	limit := a.maxTokens
	if req.MaxTokens != nil {
		limit = *req.MaxTokens
	}
	outputTokens := estimateTextTokens(text)
	finish := FinishReason{Reason: FinishStop, Raw: "stop"}
	if limit > 0 && float64(outputTokens) >= float64(limit)*truncationRatio {
		finish = FinishReason{Reason: FinishLength, Raw: "estimated"}
	}

	inputTokens := estimateTokens(req)
	return &Response{
		ID:           "resp_" + uuid.New().String()[:8],
		Model:        model,
		Provider:     a.provider,
		Message:      AssistantMessage(text),
		FinishReason: finish,
		Usage: Usage{
			// gollm doesn't expose usage; estimate from text length.
			InputTokens:  inputTokens,
			OutputTokens: outputTokens,
			TotalTokens:  inputTokens + outputTokens,
		},
	}
}

var statusPattern = regexp.MustCompile(`\b([45]\d\d)\b`)

// statusHints maps provider error phrases to a status code when the
// error text carries no explicit one. Order matters.
var statusHints = []struct {
	phrases []string
	status  int
}{
	{[]string{"unauthorized", "invalid api key", "invalid key"}, 401},
	{[]string{"forbidden"}, 403},
	{[]string{"not found"}, 404},
	{[]string{"rate limit"}, 429},
	{[]string{"context length", "too many tokens"}, 413},
	{[]string{"internal server", "overloaded"}, 500},
	{[]string{"timeout", "timed out"}, 408},
}

// statusFromMessage extracts the HTTP status from a gollm error message.
// gollm reports provider failures as formatted strings only.
func statusFromMessage(msg string) int {
	if m := statusPattern.FindStringSubmatch(msg); m != nil {
		code, _ := strconv.Atoi(m[1])
		return code
	}
	lower := strings.ToLower(msg)
	for _, h := range statusHints {
		for _, p := range h.phrases {
			if strings.Contains(lower, p) {
				return h.status
			}
		}
	}
	return 0
}

// translateError converts a gollm error into the unified error hierarchy.
func (a *GollmAdapter) translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return &AbortError{SDKError: SDKError{Message: "request cancelled", Cause: err}}
	}
	msg := err.Error()
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "content filter") || strings.Contains(lower, "safety") {
		return &ContentFilterError{ProviderError: ProviderError{
			SDKError: SDKError{Message: msg, Cause: err}, Provider: a.provider,
		}}
	}
	return ErrorFromStatusCode(statusFromMessage(msg), msg, a.provider, err)
}

func estimateTextTokens(text string) int {
	return len(text) / 4
}

// estimateTokens provides a rough token count estimate from request messages.
func estimateTokens(req Request) int {
	total := 0
	for _, msg := range req.Messages {
		total += estimateTextTokens(msg.Content)
	}
	if total == 0 {
		total = 10
	}
	return total
}
