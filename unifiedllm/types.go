package unifiedllm

import (
	"strings"
	"time"
)

// Role identifies who produced a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is the fundamental unit of conversation. The agent protocol is
// text-only, so a message carries a single text body.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// TextContent returns the message text.
func (m Message) TextContent() string {
	return m.Content
}

// SystemMessage creates a system Message.
func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: text}
}

// UserMessage creates a user Message.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// AssistantMessage creates an assistant Message.
func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: text}
}

// ResponseFormat specifies the desired output format.
type ResponseFormat struct {
	Type       string                 `json:"type"` // "text", "json", "json_schema"
	JSONSchema map[string]interface{} `json:"json_schema,omitempty"`
	Strict     bool                   `json:"strict,omitempty"`
}

// Finish reasons reported by adapters.
const (
	FinishStop   = "stop"
	FinishLength = "length"
	FinishError  = "error"
)

// FinishReason describes why generation stopped.
type FinishReason struct {
	Reason string `json:"reason"` // "stop", "length", "content_filter", "error", "other"
	Raw    string `json:"raw,omitempty"`
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add returns a new Usage that is the sum of u and other.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
		TotalTokens:  u.TotalTokens + other.TotalTokens,
	}
}

// Warning represents a non-fatal issue.
type Warning struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Request is the input to Complete.
type Request struct {
	Model           string                 `json:"model"`
	Messages        []Message              `json:"messages"`
	Provider        string                 `json:"provider,omitempty"`
	ResponseFormat  *ResponseFormat        `json:"response_format,omitempty"`
	Temperature     *float64               `json:"temperature,omitempty"`
	MaxTokens       *int                   `json:"max_tokens,omitempty"`
	StopSequences   []string               `json:"stop_sequences,omitempty"`
	Metadata        map[string]string      `json:"metadata,omitempty"`
	ProviderOptions map[string]interface{} `json:"provider_options,omitempty"`
}

// Response is the output of Complete.
type Response struct {
	ID           string                 `json:"id"`
	Model        string                 `json:"model"`
	Provider     string                 `json:"provider"`
	Message      Message                `json:"message"`
	FinishReason FinishReason           `json:"finish_reason"`
	Usage        Usage                  `json:"usage"`
	Raw          map[string]interface{} `json:"raw,omitempty"`
	Warnings     []Warning              `json:"warnings,omitempty"`
}

// Text returns the response text.
func (r Response) Text() string {
	return r.Message.TextContent()
}

// Truncated reports whether generation stopped at the output token limit.
func (r Response) Truncated() bool {
	return strings.EqualFold(r.FinishReason.Reason, FinishLength)
}

// GenerateResult is returned by Generate.
type GenerateResult struct {
	Text         string        `json:"text"`
	FinishReason FinishReason  `json:"finish_reason"`
	Usage        Usage         `json:"usage"`
	Attempts     int           `json:"attempts"`
	Duration     time.Duration `json:"duration"`
	Response     Response      `json:"response"`
}
