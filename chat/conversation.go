// Package chat holds the conversation data model shared by the agent loop,
// the persistence layer and the CLI.
package chat

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleStatus    Role = "status"

	// Transient roles exist only while a turn is running and collapse to
	// RoleStatus when it completes.
	RoleProgress Role = "progress"
	RoleWarning  Role = "warning"
)

// Transient reports whether r is demoted when a turn completes.
func (r Role) Transient() bool {
	return r == RoleProgress || r == RoleWarning
}

// Message is one entry of a conversation. Only Role (by demotion) and
// IsSummarized change after creation.
type Message struct {
	ID           string    `json:"id" yaml:"id"`
	Role         Role      `json:"role" yaml:"role"`
	Content      string    `json:"content" yaml:"content"`
	IsSummarized bool      `json:"is_summarized,omitempty" yaml:"is_summarized,omitempty"`
	CreatedAt    time.Time `json:"created_at" yaml:"created_at"`
}

// NewMessage creates a message with a fresh ID.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// Conversation is a chat thread with its long-term knowledge summary.
// All methods are safe for concurrent use; background summarization
// touches the summary fields while a turn may be appending messages.
type Conversation struct {
	ID               string
	Title            string
	Environment      string
	KnowledgeSummary string
	LastTouched      time.Time

	messages      []Message
	isSummarizing bool
	mu            sync.Mutex
}

// New creates an empty conversation.
func New(title, environment string) *Conversation {
	return &Conversation{
		ID:          uuid.New().String(),
		Title:       title,
		Environment: environment,
		LastTouched: time.Now(),
	}
}

// Append adds a message and returns it.
func (c *Conversation) Append(role Role, content string) Message {
	m := NewMessage(role, content)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, m)
	c.LastTouched = m.CreatedAt
	return m
}

// Messages returns a copy of the message list.
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// DemoteTransient rewrites transient roles to RoleStatus.
func (c *Conversation) DemoteTransient() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for i := range c.messages {
		if c.messages[i].Role.Transient() {
			c.messages[i].Role = RoleStatus
			n++
		}
	}
	return n
}

// Unsummarized returns the messages not yet folded into the knowledge
// summary. Status messages are bookkeeping and never summarized.
func (c *Conversation) Unsummarized() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Message
	for _, m := range c.messages {
		if !m.IsSummarized && m.Role != RoleStatus && !m.Role.Transient() {
			out = append(out, m)
		}
	}
	return out
}

// BeginSummarizing sets the summarizing flag. It returns false if a
// summarization is already running.
func (c *Conversation) BeginSummarizing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isSummarizing {
		return false
	}
	c.isSummarizing = true
	return true
}

// IsSummarizing reports whether a summarization is in flight.
func (c *Conversation) IsSummarizing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isSummarizing
}

// FinishSummarizing stores the new summary, marks the given messages as
// summarized and clears the flag.
func (c *Conversation) FinishSummarizing(summary string, ids []string) {
	done := make(map[string]bool, len(ids))
	for _, id := range ids {
		done[id] = true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.KnowledgeSummary = summary
	for i := range c.messages {
		if done[c.messages[i].ID] {
			c.messages[i].IsSummarized = true
		}
	}
	c.isSummarizing = false
}

// AbortSummarizing clears the flag without touching any message.
func (c *Conversation) AbortSummarizing() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isSummarizing = false
}

// Knowledge returns the current knowledge summary.
func (c *Conversation) Knowledge() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.KnowledgeSummary
}

// Touch updates LastTouched.
func (c *Conversation) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LastTouched = time.Now()
}

// Record is the serialized form of a conversation.
type Record struct {
	ID               string    `json:"id" yaml:"id"`
	Title            string    `json:"title" yaml:"title"`
	Environment      string    `json:"environment,omitempty" yaml:"environment,omitempty"`
	KnowledgeSummary string    `json:"knowledge_summary,omitempty" yaml:"knowledge_summary,omitempty"`
	LastTouched      time.Time `json:"last_touched" yaml:"last_touched"`
	Messages         []Message `json:"messages" yaml:"messages"`
}

// Snapshot returns a consistent copy for persistence or export. The
// summarizing flag is runtime state and is not carried.
func (c *Conversation) Snapshot() Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := make([]Message, len(c.messages))
	copy(msgs, c.messages)
	return Record{
		ID:               c.ID,
		Title:            c.Title,
		Environment:      c.Environment,
		KnowledgeSummary: c.KnowledgeSummary,
		LastTouched:      c.LastTouched,
		Messages:         msgs,
	}
}

// FromRecord rebuilds a conversation from its serialized form.
func FromRecord(r Record) *Conversation {
	msgs := make([]Message, len(r.Messages))
	copy(msgs, r.Messages)
	return &Conversation{
		ID:               r.ID,
		Title:            r.Title,
		Environment:      r.Environment,
		KnowledgeSummary: r.KnowledgeSummary,
		LastTouched:      r.LastTouched,
		messages:         msgs,
	}
}

func (c *Conversation) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Snapshot())
}

func (c *Conversation) UnmarshalJSON(data []byte) error {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	restored := FromRecord(r)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ID = restored.ID
	c.Title = restored.Title
	c.Environment = restored.Environment
	c.KnowledgeSummary = restored.KnowledgeSummary
	c.LastTouched = restored.LastTouched
	c.messages = restored.messages
	c.isSummarizing = false
	return nil
}
