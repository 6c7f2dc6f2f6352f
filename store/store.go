// Package store persists conversations between process runs.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/martinemde/codeloop/chat"
)

// ErrNotFound is returned when no conversation has the requested id.
var ErrNotFound = errors.New("conversation not found")

// Summary is the listing view of a stored conversation.
type Summary struct {
	ID           string    `json:"id" yaml:"id"`
	Title        string    `json:"title" yaml:"title"`
	Environment  string    `json:"environment,omitempty" yaml:"environment,omitempty"`
	LastTouched  time.Time `json:"last_touched" yaml:"last_touched"`
	MessageCount int       `json:"message_count" yaml:"message_count"`
}

// Store is a conversation repository keyed by conversation id.
type Store interface {
	// List returns every conversation, most recently touched first.
	List(ctx context.Context) ([]Summary, error)
	Get(ctx context.Context, id string) (*chat.Conversation, error)
	// Put inserts or replaces a conversation.
	Put(ctx context.Context, conv *chat.Conversation) error
	Remove(ctx context.Context, id string) error
	Close() error
}

func summarize(r chat.Record) Summary {
	return Summary{
		ID:           r.ID,
		Title:        r.Title,
		Environment:  r.Environment,
		LastTouched:  r.LastTouched,
		MessageCount: len(r.Messages),
	}
}
