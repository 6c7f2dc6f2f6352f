package agentloop

import (
	"context"

	"github.com/martinemde/codeloop/chat"
	"github.com/martinemde/codeloop/testrunner"
	"github.com/martinemde/codeloop/unifiedllm"
	"github.com/martinemde/codeloop/workspace"
)

// ModelClient issues one completion request. *unifiedllm.Client satisfies it.
type ModelClient interface {
	Complete(ctx context.Context, req unifiedllm.Request) (*unifiedllm.Response, error)
}

// FileSystem is the project file system the loop reads and mutates.
// *workspace.Workspace satisfies it.
type FileSystem interface {
	List() ([]workspace.Node, error)
	Lookup(key workspace.Key) (workspace.Node, bool)
	ReadFile(path string) (string, error)
	Apply(kind workspace.FileActionKind, path, content string, tags []string) (string, error)
}

// TestRunner runs tests for a file path or protocol.AllTests.
// *testrunner.GoRunner satisfies it.
type TestRunner interface {
	RunTests(ctx context.Context, target string) (*testrunner.Report, error)
}

// ConversationStore persists a conversation after every turn.
type ConversationStore interface {
	Put(ctx context.Context, conv *chat.Conversation) error
}

// Summarizer folds messages into a conversation's long-term knowledge.
type Summarizer interface {
	Summarize(ctx context.Context, prior string, messages []chat.Message) (string, error)
}
