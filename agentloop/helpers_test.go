package agentloop

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/martinemde/codeloop/chat"
	"github.com/martinemde/codeloop/testrunner"
	"github.com/martinemde/codeloop/unifiedllm"
	"github.com/martinemde/codeloop/workspace"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	kindRouter  = "router"
	kindScout   = "scout"
	kindSummary = "summary"
	kindMain    = "main"
)

// scriptedModel answers router, scout and summarizer calls with fixed
// replies and main loop calls with a script.
type scriptedModel struct {
	router string
	scout  string
	main   func(ctx context.Context, n int, req unifiedllm.Request) (*unifiedllm.Response, error)

	mu       sync.Mutex
	counts   map[string]int
	mainReqs []unifiedllm.Request
}

func newScriptedModel(main func(ctx context.Context, n int, req unifiedllm.Request) (*unifiedllm.Response, error)) *scriptedModel {
	return &scriptedModel{
		router: `{"intent":"project"}`,
		scout:  `{"files":[]}`,
		main:   main,
		counts: make(map[string]int),
	}
}

func callKind(req unifiedllm.Request) string {
	if len(req.Messages) == 0 || req.Messages[0].Role != unifiedllm.RoleSystem {
		return kindMain
	}
	system := req.Messages[0].Content
	switch {
	case strings.HasPrefix(system, routerSystemPrompt):
		return kindRouter
	case strings.HasPrefix(system, scoutSystemPrompt):
		return kindScout
	case strings.HasPrefix(system, summarizerSystemPrompt):
		return kindSummary
	default:
		return kindMain
	}
}

func (m *scriptedModel) Complete(ctx context.Context, req unifiedllm.Request) (*unifiedllm.Response, error) {
	kind := callKind(req)
	m.mu.Lock()
	m.counts[kind]++
	n := m.counts[kind]
	if kind == kindMain {
		m.mainReqs = append(m.mainReqs, req)
	}
	m.mu.Unlock()

	switch kind {
	case kindRouter:
		return textResponse(m.router), nil
	case kindScout:
		return textResponse(m.scout), nil
	case kindSummary:
		return textResponse("- the user is building a calculator"), nil
	}
	if m.main == nil {
		return textResponse(wire(`{"action":"text_response","message":"ok"}`)), nil
	}
	return m.main(ctx, n, req)
}

func (m *scriptedModel) count(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[kind]
}

func (m *scriptedModel) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.counts {
		n += c
	}
	return n
}

func (m *scriptedModel) mainRequests() []unifiedllm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]unifiedllm.Request(nil), m.mainReqs...)
}

// replies returns a main script that answers call n with texts[n-1] and
// repeats the last text afterwards.
func replies(texts ...string) func(context.Context, int, unifiedllm.Request) (*unifiedllm.Response, error) {
	return func(_ context.Context, n int, _ unifiedllm.Request) (*unifiedllm.Response, error) {
		if n > len(texts) {
			n = len(texts)
		}
		return textResponse(texts[n-1]), nil
	}
}

func textResponse(text string) *unifiedllm.Response {
	return &unifiedllm.Response{
		Message:      unifiedllm.AssistantMessage(text),
		FinishReason: unifiedllm.FinishReason{Reason: unifiedllm.FinishStop},
	}
}

func truncatedResponse(text string) *unifiedllm.Response {
	return &unifiedllm.Response{
		Message:      unifiedllm.AssistantMessage(text),
		FinishReason: unifiedllm.FinishReason{Reason: unifiedllm.FinishLength},
	}
}

// wire wraps a JSON payload, plus an optional file body, in the tagged
// response format.
func wire(payload string, content ...string) string {
	var sb strings.Builder
	sb.WriteString("#[json-data]\n" + payload + "\n#[end-json-data]\n")
	if len(content) > 0 {
		sb.WriteString("#[content-file]\n" + content[0] + "\n#[end-content-file]\n")
	}
	return sb.String()
}

type stubTests struct {
	report  *testrunner.Report
	err     error
	targets []string
	mu      sync.Mutex
}

func (s *stubTests) RunTests(_ context.Context, target string) (*testrunner.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets = append(s.targets, target)
	return s.report, s.err
}

type stubStore struct {
	puts int
	last chat.Record
	mu   sync.Mutex
}

func (s *stubStore) Put(_ context.Context, conv *chat.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	s.last = conv.Snapshot()
	return nil
}

func (s *stubStore) putCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

type stubSummarizer struct {
	summary string
	err     error
	calls   int
	mu      sync.Mutex
}

func (s *stubSummarizer) Summarize(_ context.Context, _ string, _ []chat.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.summary, s.err
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxRetries = -1
	cfg.DisableScout = true
	cfg.Knowledge.Enabled = false
	return cfg
}

func newTestEngine(t *testing.T, model ModelClient, fs FileSystem, configure func(*Options)) *Engine {
	t.Helper()
	opts := Options{
		Config:     testConfig(),
		Model:      model,
		FileSystem: fs,
	}
	if configure != nil {
		configure(&opts)
	}
	e, err := NewEngine(opts)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func seededWorkspace(t *testing.T, files map[string]string) *workspace.Workspace {
	t.Helper()
	ws := workspace.NewMemory()
	for p, c := range files {
		require.NoError(t, ws.WriteFile(p, c))
	}
	return ws
}

// messagesWithRole filters a conversation's messages by role.
func messagesWithRole(conv *chat.Conversation, role chat.Role) []chat.Message {
	var out []chat.Message
	for _, m := range conv.Messages() {
		if m.Role == role {
			out = append(out, m)
		}
	}
	return out
}

func lastMessage(conv *chat.Conversation) chat.Message {
	msgs := conv.Messages()
	return msgs[len(msgs)-1]
}
