package agentloop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/martinemde/codeloop/chat"
	"github.com/martinemde/codeloop/unifiedllm"
)

// ErrTurnInProgress is returned when a conversation already has a turn running.
var ErrTurnInProgress = errors.New("a turn is already running for this conversation")

// Config holds the engine's budgets and model settings.
type Config struct {
	Model          string        `json:"model,omitempty"`
	MaxTokens      int           `json:"max_tokens"`
	Temperature    *float64      `json:"temperature,omitempty"`
	MaxRetries     int           `json:"max_retries"` // 0 = default policy, negative disables retries
	RequestTimeout time.Duration `json:"request_timeout"`

	MaxToolCalls          int  `json:"max_tool_calls"`
	MaxContinues          int  `json:"max_continues"`
	ContinuationTailChars int  `json:"continuation_tail_chars"`
	MaxScoutFiles         int  `json:"max_scout_files"`
	DisableScout          bool `json:"disable_scout"`
	LoopDetection         bool `json:"loop_detection"`
	LoopDetectionWindow   int  `json:"loop_detection_window"`

	Knowledge KnowledgeConfig `json:"knowledge"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		MaxTokens:             4096,
		MaxToolCalls:          20,
		MaxContinues:          5,
		ContinuationTailChars: 400,
		MaxScoutFiles:         DefaultMaxScoutFiles,
		LoopDetection:         true,
		LoopDetectionWindow:   6,
		Knowledge: KnowledgeConfig{
			Enabled:       true,
			Threshold:     10,
			MaxConcurrent: 2,
			Timeout:       2 * time.Minute,
		},
	}
}

// withDefaults fills zero numeric fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxTokens <= 0 {
		c.MaxTokens = unifiedllm.DefaultMaxOutput(c.Model)
	}
	if c.MaxToolCalls <= 0 {
		c.MaxToolCalls = d.MaxToolCalls
	}
	if c.MaxContinues < 0 {
		c.MaxContinues = 0
	}
	if c.ContinuationTailChars <= 0 {
		c.ContinuationTailChars = d.ContinuationTailChars
	}
	if c.MaxScoutFiles <= 0 {
		c.MaxScoutFiles = d.MaxScoutFiles
	}
	if c.LoopDetectionWindow <= 0 {
		c.LoopDetectionWindow = d.LoopDetectionWindow
	}
	if c.Knowledge.Threshold <= 0 {
		c.Knowledge.Threshold = d.Knowledge.Threshold
	}
	return c
}

// Options wires an Engine to its collaborators. Model and FileSystem are
// required.
type Options struct {
	Config     Config
	Model      ModelClient
	FileSystem FileSystem
	Tests      TestRunner
	Store      ConversationStore
	Summarizer Summarizer    // defaults to a ModelSummarizer over Model
	Tools      *ToolRegistry // copied; later changes do not reach the engine
	Profiles   *ProfileSet
	Emitter    *EventEmitter
	Logger     *zap.Logger
}

// SendOptions carries per-message context from the host.
type SendOptions struct {
	ActiveFile  string
	PinnedFiles []string
}

// StopReason explains why a turn ended.
type StopReason string

const (
	StopCompleted  StopReason = "completed"
	StopGeneral    StopReason = "general"
	StopCancelled  StopReason = "cancelled"
	StopBudget     StopReason = "budget_exceeded"
	StopParseError StopReason = "parse_error"
	StopModelError StopReason = "model_error"
)

// TurnResult summarizes one SendMessage call.
type TurnResult struct {
	Intent     Intent           `json:"intent"`
	Iterations int              `json:"iterations"`
	ToolCalls  int              `json:"tool_calls"`
	Reason     StopReason       `json:"reason"`
	Usage      unifiedllm.Usage `json:"usage"` // main loop calls only
}

// Engine runs turns for any number of conversations. Each conversation
// has its own cancellation and multi-file task state.
type Engine struct {
	config    Config
	model     ModelClient
	fs        FileSystem
	tests     TestRunner
	store     ConversationStore
	tools     *ToolRegistry
	profiles  *ProfileSet
	emitter   *EventEmitter
	logger    *zap.Logger
	tasks     *taskTable
	knowledge *knowledgeCache

	running map[string]context.CancelFunc
	mu      sync.Mutex
}

// NewEngine creates an engine.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Model == nil {
		return nil, errors.New("agentloop: a model client is required")
	}
	if opts.FileSystem == nil {
		return nil, errors.New("agentloop: a file system is required")
	}
	cfg := opts.Config.withDefaults()

	e := &Engine{
		config:   cfg,
		model:    opts.Model,
		fs:       opts.FileSystem,
		tests:    opts.Tests,
		store:    opts.Store,
		tools:    DefaultToolRegistry(),
		profiles: opts.Profiles,
		emitter:  opts.Emitter,
		logger:   opts.Logger,
		tasks:    newTaskTable(),
		running:  make(map[string]context.CancelFunc),
	}
	if opts.Tools != nil {
		e.tools = opts.Tools.Clone()
	}
	if e.profiles == nil {
		e.profiles = NewProfileSet()
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}

	summarizer := opts.Summarizer
	if summarizer == nil {
		summarizer = &ModelSummarizer{
			Client:     opts.Model,
			Model:      cfg.Model,
			MaxTokens:  1024,
			MaxRetries: cfg.MaxRetries,
			Timeout:    cfg.RequestTimeout,
		}
	}
	e.knowledge = newKnowledgeCache(cfg.Knowledge, summarizer, e.persist, e.emitter, e.logger)
	return e, nil
}

// SendMessage runs one turn: text is appended as a user message and the
// loop runs until the model stops, the budget is spent, or the turn is
// cancelled via ctx or Stop. The conversation is persisted on every exit.
func (e *Engine) SendMessage(ctx context.Context, conv *chat.Conversation, text string, opts SendOptions) (*TurnResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := e.begin(conv.ID, cancel); err != nil {
		return nil, err
	}
	defer e.end(conv.ID)

	t := &turn{
		e:    e,
		conv: conv,
		opts: opts,
		log:  e.logger.With(zap.String("conversation_id", conv.ID)),
	}
	t.opening = conv.Append(chat.RoleUser, text)
	e.emitter.Emit(conv.ID, EventTurnStart, map[string]any{"text": text})
	t.log.Debug("turn started")

	result, err := t.run(ctx, text)

	conv.DemoteTransient()
	conv.Touch()
	e.persist(context.WithoutCancel(ctx), conv)
	triggered := e.knowledge.maybeTrigger(conv)

	data := map[string]any{
		"reason":     string(result.Reason),
		"iterations": result.Iterations,
		"tool_calls": result.ToolCalls,
		"summarize":  triggered,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	e.emitter.Emit(conv.ID, EventTurnEnd, data)
	t.log.Info("turn finished",
		zap.String("reason", string(result.Reason)),
		zap.Int("iterations", result.Iterations),
		zap.Int("tool_calls", result.ToolCalls),
	)
	return result, err
}

// Stop cancels the running turn of one conversation. It reports whether a
// turn was running.
func (e *Engine) Stop(conversationID string) bool {
	e.mu.Lock()
	cancel, ok := e.running[conversationID]
	e.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Running reports whether a conversation has a turn in flight.
func (e *Engine) Running(conversationID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.running[conversationID]
	return ok
}

// Task returns a snapshot of a conversation's multi-file task.
func (e *Engine) Task(conversationID string) TaskSnapshot {
	return e.tasks.snapshot(conversationID)
}

// ResetTask returns a conversation's multi-file task to Idle.
func (e *Engine) ResetTask(conversationID string) {
	e.tasks.clear(conversationID)
}

// SummaryState reports the latest background summarization of a conversation.
func (e *Engine) SummaryState(conversationID string) (SummaryState, bool) {
	return e.knowledge.state(conversationID)
}

// Wait blocks until background summarizations finish.
func (e *Engine) Wait() { e.knowledge.wait() }

// Close cancels background work and waits for it to exit.
func (e *Engine) Close() {
	e.mu.Lock()
	for _, cancel := range e.running {
		cancel()
	}
	e.mu.Unlock()
	e.knowledge.close()
}

func (e *Engine) begin(convID string, cancel context.CancelFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.running[convID]; ok {
		return ErrTurnInProgress
	}
	e.running[convID] = cancel
	return nil
}

func (e *Engine) end(convID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.running, convID)
}

func (e *Engine) persist(ctx context.Context, conv *chat.Conversation) {
	if e.store == nil {
		return
	}
	if err := e.store.Put(ctx, conv); err != nil {
		e.logger.Error("persist conversation", zap.String("conversation_id", conv.ID), zap.Error(err))
		e.emitter.Emit(conv.ID, EventError, map[string]any{"error": fmt.Sprintf("persist: %v", err)})
	}
}

// lightOptions configures the small structured calls (router, scout).
func (e *Engine) lightOptions(system, prompt string, schema map[string]any) unifiedllm.GenerateOptions {
	maxTokens := 1024
	temperature := 0.0
	return unifiedllm.GenerateOptions{
		Client:         e.model,
		Model:          e.config.Model,
		System:         system,
		Prompt:         prompt,
		ResponseFormat: &unifiedllm.ResponseFormat{Type: "json_schema", JSONSchema: schema},
		Temperature:    &temperature,
		MaxTokens:      &maxTokens,
		MaxRetries:     e.config.MaxRetries,
		Timeout:        e.config.RequestTimeout,
	}
}

// retryPolicy is the policy for main loop model calls.
func (e *Engine) retryPolicy(log *zap.Logger) unifiedllm.RetryPolicy {
	p := unifiedllm.DefaultRetryPolicy()
	switch {
	case e.config.MaxRetries > 0:
		p.MaxRetries = e.config.MaxRetries
	case e.config.MaxRetries < 0:
		p.MaxRetries = 0
	}
	p.OnRetry = func(err error, attempt int, delay time.Duration) {
		log.Warn("retrying model call", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
	}
	return p
}
