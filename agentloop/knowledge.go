package agentloop

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/martinemde/codeloop/chat"
	"github.com/martinemde/codeloop/unifiedllm"
)

// KnowledgeConfig controls background summarization.
type KnowledgeConfig struct {
	Enabled       bool
	Threshold     int           // unsummarized messages that trigger a run
	MaxConcurrent int           // across all conversations
	Timeout       time.Duration // per run
}

// SummaryStatus is the lifecycle state of a conversation's latest
// summarization.
type SummaryStatus string

const (
	SummaryRunning   SummaryStatus = "running"
	SummaryCompleted SummaryStatus = "completed"
	SummaryFailed    SummaryStatus = "failed"
)

// summaryJob tracks one background summarization.
type summaryJob struct {
	status SummaryStatus
	err    error
	mu     sync.Mutex
}

func (j *summaryJob) finish(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.err = err
	if err != nil {
		j.status = SummaryFailed
		return
	}
	j.status = SummaryCompleted
}

// knowledgeCache runs summarizations in the background. The conversation's
// summarizing flag allows one run per conversation; the semaphore bounds
// runs across conversations.
type knowledgeCache struct {
	cfg        KnowledgeConfig
	summarizer Summarizer
	persist    func(ctx context.Context, conv *chat.Conversation)
	emitter    *EventEmitter
	logger     *zap.Logger

	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	jobs map[string]*summaryJob
	mu   sync.Mutex
}

func newKnowledgeCache(cfg KnowledgeConfig, s Summarizer, persist func(context.Context, *chat.Conversation), emitter *EventEmitter, logger *zap.Logger) *knowledgeCache {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &knowledgeCache{
		cfg:        cfg,
		summarizer: s,
		persist:    persist,
		emitter:    emitter,
		logger:     logger,
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		ctx:        ctx,
		cancel:     cancel,
		jobs:       make(map[string]*summaryJob),
	}
}

// maybeTrigger starts a summarization of conv when enough messages are
// pending and none is running. It reports whether one was started.
func (k *knowledgeCache) maybeTrigger(conv *chat.Conversation) bool {
	if !k.cfg.Enabled || k.summarizer == nil || k.ctx.Err() != nil {
		return false
	}
	pending := conv.Unsummarized()
	if len(pending) == 0 || len(pending) < k.cfg.Threshold {
		return false
	}
	if !conv.BeginSummarizing() {
		return false
	}

	job := &summaryJob{status: SummaryRunning}
	k.mu.Lock()
	k.jobs[conv.ID] = job
	k.mu.Unlock()

	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		err := k.run(conv, pending)
		job.finish(err)
	}()
	return true
}

func (k *knowledgeCache) run(conv *chat.Conversation, pending []chat.Message) error {
	ctx := k.ctx
	if k.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, k.cfg.Timeout)
		defer cancel()
	}
	log := k.logger.With(zap.String("conversation_id", conv.ID), zap.Int("messages", len(pending)))

	if err := k.sem.Acquire(ctx, 1); err != nil {
		conv.AbortSummarizing()
		return err
	}
	defer k.sem.Release(1)

	k.emitter.Emit(conv.ID, EventSummaryStart, map[string]any{"messages": len(pending)})
	summary, err := k.summarizer.Summarize(ctx, conv.Knowledge(), pending)
	if err == nil && strings.TrimSpace(summary) == "" {
		err = fmt.Errorf("summarizer returned an empty summary")
	}
	if err != nil {
		// Messages stay unsummarized so the next trigger retries them.
		conv.AbortSummarizing()
		log.Warn("summarization failed", zap.Error(err))
		k.emitter.Emit(conv.ID, EventSummaryEnd, map[string]any{"error": err.Error()})
		return err
	}

	ids := make([]string, len(pending))
	for i, m := range pending {
		ids[i] = m.ID
	}
	conv.FinishSummarizing(strings.TrimSpace(summary), ids)
	k.persist(ctx, conv)
	log.Info("knowledge summary updated")
	k.emitter.Emit(conv.ID, EventSummaryEnd, map[string]any{"messages": len(pending)})
	return nil
}

// SummaryState reports a conversation's latest summarization.
type SummaryState struct {
	Status SummaryStatus
	Err    error
}

func (k *knowledgeCache) state(convID string) (SummaryState, bool) {
	k.mu.Lock()
	job, ok := k.jobs[convID]
	k.mu.Unlock()
	if !ok {
		return SummaryState{}, false
	}
	job.mu.Lock()
	defer job.mu.Unlock()
	return SummaryState{Status: job.status, Err: job.err}, true
}

func (k *knowledgeCache) wait() { k.wg.Wait() }

func (k *knowledgeCache) close() {
	k.cancel()
	k.wg.Wait()
}

// ModelSummarizer folds messages into a knowledge summary with one model call.
type ModelSummarizer struct {
	Client     ModelClient
	Model      string
	MaxTokens  int
	MaxRetries int
	Timeout    time.Duration
}

const summarizerSystemPrompt = `You maintain the long-term memory of a coding assistant's conversation with a user.
Merge the existing summary with the new messages into one updated summary. Keep:
- the user's goals and preferences
- decisions made and the reasons given
- files created or changed and what they contain
- open problems, failing tests and next steps
Drop greetings and anything superseded. Write concise markdown bullet points, no preamble.`

// Summarize returns the updated summary.
func (s *ModelSummarizer) Summarize(ctx context.Context, prior string, messages []chat.Message) (string, error) {
	var sb strings.Builder
	sb.WriteString("Existing summary:\n")
	if strings.TrimSpace(prior) == "" {
		sb.WriteString("(none)\n")
	} else {
		sb.WriteString(prior)
		sb.WriteString("\n")
	}
	sb.WriteString("\nNew messages:\n")
	for _, m := range messages {
		fmt.Fprintf(&sb, "\n[%s]\n%s\n", m.Role, TruncateOutput(m.Content, 4000, TruncateHeadTail))
	}

	opts := unifiedllm.GenerateOptions{
		Client:     s.Client,
		Model:      s.Model,
		System:     summarizerSystemPrompt,
		Prompt:     sb.String(),
		MaxRetries: s.MaxRetries,
		Timeout:    s.Timeout,
	}
	if s.MaxTokens > 0 {
		opts.MaxTokens = &s.MaxTokens
	}
	result, err := unifiedllm.Generate(ctx, opts)
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return result.Text, nil
}
