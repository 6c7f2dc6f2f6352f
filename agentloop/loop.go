package agentloop

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/martinemde/codeloop/chat"
	"github.com/martinemde/codeloop/protocol"
	"github.com/martinemde/codeloop/unifiedllm"
	"github.com/martinemde/codeloop/workspace"
)

const (
	stoppedMessage      = "⏹ Stopped by user."
	maxContinuesWarning = "⚠ Max continuation limit reached; the response may be incomplete."
)

// turn is the state of one SendMessage call. It is owned by a single
// goroutine and never shared between turns.
type turn struct {
	e    *Engine
	conv *chat.Conversation
	opts SendOptions
	log  *zap.Logger

	opening    chat.Message
	iterations int
	toolCalls  int
	usage      unifiedllm.Usage
	signatures []string
}

func (t *turn) result(intent Intent, reason StopReason) *TurnResult {
	return &TurnResult{
		Intent:     intent,
		Iterations: t.iterations,
		ToolCalls:  t.toolCalls,
		Reason:     reason,
		Usage:      t.usage,
	}
}

func (t *turn) emit(kind EventKind, data map[string]any) {
	t.e.emitter.Emit(t.conv.ID, kind, data)
}

// progress records a transient status line for the host.
func (t *turn) progress(text string) {
	t.conv.Append(chat.RoleProgress, text)
}

func (t *turn) taskEvent(state string, snap TaskSnapshot) {
	t.emit(EventTaskProgress, map[string]any{
		"state":     state,
		"completed": len(snap.Completed),
		"remaining": len(snap.Remaining),
		"total":     len(snap.AllFiles),
	})
}

func (t *turn) stopped(intent Intent) (*TurnResult, error) {
	t.conv.Append(chat.RoleStatus, stoppedMessage)
	t.log.Info("turn stopped by user")
	return t.result(intent, StopCancelled), nil
}

// run routes the message, scouts context and drives the executor loop.
func (t *turn) run(ctx context.Context, text string) (*TurnResult, error) {
	if !t.e.tasks.active(t.conv.ID) {
		rr, err := t.route(ctx, text)
		if err != nil {
			return t.stopped(IntentProject)
		}
		t.emit(EventRoute, map[string]any{"intent": string(rr.Intent)})
		if rr.Terminal() {
			t.conv.Append(chat.RoleAssistant, strings.TrimSpace(rr.Reply))
			return t.result(IntentGeneral, StopGeneral), nil
		}
	}

	var scouted []fileContext
	if !t.e.config.DisableScout {
		nodes, err := t.e.fs.List()
		if err != nil {
			t.log.Warn("list files for scout", zap.Error(err))
		}
		hints := t.hintPaths()
		scouted, err = t.scout(ctx, text, nodes, hints)
		if err != nil {
			return t.stopped(IntentProject)
		}
		scouted = excludePaths(scouted, hints)
		t.emit(EventScout, map[string]any{"files": fileContextPaths(scouted)})
	}

	return t.loop(ctx, scouted)
}

// loop is the executor: build the prompt, call the model, parse,
// validate, dispatch, and repeat while the handler asks to continue.
func (t *turn) loop(ctx context.Context, scouted []fileContext) (*TurnResult, error) {
	cfg := t.e.config
	projectDocs := DiscoverProjectDocs(t.e.fs)

	for {
		if ctx.Err() != nil {
			return t.stopped(IntentProject)
		}
		if t.iterations >= cfg.MaxToolCalls {
			msg := fmt.Sprintf("⚠ Stopped after %d steps: the step budget for this message is exhausted. Send another message to continue.", cfg.MaxToolCalls)
			t.conv.Append(chat.RoleStatus, msg)
			t.emit(EventWarning, map[string]any{"message": msg})
			t.log.Warn("step budget exhausted", zap.Int("max_tool_calls", cfg.MaxToolCalls))
			return t.result(IntentProject, StopBudget), nil
		}
		t.iterations++
		log := t.log.With(zap.Int("iteration", t.iterations))

		pc := t.promptContext(scouted, projectDocs)
		raw, err := t.complete(ctx, buildMessages(pc), log)
		if err != nil {
			if unifiedllm.IsAbort(err) || ctx.Err() != nil {
				return t.stopped(IntentProject)
			}
			t.conv.Append(chat.RoleStatus, "✗ Model request failed: "+err.Error())
			t.emit(EventError, map[string]any{"error": err.Error()})
			log.Error("model request failed", zap.Error(err))
			return t.result(IntentProject, StopModelError), err
		}

		obj, err := protocol.Parse(raw)
		if err != nil {
			t.conv.Append(chat.RoleStatus, fmt.Sprintf("✗ Could not parse the model response: %v\n\nRaw response:\n%s", err, raw))
			t.emit(EventError, map[string]any{"error": err.Error()})
			log.Warn("unparseable model response", zap.Error(err), zap.Int("bytes", len(raw)))
			return t.result(IntentProject, StopParseError), nil
		}

		if !t.dispatch(ctx, obj, log) {
			return t.result(IntentProject, StopCompleted), nil
		}
	}
}

// dispatch decodes, validates and executes one action. It reports
// whether the loop should continue.
func (t *turn) dispatch(ctx context.Context, obj map[string]any, log *zap.Logger) bool {
	env, err := protocol.DecodeEnvelope(obj)
	if err != nil {
		t.conv.Append(chat.RoleUser, fmt.Sprintf("[SYSTEM-ERROR] %v. Send exactly one valid action object in #[json-data].", err))
		t.emit(EventValidation, map[string]any{"error": err.Error()})
		return true
	}

	action, err := env.ToAction()
	if err != nil {
		var unknown *protocol.UnknownActionError
		name := ""
		if errors.As(err, &unknown) {
			name = unknown.Name
		}
		t.conv.Append(chat.RoleUser, fmt.Sprintf("[SYSTEM-ERROR] Invalid action %q. Valid actions are %s.", name, strings.Join(validActions, ", ")))
		t.emit(EventError, map[string]any{"error": err.Error()})
		log.Warn("invalid action", zap.String("action", name))
		return false
	}

	if violations := protocol.Validate(env); len(violations) > 0 {
		t.conv.Append(chat.RoleUser, protocol.FormatViolations(violations))
		fields := make([]string, len(violations))
		for i, v := range violations {
			fields[i] = v.Field
		}
		t.emit(EventValidation, map[string]any{"action": action.Name(), "fields": fields})
		log.Debug("schema violations", zap.Strings("fields", fields))
	}

	t.emit(EventAction, map[string]any{"action": action.Name()})
	log.Debug("dispatching action", zap.String("action", action.Name()))
	cont := action.Accept(ctx, t)

	if t.e.config.LoopDetection {
		t.signatures = append(t.signatures, actionSignature(action))
		window := t.e.config.LoopDetectionWindow
		if DetectLoop(t.signatures, window) {
			t.conv.Append(chat.RoleUser, fmt.Sprintf(loopWarning, window))
			t.emit(EventLoopDetection, map[string]any{"window": window})
			log.Warn("action loop detected", zap.Int("window", window))
			t.signatures = t.signatures[:0]
		}
	}
	return cont
}

var validActions = []string{
	protocol.ActionTextResponse,
	protocol.ActionToolCall,
	protocol.ActionStartMultiFile,
	protocol.ActionContinueMultiFile,
	protocol.ActionRunTest,
}

// complete calls the model and runs the truncation-continuation protocol:
// a truncated chunk is cut back to its last full line and the model is
// re-prompted with a short tail of the answer so far, up to MaxContinues
// extra calls.
func (t *turn) complete(ctx context.Context, messages []unifiedllm.Message, log *zap.Logger) (string, error) {
	cfg := t.e.config
	req := unifiedllm.Request{
		Model:       cfg.Model,
		Messages:    messages,
		Temperature: cfg.Temperature,
		MaxTokens:   &cfg.MaxTokens,
		ResponseFormat: &unifiedllm.ResponseFormat{
			Type:       "json_schema",
			JSONSchema: protocol.ActionSchema(),
		},
	}
	policy := t.e.retryPolicy(log)

	var answer strings.Builder
	for attempt := 0; ; attempt++ {
		t.emit(EventModelRequest, map[string]any{"iteration": t.iterations, "attempt": attempt})
		resp, err := unifiedllm.Retry(ctx, policy, func(ctx context.Context) (*unifiedllm.Response, error) {
			if cfg.RequestTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, cfg.RequestTimeout)
				defer cancel()
			}
			return t.e.model.Complete(ctx, req)
		})
		if err != nil {
			return "", err
		}
		t.usage = t.usage.Add(resp.Usage)

		text := resp.Text()
		if !resp.Truncated() {
			answer.WriteString(text)
			return answer.String(), nil
		}
		if attempt >= cfg.MaxContinues {
			answer.WriteString(text)
			t.conv.Append(chat.RoleWarning, maxContinuesWarning)
			t.emit(EventWarning, map[string]any{"message": maxContinuesWarning})
			log.Warn("max continuation limit reached", zap.Int("continuations", attempt))
			return answer.String(), nil
		}

		answer.WriteString(safeLineBoundary(text))
		t.emit(EventContinuation, map[string]any{"attempt": attempt + 1, "bytes": answer.Len()})
		log.Debug("response truncated; continuing", zap.Int("attempt", attempt+1))
		req.Messages = continuationMessages(messages, tailExcerpt(answer.String(), cfg.ContinuationTailChars))
	}
}

// promptContext refreshes live state (listing, active and pinned file
// contents, task status, history) for the next model request.
func (t *turn) promptContext(scouted []fileContext, projectDocs string) promptContext {
	nodes, err := t.e.fs.List()
	if err != nil {
		t.log.Warn("list files", zap.Error(err))
	}
	pc := promptContext{
		Profile:     t.e.profiles.Get(t.conv.Environment),
		Tools:       t.e.tools.Definitions(),
		Nodes:       nodes,
		ProjectDocs: projectDocs,
		Scouted:     scouted,
		Knowledge:   t.conv.Knowledge(),
		History:     historyWindow(t.conv.Messages(), t.e.config.Knowledge.Threshold, t.opening.ID),
		Task:        t.e.tasks.snapshot(t.conv.ID),
	}
	if t.opts.ActiveFile != "" {
		if files := t.loadFiles([]string{t.opts.ActiveFile}, 1); len(files) == 1 {
			pc.ActiveFile = &files[0]
		}
	}
	pc.Pinned = excludePaths(t.loadFiles(t.opts.PinnedFiles, 0), []string{t.opts.ActiveFile})
	return pc
}

// hintPaths lists the active and pinned files.
func (t *turn) hintPaths() []string {
	var hints []string
	if t.opts.ActiveFile != "" {
		hints = append(hints, workspace.Normalize(t.opts.ActiveFile))
	}
	for _, p := range t.opts.PinnedFiles {
		hints = append(hints, workspace.Normalize(p))
	}
	return hints
}

func excludePaths(files []fileContext, paths []string) []fileContext {
	if len(paths) == 0 {
		return files
	}
	skip := make(map[workspace.Key]bool, len(paths))
	for _, p := range paths {
		skip[workspace.NewKey(p)] = true
	}
	out := files[:0:0]
	for _, f := range files {
		if !skip[workspace.NewKey(f.Path)] {
			out = append(out, f)
		}
	}
	return out
}

func fileContextPaths(files []fileContext) []string {
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	return paths
}
