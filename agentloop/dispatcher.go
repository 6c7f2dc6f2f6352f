package agentloop

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/martinemde/codeloop/chat"
	"github.com/martinemde/codeloop/protocol"
	"github.com/martinemde/codeloop/testrunner"
	"github.com/martinemde/codeloop/workspace"
)

const defaultDoneMessage = "Done."

var _ protocol.Handler = (*turn)(nil)

// HandleTextResponse ends the loop with the model's reply.
func (t *turn) HandleTextResponse(_ context.Context, a *protocol.TextResponse) bool {
	msg := strings.TrimSpace(a.Message)
	if msg == "" {
		msg = defaultDoneMessage
	}
	t.conv.Append(chat.RoleAssistant, msg)
	return false
}

// HandleToolCall runs a read-only tool and feeds its result back.
func (t *turn) HandleToolCall(ctx context.Context, a *protocol.ToolCall) bool {
	t.toolCalls++
	name := a.FunctionName
	tool := t.e.tools.Get(name)
	if tool == nil {
		err := fmt.Errorf("unknown function %q (available: %s)", name, t.e.tools)
		t.conv.Append(chat.RoleUser, formatToolResult(name, "", err))
		return true
	}
	t.progress(fmt.Sprintf("Running %s %s", name, strings.Join(a.Paths, ", ")))
	output, err := tool.Executor(ctx, a.Paths, t.e.fs)
	if err != nil {
		t.log.Debug("tool failed", zap.String("tool", name), zap.Error(err))
	}
	t.conv.Append(chat.RoleUser, formatToolResult(name, output, err))
	return true
}

// HandleStartMultiFile applies the first file of a plan and activates it.
func (t *turn) HandleStartMultiFile(_ context.Context, a *protocol.StartMultiFile) bool {
	if t.e.tasks.active(t.conv.ID) {
		t.e.tasks.clear(t.conv.ID)
		t.taskEvent("aborted", TaskSnapshot{})
		t.conv.Append(chat.RoleUser, fmt.Sprintf("[SYSTEM-ERROR] %s; it has been aborted. Start the plan again.", ErrTaskActive))
		return false
	}

	result, err := t.applyFile(a.FirstFile, a.Tags)
	if err != nil {
		t.conv.Append(chat.RoleUser, fmt.Sprintf("[TOOL RESULT: %s]\n✗ ERROR: %s\nThe plan was not started.", protocol.ActionStartMultiFile, err))
		return false
	}
	snap, err := t.e.tasks.start(t.conv.ID, a.Plan.Description, a.Plan.FilesToModify, workspace.NewKey(a.FirstFile.Path))
	if err != nil {
		t.conv.Append(chat.RoleUser, "[SYSTEM-ERROR] "+err.Error())
		return false
	}
	t.taskEvent("started", snap)

	var sb strings.Builder
	fmt.Fprintf(&sb, "📋 Plan: %s\n", strings.TrimSpace(a.Plan.Description))
	for _, f := range snap.AllFiles {
		fmt.Fprintf(&sb, "- %s\n", f)
	}
	fmt.Fprintf(&sb, "✓ %s [%d/%d]", result, len(snap.Completed), len(snap.AllFiles))
	if m := strings.TrimSpace(a.Message); m != "" {
		sb.WriteString("\n" + m)
	}
	t.conv.Append(chat.RoleAssistant, sb.String())
	return true
}

// HandleContinueMultiFile applies the next file of the active plan.
func (t *turn) HandleContinueMultiFile(_ context.Context, a *protocol.ContinueMultiFile) bool {
	current := t.e.tasks.snapshot(t.conv.ID)
	if !current.Active {
		t.conv.Append(chat.RoleUser, fmt.Sprintf("[SYSTEM-ERROR] %s received but %s.", protocol.ActionContinueMultiFile, ErrNoActiveTask))
		return false
	}
	next := a.NextFile
	description := current.Description

	if next.Action == protocol.FileNoop {
		if next.IsLastFile {
			t.finishTask(description, a.Message)
			return false
		}
		// A noop step skips a file without touching it.
		snap := current
		if key := workspace.NewKey(next.Path); !key.IsZero() {
			snap, _ = t.e.tasks.advance(t.conv.ID, key)
		}
		t.taskEvent("skipped", snap)
		return true
	}

	result, err := t.applyFile(next, a.Tags)
	if err != nil {
		t.e.tasks.clear(t.conv.ID)
		t.taskEvent("aborted", TaskSnapshot{})
		t.conv.Append(chat.RoleUser, fmt.Sprintf("[TOOL RESULT: %s]\n✗ ERROR: %s\nThe multi-file task was aborted.", protocol.ActionContinueMultiFile, err))
		return false
	}
	snap, err := t.e.tasks.advance(t.conv.ID, workspace.NewKey(next.Path))
	if err != nil {
		t.conv.Append(chat.RoleUser, "[SYSTEM-ERROR] "+err.Error())
		return false
	}
	t.taskEvent("progress", snap)

	msg := fmt.Sprintf("✓ %s [%d/%d]", result, len(snap.Completed), len(snap.AllFiles))
	if m := strings.TrimSpace(a.Message); m != "" {
		msg += "\n" + m
	}
	t.conv.Append(chat.RoleAssistant, msg)

	if next.IsLastFile {
		t.finishTask(description, "")
		return false
	}
	return true
}

func (t *turn) finishTask(description, message string) {
	t.e.tasks.clear(t.conv.ID)
	t.taskEvent("completed", TaskSnapshot{})
	msg := "✅ Multi-file task complete"
	if d := strings.TrimSpace(description); d != "" {
		msg += ": " + d
	}
	if m := strings.TrimSpace(message); m != "" {
		msg += "\n" + m
	}
	t.conv.Append(chat.RoleAssistant, msg)
}

// HandleRunTest runs tests and reports the outcome. The loop always
// continues so the model can react to failures.
func (t *turn) HandleRunTest(ctx context.Context, a *protocol.RunTest) bool {
	t.toolCalls++
	target := a.Target()
	if t.e.tests == nil {
		t.conv.Append(chat.RoleUser, formatToolResult(protocol.ActionRunTest, "", errors.New("no test runner is configured")))
		return true
	}
	t.progress("Running tests: " + target)
	report, err := t.e.tests.RunTests(ctx, target)
	if err != nil {
		t.log.Warn("test run failed", zap.String("target", target), zap.Error(err))
		t.conv.Append(chat.RoleUser, formatToolResult(protocol.ActionRunTest, "", fmt.Errorf("test execution failed: %w", err)))
		return true
	}
	failing := make([]string, 0, report.NumFailed)
	for _, a := range report.Failures() {
		failing = append(failing, a.FullName)
	}
	t.emit(EventTestResult, map[string]any{
		"target":  target,
		"passed":  report.NumPassed,
		"failed":  report.NumFailed,
		"total":   report.NumTotal,
		"failing": failing,
	})
	t.log.Debug("tests finished", zap.String("target", target), zap.Strings("failing", failing))
	t.conv.Append(chat.RoleUser, formatToolResult(protocol.ActionRunTest, formatReport(target, report), nil))
	return true
}

// applyFile applies one planned file change through the file system.
func (t *turn) applyFile(fc protocol.FileChange, tags []string) (string, error) {
	kind, err := fileActionKind(fc.Action)
	if err != nil {
		return "", err
	}
	t.progress(fmt.Sprintf("%s %s", kind, fc.Path))
	result, err := t.e.fs.Apply(kind, fc.Path, fc.Content, tags)
	if err != nil {
		t.log.Warn("file action failed", zap.String("path", fc.Path), zap.String("kind", string(kind)), zap.Error(err))
		return "", err
	}
	t.log.Debug("file action applied", zap.String("path", fc.Path), zap.String("kind", string(kind)))
	return result, nil
}

func fileActionKind(action string) (workspace.FileActionKind, error) {
	switch strings.ToLower(strings.TrimSpace(action)) {
	case "create":
		return workspace.ActionCreate, nil
	case "", "update":
		return workspace.ActionUpdate, nil
	case "delete":
		return workspace.ActionDelete, nil
	case protocol.FileNoop:
		return "", errors.New("a noop file change cannot be applied here")
	default:
		return "", fmt.Errorf("unsupported file action %q", action)
	}
}

func formatReport(target string, r *testrunner.Report) string {
	var sb strings.Builder
	status := "PASSED"
	if r.NumFailed > 0 {
		status = "FAILED"
	}
	fmt.Fprintf(&sb, "Tests %s (%s): %s\n", status, target, r.Summary())
	for _, s := range r.Suites {
		for _, a := range s.Assertions {
			if a.Status != testrunner.StatusFailed {
				continue
			}
			fmt.Fprintf(&sb, "\n✗ %s › %s\n", s.Name, a.FullName)
			for _, m := range a.FailureMessages {
				sb.WriteString(indent(m, "    "))
				sb.WriteString("\n")
			}
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
