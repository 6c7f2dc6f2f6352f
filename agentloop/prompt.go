package agentloop

import (
	"fmt"
	"strings"
	"time"

	"github.com/martinemde/codeloop/chat"
	"github.com/martinemde/codeloop/unifiedllm"
	"github.com/martinemde/codeloop/workspace"
)

const maxProjectDocBytes = 32 * 1024 // 32KB

// projectDocFiles are loaded from the workspace root into the prompt.
var projectDocFiles = []string{"AGENTS.md", "CODELOOP.md"}

// fileContext is one file whose content is placed in the prompt.
type fileContext struct {
	Path    string
	Content string
}

// promptContext is everything one model request is built from.
type promptContext struct {
	Profile     EnvironmentProfile
	Tools       []ToolDefinition
	Nodes       []workspace.Node
	ProjectDocs string
	ActiveFile  *fileContext
	Pinned      []fileContext
	Scouted     []fileContext
	Knowledge   string
	History     []chat.Message
	Task        TaskSnapshot
}

// buildMessages assembles the request: one system message followed by
// the recent history window.
func buildMessages(pc promptContext) []unifiedllm.Message {
	msgs := []unifiedllm.Message{unifiedllm.SystemMessage(buildSystemPrompt(pc))}
	for _, m := range pc.History {
		switch m.Role {
		case chat.RoleUser:
			msgs = append(msgs, unifiedllm.UserMessage(m.Content))
		case chat.RoleAssistant:
			msgs = append(msgs, unifiedllm.AssistantMessage(m.Content))
		}
	}
	return msgs
}

// buildSystemPrompt renders the system prompt sections in order:
// instructions and wire format, environment rules, tools, project
// instructions, structure, file contents, knowledge, and task status.
func buildSystemPrompt(pc promptContext) string {
	var sb strings.Builder

	sb.WriteString(baseInstructions)
	sb.WriteString("\n\n")
	sb.WriteString(wireFormatInstructions)
	sb.WriteString("\n\n")

	fmt.Fprintf(&sb, "# Environment: %s\n\n%s\n", pc.Profile.DisplayName, strings.TrimSpace(pc.Profile.Rules))
	if pc.Profile.TestHint != "" {
		fmt.Fprintf(&sb, "- Tests: %s\n", pc.Profile.TestHint)
	}
	fmt.Fprintf(&sb, "- Today's date: %s\n\n", time.Now().Format("2006-01-02"))

	sb.WriteString("# Available Tools (use with the tool_call action)\n\n")
	for _, def := range pc.Tools {
		fmt.Fprintf(&sb, "## %s\n%s\n\n", def.Name, def.Description)
	}

	if pc.ProjectDocs != "" {
		sb.WriteString("# Project Instructions\n\n")
		sb.WriteString(pc.ProjectDocs)
		sb.WriteString("\n\n")
	}

	sb.WriteString("# Project Structure\n\n")
	sb.WriteString(formatListing(pc.Nodes))
	sb.WriteString("\n\n")

	if pc.ActiveFile != nil {
		sb.WriteString("# Active File\n\n")
		writeFileBlock(&sb, *pc.ActiveFile)
	}
	if len(pc.Pinned) > 0 {
		sb.WriteString("# Pinned Files\n\n")
		for _, f := range pc.Pinned {
			writeFileBlock(&sb, f)
		}
	}
	if len(pc.Scouted) > 0 {
		sb.WriteString("# Relevant Files (already loaded; do not read them again)\n\n")
		for _, f := range pc.Scouted {
			writeFileBlock(&sb, f)
		}
	}

	if k := strings.TrimSpace(pc.Knowledge); k != "" {
		sb.WriteString("# Long-Term Knowledge\n\n")
		sb.WriteString(k)
		sb.WriteString("\n\n")
	}

	if pc.Task.Active {
		sb.WriteString(formatTaskStatus(pc.Task))
	}

	return strings.TrimRight(sb.String(), "\n")
}

func writeFileBlock(sb *strings.Builder, f fileContext) {
	fmt.Fprintf(sb, "--- FILE: %s ---\n", f.Path)
	sb.WriteString(f.Content)
	if !strings.HasSuffix(f.Content, "\n") {
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
}

// formatTaskStatus renders the active multi-file task block.
func formatTaskStatus(t TaskSnapshot) string {
	var sb strings.Builder
	sb.WriteString("# Active Multi-File Task\n\n")
	fmt.Fprintf(&sb, "Plan: %s\n", t.Description)
	fmt.Fprintf(&sb, "Completed (%d/%d): %s\n", len(t.Completed), len(t.AllFiles), joinOrNone(t.Completed))
	fmt.Fprintf(&sb, "Remaining: %s\n", joinOrNone(t.Remaining))
	if len(t.Remaining) > 0 {
		fmt.Fprintf(&sb, "Respond with continue_multi_file for %s next. ", t.Remaining[0])
	}
	sb.WriteString("When every file is done, send continue_multi_file with next_file.action \"noop\" and is_last_file true.\n")
	return sb.String()
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return strings.Join(items, ", ")
}

// formatListing renders the project path listing with sizes and tags.
func formatListing(nodes []workspace.Node) string {
	if len(nodes) == 0 {
		return "(the project is empty)"
	}
	var sb strings.Builder
	for _, n := range nodes {
		if n.IsFolder {
			fmt.Fprintf(&sb, "%s/\n", n.Path)
			continue
		}
		fmt.Fprintf(&sb, "%s (%d bytes)", n.Path, n.Size)
		if len(n.Tags) > 0 {
			fmt.Fprintf(&sb, " [%s]", strings.Join(n.Tags, ", "))
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// historyWindow returns the last n user and assistant messages. When the
// message with pinID has scrolled out, it replaces the oldest entry.
func historyWindow(msgs []chat.Message, n int, pinID string) []chat.Message {
	var out []chat.Message
	pinned := -1
	for _, m := range msgs {
		if m.Role == chat.RoleUser || m.Role == chat.RoleAssistant {
			if pinID != "" && m.ID == pinID {
				pinned = len(out)
			}
			out = append(out, m)
		}
	}
	if n <= 0 || len(out) <= n {
		return out
	}
	if pinned < 0 || pinned >= len(out)-n || n == 1 {
		return out[len(out)-n:]
	}
	return append([]chat.Message{out[pinned]}, out[len(out)-n+1:]...)
}

// DiscoverProjectDocs loads recognized instruction files from the project
// root, capped at 32KB in total.
func DiscoverProjectDocs(fs FileSystem) string {
	var docs []string
	totalBytes := 0
	for _, name := range projectDocFiles {
		content, err := fs.ReadFile(name)
		if err != nil {
			continue
		}
		remaining := maxProjectDocBytes - totalBytes
		if remaining <= 0 {
			docs = append(docs, "[Project instructions truncated at 32KB]")
			break
		}
		if len(content) > remaining {
			content = content[:remaining] + "\n[Project instructions truncated at 32KB]"
		}
		docs = append(docs, "## "+name+"\n\n"+content)
		totalBytes += len(content)
	}
	return strings.Join(docs, "\n\n---\n\n")
}

// continuationMessages re-prompts after a truncated reply with only the
// tail of what has been received so far.
func continuationMessages(base []unifiedllm.Message, tail string) []unifiedllm.Message {
	msgs := make([]unifiedllm.Message, 0, len(base)+2)
	msgs = append(msgs, base...)
	msgs = append(msgs,
		unifiedllm.AssistantMessage("..."+tail),
		unifiedllm.UserMessage(continuationInstruction),
	)
	return msgs
}

const continuationInstruction = "[SYSTEM] Your previous response was cut off by the output length limit. " +
	"The last lines you sent are shown above. Continue exactly where it stopped, starting with the next character. " +
	"Do not repeat anything already sent and do not add any preamble."

const baseInstructions = `You are a coding agent working inside a user's project. You can only act through the structured responses described below: reply with text, request read-only tools, edit files through a multi-file plan, or run tests. Every response contains exactly one action.

Guidelines:
- Read the files you need before changing them; batch all paths into one read_file call.
- For any file change, even a single file, use start_multi_file and then continue_multi_file for each remaining file.
- Always send complete file contents, never diffs or placeholders.
- After editing code that has tests, run them with run_test and fix any failures.
- Finish with a text_response that summarizes what you did.`

const wireFormatInstructions = "# Response Format\n\n" +
	"Respond with tagged sections. Each section opens with #[tag] and closes with #[end-tag]:\n\n" +
	"#[plan-description]\nFree text describing the plan (start_multi_file only).\n#[end-plan-description]\n" +
	"#[json-data]\n{\"action\":\"...\"}\n#[end-json-data]\n" +
	"#[file-message]\nA short message for the user (optional).\n#[end-file-message]\n" +
	"#[content-file]\nThe full content of the file being written (optional).\n#[end-content-file]\n\n" +
	"The json-data section is mandatory and holds ONE compact JSON object on a single line. " +
	"Put file contents in content-file, never inside the JSON. Actions:\n" +
	"- {\"action\":\"text_response\",\"message\":\"...\"}\n" +
	"- {\"action\":\"tool_call\",\"function_name\":\"list_files\"}\n" +
	"- {\"action\":\"tool_call\",\"function_name\":\"read_file\",\"args\":{\"paths\":[\"a.go\",\"b.go\"]}}\n" +
	"- {\"action\":\"start_multi_file\",\"plan\":{\"files_to_modify\":[\"a.go\",\"b.go\"]},\"first_file\":{\"path\":\"a.go\",\"action\":\"create\"}}\n" +
	"- {\"action\":\"continue_multi_file\",\"next_file\":{\"path\":\"b.go\",\"action\":\"update\",\"is_last_file\":true}}\n" +
	"- {\"action\":\"continue_multi_file\",\"next_file\":{\"action\":\"noop\",\"is_last_file\":true}} to finish a plan\n" +
	"- {\"action\":\"run_test\",\"file\":\"a_test.go\"} or {\"action\":\"run_test\",\"file\":\"all\"}\n" +
	"File actions are create, update, delete and noop."
