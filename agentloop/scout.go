package agentloop

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/martinemde/codeloop/protocol"
	"github.com/martinemde/codeloop/unifiedllm"
	"github.com/martinemde/codeloop/workspace"
)

// DefaultMaxScoutFiles caps how many scouted files are pre-loaded.
const DefaultMaxScoutFiles = 8

// ScoutResult lists paths likely relevant to a request.
type ScoutResult struct {
	Files []string `json:"files" jsonschema:"description=Project-relative paths of files relevant to the request"`
}

const scoutSystemPrompt = `You pick the files a coding assistant should look at before answering a request.
Given the request, the project's file listing, long-term notes and the files the user has open, choose the existing files most likely to be read or changed. Prefer fewer, highly relevant files.
Respond with one JSON object only: {"files":["path/a","path/b"]}`

// scout proposes relevant files and loads those that exist. Failures
// degrade to no pre-loaded context; only cancellation is returned.
func (t *turn) scout(ctx context.Context, text string, nodes []workspace.Node, hints []string) ([]fileContext, error) {
	if len(nodes) == 0 {
		return nil, nil
	}

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Request:\n%s\n\nProject files:\n%s\n", text, formatListing(nodes))
	if k := strings.TrimSpace(t.conv.Knowledge()); k != "" {
		fmt.Fprintf(&prompt, "\nLong-term notes:\n%s\n", k)
	}
	if len(hints) > 0 {
		fmt.Fprintf(&prompt, "\nOpen or pinned files: %s\n", strings.Join(hints, ", "))
	}

	result, err := unifiedllm.Generate(ctx, t.e.lightOptions(scoutSystemPrompt, prompt.String(), protocol.SchemaOf(&ScoutResult{})))
	if err != nil {
		if unifiedllm.IsAbort(err) || ctx.Err() != nil {
			return nil, err
		}
		t.log.Warn("scout failed", zap.Error(err))
		return nil, nil
	}

	obj, err := protocol.ExtractObject(result.Text)
	if err != nil {
		t.log.Debug("scout reply unparseable", zap.Error(err))
		return nil, nil
	}
	var sr ScoutResult
	if err := remarshal(obj, &sr); err != nil {
		t.log.Debug("scout reply has wrong shape", zap.Error(err))
		return nil, nil
	}
	return t.loadFiles(sr.Files, t.e.config.MaxScoutFiles), nil
}

// loadFiles reads every path that resolves to an existing file, skipping
// duplicates and folders, up to limit files.
func (t *turn) loadFiles(paths []string, limit int) []fileContext {
	var out []fileContext
	seen := make(map[workspace.Key]bool)
	for _, p := range paths {
		if limit > 0 && len(out) >= limit {
			break
		}
		key := workspace.NewKey(p)
		if key.IsZero() || seen[key] {
			continue
		}
		seen[key] = true
		node, ok := t.e.fs.Lookup(key)
		if !ok || node.IsFolder {
			continue
		}
		content, err := t.e.fs.ReadFile(key.String())
		if err != nil {
			continue
		}
		out = append(out, fileContext{Path: key.String(), Content: content})
	}
	return out
}
