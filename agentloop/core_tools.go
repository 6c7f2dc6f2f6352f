package agentloop

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/martinemde/codeloop/protocol"
)

// ErrNoPaths is returned by read_file when the call names no paths.
var ErrNoPaths = errors.New("read_file requires args.paths")

// RegisterCoreTools registers list_files and read_file on reg.
func RegisterCoreTools(reg *ToolRegistry) {
	registerListFiles(reg)
	registerReadFile(reg)
}

// DefaultToolRegistry returns a registry holding the core tools.
func DefaultToolRegistry() *ToolRegistry {
	reg := NewToolRegistry()
	RegisterCoreTools(reg)
	return reg
}

func registerListFiles(reg *ToolRegistry) {
	reg.Register(RegisteredTool{
		Definition: ToolDefinition{
			Name:        protocol.FuncListFiles,
			Description: "List every file and folder in the project with sizes and tags.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		Executor: func(_ context.Context, _ []string, fs FileSystem) (string, error) {
			nodes, err := fs.List()
			if err != nil {
				return "", err
			}
			return formatListing(nodes), nil
		},
	})
}

func registerReadFile(reg *ToolRegistry) {
	reg.Register(RegisteredTool{
		Definition: ToolDefinition{
			Name:        protocol.FuncReadFile,
			Description: "Read one or more files. Batch every file you need into a single call.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"paths": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "string"},
						"description": "Project-relative paths to read.",
					},
				},
				"required": []string{"paths"},
			},
		},
		Executor: func(ctx context.Context, paths []string, fs FileSystem) (string, error) {
			if len(paths) == 0 {
				return "", ErrNoPaths
			}
			blocks := make([]string, 0, len(paths))
			for _, p := range paths {
				if err := ctx.Err(); err != nil {
					return "", err
				}
				blocks = append(blocks, readBlock(fs, p))
			}
			return strings.Join(blocks, "\n"), nil
		},
	})
}

// readBlock reads one file independently; a failure becomes an inline
// error for that file only.
func readBlock(fs FileSystem, path string) string {
	header := fmt.Sprintf("--- FILE: %s ---\n", path)
	content, err := fs.ReadFile(path)
	if err != nil {
		return header + "✗ ERROR: " + err.Error() + "\n"
	}
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return header + content
}

// formatToolResult renders a tool result message for the model.
func formatToolResult(name, output string, err error) string {
	if err != nil {
		return fmt.Sprintf("[TOOL RESULT: %s]\n✗ ERROR: %s", name, err)
	}
	return fmt.Sprintf("[TOOL RESULT: %s]\n%s", name, TruncateToolOutput(output, name))
}
