package agentloop

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/codeloop/protocol"
	"github.com/martinemde/codeloop/workspace"
)

func TestToolRegistry(t *testing.T) {
	reg := DefaultToolRegistry()
	assert.Equal(t, []string{"list_files", "read_file"}, reg.Names())

	defs := reg.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "list_files", defs[0].Name)

	assert.Nil(t, reg.Get("grep"))
	assert.Equal(t, "list_files, read_file", reg.String())

	clone := reg.Clone()
	clone.Register(RegisteredTool{Definition: ToolDefinition{Name: "grep"}})
	assert.NotNil(t, clone.Get("grep"))
	assert.Nil(t, reg.Get("grep"), "clone is independent")
}

func TestListFilesTool(t *testing.T) {
	ws := seededWorkspace(t, map[string]string{"src/a.go": "package a\n"})
	out, err := DefaultToolRegistry().Get("list_files").Executor(context.Background(), nil, ws)
	require.NoError(t, err)
	assert.Contains(t, out, "src/")
	assert.Contains(t, out, "src/a.go (10 bytes)")

	out, err = DefaultToolRegistry().Get("list_files").Executor(context.Background(), nil, workspace.NewMemory())
	require.NoError(t, err)
	assert.Equal(t, "(the project is empty)", out)
}

func TestReadFileTool(t *testing.T) {
	ws := seededWorkspace(t, map[string]string{"a.txt": "alpha", "b.txt": "beta\n"})
	read := DefaultToolRegistry().Get("read_file").Executor

	out, err := read(context.Background(), []string{"a.txt", "nope.txt", "b.txt"}, ws)
	require.NoError(t, err)
	blocks := strings.Split(out, "\n--- FILE: ")
	require.Len(t, blocks, 3)
	assert.Equal(t, "--- FILE: a.txt ---\nalpha\n", blocks[0])
	assert.True(t, strings.HasPrefix(blocks[1], "nope.txt ---\n✗ ERROR:"))
	assert.Equal(t, "b.txt ---\nbeta\n", blocks[2])

	_, err = read(context.Background(), nil, ws)
	assert.ErrorIs(t, err, ErrNoPaths)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = read(ctx, []string{"a.txt"}, ws)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFormatToolResult(t *testing.T) {
	assert.Equal(t, "[TOOL RESULT: read_file]\n✗ ERROR: boom", formatToolResult("read_file", "", errors.New("boom")))
	assert.Equal(t, "[TOOL RESULT: list_files]\na.go", formatToolResult("list_files", "a.go", nil))
}

func TestTruncateOutput(t *testing.T) {
	assert.Equal(t, "short", TruncateOutput("short", 10, TruncateHeadTail))

	out := TruncateOutput(strings.Repeat("a", 50)+strings.Repeat("z", 50), 20, TruncateHeadTail)
	assert.True(t, strings.HasPrefix(out, strings.Repeat("a", 10)))
	assert.True(t, strings.HasSuffix(out, strings.Repeat("z", 10)))
	assert.Contains(t, out, "80 characters were removed from the middle")

	out = TruncateOutput("0123456789", 4, TruncateTail)
	assert.True(t, strings.HasSuffix(out, "6789"))
	assert.Contains(t, out, "First 6 characters were removed")
}

func TestTruncateLines(t *testing.T) {
	lines := make([]string, 10)
	for i := range lines {
		lines[i] = string(rune('a' + i))
	}
	out := TruncateLines(strings.Join(lines, "\n"), 4)
	assert.Equal(t, "a\nb\n[... 6 lines omitted ...]\ni\nj", out)
}

func TestTailExcerptRespectsRunes(t *testing.T) {
	assert.Equal(t, "abc", tailExcerpt("abc", 10))
	assert.Equal(t, "ef", tailExcerpt("abcdef", 2))
	// "é" is two bytes; a cut inside it moves forward to the next rune.
	assert.Equal(t, "x", tailExcerpt("éx", 2))
}

func TestDetectLoop(t *testing.T) {
	tests := []struct {
		name   string
		sigs   []string
		window int
		want   bool
	}{
		{"too few", []string{"a", "a"}, 3, false},
		{"single repeat", []string{"x", "a", "a", "a", "a"}, 4, true},
		{"pair repeat", []string{"a", "b", "a", "b"}, 4, true},
		{"triple repeat", []string{"a", "b", "c", "a", "b", "c"}, 6, true},
		{"no pattern", []string{"a", "b", "c", "d"}, 4, false},
		{"disabled", []string{"a", "a"}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectLoop(tt.sigs, tt.window))
		})
	}
}

func TestActionSignature(t *testing.T) {
	a := &protocol.ToolCall{FunctionName: "read_file", Paths: []string{"a"}}
	b := &protocol.ToolCall{FunctionName: "read_file", Paths: []string{"a"}}
	c := &protocol.ToolCall{FunctionName: "read_file", Paths: []string{"b"}}
	assert.Equal(t, actionSignature(a), actionSignature(b))
	assert.NotEqual(t, actionSignature(a), actionSignature(c))
	assert.True(t, strings.HasPrefix(actionSignature(a), protocol.ActionToolCall+":"))
}

func TestDecodeRouterResult(t *testing.T) {
	rr, err := decodeRouterResult("```json\n{\"intent\":\"GENERAL\",\"reply\":\"hey\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, IntentGeneral, rr.Intent)
	assert.True(t, rr.Terminal())

	rr, err = decodeRouterResult(`{"intent":"other"}`)
	require.NoError(t, err)
	assert.Equal(t, IntentProject, rr.Intent)
	assert.False(t, rr.Terminal())

	_, err = decodeRouterResult("not json")
	assert.Error(t, err)
}
