package agentloop

import (
	"fmt"
	"strings"
)

// TruncationMode specifies how output is truncated.
type TruncationMode string

const (
	TruncateHeadTail TruncationMode = "head_tail"
	TruncateTail     TruncationMode = "tail"
)

// DefaultToolCharLimits are character limits per tool result.
var DefaultToolCharLimits = map[string]int{
	"read_file":  50000,
	"list_files": 20000,
}

// DefaultTruncationModes are truncation modes per tool.
var DefaultTruncationModes = map[string]TruncationMode{
	"read_file":  TruncateHeadTail,
	"list_files": TruncateHeadTail,
}

// DefaultToolLineLimits are applied after character truncation.
var DefaultToolLineLimits = map[string]int{
	"list_files": 500,
}

const fallbackCharLimit = 30000

// TruncateOutput applies character-based truncation to output.
func TruncateOutput(output string, maxChars int, mode TruncationMode) string {
	if maxChars <= 0 || len(output) <= maxChars {
		return output
	}
	removed := len(output) - maxChars

	if mode == TruncateTail {
		return fmt.Sprintf("[WARNING: Tool output was truncated. First %d characters were removed.]\n\n", removed) +
			output[len(output)-maxChars:]
	}
	half := maxChars / 2
	return output[:half] +
		fmt.Sprintf("\n\n[WARNING: Tool output was truncated. %d characters were removed from the middle. "+
			"Request fewer files at once if you need the full content.]\n\n", removed) +
		output[len(output)-half:]
}

// TruncateLines applies line-based truncation using a head/tail split.
func TruncateLines(output string, maxLines int) string {
	lines := strings.Split(output, "\n")
	if maxLines <= 0 || len(lines) <= maxLines {
		return output
	}

	headCount := maxLines / 2
	tailCount := maxLines - headCount
	omitted := len(lines) - headCount - tailCount

	return strings.Join(lines[:headCount], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tailCount:], "\n")
}

// TruncateToolOutput applies the truncation pipeline for a tool:
// characters first, then lines.
func TruncateToolOutput(output, toolName string) string {
	maxChars, ok := DefaultToolCharLimits[toolName]
	if !ok {
		maxChars = fallbackCharLimit
	}
	mode, ok := DefaultTruncationModes[toolName]
	if !ok {
		mode = TruncateHeadTail
	}
	result := TruncateOutput(output, maxChars, mode)
	if maxLines := DefaultToolLineLimits[toolName]; maxLines > 0 {
		result = TruncateLines(result, maxLines)
	}
	return result
}

// safeLineBoundary cuts a truncated chunk back to the end of its last
// complete line. A chunk without any newline is kept whole.
func safeLineBoundary(chunk string) string {
	i := strings.LastIndexByte(chunk, '\n')
	if i < 0 {
		return chunk
	}
	return chunk[:i+1]
}

// tailExcerpt returns at most n trailing bytes of s, starting on a rune
// boundary.
func tailExcerpt(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	start := len(s) - n
	for start < len(s) && !isRuneStart(s[start]) {
		start++
	}
	return s[start:]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
