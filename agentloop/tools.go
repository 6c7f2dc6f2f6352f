package agentloop

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
)

// ToolExecutor runs a read-only tool. paths holds the merged args.paths
// and args.path values of the call.
type ToolExecutor func(ctx context.Context, paths []string, fs FileSystem) (string, error)

// ToolDefinition is the tool metadata rendered into the system prompt.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// RegisteredTool pairs a definition with its executor.
type RegisteredTool struct {
	Definition ToolDefinition
	Executor   ToolExecutor
}

// ToolRegistry maps function names from tool_call actions to executors.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]RegisteredTool
}

// NewToolRegistry creates an empty ToolRegistry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]RegisteredTool)}
}

// Register adds a tool, replacing any tool with the same name.
func (r *ToolRegistry) Register(tool RegisteredTool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Definition.Name] = tool
}

// Get returns the named tool, or nil.
func (r *ToolRegistry) Get(name string) *RegisteredTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return nil
	}
	return &tool
}

// Definitions returns every tool definition ordered by name.
func (r *ToolRegistry) Definitions() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ToolDefinition, 0, len(r.tools))
	for _, name := range slices.Sorted(maps.Keys(r.tools)) {
		defs = append(defs, r.tools[name].Definition)
	}
	return defs
}

// Names returns the registered names in order.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.tools))
}

// Clone returns an independent copy.
func (r *ToolRegistry) Clone() *ToolRegistry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return &ToolRegistry{tools: maps.Clone(r.tools)}
}

func (r *ToolRegistry) String() string {
	return strings.Join(r.Names(), ", ")
}
