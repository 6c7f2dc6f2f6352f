package unifiedllm

// ModelInfo describes a known model in the catalog.
type ModelInfo struct {
	ID            string   `json:"id"`
	Provider      string   `json:"provider"`
	DisplayName   string   `json:"display_name"`
	ContextWindow int      `json:"context_window"`
	MaxOutput     *int     `json:"max_output,omitempty"`
	Aliases       []string `json:"aliases,omitempty"`
}

func intPtr(v int) *int { return &v }

// fallbackMaxOutput is used for models missing from the catalog.
const fallbackMaxOutput = 4096

// Models is the built-in model catalog.
var Models = []ModelInfo{
	// Anthropic
	{
		ID: "claude-sonnet-4-5", Provider: "anthropic", DisplayName: "Claude Sonnet 4.5",
		ContextWindow: 200000, MaxOutput: intPtr(16384),
		Aliases: []string{"sonnet", "claude-sonnet"},
	},
	{
		ID: "claude-haiku-4-5", Provider: "anthropic", DisplayName: "Claude Haiku 4.5",
		ContextWindow: 200000, MaxOutput: intPtr(8192),
		Aliases: []string{"haiku", "claude-haiku"},
	},

	// OpenAI
	{
		ID: "gpt-4o", Provider: "openai", DisplayName: "GPT-4o",
		ContextWindow: 128000, MaxOutput: intPtr(16384),
	},
	{
		ID: "gpt-4o-mini", Provider: "openai", DisplayName: "GPT-4o Mini",
		ContextWindow: 128000, MaxOutput: intPtr(16384),
		Aliases: []string{"mini"},
	},

	// Groq
	{
		ID: "llama-3.3-70b-versatile", Provider: "groq", DisplayName: "Llama 3.3 70B",
		ContextWindow: 131072, MaxOutput: intPtr(32768),
		Aliases: []string{"llama"},
	},

	// Mistral
	{
		ID: "codestral-latest", Provider: "mistral", DisplayName: "Codestral",
		ContextWindow: 256000, MaxOutput: intPtr(8192),
		Aliases: []string{"codestral"},
	},
}

// GetModelInfo returns the catalog entry for a model, or nil if unknown.
func GetModelInfo(modelID string) *ModelInfo {
	for i := range Models {
		if Models[i].ID == modelID {
			return &Models[i]
		}
		for _, alias := range Models[i].Aliases {
			if alias == modelID {
				return &Models[i]
			}
		}
	}
	return nil
}

// ListModels returns all known models, optionally filtered by provider.
func ListModels(provider string) []ModelInfo {
	if provider == "" {
		result := make([]ModelInfo, len(Models))
		copy(result, Models)
		return result
	}
	var result []ModelInfo
	for _, m := range Models {
		if m.Provider == provider {
			result = append(result, m)
		}
	}
	return result
}

// GetLatestModel returns the first catalog model for a provider.
func GetLatestModel(provider string) *ModelInfo {
	for i := range Models {
		if Models[i].Provider == provider {
			return &Models[i]
		}
	}
	return nil
}

// DefaultMaxOutput returns the catalog output limit for a model.
func DefaultMaxOutput(modelID string) int {
	if info := GetModelInfo(modelID); info != nil && info.MaxOutput != nil {
		return *info.MaxOutput
	}
	return fallbackMaxOutput
}
