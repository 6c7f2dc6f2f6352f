package unifiedllm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetModelInfo(t *testing.T) {
	tests := []struct {
		lookup string
		wantID string
	}{
		{"claude-sonnet-4-5", "claude-sonnet-4-5"},
		{"haiku", "claude-haiku-4-5"},
		{"codestral", "codestral-latest"},
		{"mini", "gpt-4o-mini"},
		{"nonexistent-model", ""},
	}
	for _, tt := range tests {
		info := GetModelInfo(tt.lookup)
		if tt.wantID == "" {
			assert.Nil(t, info, tt.lookup)
			continue
		}
		require.NotNil(t, info, tt.lookup)
		assert.Equal(t, tt.wantID, info.ID)
	}
}

func TestListModels(t *testing.T) {
	assert.Len(t, ListModels(""), len(Models))
	assert.Empty(t, ListModels("nonexistent"))

	for _, provider := range envProviders {
		models := ListModels(provider)
		assert.NotEmpty(t, models, "every environment provider has a catalog entry: %s", provider)
		for _, m := range models {
			assert.Equal(t, provider, m.Provider)
		}
	}

	listed := ListModels("")
	listed[0].ID = "mutated"
	assert.NotEqual(t, "mutated", Models[0].ID, "ListModels returns a copy")
}

func TestGetLatestModel(t *testing.T) {
	require.NotNil(t, GetLatestModel("anthropic"))
	assert.Equal(t, "claude-sonnet-4-5", GetLatestModel("anthropic").ID)
	assert.Nil(t, GetLatestModel("nonexistent"))
}

func TestDefaultMaxOutput(t *testing.T) {
	assert.Equal(t, 8192, DefaultMaxOutput("haiku"))
	assert.Equal(t, 32768, DefaultMaxOutput("llama-3.3-70b-versatile"))
	assert.Equal(t, fallbackMaxOutput, DefaultMaxOutput("unknown-model"))
}

func TestCatalogEntriesComplete(t *testing.T) {
	for _, m := range Models {
		assert.NotEmpty(t, m.Provider, m.ID)
		assert.NotEmpty(t, m.DisplayName, m.ID)
		assert.Positive(t, m.ContextWindow, m.ID)
		if assert.NotNil(t, m.MaxOutput, m.ID) {
			assert.Positive(t, *m.MaxOutput, m.ID)
		}
	}
}
