package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectProviderFamilies(t *testing.T) {
	families := map[string][]string{
		ProviderOpenAI:    {"gpt-5-mini", "gpt-4o-2024-08-06", "GPT-4O-MINI", "chatgpt-4o-latest", "o1", "o3-mini", "gpt-3.5-turbo"},
		ProviderAnthropic: {"claude-sonnet-4-5-20250929", "Claude-Haiku-4-5"},
		ProviderGoogle:    {"gemini-2.5-flash", " Gemini-2.5-Pro ", "palm-2"},
		ProviderDeepSeek:  {"deepseek-chat"},
		// mistral names can contain "llama"; the mistral family is checked first
		ProviderMistral: {"mistral-7b", "mixtral-8x7b", "codestral-22b"},
		ProviderOllama:  {"llama-3.1-405b"},
		ProviderUnknown: {"", "   ", "model-z", "orca-mini"},
	}
	for family, ids := range families {
		for _, id := range ids {
			assert.Equal(t, family, DetectProvider(id), "model %q", id)
		}
	}
}

func TestRegistryFillsProvider(t *testing.T) {
	r, err := NewRegistry(
		ModelProfile{ID: "gemini-2.5-flash", InputTokenLimit: 100, OutputTokenLimit: 10},
		ModelProfile{ID: "house-model", Provider: ProviderOllama, InputTokenLimit: 100, OutputTokenLimit: 10},
	)
	require.NoError(t, err)

	p, warn := r.Lookup("gemini-2.5-flash")
	require.Nil(t, warn)
	assert.Equal(t, ProviderGoogle, p.Provider)

	p, warn = r.Lookup("house-model")
	require.Nil(t, warn)
	assert.Equal(t, ProviderOllama, p.Provider, "explicit provider is kept")

	fb, warn := r.Lookup("claude-opus-9")
	require.NotNil(t, warn)
	assert.Equal(t, ProviderAnthropic, fb.Provider)
}
