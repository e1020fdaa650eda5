package models

import "strings"

// Provider families. The family selects the pricing table, rate limits and
// the adapter able to serve a model.
const (
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderAnthropic = "anthropic"
	ProviderDeepSeek  = "deepseek"
	ProviderMistral   = "mistral"
	ProviderOllama    = "ollama"
	ProviderUnknown   = "unknown"
)

// familyPatterns is checked in order; the first family with a matching
// substring wins. Mistral precedes ollama because some mistral builds
// mention llama in their names.
var familyPatterns = []struct {
	family   string
	patterns []string
}{
	{ProviderOpenAI, []string{"gpt-", "chatgpt", "davinci", "turbo", "text-"}},
	{ProviderAnthropic, []string{"claude", "opus", "sonnet", "haiku"}},
	{ProviderGoogle, []string{"gemini", "palm"}},
	{ProviderDeepSeek, []string{"deepseek"}},
	{ProviderMistral, []string{"mistral", "mixtral", "codestral"}},
	{ProviderOllama, []string{"llama"}},
}

// DetectProvider determines the provider family from a model name.
func DetectProvider(model string) string {
	ml := strings.ToLower(strings.TrimSpace(model))
	if ml == "" {
		return ProviderUnknown
	}
	if IsReasoningModel(ml) {
		return ProviderOpenAI
	}
	for _, f := range familyPatterns {
		for _, p := range f.patterns {
			if strings.Contains(ml, p) {
				return f.family
			}
		}
	}
	return ProviderUnknown
}
