package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Options select and configure a provider adapter.
type Options struct {
	Name    string
	APIKey  string
	BaseURL string
}

// New builds the adapter named by opts.Name.
func New(ctx context.Context, opts Options, logger *zap.Logger) (Provider, error) {
	switch opts.Name {
	case ProviderNameOpenAI, "":
		return NewOpenAIProvider(OpenAIConfig{APIKey: opts.APIKey, BaseURL: opts.BaseURL}, logger)
	case ProviderNameGemini:
		return NewGeminiProvider(ctx, GeminiConfig{APIKey: opts.APIKey, BaseURL: opts.BaseURL}, logger)
	default:
		return nil, fmt.Errorf("unknown provider %q", opts.Name)
	}
}
