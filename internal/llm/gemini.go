package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// ProviderNameGemini names the Gemini adapter.
const ProviderNameGemini = "gemini"

// GeminiConfig configures the Gemini API adapter.
type GeminiConfig struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// GeminiProvider calls generateContent on the Gemini API.
type GeminiProvider struct {
	client *genai.Client
	logger *zap.Logger
}

// NewGeminiProvider builds the adapter.
func NewGeminiProvider(ctx context.Context, cfg GeminiConfig, logger *zap.Logger) (*GeminiProvider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: API key not provided")
	}
	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiProvider{client: client, logger: logger}, nil
}

func (p *GeminiProvider) Name() string { return ProviderNameGemini }

// geminiConfig maps request parameters. Gemini has a single output budget
// field whatever the parameter name.
func geminiConfig(req Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(req.Parameters.Budget),
	}
	if req.Instruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.Instruction, genai.RoleUser)
	}
	if req.Parameters.Temperature != nil {
		t := float32(*req.Parameters.Temperature)
		cfg.Temperature = &t
	}
	return cfg
}

// Complete sends the content as the user turn and the instruction as the
// system instruction.
func (p *GeminiProvider) Complete(ctx context.Context, req Request) (RawResponse, error) {
	resp, err := p.client.Models.GenerateContent(ctx, req.ModelID, genai.Text(req.Content), geminiConfig(req))
	if err != nil {
		status := 0
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			status = apiErr.Code
		}
		return RawResponse{}, WrapError(ProviderNameGemini, req.ModelID, status, err)
	}

	out := RawResponse{Text: resp.Text(), ModelID: resp.ModelVersion}
	if len(resp.Candidates) > 0 {
		out.FinishReason = string(resp.Candidates[0].FinishReason)
	}
	if resp.UsageMetadata != nil {
		out.TokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	}
	p.logger.Debug("Gemini completion received",
		zap.String("model", req.ModelID),
		zap.String("finish_reason", out.FinishReason),
		zap.Int("total_tokens", out.TokensUsed),
	)
	return out, nil
}
