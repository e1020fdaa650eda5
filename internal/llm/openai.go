package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/refineflow/orchestrator/internal/tracing"
)

// ProviderNameOpenAI names the OpenAI adapter.
const ProviderNameOpenAI = "openai"

// OpenAIConfig configures the chat completions adapter.
type OpenAIConfig struct {
	APIKey string
	// BaseURL targets Azure or another compatible endpoint.
	BaseURL    string
	HTTPClient *http.Client
}

// OpenAIProvider calls the chat completions API.
type OpenAIProvider struct {
	client *openai.Client
	logger *zap.Logger
}

// NewOpenAIProvider builds the adapter. SDK retries are disabled; retry
// policy belongs to the caller.
func NewOpenAIProvider(cfg OpenAIConfig, logger *zap.Logger) (*OpenAIProvider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key not provided")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithMiddleware(func(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
			tracing.InjectHeaders(req.Context(), req.Header)
			return next(req)
		}),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	client := openai.NewClient(opts...)
	return &OpenAIProvider{client: &client, logger: logger}, nil
}

func (p *OpenAIProvider) Name() string { return ProviderNameOpenAI }

// Complete sends the instruction as the system message and the content as
// the user message.
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (RawResponse, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(req.ModelID),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.Instruction),
			openai.UserMessage(req.Content),
		},
	}
	budget := int64(req.Parameters.Budget)
	if req.Parameters.BudgetParam == ParamMaxCompletionTokens {
		params.MaxCompletionTokens = openai.Int(budget)
	} else {
		params.MaxTokens = openai.Int(budget)
	}
	if req.Parameters.Temperature != nil {
		params.Temperature = openai.Float(*req.Parameters.Temperature)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		status := 0
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		return RawResponse{}, WrapError(ProviderNameOpenAI, req.ModelID, status, err)
	}
	if len(resp.Choices) == 0 {
		return RawResponse{}, &ProviderError{
			Provider: ProviderNameOpenAI,
			ModelID:  req.ModelID,
			Err:      fmt.Errorf("response has no choices"),
		}
	}

	choice := resp.Choices[0]
	p.logger.Debug("OpenAI completion received",
		zap.String("model", resp.Model),
		zap.String("finish_reason", choice.FinishReason),
		zap.Int64("total_tokens", resp.Usage.TotalTokens),
	)
	return RawResponse{
		Text:         choice.Message.Content,
		TokensUsed:   int(resp.Usage.TotalTokens),
		FinishReason: choice.FinishReason,
		ModelID:      resp.Model,
	}, nil
}
