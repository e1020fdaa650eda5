package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeminiConfig(t *testing.T) {
	temp := 0.5
	cfg := geminiConfig(Request{
		Instruction: "be brief",
		Parameters:  Parameters{BudgetParam: ParamMaxTokens, Budget: 300, Temperature: &temp},
	})
	assert.Equal(t, int32(300), cfg.MaxOutputTokens)
	require.NotNil(t, cfg.Temperature)
	assert.InDelta(t, 0.5, *cfg.Temperature, 1e-6)
	require.NotNil(t, cfg.SystemInstruction)
	require.Len(t, cfg.SystemInstruction.Parts, 1)
	assert.Equal(t, "be brief", cfg.SystemInstruction.Parts[0].Text)

	cfg = geminiConfig(Request{Parameters: Parameters{BudgetParam: ParamMaxCompletionTokens, Budget: 10}})
	assert.Nil(t, cfg.Temperature)
	assert.Nil(t, cfg.SystemInstruction)
	assert.Equal(t, int32(10), cfg.MaxOutputTokens)
}

func TestGeminiProviderComplete(t *testing.T) {
	var seen map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "models/gemini-2.5-flash:generateContent"), r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&seen))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
  "candidates": [{"content": {"role": "model", "parts": [{"text": "gemini says hi"}]}, "finishReason": "STOP"}],
  "usageMetadata": {"promptTokenCount": 8, "candidatesTokenCount": 4, "totalTokenCount": 12},
  "modelVersion": "gemini-2.5-flash"
}`))
	}))
	defer srv.Close()

	p, err := NewGeminiProvider(context.Background(), GeminiConfig{APIKey: "test-key", BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	temp := 0.7
	resp, err := p.Complete(context.Background(), Request{
		ModelID:     "gemini-2.5-flash",
		Instruction: "be brief",
		Content:     "say hi",
		Parameters:  Parameters{BudgetParam: ParamMaxTokens, Budget: 256, Temperature: &temp},
	})
	require.NoError(t, err)
	assert.Equal(t, "gemini says hi", resp.Text)
	assert.Equal(t, 12, resp.TokensUsed)
	assert.Equal(t, "STOP", resp.FinishReason)

	gen, ok := seen["generationConfig"].(map[string]any)
	require.True(t, ok, "generationConfig missing: %v", seen)
	assert.EqualValues(t, 256, gen["maxOutputTokens"])
}

func TestGeminiProviderStatusCode(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
		failure    bool
	}{
		{"bad request", http.StatusBadRequest, `{"error": {"code": 400, "message": "Invalid value at 'generation_config.max_output_tokens'", "status": "INVALID_ARGUMENT"}}`, 400, false},
		{"forbidden plain text", http.StatusForbidden, "API key not valid", 403, false},
		{"server error", http.StatusInternalServerError, `{"error": {"code": 500, "message": "internal", "status": "INTERNAL"}}`, 500, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p, err := NewGeminiProvider(context.Background(), GeminiConfig{APIKey: "test-key", BaseURL: srv.URL}, nil)
			require.NoError(t, err)

			_, err = p.Complete(context.Background(), Request{
				ModelID:    "gemini-2.5-flash",
				Content:    "say hi",
				Parameters: Parameters{BudgetParam: ParamMaxTokens, Budget: 16},
			})
			var pe *ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, ProviderNameGemini, pe.Provider)
			assert.Equal(t, tt.wantStatus, pe.StatusCode)
			assert.Equal(t, tt.failure, isProviderFailure(err))
		})
	}
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	_, err := New(context.Background(), Options{Name: "acme", APIKey: "k"}, nil)
	assert.Error(t, err)

	p, err := New(context.Background(), Options{Name: ProviderNameOpenAI, APIKey: "k"}, nil)
	require.NoError(t, err)
	assert.Equal(t, ProviderNameOpenAI, p.Name())
}
