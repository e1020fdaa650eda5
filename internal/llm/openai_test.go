package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newOpenAITestServer(t *testing.T, handler func(body map[string]any) (int, string)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		status, resp := handler(body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(resp))
	}))
	t.Cleanup(srv.Close)
	return srv
}

const completionJSON = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "gpt-4o-2024-08-06",
  "choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "hello there"}}],
  "usage": {"prompt_tokens": 20, "completion_tokens": 5, "total_tokens": 25}
}`

func TestOpenAIProviderComplete(t *testing.T) {
	var seen map[string]any
	srv := newOpenAITestServer(t, func(body map[string]any) (int, string) {
		seen = body
		return http.StatusOK, completionJSON
	})

	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL}, zaptest.NewLogger(t))
	require.NoError(t, err)

	temp := 0.2
	resp, err := p.Complete(context.Background(), Request{
		ModelID:     "gpt-4o",
		Instruction: "be brief",
		Content:     "say hi",
		Parameters:  Parameters{BudgetParam: ParamMaxTokens, Budget: 512, Temperature: &temp},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.Text)
	assert.Equal(t, 25, resp.TokensUsed)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, "gpt-4o-2024-08-06", resp.ModelID)

	assert.Equal(t, "gpt-4o", seen["model"])
	assert.EqualValues(t, 512, seen["max_tokens"])
	assert.InDelta(t, 0.2, seen["temperature"], 1e-9)
	assert.NotContains(t, seen, "max_completion_tokens")

	msgs, ok := seen["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "be brief", msgs[0].(map[string]any)["content"])
	assert.Equal(t, "user", msgs[1].(map[string]any)["role"])
	assert.Equal(t, "say hi", msgs[1].(map[string]any)["content"])
}

func TestOpenAIProviderReasoningParameters(t *testing.T) {
	var seen map[string]any
	srv := newOpenAITestServer(t, func(body map[string]any) (int, string) {
		seen = body
		return http.StatusOK, completionJSON
	})
	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), Request{
		ModelID:    "o1-mini",
		Content:    "x",
		Parameters: Parameters{BudgetParam: ParamMaxCompletionTokens, Budget: 19660},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 19660, seen["max_completion_tokens"])
	assert.NotContains(t, seen, "max_tokens")
	assert.NotContains(t, seen, "temperature")
}

func TestOpenAIProviderErrors(t *testing.T) {
	t.Run("api error keeps status", func(t *testing.T) {
		srv := newOpenAITestServer(t, func(map[string]any) (int, string) {
			return http.StatusBadRequest, `{"error": {"message": "bad model", "type": "invalid_request_error"}}`
		})
		p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL}, nil)
		require.NoError(t, err)

		_, err = p.Complete(context.Background(), Request{ModelID: "nope", Content: "x", Parameters: Parameters{BudgetParam: ParamMaxTokens, Budget: 1}})
		var pe *ProviderError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, http.StatusBadRequest, pe.StatusCode)
		assert.True(t, pe.ClientError())
	})

	t.Run("deadline becomes timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		t.Cleanup(srv.Close)
		p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL}, nil)
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err = p.Complete(ctx, Request{ModelID: "gpt-4o", Content: "x", Parameters: Parameters{BudgetParam: ParamMaxTokens, Budget: 1}})
		var pt *ProviderTimeout
		require.ErrorAs(t, err, &pt)
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := NewOpenAIProvider(OpenAIConfig{}, nil)
		assert.Error(t, err)
	})
}
