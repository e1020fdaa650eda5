package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/refineflow/orchestrator/internal/models"
)

// Names of the output budget parameter. Reasoning models reject the
// generic one.
const (
	ParamMaxTokens           = "max_tokens"
	ParamMaxCompletionTokens = "max_completion_tokens"
	ParamTemperature         = "temperature"
)

// Parameters are the sampling controls sent with a request.
type Parameters struct {
	BudgetParam string
	Budget      int
	// Temperature is nil for models that reject it.
	Temperature *float64
}

// ParametersFor adapts the request controls to the model's quirks: a
// model without temperature support gets no temperature and the
// completion-budget parameter name.
func ParametersFor(profile models.ModelProfile, budget int, temperature float64) Parameters {
	if !profile.SupportsTemperature {
		return Parameters{BudgetParam: ParamMaxCompletionTokens, Budget: budget}
	}
	t := temperature
	return Parameters{BudgetParam: ParamMaxTokens, Budget: budget, Temperature: &t}
}

// Map renders the parameters as they appear on the wire.
func (p Parameters) Map() map[string]any {
	m := map[string]any{p.BudgetParam: p.Budget}
	if p.Temperature != nil {
		m[ParamTemperature] = *p.Temperature
	}
	return m
}

// Request is one provider call. Instruction and Content stay separate so
// adapters can map them to system and user messages.
type Request struct {
	ModelID     string
	Instruction string
	Content     string
	Parameters  Parameters
}

// RawResponse is the unvalidated provider output.
type RawResponse struct {
	Text         string
	TokensUsed   int
	FinishReason string
	// ModelID is the model that actually answered, when the provider says.
	ModelID string
}

// Provider sends a request to a hosted model. Implementations must honour
// ctx and must not retry.
type Provider interface {
	Complete(ctx context.Context, req Request) (RawResponse, error)
	Name() string
}

// ProviderError is a transport or API failure, surfaced unmodified in Err.
type ProviderError struct {
	Provider   string
	ModelID    string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s (model %s): status %d: %v", e.Provider, e.ModelID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s (model %s): %v", e.Provider, e.ModelID, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ClientError reports a 4xx other than 429: the request itself was bad,
// the provider is healthy.
func (e *ProviderError) ClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != 429
}

// ProviderTimeout reports a call that did not finish within its deadline.
type ProviderTimeout struct {
	Provider string
	ModelID  string
	Timeout  time.Duration
	Err      error
}

func (e *ProviderTimeout) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("provider %s (model %s): timed out after %s", e.Provider, e.ModelID, e.Timeout)
	}
	return fmt.Sprintf("provider %s (model %s): timed out: %v", e.Provider, e.ModelID, e.Err)
}

func (e *ProviderTimeout) Unwrap() error { return e.Err }

// WrapError classifies an adapter error. Deadline expiry becomes
// ProviderTimeout, everything else ProviderError. Errors that already
// carry one of those types pass through.
func WrapError(provider, modelID string, statusCode int, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	var pt *ProviderTimeout
	if errors.As(err, &pe) || errors.As(err, &pt) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ProviderTimeout{Provider: provider, ModelID: modelID, Err: err}
	}
	return &ProviderError{Provider: provider, ModelID: modelID, StatusCode: statusCode, Err: err}
}
