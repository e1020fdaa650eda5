package llm

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/refineflow/orchestrator/internal/circuitbreaker"
	"github.com/refineflow/orchestrator/internal/ratecontrol"
	"github.com/refineflow/orchestrator/internal/tracing"
)

// GuardService labels guard breakers in the shared metrics collector.
const GuardService = "llm"

// Guard wraps a Provider with client-side rate limits and a circuit
// breaker. It never retries: a rejected or failed call is returned as a
// ProviderError or ProviderTimeout.
type Guard struct {
	next    Provider
	breaker *circuitbreaker.CircuitBreaker
	rpm     *rate.Limiter
	tpm     *rate.Limiter
	logger  *zap.Logger
}

// NewGuard wraps next. A zero dimension of limit disables that limiter.
func NewGuard(next Provider, limit ratecontrol.RateLimit, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := circuitbreaker.GetProviderConfig().ToConfig()
	cfg.IsFailure = isProviderFailure
	name := next.Name()
	breaker := circuitbreaker.NewCircuitBreaker(name, cfg, logger)
	circuitbreaker.GlobalMetricsCollector.RegisterCircuitBreaker(name, GuardService, breaker)

	g := &Guard{next: next, breaker: breaker, logger: logger}
	if limit.RPM > 0 {
		g.rpm = rate.NewLimiter(rate.Limit(float64(limit.RPM)/60.0), limit.RPM)
	}
	if limit.TPM > 0 {
		g.tpm = rate.NewLimiter(rate.Limit(float64(limit.TPM)/60.0), limit.TPM)
	}
	return g
}

// isProviderFailure keeps caller mistakes and cancellation from opening
// the breaker.
func isProviderFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) && pe.ClientError() {
		return false
	}
	return true
}

func (g *Guard) Name() string { return g.next.Name() }

// Breaker exposes the circuit breaker for status reporting.
func (g *Guard) Breaker() *circuitbreaker.CircuitBreaker { return g.breaker }

// Complete waits for rate-limit capacity, reserving the request's output
// budget against the token limiter, then calls the wrapped provider
// through the breaker.
func (g *Guard) Complete(ctx context.Context, req Request) (RawResponse, error) {
	ctx, span := tracing.StartProviderSpan(ctx, g.next.Name(), req.ModelID, req.Parameters.Budget)
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	if err = g.wait(ctx, req); err != nil {
		return RawResponse{}, err
	}

	var resp RawResponse
	err = g.breaker.Execute(ctx, func() error {
		var callErr error
		resp, callErr = g.next.Complete(ctx, req)
		return callErr
	})
	circuitbreaker.GlobalMetricsCollector.RecordRequest(g.breaker.Name(), GuardService, g.breaker.State(), err == nil)

	switch {
	case err == nil:
		return resp, nil
	case errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen), errors.Is(err, circuitbreaker.ErrTooManyRequests):
		g.logger.Warn("Provider call rejected by circuit breaker",
			zap.String("provider", g.next.Name()),
			zap.String("model", req.ModelID),
			zap.Error(err),
		)
		err = &ProviderError{Provider: g.next.Name(), ModelID: req.ModelID, Err: err}
		return RawResponse{}, err
	default:
		err = WrapError(g.next.Name(), req.ModelID, 0, err)
		return RawResponse{}, err
	}
}

func (g *Guard) wait(ctx context.Context, req Request) error {
	start := time.Now()
	if g.rpm != nil {
		if err := g.rpm.Wait(ctx); err != nil {
			return g.limiterError(ctx, req, err)
		}
	}
	if g.tpm != nil {
		n := req.Parameters.Budget
		if n > g.tpm.Burst() {
			n = g.tpm.Burst()
		}
		if n > 0 {
			if err := g.tpm.WaitN(ctx, n); err != nil {
				return g.limiterError(ctx, req, err)
			}
		}
	}
	if waited := time.Since(start); waited > 100*time.Millisecond {
		g.logger.Debug("Rate limiter delayed provider call",
			zap.String("provider", g.next.Name()),
			zap.Duration("waited", waited),
		)
	}
	return nil
}

// limiterError maps a limiter refusal. The limiter fails fast when the
// wait would overrun the deadline, so that case is a timeout too.
func (g *Guard) limiterError(ctx context.Context, req Request, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return &ProviderError{Provider: g.next.Name(), ModelID: req.ModelID, Err: ctx.Err()}
	}
	return &ProviderTimeout{Provider: g.next.Name(), ModelID: req.ModelID, Err: err}
}
