package health

import (
	"context"
	"time"

	"github.com/refineflow/orchestrator/internal/circuitbreaker"
)

const (
	defaultCheckTimeout = 5 * time.Second
	// answers slower than this are reported degraded
	defaultSlowThreshold = 100 * time.Millisecond
)

// Pinger is anything that can prove its backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// PingChecker checks a backend with Ping. When a breaker is attached and
// open the backend is not contacted.
type PingChecker struct {
	name     string
	pinger   Pinger
	breaker  *circuitbreaker.CircuitBreaker
	critical bool
	timeout  time.Duration
	slow     time.Duration
}

// NewPingChecker creates a critical checker named name.
func NewPingChecker(name string, p Pinger, breaker *circuitbreaker.CircuitBreaker) *PingChecker {
	return &PingChecker{
		name:     name,
		pinger:   p,
		breaker:  breaker,
		critical: true,
		timeout:  defaultCheckTimeout,
		slow:     defaultSlowThreshold,
	}
}

// NonCritical marks the checker as not affecting readiness.
func (c *PingChecker) NonCritical() *PingChecker {
	c.critical = false
	return c
}

func (c *PingChecker) Name() string           { return c.name }
func (c *PingChecker) IsCritical() bool       { return c.critical }
func (c *PingChecker) Timeout() time.Duration { return c.timeout }

func (c *PingChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Component: c.name, Critical: c.critical}

	if c.breaker != nil && c.breaker.State() == circuitbreaker.StateOpen {
		result.Status = StatusUnhealthy
		result.Error = circuitbreaker.ErrCircuitBreakerOpen.Error()
		result.Message = c.name + " circuit breaker is open"
		result.Duration = time.Since(start)
		return result
	}

	err := c.pinger.Ping(ctx)
	result.Duration = time.Since(start)
	result.Details = map[string]any{"latency_ms": result.Duration.Milliseconds()}
	switch {
	case err != nil:
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = c.name + " ping failed"
	case result.Duration > c.slow:
		result.Status = StatusDegraded
		result.Message = c.name + " responding with high latency"
	default:
		result.Status = StatusHealthy
		result.Message = c.name + " healthy"
	}
	return result
}

// BreakerChecker reports the state of a registered circuit breaker without
// issuing any request. An open breaker degrades the report; callers have
// a fallback for the guarded dependency.
type BreakerChecker struct {
	name    string
	breaker *circuitbreaker.CircuitBreaker
}

// NewBreakerChecker looks up the breaker registered as name under service.
// ok is false when no such breaker exists.
func NewBreakerChecker(name, service string) (*BreakerChecker, bool) {
	cb, ok := circuitbreaker.GlobalMetricsCollector.Breaker(name, service)
	if !ok {
		return nil, false
	}
	return &BreakerChecker{name: service + ":" + name, breaker: cb}, true
}

func (b *BreakerChecker) Name() string           { return b.name }
func (b *BreakerChecker) IsCritical() bool       { return false }
func (b *BreakerChecker) Timeout() time.Duration { return time.Second }

func (b *BreakerChecker) Check(ctx context.Context) CheckResult {
	state := b.breaker.State()
	counts := b.breaker.Counts()
	result := CheckResult{
		Component: b.name,
		Status:    StatusHealthy,
		Message:   "circuit " + state.String(),
		Details: map[string]any{
			"state":                state.String(),
			"requests":             counts.Requests,
			"consecutive_failures": counts.ConsecutiveFailures,
		},
	}
	if state != circuitbreaker.StateClosed {
		result.Status = StatusDegraded
	}
	return result
}
