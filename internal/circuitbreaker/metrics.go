package circuitbreaker

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "refineflow_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name", "service"},
	)

	breakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refineflow_circuit_breaker_requests_total",
			Help: "Requests seen by circuit breakers",
		},
		[]string{"name", "service", "state", "result"},
	)

	breakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refineflow_circuit_breaker_state_changes_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "service", "from_state", "to_state"},
	)
)

type breakerKey struct{ name, service string }

// MetricsCollector exports breaker transitions and request outcomes, and
// lets health checks find a breaker by name.
type MetricsCollector struct {
	mu       sync.RWMutex
	breakers map[breakerKey]*CircuitBreaker
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{breakers: make(map[breakerKey]*CircuitBreaker)}
}

// RegisterCircuitBreaker hooks cb's transitions into the gauges. Call it
// before cb serves traffic. A later registration under the same name and
// service replaces the earlier one.
func (mc *MetricsCollector) RegisterCircuitBreaker(name, service string, cb *CircuitBreaker) {
	mc.mu.Lock()
	mc.breakers[breakerKey{name, service}] = cb
	mc.mu.Unlock()

	breakerState.WithLabelValues(name, service).Set(float64(cb.State()))

	cb.mu.Lock()
	defer cb.mu.Unlock()
	next := cb.config.OnStateChange
	cb.config.OnStateChange = func(cbName string, from, to State) {
		if next != nil {
			next(cbName, from, to)
		}
		breakerTransitions.WithLabelValues(name, service, from.String(), to.String()).Inc()
		breakerState.WithLabelValues(name, service).Set(float64(to))
	}
}

// RecordRequest counts one request outcome.
func (mc *MetricsCollector) RecordRequest(name, service string, state State, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	breakerRequests.WithLabelValues(name, service, state.String(), result).Inc()
}

// Breaker returns a registered breaker.
func (mc *MetricsCollector) Breaker(name, service string) (*CircuitBreaker, bool) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	cb, ok := mc.breakers[breakerKey{name, service}]
	return cb, ok
}

// GlobalMetricsCollector is shared by every breaker in the process.
var GlobalMetricsCollector = NewMetricsCollector()
