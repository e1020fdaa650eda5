package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Manager runs registered checkers and folds their results into a report.
type Manager struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	logger   *zap.Logger
	now      func() time.Time
}

// NewManager creates an empty manager.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		checkers: make(map[string]Checker),
		logger:   logger,
		now:      time.Now,
	}
}

// RegisterChecker adds a checker. Names must be unique.
func (m *Manager) RegisterChecker(checker Checker) error {
	if checker == nil {
		return fmt.Errorf("checker cannot be nil")
	}
	name := checker.Name()
	if name == "" {
		return fmt.Errorf("checker name cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.checkers[name]; exists {
		return fmt.Errorf("checker with name '%s' already registered", name)
	}
	m.checkers[name] = checker
	m.logger.Debug("Registered health checker",
		zap.String("name", name),
		zap.Bool("critical", checker.IsCritical()),
	)
	return nil
}

// Names returns the registered checker names in order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.checkers))
	for name := range m.checkers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Check runs every checker concurrently, each under its own timeout.
func (m *Manager) Check(ctx context.Context) Report {
	m.mu.RLock()
	checkers := make([]Checker, 0, len(m.checkers))
	for _, c := range m.checkers {
		checkers = append(checkers, c)
	}
	m.mu.RUnlock()

	start := m.now()
	results := make([]CheckResult, len(checkers))
	var g errgroup.Group
	for i, c := range checkers {
		g.Go(func() error {
			results[i] = runSingleCheck(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{
		Components: make(map[string]CheckResult, len(results)),
		Timestamp:  start,
	}
	for _, r := range results {
		report.Components[r.Component] = r
		report.Summary.Total++
		switch r.Status {
		case StatusHealthy:
			report.Summary.Healthy++
		case StatusDegraded:
			report.Summary.Degraded++
		default:
			report.Summary.Unhealthy++
		}
		if r.Critical {
			report.Summary.Critical++
		}
		if r.Status != StatusHealthy {
			m.logger.Warn("Health check not healthy",
				zap.String("component", r.Component),
				zap.String("status", r.Status.String()),
				zap.String("error", r.Error),
			)
		}
	}
	report.Status, report.Message = overallStatus(report.Components)
	report.Duration = m.now().Sub(start)
	return report
}

func runSingleCheck(ctx context.Context, checker Checker) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, checker.Timeout())
	defer cancel()

	start := time.Now()
	result := checker.Check(checkCtx)
	result.Component = checker.Name()
	result.Critical = checker.IsCritical()
	if result.Duration == 0 {
		result.Duration = time.Since(start)
	}
	return result
}

// overallStatus: any critical failure is unhealthy; any other non-healthy
// component degrades.
func overallStatus(components map[string]CheckResult) (CheckStatus, string) {
	if len(components) == 0 {
		return StatusUnknown, "no health checks registered"
	}
	var criticalFailures, otherFailures, degraded int
	for _, r := range components {
		switch {
		case r.Status == StatusUnhealthy && r.Critical:
			criticalFailures++
		case r.Status == StatusUnhealthy:
			otherFailures++
		case r.Status == StatusDegraded:
			degraded++
		}
	}
	switch {
	case criticalFailures > 0:
		return StatusUnhealthy, fmt.Sprintf("%d critical component(s) failing", criticalFailures)
	case otherFailures > 0 || degraded > 0:
		return StatusDegraded, fmt.Sprintf("%d component(s) degraded", otherFailures+degraded)
	default:
		return StatusHealthy, "all components healthy"
	}
}
