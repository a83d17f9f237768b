package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
	"github.com/kirillkom/tax-document-intelligence/internal/core/ports"
)

// StatsSource is implemented by the monitoring collector.
type StatsSource interface {
	Summary(hoursBack int) domain.AnalyticsSummary
	RealTimeStats() domain.RealTimeStats
}

// HealthCheck probes one dependency; nil means healthy.
type HealthCheck func(ctx context.Context) error

// InsightsUseCase serves the analytics and health read models.
type InsightsUseCase struct {
	analytics StatsSource
	breakers  ports.CircuitInspector
	timeout   time.Duration

	mu     sync.RWMutex
	checks map[string]HealthCheck
}

func NewInsightsUseCase(analytics StatsSource, breakers ports.CircuitInspector) *InsightsUseCase {
	return &InsightsUseCase{
		analytics: analytics,
		breakers:  breakers,
		timeout:   3 * time.Second,
		checks:    make(map[string]HealthCheck),
	}
}

func (uc *InsightsUseCase) RegisterCheck(service string, check HealthCheck) {
	if check == nil {
		return
	}
	uc.mu.Lock()
	defer uc.mu.Unlock()
	uc.checks[service] = check
}

func (uc *InsightsUseCase) AnalyticsSummary(hoursBack int) domain.AnalyticsSummary {
	if hoursBack <= 0 {
		hoursBack = 24
	}
	return uc.analytics.Summary(hoursBack)
}

func (uc *InsightsUseCase) RealTimeStats() domain.RealTimeStats {
	return uc.analytics.RealTimeStats()
}

func (uc *InsightsUseCase) CircuitBreakers() []domain.CircuitBreakerState {
	if uc.breakers == nil {
		return nil
	}
	return uc.breakers.BreakerStates()
}

// Health runs every registered probe concurrently and folds in breaker
// states: a dependency behind an open breaker is unhealthy even when its
// probe answers.
func (uc *InsightsUseCase) Health(ctx context.Context) []domain.ServiceHealth {
	uc.mu.RLock()
	checks := make(map[string]HealthCheck, len(uc.checks))
	for name, check := range uc.checks {
		checks[name] = check
	}
	uc.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, uc.timeout)
	defer cancel()

	byService := make(map[string]domain.ServiceHealth, len(checks))
	var wg sync.WaitGroup
	var mu sync.Mutex
	for name, check := range checks {
		wg.Add(1)
		go func(service string, probe HealthCheck) {
			defer wg.Done()
			status := domain.ServiceHealth{Service: service, Healthy: true}
			if err := probe(ctx); err != nil {
				status.Healthy = false
				status.Error = err.Error()
			}
			mu.Lock()
			byService[service] = status
			mu.Unlock()
		}(name, check)
	}
	wg.Wait()

	for _, state := range uc.CircuitBreakers() {
		if state.State != domain.BreakerOpen {
			if _, ok := byService[state.Service]; !ok {
				byService[state.Service] = domain.ServiceHealth{Service: state.Service, Healthy: true}
			}
			continue
		}
		status := byService[state.Service]
		status.Service = state.Service
		status.Healthy = false
		if status.Error == "" {
			status.Error = "circuit breaker open"
		}
		byService[state.Service] = status
	}

	out := make([]domain.ServiceHealth, 0, len(byService))
	for _, status := range byService {
		out = append(out, status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}

func Healthy(statuses []domain.ServiceHealth) bool {
	for _, s := range statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}
