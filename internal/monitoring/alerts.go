package monitoring

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
)

type StatsSource interface {
	RealTimeStats() domain.RealTimeStats
}

type AlertThresholds struct {
	MinSuccessRate float64
	MaxAvgLatency  time.Duration
	MaxMemoryBytes uint64
	MaxQueueLength int
}

func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		MinSuccessRate: 0.9,
		MaxAvgLatency:  10 * time.Second,
		MaxMemoryBytes: 400 << 20,
		MaxQueueLength: 50,
	}
}

// Rule inspects real-time stats and reports the observed value and whether
// it breaches the threshold.
type Rule struct {
	Type      domain.AlertType
	Threshold float64
	Check     func(stats domain.RealTimeStats) (value float64, breached bool)
	Message   func(value, threshold float64) string
}

type AlertHandler func(domain.Alert)

// AlertSystem evaluates rules against the collector and publishes breaches
// to subscribers registered per alert type. Handlers run synchronously, in
// subscription order, once per evaluation cycle.
type AlertSystem struct {
	stats StatsSource
	now   func() time.Time

	mu          sync.RWMutex
	rules       []Rule
	subscribers map[domain.AlertType][]AlertHandler
	all         []AlertHandler
}

func NewAlertSystem(stats StatsSource, thresholds AlertThresholds) *AlertSystem {
	a := &AlertSystem{
		stats:       stats,
		now:         time.Now,
		subscribers: make(map[domain.AlertType][]AlertHandler),
	}
	for _, rule := range defaultRules(thresholds) {
		a.AddRule(rule)
	}
	return a
}

func (a *AlertSystem) AddRule(rule Rule) {
	if rule.Check == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rules = append(a.rules, rule)
}

func (a *AlertSystem) Subscribe(alertType domain.AlertType, handler AlertHandler) {
	if handler == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subscribers[alertType] = append(a.subscribers[alertType], handler)
}

// SubscribeAll registers a handler for every alert type.
func (a *AlertSystem) SubscribeAll(handler AlertHandler) {
	if handler == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.all = append(a.all, handler)
}

// Evaluate runs every rule once and publishes each breach.
func (a *AlertSystem) Evaluate() []domain.Alert {
	stats := a.stats.RealTimeStats()
	now := a.now()

	a.mu.RLock()
	rules := append([]Rule(nil), a.rules...)
	a.mu.RUnlock()

	var fired []domain.Alert
	for _, rule := range rules {
		value, breached := rule.Check(stats)
		if !breached {
			continue
		}
		alert := domain.Alert{
			Type:      rule.Type,
			Value:     value,
			Threshold: rule.Threshold,
			At:        now,
		}
		if rule.Message != nil {
			alert.Message = rule.Message(value, rule.Threshold)
		} else {
			alert.Message = fmt.Sprintf("%s: %.2f breaches %.2f", rule.Type, value, rule.Threshold)
		}
		fired = append(fired, alert)
		a.publish(alert)
	}
	return fired
}

func (a *AlertSystem) publish(alert domain.Alert) {
	a.mu.RLock()
	handlers := append([]AlertHandler(nil), a.subscribers[alert.Type]...)
	handlers = append(handlers, a.all...)
	a.mu.RUnlock()

	slog.Warn("alert_raised", "type", alert.Type, "value", alert.Value, "threshold", alert.Threshold)
	for _, handler := range handlers {
		handler(alert)
	}
}

func defaultRules(th AlertThresholds) []Rule {
	def := DefaultAlertThresholds()
	if th.MinSuccessRate <= 0 {
		th.MinSuccessRate = def.MinSuccessRate
	}
	if th.MaxAvgLatency <= 0 {
		th.MaxAvgLatency = def.MaxAvgLatency
	}
	if th.MaxMemoryBytes == 0 {
		th.MaxMemoryBytes = def.MaxMemoryBytes
	}
	if th.MaxQueueLength <= 0 {
		th.MaxQueueLength = def.MaxQueueLength
	}

	return []Rule{
		{
			Type:      domain.AlertLowSuccessRate,
			Threshold: th.MinSuccessRate,
			Check: func(s domain.RealTimeStats) (float64, bool) {
				return s.SuccessRate, s.Processed > 0 && s.SuccessRate < th.MinSuccessRate
			},
			Message: func(v, limit float64) string {
				return fmt.Sprintf("success rate %.1f%% below %.1f%%", v*100, limit*100)
			},
		},
		{
			Type:      domain.AlertHighLatency,
			Threshold: th.MaxAvgLatency.Seconds(),
			Check: func(s domain.RealTimeStats) (float64, bool) {
				return s.AvgLatency.Seconds(), s.Processed > 0 && s.AvgLatency > th.MaxAvgLatency
			},
			Message: func(v, limit float64) string {
				return fmt.Sprintf("average processing time %.1fs above %.1fs", v, limit)
			},
		},
		{
			Type:      domain.AlertHighMemory,
			Threshold: float64(th.MaxMemoryBytes >> 20),
			Check: func(s domain.RealTimeStats) (float64, bool) {
				if s.System == nil {
					return 0, false
				}
				used := s.System.MemoryBytes()
				return float64(used >> 20), used > th.MaxMemoryBytes
			},
			Message: func(v, limit float64) string {
				return fmt.Sprintf("memory usage %.0fMB above %.0fMB", v, limit)
			},
		},
		{
			Type:      domain.AlertQueueBacklog,
			Threshold: float64(th.MaxQueueLength),
			Check: func(s domain.RealTimeStats) (float64, bool) {
				if s.System == nil {
					return 0, false
				}
				return float64(s.System.QueueLength), s.System.QueueLength > th.MaxQueueLength
			},
			Message: func(v, limit float64) string {
				return fmt.Sprintf("queue length %.0f above %.0f", v, limit)
			},
		},
	}
}
