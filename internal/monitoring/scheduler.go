package monitoring

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
	"github.com/kirillkom/tax-document-intelligence/internal/infrastructure/resilience"
)

type SystemSampler interface {
	Sample(ctx context.Context) (domain.SystemRecord, error)
}

type SchedulerConfig struct {
	SampleInterval  time.Duration
	CleanupInterval time.Duration
	AlertInterval   time.Duration
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		SampleInterval:  30 * time.Second,
		CleanupInterval: 5 * time.Minute,
		AlertInterval:   60 * time.Second,
	}
}

// Scheduler owns the periodic monitoring jobs: system sampling, log cleanup
// and alert evaluation.
type Scheduler struct {
	cfg       SchedulerConfig
	collector *Collector
	alerts    *AlertSystem
	sampler   SystemSampler
	logger    *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

func NewScheduler(cfg SchedulerConfig, collector *Collector, alerts *AlertSystem, sampler SystemSampler) *Scheduler {
	def := DefaultSchedulerConfig()
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = def.SampleInterval
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.AlertInterval <= 0 {
		cfg.AlertInterval = def.AlertInterval
	}
	return &Scheduler{
		cfg:       cfg,
		collector: collector,
		alerts:    alerts,
		sampler:   sampler,
		logger:    slog.Default().With("component", "monitoring_scheduler"),
	}
}

func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	c := cron.New()
	jobs := []struct {
		name     string
		interval time.Duration
		run      func()
	}{
		{"system_sample", s.cfg.SampleInterval, func() { s.SampleNow(context.Background()) }},
		{"metrics_cleanup", s.cfg.CleanupInterval, func() { s.CleanupNow() }},
		{"alert_check", s.cfg.AlertInterval, func() { s.EvaluateNow() }},
	}
	for _, job := range jobs {
		name, run := job.name, job.run
		spec := fmt.Sprintf("@every %s", job.interval)
		if _, err := c.AddFunc(spec, func() {
			if err := resilience.Safely(name, run); err != nil {
				s.logger.Error("periodic_job_failed", "job", name, "error", err)
			}
		}); err != nil {
			return fmt.Errorf("schedule %s: %w", name, err)
		}
	}

	c.Start()
	s.cron = c
	s.running = true
	s.logger.Info("monitoring_scheduler_started",
		"sample_interval", s.cfg.SampleInterval.String(),
		"cleanup_interval", s.cfg.CleanupInterval.String(),
		"alert_interval", s.cfg.AlertInterval.String(),
	)
	return nil
}

// Stop halts the schedule and waits for running jobs or ctx, whichever
// finishes first.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c := s.cron
	s.cron = nil
	s.running = false
	s.mu.Unlock()

	select {
	case <-c.Stop().Done():
		s.logger.Info("monitoring_scheduler_stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) SampleNow(ctx context.Context) {
	if s.sampler == nil {
		return
	}
	rec, err := s.sampler.Sample(ctx)
	if err != nil {
		s.logger.Warn("system_sample_failed", "error", err)
		return
	}
	s.collector.RecordSystem(rec)
}

func (s *Scheduler) CleanupNow() {
	if evicted := s.collector.Cleanup(); evicted > 0 {
		s.logger.Debug("metrics_cleanup", "evicted", evicted)
	}
}

func (s *Scheduler) EvaluateNow() []domain.Alert {
	if s.alerts == nil {
		return nil
	}
	return s.alerts.Evaluate()
}
