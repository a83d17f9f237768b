package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/tax-document-intelligence/internal/config"
	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
	"github.com/kirillkom/tax-document-intelligence/internal/core/ports"
	"github.com/kirillkom/tax-document-intelligence/internal/core/usecase"
	"github.com/kirillkom/tax-document-intelligence/internal/extraction"
	rediscache "github.com/kirillkom/tax-document-intelligence/internal/infrastructure/cache/redis"
	"github.com/kirillkom/tax-document-intelligence/internal/infrastructure/extractor/localtext"
	"github.com/kirillkom/tax-document-intelligence/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/tax-document-intelligence/internal/infrastructure/queue/nats"
	"github.com/kirillkom/tax-document-intelligence/internal/infrastructure/repository/kvstore"
	"github.com/kirillkom/tax-document-intelligence/internal/infrastructure/repository/memory"
	"github.com/kirillkom/tax-document-intelligence/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/tax-document-intelligence/internal/infrastructure/repository/sqlite"
	"github.com/kirillkom/tax-document-intelligence/internal/infrastructure/resilience"
	"github.com/kirillkom/tax-document-intelligence/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/tax-document-intelligence/internal/infrastructure/stream/kafka"
	"github.com/kirillkom/tax-document-intelligence/internal/infrastructure/system"
	"github.com/kirillkom/tax-document-intelligence/internal/monitoring"
	"github.com/kirillkom/tax-document-intelligence/internal/observability/logging"
	"github.com/kirillkom/tax-document-intelligence/internal/observability/metrics"
	"github.com/kirillkom/tax-document-intelligence/internal/tabular"
	"github.com/kirillkom/tax-document-intelligence/internal/templates"
)

type Options struct {
	// Service labels exported metrics.
	Service string
	// Registerer receives the pipeline collectors; nil skips Prometheus export.
	Registerer prometheus.Registerer
	// Intake connects object storage and the message queue for the
	// upload/worker flow.
	Intake bool
}

type App struct {
	Config config.Config

	Executor  *resilience.Executor
	Collector *monitoring.Collector
	Alerts    *monitoring.AlertSystem
	Templates *templates.Store
	Queue     *nats.Queue
	InFlight  *system.QueueGauge

	Orchestrator *usecase.Orchestrator
	Reports      *usecase.ReportUseCase
	Feedback     *usecase.FeedbackUseCase
	Insights     *usecase.InsightsUseCase
	Documents    *usecase.DocumentQueryUseCase
	IngestUC     *usecase.IngestDocumentUseCase
	ProcessUC    *usecase.ProcessDocumentUseCase

	scheduler *monitoring.Scheduler
	outcomes  *kafka.OutcomeSink
	closers   []func() error
	logger    *slog.Logger
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	app := &App{
		Config:   cfg,
		InFlight: &system.QueueGauge{},
		logger:   logging.Component("bootstrap"),
	}
	if err := app.build(ctx, opts); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context, opts Options) error {
	cfg := a.Config
	p := cfg.Pipeline

	kv, kvPing, err := a.openKV(ctx)
	if err != nil {
		return err
	}

	a.Executor = resilience.NewExecutor(resilienceConfig(cfg))

	a.Collector = monitoring.NewCollector(monitoring.Config{
		MaxRecords:     p.Metrics.MaxRecords,
		Retention:      p.Metrics.Retention,
		RealTimeWindow: p.Metrics.RealTimeWindow,
	})
	a.Alerts = monitoring.NewAlertSystem(a.Collector, monitoring.AlertThresholds{
		MinSuccessRate: p.Alerts.MinSuccessRate,
		MaxAvgLatency:  p.Alerts.MaxAvgLatency,
		MaxMemoryBytes: p.Alerts.MaxMemoryBytes,
		MaxQueueLength: p.Alerts.MaxQueueLength,
	})
	a.Alerts.SubscribeAll(func(alert domain.Alert) {
		a.logger.Warn("pipeline_alert", "type", alert.Type, "value", alert.Value, "threshold", alert.Threshold, "message", alert.Message)
	})
	if opts.Registerer != nil {
		pipelineMetrics := metrics.NewPipelineMetrics(opts.Service, opts.Registerer, a.Executor)
		a.Collector.AddSink(pipelineMetrics)
		a.Alerts.SubscribeAll(pipelineMetrics.ObserveAlert)
	}
	if len(cfg.KafkaBrokers) > 0 {
		a.outcomes = kafka.NewOutcomeSink(cfg.KafkaBrokers, cfg.KafkaOutcomeTopic, cfg.KafkaBufferSize)
		a.outcomes.Start(ctx)
		a.Collector.AddSink(a.outcomes)
		a.closers = append(a.closers, a.outcomes.Close)
	}

	sampler := system.NewSampler(a.InFlight.Value)
	guard := resilience.NewResourceGuard(sampler, cfg.MemoryLimitBytes)
	a.scheduler = monitoring.NewScheduler(monitoring.SchedulerConfig{
		SampleInterval:  p.Metrics.SampleInterval,
		CleanupInterval: p.Metrics.CleanupInterval,
		AlertInterval:   p.Metrics.AlertInterval,
	}, a.Collector, a.Alerts, sampler)

	tplCfg := templates.DefaultConfig()
	tplCfg.SimilarityThreshold = p.SimilarityThreshold
	a.Templates = templates.NewStore(kv, a.Executor, a.Collector, tplCfg)
	if err := a.Templates.Load(ctx); err != nil {
		return fmt.Errorf("load templates: %w", err)
	}

	engine := tabular.NewEngine(p.SubtotalKeywords, p.GrandTotalKeywords)
	fallbacks := resilience.NewDegradationRegistry[domain.LocalContent, []domain.ExtractedField]()
	fallbacks.Register(ollama.Operation, func(_ context.Context, content domain.LocalContent) ([]domain.ExtractedField, error) {
		return extraction.Heuristic(content, engine), nil
	})

	var vision ports.VisionService
	var visionClient *ollama.Client
	if cfg.VisionEnabled {
		visionClient = ollama.New(cfg.OllamaURL, cfg.OllamaVisionModel, ollama.Options{
			HTTPTimeout:        cfg.OllamaTimeout,
			RequestsPerSecond:  cfg.VisionRPS,
			Burst:              cfg.VisionBurst,
			ResilienceExecutor: a.Executor,
		})
		vision = visionClient
	}

	var cache ports.ResultCache
	var cacheClient *rediscache.ResultCache
	if cfg.RedisAddr != "" {
		cacheClient, err = rediscache.New(ctx, rediscache.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			PoolSize: cfg.RedisPoolSize,
			TTL:      cfg.ResultCacheTTL,
		})
		if err != nil {
			return fmt.Errorf("init result cache: %w", err)
		}
		cache = cacheClient
		a.closers = append(a.closers, cacheClient.Close)
	}

	documents := kvstore.NewDocumentRepository(kv)
	results := kvstore.NewResultRepository(kv)
	corrections := kvstore.NewCorrectionRepository(kv)
	extractor := localtext.NewExtractor()

	a.Orchestrator = usecase.NewOrchestrator(usecase.OrchestratorConfig{
		TemplateMatchThreshold: p.TemplateMatchThreshold,
		ReviewThreshold:        p.ReviewThreshold,
		MaxDocumentBytes:       p.MaxDocumentBytes,
	}, usecase.OrchestratorDeps{
		Extractor: extractor,
		Templates: a.Templates,
		Results:   results,
		Vision:    vision,
		Breakers:  a.Executor,
		Guard:     guard,
		Fallbacks: fallbacks,
		Metrics:   a.Collector,
		Cache:     cache,
	})
	a.Reports = usecase.NewReportUseCase(extractor, engine, a.Collector)
	a.Feedback = usecase.NewFeedbackUseCase(results, corrections, a.Templates, a.Collector)
	a.Documents = usecase.NewDocumentQueryUseCase(documents, results)

	a.Insights = usecase.NewInsightsUseCase(a.Collector, a.Executor)
	a.Insights.RegisterCheck("kv", kvPing)
	if visionClient != nil {
		a.Insights.RegisterCheck(ollama.Operation, visionClient.Ping)
	}
	if cacheClient != nil {
		a.Insights.RegisterCheck("redis", cacheClient.Ping)
	}

	if opts.Intake {
		storage, err := localfs.New(cfg.StoragePath)
		if err != nil {
			return fmt.Errorf("init object storage: %w", err)
		}
		queue, err := nats.Connect(cfg.NATSURL, nats.Options{
			Subject:      cfg.NATSSubject,
			AlertSubject: cfg.NATSAlertSubject,
			Executor:     a.Executor,
		})
		if err != nil {
			return fmt.Errorf("init message queue: %w", err)
		}
		a.Queue = queue
		a.closers = append(a.closers, func() error {
			queue.Close()
			return nil
		})
		a.Alerts.SubscribeAll(queue.PublishAlert)
		a.Insights.RegisterCheck("storage", storage.Ping)
		a.Insights.RegisterCheck("nats", queue.Ping)

		a.IngestUC = usecase.NewIngestDocumentUseCase(documents, storage, queue, p.MaxDocumentBytes)
		a.ProcessUC = usecase.NewProcessDocumentUseCase(documents, storage, a.Orchestrator, a.InFlight)
	}
	return nil
}

// Start launches the periodic sampling, cleanup and alert jobs.
func (a *App) Start() error {
	if err := a.scheduler.Start(); err != nil {
		return fmt.Errorf("start monitoring scheduler: %w", err)
	}
	a.scheduler.SampleNow(context.Background())
	return nil
}

func (a *App) Close() {
	if a.scheduler != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.scheduler.Stop(stopCtx); err != nil {
			a.logger.Warn("monitoring_scheduler_stop_failed", "error", err)
		}
		cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("shutdown_close_failed", "error", err)
		}
	}
	a.closers = nil
}

func (a *App) openKV(ctx context.Context) (ports.KeyValueStore, usecase.HealthCheck, error) {
	cfg := a.Config
	switch cfg.KVBackend {
	case "memory":
		return memory.NewStore(), func(context.Context) error { return nil }, nil
	case "postgres":
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		store := postgres.NewKVStore(db)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		return store, store.Ping, nil
	case "sqlite", "":
		if dir := filepath.Dir(cfg.SQLitePath); cfg.SQLitePath != ":memory:" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		return store, store.Ping, nil
	default:
		return nil, nil, fmt.Errorf("unknown KV_BACKEND %q", cfg.KVBackend)
	}
}

func resilienceConfig(cfg config.Config) resilience.Config {
	rc := resilience.DefaultConfig()
	rc.RetryMaxAttempts = cfg.RetryMaxAttempts
	rc.RetryInitialBackoff = cfg.RetryInitialBackoff
	rc.RetryMaxBackoff = cfg.RetryMaxBackoff
	rc.AttemptTimeout = cfg.AttemptTimeout
	if cfg.BreakerFailureThreshold > 0 {
		rc.BreakerFailureThreshold = uint32(cfg.BreakerFailureThreshold)
	}
	rc.BreakerOpenTimeout = cfg.BreakerOpenTimeout
	return rc
}
