package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/tax-document-intelligence/internal/bootstrap"
	"github.com/kirillkom/tax-document-intelligence/internal/config"
	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
	"github.com/kirillkom/tax-document-intelligence/internal/observability/logging"
	"github.com/kirillkom/tax-document-intelligence/internal/observability/metrics"
)

const serviceName = "worker"

func main() {
	os.Exit(run())
}

// run returns the exit code so deferred cleanup finishes before main exits.
func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_load_failed", "error", err)
		return 1
	}
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Service:    serviceName,
		Registerer: workerMetrics.Registry(),
		Intake:     true,
	})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		return 1
	}
	defer app.Close()
	if err := app.Start(); err != nil {
		logger.Error("app_start_failed", "error", err)
		return 1
	}

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("worker_metrics_listening", "port", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	concurrency := cfg.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	var jobs errgroup.Group
	jobs.SetLimit(concurrency)

	logger.Info("worker_subscribed", "subject", cfg.NATSSubject, "concurrency", concurrency)
	err = app.Queue.SubscribeDocumentSubmitted(ctx, func(handlerCtx context.Context, documentID string) error {
		workerMetrics.StartDocument()
		jobs.Go(func() error {
			processCtx, cancel := context.WithTimeout(context.WithoutCancel(handlerCtx), cfg.WorkerProcessTimeout)
			defer cancel()

			started := time.Now()
			if rec, err := app.Documents.GetByID(processCtx, documentID); err == nil {
				workerMetrics.ObserveQueueWait(started.Sub(rec.CreatedAt))
			}
			result, err := app.ProcessUC.ProcessDocument(processCtx, documentID)
			var strategy domain.Strategy
			if result != nil {
				strategy = result.Strategy
			}
			workerMetrics.FinishDocument(strategy, time.Since(started), err)
			if err != nil {
				logger.Error("document_processing_failed", "document_id", documentID, "error", err)
				return nil
			}
			logger.Info("document_processed",
				"document_id", documentID,
				"strategy", strategy,
				"success", result.Success,
				"confidence", result.Confidence,
			)
			return nil
		})
		return nil
	})
	_ = jobs.Wait()
	if err != nil {
		logger.Error("worker_subscribe_failed", "error", err)
		return 1
	}
	return 0
}
