package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/netutil"

	httpadapter "github.com/kirillkom/tax-document-intelligence/internal/adapters/http"
	"github.com/kirillkom/tax-document-intelligence/internal/bootstrap"
	"github.com/kirillkom/tax-document-intelligence/internal/config"
	"github.com/kirillkom/tax-document-intelligence/internal/observability/logging"
	"github.com/kirillkom/tax-document-intelligence/internal/observability/metrics"
)

const serviceName = "api"

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

	httpMetrics := metrics.NewHTTPServerMetrics(serviceName)
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Service:    serviceName,
		Registerer: httpMetrics.Registry(),
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

	router := httpadapter.NewRouter(cfg, httpadapter.Services{
		Processor:   app.Orchestrator,
		Ingestor:    app.IngestUC,
		Documents:   app.Documents,
		Corrections: app.Feedback,
		Reports:     app.Reports,
		Analytics:   app.Insights,
		Health:      app.Insights,
		Metrics:     httpMetrics,
	}).Handler()
	server := &http.Server{
		Handler:           http.TimeoutHandler(router, cfg.APIRequestTimeout, `{"error":"request timed out","code":"PROCESSING_TIMEOUT"}`),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      cfg.APIRequestTimeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	listener, err := net.Listen("tcp", ":"+cfg.APIPort)
	if err != nil {
		logger.Error("api_listen_failed", "error", err)
		return 1
	}
	if cfg.APIMaxConnections > 0 {
		listener = netutil.LimitListener(listener, cfg.APIMaxConnections)
	}

	go func() {
		logger.Info("api_listening", "port", cfg.APIPort, "max_connections", cfg.APIMaxConnections)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.APIShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api_shutdown_failed", "error", err)
	}
	return 0
}
