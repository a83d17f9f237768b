package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"

	mcpadapter "github.com/kirillkom/tax-document-intelligence/internal/adapters/mcp"
	"github.com/kirillkom/tax-document-intelligence/internal/bootstrap"
	"github.com/kirillkom/tax-document-intelligence/internal/config"
	"github.com/kirillkom/tax-document-intelligence/internal/observability/logging"
)

const (
	serviceName = "mcp"
	version     = "0.1.0"
)

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
	// stdout carries the MCP stream, so logs go to stderr.
	logger := logging.New(os.Stderr, serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Service: serviceName})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		return 1
	}
	defer app.Close()
	if err := app.Start(); err != nil {
		logger.Error("app_start_failed", "error", err)
		return 1
	}

	tools := mcpadapter.NewTools(mcpadapter.Services{
		Processor: app.Orchestrator,
		Reports:   app.Reports,
		Analytics: app.Insights,
		Health:    app.Insights,
	}, mcpadapter.Options{
		DocumentRoot:     cfg.MCPDocumentRoot,
		MaxDocumentBytes: cfg.Pipeline.MaxDocumentBytes,
	})
	srv := mcpadapter.NewServer("tax-document-intelligence", version, tools)

	switch cfg.MCPTransport {
	case "http":
		httpServer := server.NewStreamableHTTPServer(srv)
		go func() {
			<-ctx.Done()
			_ = httpServer.Shutdown(context.Background())
		}()
		logger.Info("mcp_listening", "transport", "http", "port", cfg.MCPPort)
		if err := httpServer.Start(":" + cfg.MCPPort); err != nil && ctx.Err() == nil {
			logger.Error("mcp_server_failed", "error", err)
			return 1
		}
	default:
		logger.Info("mcp_listening", "transport", "stdio")
		if err := server.ServeStdio(srv); err != nil && ctx.Err() == nil {
			logger.Error("mcp_server_failed", "error", err)
			return 1
		}
	}
	return 0
}
