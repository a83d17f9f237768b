package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kirillkom/tax-document-intelligence/internal/bootstrap"
	"github.com/kirillkom/tax-document-intelligence/internal/config"
	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
	"github.com/kirillkom/tax-document-intelligence/internal/observability/logging"
)

var Version = "dev"

var extensionMimeTypes = map[string]string{
	".pdf":  domain.MimePDF,
	".jpg":  domain.MimeJPEG,
	".jpeg": domain.MimeJPEG,
	".png":  domain.MimePNG,
	".webp": domain.MimeWebP,
	".txt":  domain.MimeText,
	".csv":  domain.MimeCSV,
	".xlsx": domain.MimeXLSX,
}

type globalFlags struct {
	persist  bool
	vision   bool
	logLevel string
	asJSON   bool
}

func main() {
	flags := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:           "taxctl",
		Short:         "Extract tax fields and total tax reports from local files",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().BoolVar(&flags.persist, "persist", false, "Use the configured KV backend instead of an in-memory store")
	rootCmd.PersistentFlags().BoolVar(&flags.vision, "vision", false, "Call the configured vision service")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "warn", "Log level written to stderr")
	rootCmd.PersistentFlags().BoolVarP(&flags.asJSON, "json", "j", false, "Print results as JSON")

	rootCmd.AddCommand(processCmd(flags))
	rootCmd.AddCommand(aggregateCmd(flags))
	rootCmd.AddCommand(healthCmd(flags))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openApp builds a pipeline for one CLI run. Without --persist nothing
// outlives the process.
func openApp(ctx context.Context, flags *globalFlags) (*bootstrap.App, error) {
	slog.SetDefault(logging.New(os.Stderr, "taxctl", flags.logLevel))

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if !flags.persist {
		cfg.KVBackend = "memory"
		cfg.RedisAddr = ""
	}
	cfg.KafkaBrokers = nil
	cfg.VisionEnabled = flags.vision
	return bootstrap.New(ctx, cfg, bootstrap.Options{Service: "taxctl"})
}

func loadDocument(path, category string) (*domain.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return &domain.Document{
		ID:       uuid.NewString(),
		Filename: filepath.Base(path),
		MimeType: extensionMimeTypes[strings.ToLower(filepath.Ext(path))],
		Category: domain.Category(strings.ToUpper(strings.TrimSpace(category))),
		Content:  content,
	}, nil
}

func printJSON(w io.Writer, payload any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}
