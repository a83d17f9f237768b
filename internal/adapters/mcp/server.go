package mcpadapter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
	"github.com/kirillkom/tax-document-intelligence/internal/core/ports"
	"github.com/kirillkom/tax-document-intelligence/internal/observability/logging"
)

const (
	ToolProcessDocument  = "process_document"
	ToolAggregateReport  = "aggregate_tax_report"
	ToolAnalyticsSummary = "analytics_summary"
	ToolPipelineHealth   = "pipeline_health"
)

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

type Services struct {
	Processor ports.DocumentProcessor
	Reports   ports.ReportAggregator
	Analytics ports.AnalyticsReader
	Health    ports.HealthReporter
}

type Options struct {
	// DocumentRoot confines path arguments; empty disables reading files by path.
	DocumentRoot     string
	MaxDocumentBytes int64
}

// Tools exposes the pipeline operations to MCP clients.
type Tools struct {
	svc    Services
	opts   Options
	logger *slog.Logger
}

func NewTools(svc Services, opts Options) *Tools {
	if opts.MaxDocumentBytes <= 0 {
		opts.MaxDocumentBytes = 20 << 20
	}
	return &Tools{
		svc:    svc,
		opts:   opts,
		logger: logging.Component("mcp"),
	}
}

// NewServer registers every tool whose backing service is configured.
func NewServer(name, version string, tools *Tools) *server.MCPServer {
	s := server.NewMCPServer(name, version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Extract tax fields from invoices and receipts, total spreadsheet tax reports and inspect pipeline health."),
	)

	if tools.svc.Processor != nil {
		s.AddTool(mcp.NewTool(ToolProcessDocument,
			mcp.WithDescription("Extract tax fields (invoice number, dates, VAT, totals) from a document."),
			mcp.WithString("content_base64", mcp.Description("Document bytes encoded as base64.")),
			mcp.WithString("path", mcp.Description("Path of the document below the configured document root.")),
			mcp.WithString("filename", mcp.Description("Original file name, used to infer the mime type.")),
			mcp.WithString("mime_type", mcp.Description("Mime type of the document.")),
			mcp.WithString("category", mcp.Description("SALES or PURCHASE.")),
			mcp.WithString("known_vendor", mcp.Description("Vendor name hint for template matching.")),
			mcp.WithString("vat_number", mcp.Description("VAT number hint for template matching.")),
			mcp.WithBoolean("force_reprocess", mcp.Description("Ignore stored results for identical content."), mcp.DefaultBool(false)),
		), tools.ProcessDocument)
	}
	if tools.svc.Reports != nil {
		s.AddTool(mcp.NewTool(ToolAggregateReport,
			mcp.WithDescription("Compute the grand total of a CSV or XLSX tax report without double counting subtotals."),
			mcp.WithString("content_base64", mcp.Description("Report bytes encoded as base64.")),
			mcp.WithString("path", mcp.Description("Path of the report below the configured document root.")),
			mcp.WithString("filename", mcp.Description("Original file name, used to infer the mime type.")),
			mcp.WithString("mime_type", mcp.Description("text/csv or the XLSX mime type.")),
		), tools.AggregateReport)
	}
	if tools.svc.Analytics != nil {
		s.AddTool(mcp.NewTool(ToolAnalyticsSummary,
			mcp.WithDescription("Summarize processing outcomes per strategy over a recent window."),
			mcp.WithNumber("hours", mcp.Description("Window size in hours."), mcp.DefaultNumber(24), mcp.Min(1)),
			mcp.WithBoolean("realtime", mcp.Description("Return the short real-time window instead."), mcp.DefaultBool(false)),
			mcp.WithReadOnlyHintAnnotation(true),
		), tools.AnalyticsSummary)
	}
	if tools.svc.Health != nil {
		s.AddTool(mcp.NewTool(ToolPipelineHealth,
			mcp.WithDescription("Report the health of every pipeline dependency."),
			mcp.WithReadOnlyHintAnnotation(true),
		), tools.PipelineHealth)
	}
	return s
}

func (t *Tools) ProcessDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, err := t.readDocument(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc.Category = domain.Category(strings.ToUpper(strings.TrimSpace(req.GetString("category", ""))))

	opts := domain.ProcessOptions{
		ForceReprocess: req.GetBool("force_reprocess", false),
		Context: domain.BusinessContext{
			KnownVendor: strings.TrimSpace(req.GetString("known_vendor", "")),
			VATNumber:   strings.TrimSpace(req.GetString("vat_number", "")),
		},
	}
	result, err := t.svc.Processor.Process(ctx, doc, opts)
	if err != nil {
		return toolError(err), nil
	}
	t.logger.Info("mcp_document_processed", "document_id", doc.ID, "strategy", result.Strategy, "success", result.Success)
	return jsonResult(result)
}

func (t *Tools) AggregateReport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, err := t.readDocument(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	result, err := t.svc.Reports.AggregateReport(ctx, doc)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(result)
}

func (t *Tools) AnalyticsSummary(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if req.GetBool("realtime", false) {
		return jsonResult(t.svc.Analytics.RealTimeStats())
	}
	hours := req.GetInt("hours", 24)
	if hours <= 0 {
		return mcp.NewToolResultError("hours must be positive"), nil
	}
	return jsonResult(t.svc.Analytics.AnalyticsSummary(hours))
}

func (t *Tools) PipelineHealth(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	statuses := t.svc.Health.Health(ctx)
	healthy := true
	for _, s := range statuses {
		if !s.Healthy {
			healthy = false
			break
		}
	}
	return jsonResult(map[string]any{
		"healthy":  healthy,
		"services": statuses,
	})
}

func (t *Tools) readDocument(req mcp.CallToolRequest) (*domain.Document, error) {
	filename := strings.TrimSpace(req.GetString("filename", ""))
	encoded := strings.TrimSpace(req.GetString("content_base64", ""))
	path := strings.TrimSpace(req.GetString("path", ""))

	var content []byte
	switch {
	case encoded != "" && path != "":
		return nil, errors.New("pass either content_base64 or path, not both")
	case encoded != "":
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("content_base64 is not valid base64: %v", err)
		}
		content = decoded
	case path != "":
		raw, err := t.readFile(path)
		if err != nil {
			return nil, err
		}
		content = raw
		if filename == "" {
			filename = filepath.Base(path)
		}
	default:
		return nil, errors.New("content_base64 or path is required")
	}
	if int64(len(content)) > t.opts.MaxDocumentBytes {
		return nil, fmt.Errorf("document exceeds %d bytes", t.opts.MaxDocumentBytes)
	}

	mimeType := strings.ToLower(strings.TrimSpace(req.GetString("mime_type", "")))
	if mimeType == "" {
		mimeType = extensionMimeTypes[strings.ToLower(filepath.Ext(filename))]
	}
	return &domain.Document{
		ID:       uuid.NewString(),
		Filename: filename,
		MimeType: mimeType,
		Content:  content,
	}, nil
}

func (t *Tools) readFile(path string) ([]byte, error) {
	if t.opts.DocumentRoot == "" {
		return nil, errors.New("reading documents by path is disabled")
	}
	root, err := filepath.Abs(t.opts.DocumentRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve document root: %v", err)
	}
	full := filepath.Clean(filepath.Join(root, path))
	if full != root && !strings.HasPrefix(full, root+string(os.PathSeparator)) {
		return nil, errors.New("path escapes the document root")
	}

	f, err := os.Open(full)
	if err != nil {
		return nil, fmt.Errorf("open document: %v", err)
	}
	defer f.Close()

	raw, err := io.ReadAll(io.LimitReader(f, t.opts.MaxDocumentBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read document: %v", err)
	}
	return raw, nil
}

func toolError(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", domain.CodeOf(err), err))
}

func jsonResult(payload any) (*mcp.CallToolResult, error) {
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return mcp.NewToolResultText(string(raw)), nil
}
