package ports

import (
	"context"
	"io"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
)

// DocumentProcessor is the inbound contract for synchronous extraction.
type DocumentProcessor interface {
	Process(ctx context.Context, doc *domain.Document, opts domain.ProcessOptions) (*domain.ExtractionResult, error)
}

// ReportAggregator totals spreadsheet-style tax reports.
type ReportAggregator interface {
	AggregateReport(ctx context.Context, doc *domain.Document) (*domain.AggregationResult, error)
}

// CorrectionSubmitter closes the learning loop for a stored result.
type CorrectionSubmitter interface {
	SubmitCorrection(ctx context.Context, documentRef string, correction domain.Correction) (*domain.Correction, error)
}

// DocumentIngestor is the inbound contract for document upload orchestration.
type DocumentIngestor interface {
	Upload(ctx context.Context, filename, mimeType string, category domain.Category, body io.Reader) (*domain.DocumentRecord, error)
}

// DocumentReader is the inbound read model for uploaded documents and results.
type DocumentReader interface {
	GetByID(ctx context.Context, id string) (*domain.DocumentRecord, error)
	GetResult(ctx context.Context, resultID string) (*domain.ExtractionResult, error)
}

// QueuedDocumentProcessor is the inbound contract for asynchronous processing.
type QueuedDocumentProcessor interface {
	ProcessByID(ctx context.Context, documentID string) error
}

type AnalyticsReader interface {
	AnalyticsSummary(hoursBack int) domain.AnalyticsSummary
	RealTimeStats() domain.RealTimeStats
}

type HealthReporter interface {
	Health(ctx context.Context) []domain.ServiceHealth
}
