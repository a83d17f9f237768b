package usecase

import (
	"context"
	"fmt"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
	"github.com/kirillkom/tax-document-intelligence/internal/core/ports"
	"github.com/kirillkom/tax-document-intelligence/internal/tabular"
)

// ReportUseCase totals spreadsheet-style tax reports without running the
// extraction strategies.
type ReportUseCase struct {
	extractor ports.TextExtractor
	engine    *tabular.Engine
	metrics   ports.MetricsRecorder
}

func NewReportUseCase(extractor ports.TextExtractor, engine *tabular.Engine, metrics ports.MetricsRecorder) *ReportUseCase {
	if engine == nil {
		engine = tabular.NewEngine(nil, nil)
	}
	return &ReportUseCase{extractor: extractor, engine: engine, metrics: metrics}
}

func (uc *ReportUseCase) AggregateReport(ctx context.Context, doc *domain.Document) (*domain.AggregationResult, error) {
	if doc == nil || len(doc.Content) == 0 {
		return nil, domain.NewPipelineError(domain.ErrInvalidInput, "aggregate report", "document content is empty", nil)
	}
	if doc.MimeType != domain.MimeCSV && doc.MimeType != domain.MimeXLSX {
		return nil, domain.NewPipelineError(domain.ErrInvalidInput, "aggregate report", "only csv and xlsx reports can be aggregated",
			map[string]string{"mime_type": doc.MimeType})
	}
	if !contentMatchesMime(doc.MimeType, doc.Content) {
		return nil, domain.NewPipelineError(domain.ErrInvalidInput, "aggregate report", "content does not match declared mime type",
			map[string]string{"mime_type": doc.MimeType})
	}

	content, err := uc.extractor.Extract(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("read report rows: %w", err)
	}
	if len(content.Rows) == 0 {
		return nil, domain.NewPipelineError(domain.ErrInvalidInput, "aggregate report", "no amount rows found", nil)
	}

	result := uc.engine.Aggregate(content.Rows)
	detail := "aggregate:" + result.Method
	if result.StatedTotal != nil && !tabular.Validate(result.Total, *result.StatedTotal, tabular.StatedTotalTolerance) {
		detail += ";stated_total_mismatch"
	}
	if uc.metrics != nil {
		uc.metrics.RecordQuality(domain.QualityRecord{
			Source:     domain.QualityExtraction,
			DocumentID: doc.ID,
			Score:      result.Confidence,
			Detail:     detail,
		})
	}
	return &result, nil
}
