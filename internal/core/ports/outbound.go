package ports

import (
	"context"
	"io"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
)

type KeyValue struct {
	Key   string
	Value []byte
}

// KeyValueStore is the generic persistence port. Get returns
// domain.ErrKeyNotFound when the key is absent.
type KeyValueStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Scan(ctx context.Context, prefix string) ([]KeyValue, error)
}

// DocumentRepository persists and reads uploaded document state.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.DocumentRecord) error
	GetByID(ctx context.Context, id string) (*domain.DocumentRecord, error)
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error
	SaveResultRef(ctx context.Context, id, resultID, contentHash string) error
}

// ResultRepository stores immutable extraction results.
type ResultRepository interface {
	Save(ctx context.Context, result *domain.ExtractionResult) error
	GetByID(ctx context.Context, id string) (*domain.ExtractionResult, error)
	GetLatestByHash(ctx context.Context, contentHash string) (*domain.ExtractionResult, error)
	GetLatestByDocument(ctx context.Context, documentID string) (*domain.ExtractionResult, error)
	// LinkDocument makes resultID the latest result of documentID.
	LinkDocument(ctx context.Context, documentID, resultID string) error
}

type CorrectionRepository interface {
	Save(ctx context.Context, correction *domain.Correction) error
	ListByResult(ctx context.Context, resultID string) ([]domain.Correction, error)
}

// ResultCache fronts the result repository for idempotent reprocessing.
type ResultCache interface {
	Get(ctx context.Context, contentHash string) (*domain.ExtractionResult, bool, error)
	Set(ctx context.Context, contentHash string, result *domain.ExtractionResult) error
}

// ObjectStorage stores source documents.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// MessageQueue publishes/consumes document submission events.
type MessageQueue interface {
	PublishDocumentSubmitted(ctx context.Context, documentID string) error
	SubscribeDocumentSubmitted(ctx context.Context, handler func(context.Context, string) error) error
}

// TextExtractor derives the locally readable content of a document.
type TextExtractor interface {
	Extract(ctx context.Context, doc *domain.Document) (domain.LocalContent, error)
}

// VisionService is the opaque vision-capable inference service.
type VisionService interface {
	Infer(ctx context.Context, req domain.VisionRequest) (*domain.VisionResponse, error)
}

// TemplateStore persists learned extraction patterns keyed by fingerprint.
type TemplateStore interface {
	Lookup(ctx context.Context, fp domain.Fingerprint) (*domain.Template, float64, bool)
	Upsert(ctx context.Context, fp domain.Fingerprint, candidate domain.Template) (*domain.Template, error)
	ApplyCorrection(ctx context.Context, fingerprintKey string, correction domain.Correction) (*domain.Template, error)
	RecordUsage(ctx context.Context, fingerprintKey string, success bool) error
}

// MetricsRecorder receives per-document outcomes and error occurrences.
type MetricsRecorder interface {
	RecordProcessing(rec domain.ProcessingRecord)
	RecordQuality(rec domain.QualityRecord)
	RecordError(rec domain.ErrorRecord)
}

// CircuitInspector exposes read-only breaker snapshots.
type CircuitInspector interface {
	BreakerState(service string) domain.CircuitBreakerState
	BreakerStates() []domain.CircuitBreakerState
}

// ResourceGuard rejects heavy operations while the process is over budget.
type ResourceGuard interface {
	Check(ctx context.Context, operation string) error
}

// FallbackProvider returns the degraded extractor registered for a service.
type FallbackProvider interface {
	Fallback(service string) (func(context.Context, domain.LocalContent) ([]domain.ExtractedField, error), bool)
}

// SystemSampler reads current process resource usage.
type SystemSampler interface {
	Sample(ctx context.Context) (domain.SystemRecord, error)
}
