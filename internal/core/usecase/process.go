package usecase

import (
	"context"
	"fmt"
	"io"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
	"github.com/kirillkom/tax-document-intelligence/internal/core/ports"
)

// InFlightGauge tracks queued work for the system sampler.
type InFlightGauge interface {
	Inc()
	Dec()
}

type ProcessDocumentUseCase struct {
	repo      ports.DocumentRepository
	storage   ports.ObjectStorage
	processor ports.DocumentProcessor
	gauge     InFlightGauge
}

func NewProcessDocumentUseCase(
	repo ports.DocumentRepository,
	storage ports.ObjectStorage,
	processor ports.DocumentProcessor,
	gauge InFlightGauge,
) *ProcessDocumentUseCase {
	return &ProcessDocumentUseCase{
		repo:      repo,
		storage:   storage,
		processor: processor,
		gauge:     gauge,
	}
}

func (uc *ProcessDocumentUseCase) ProcessByID(ctx context.Context, documentID string) error {
	_, err := uc.ProcessDocument(ctx, documentID)
	return err
}

// ProcessDocument runs extraction for an uploaded document and records the
// outcome on its record. An unsuccessful extraction marks the document
// failed but is not an error of the worker itself.
func (uc *ProcessDocumentUseCase) ProcessDocument(ctx context.Context, documentID string) (*domain.ExtractionResult, error) {
	if uc.gauge != nil {
		uc.gauge.Inc()
		defer uc.gauge.Dec()
	}

	if err := uc.markStatus(ctx, documentID, domain.StatusProcessing, ""); err != nil {
		return nil, fmt.Errorf("set status=processing: %w", err)
	}

	result, err := uc.processPipeline(ctx, documentID)
	if err != nil {
		if failErr := uc.markFailed(ctx, documentID, err); failErr != nil {
			return nil, fmt.Errorf("%w; mark failed status: %v", err, failErr)
		}
		return nil, err
	}

	if err := uc.repo.SaveResultRef(ctx, documentID, result.ID, result.ContentHash); err != nil {
		if failErr := uc.markFailed(ctx, documentID, err); failErr != nil {
			return nil, fmt.Errorf("%w; mark failed status: %v", err, failErr)
		}
		return nil, fmt.Errorf("save result reference: %w", err)
	}

	if !result.Success {
		message := "extraction failed"
		if result.Error != nil {
			message = fmt.Sprintf("%s: %s", result.Error.Code, result.Error.Message)
		}
		if err := uc.markStatus(ctx, documentID, domain.StatusFailed, message); err != nil {
			return result, fmt.Errorf("set status=failed: %w", err)
		}
		return result, nil
	}

	if err := uc.markStatus(ctx, documentID, domain.StatusReady, ""); err != nil {
		return result, fmt.Errorf("set status=ready: %w", err)
	}
	return result, nil
}

func (uc *ProcessDocumentUseCase) processPipeline(ctx context.Context, documentID string) (*domain.ExtractionResult, error) {
	record, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("fetch document by id: %w", err)
	}

	content, err := uc.loadContent(ctx, record.StoragePath)
	if err != nil {
		return nil, err
	}

	doc := &domain.Document{
		ID:       record.ID,
		Filename: record.Filename,
		MimeType: record.MimeType,
		Category: record.Category,
		Content:  content,
	}
	result, err := uc.processor.Process(ctx, doc, domain.ProcessOptions{})
	if err != nil {
		return nil, fmt.Errorf("process document: %w", err)
	}
	return result, nil
}

func (uc *ProcessDocumentUseCase) loadContent(ctx context.Context, storagePath string) ([]byte, error) {
	rc, err := uc.storage.Open(ctx, storagePath)
	if err != nil {
		return nil, fmt.Errorf("open stored document: %w", err)
	}
	defer rc.Close()

	content, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read stored document: %w", err)
	}
	return content, nil
}

func (uc *ProcessDocumentUseCase) markStatus(ctx context.Context, documentID string, status domain.DocumentStatus, errMessage string) error {
	return uc.repo.UpdateStatus(ctx, documentID, status, errMessage)
}

func (uc *ProcessDocumentUseCase) markFailed(ctx context.Context, documentID string, processErr error) error {
	if processErr == nil {
		return nil
	}
	return uc.markStatus(ctx, documentID, domain.StatusFailed, processErr.Error())
}
