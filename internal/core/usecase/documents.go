package usecase

import (
	"context"
	"fmt"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
	"github.com/kirillkom/tax-document-intelligence/internal/core/ports"
)

// DocumentQueryUseCase is the read model for uploaded documents and their
// extraction results.
type DocumentQueryUseCase struct {
	documents ports.DocumentRepository
	results   ports.ResultRepository
}

func NewDocumentQueryUseCase(documents ports.DocumentRepository, results ports.ResultRepository) *DocumentQueryUseCase {
	return &DocumentQueryUseCase{documents: documents, results: results}
}

func (uc *DocumentQueryUseCase) GetByID(ctx context.Context, id string) (*domain.DocumentRecord, error) {
	doc, err := uc.documents.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

func (uc *DocumentQueryUseCase) GetResult(ctx context.Context, resultID string) (*domain.ExtractionResult, error) {
	result, err := uc.results.GetByID(ctx, resultID)
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}
	return result, nil
}
