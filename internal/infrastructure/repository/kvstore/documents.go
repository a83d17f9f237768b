package kvstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
	"github.com/kirillkom/tax-document-intelligence/internal/core/ports"
)

type DocumentRepository struct {
	kv ports.KeyValueStore
	mu sync.Mutex
}

func NewDocumentRepository(kv ports.KeyValueStore) *DocumentRepository {
	return &DocumentRepository{kv: kv}
}

func (r *DocumentRepository) Create(ctx context.Context, doc *domain.DocumentRecord) error {
	if err := putJSON(ctx, r.kv, documentPrefix+doc.ID, doc); err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.DocumentRecord, error) {
	var doc domain.DocumentRecord
	if err := getJSON(ctx, r.kv, documentPrefix+id, &doc); err != nil {
		return nil, notFound(err, domain.ErrDocumentNotFound, "get document")
	}
	return &doc, nil
}

func (r *DocumentRepository) UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error {
	return r.update(ctx, id, "update document status", func(doc *domain.DocumentRecord) {
		doc.Status = status
		doc.Error = errMessage
	})
}

func (r *DocumentRepository) SaveResultRef(ctx context.Context, id, resultID, contentHash string) error {
	return r.update(ctx, id, "save result ref", func(doc *domain.DocumentRecord) {
		doc.ResultID = resultID
		doc.ContentHash = contentHash
	})
}

func (r *DocumentRepository) update(ctx context.Context, id, operation string, mutate func(*domain.DocumentRecord)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var doc domain.DocumentRecord
	if err := getJSON(ctx, r.kv, documentPrefix+id, &doc); err != nil {
		return notFound(err, domain.ErrDocumentNotFound, operation)
	}
	mutate(&doc)
	doc.UpdatedAt = time.Now().UTC()
	if err := putJSON(ctx, r.kv, documentPrefix+id, &doc); err != nil {
		return notFound(err, domain.ErrDocumentNotFound, operation)
	}
	return nil
}
