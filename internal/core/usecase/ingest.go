package usecase

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
	"github.com/kirillkom/tax-document-intelligence/internal/core/ports"
)

type IngestDocumentUseCase struct {
	repo     ports.DocumentRepository
	storage  ports.ObjectStorage
	queue    ports.MessageQueue
	maxBytes int64
}

func NewIngestDocumentUseCase(
	repo ports.DocumentRepository,
	storage ports.ObjectStorage,
	queue ports.MessageQueue,
	maxBytes int64,
) *IngestDocumentUseCase {
	if maxBytes <= 0 {
		maxBytes = DefaultOrchestratorConfig().MaxDocumentBytes
	}
	return &IngestDocumentUseCase{
		repo:     repo,
		storage:  storage,
		queue:    queue,
		maxBytes: maxBytes,
	}
}

var errDocumentTooLarge = errors.New("document too large")

// Upload stores the document and queues it for asynchronous extraction.
// Content checks beyond the mime allowlist happen in the worker.
func (uc *IngestDocumentUseCase) Upload(
	ctx context.Context,
	filename, mimeType string,
	category domain.Category,
	body io.Reader,
) (*domain.DocumentRecord, error) {
	if !allowedMimeTypes[mimeType] {
		return nil, domain.NewPipelineError(domain.ErrInvalidInput, "upload document", "unsupported mime type", map[string]string{"mime_type": mimeType})
	}
	if category != "" && !category.Valid() {
		return nil, domain.NewPipelineError(domain.ErrInvalidInput, "upload document", "unknown category", map[string]string{"category": string(category)})
	}

	id := uuid.NewString()
	storageKey := fmt.Sprintf("%s_%s", id, sanitizeFilename(filename))
	now := time.Now().UTC()

	buffered := bufio.NewReader(body)
	if _, err := buffered.Peek(1); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, domain.NewPipelineError(domain.ErrInvalidInput, "upload document", "document content is empty", nil)
		}
		return nil, fmt.Errorf("read upload body: %w", err)
	}

	hasher := sha256.New()
	limited := &limitedReader{r: io.TeeReader(buffered, hasher), remaining: uc.maxBytes}
	if err := uc.storage.Save(ctx, storageKey, limited); err != nil {
		if errors.Is(err, errDocumentTooLarge) {
			return nil, domain.WrapError(domain.ErrInvalidInput, "upload document", err)
		}
		return nil, fmt.Errorf("save to object storage: %w", err)
	}
	doc := &domain.DocumentRecord{
		ID:          id,
		Filename:    filename,
		MimeType:    mimeType,
		Category:    category,
		StoragePath: storageKey,
		ContentHash: hex.EncodeToString(hasher.Sum(nil)),
		Status:      domain.StatusUploaded,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := uc.repo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document metadata: %w", err)
	}

	if err := uc.queue.PublishDocumentSubmitted(ctx, doc.ID); err != nil {
		return nil, fmt.Errorf("publish submission event: %w", err)
	}

	return doc, nil
}

// limitedReader fails instead of silently truncating oversized uploads.
type limitedReader struct {
	r         io.Reader
	remaining int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, errDocumentTooLarge
	}
	return n, err
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." || base == "_" {
		return "document.bin"
	}
	return base
}
