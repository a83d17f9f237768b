package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
	"github.com/kirillkom/tax-document-intelligence/internal/core/ports"
)

// ResultRepository stores results immutably under their own ID and keeps
// pointers to the latest result per content hash and per document.
type ResultRepository struct {
	kv ports.KeyValueStore
}

func NewResultRepository(kv ports.KeyValueStore) *ResultRepository {
	return &ResultRepository{kv: kv}
}

func (r *ResultRepository) Save(ctx context.Context, result *domain.ExtractionResult) error {
	if strings.TrimSpace(result.ID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "save result", fmt.Errorf("empty result id"))
	}
	if _, err := r.kv.Get(ctx, resultPrefix+result.ID); err == nil {
		return domain.WrapError(domain.ErrInvalidInput, "save result", fmt.Errorf("result %s already stored", result.ID))
	}
	if err := putJSON(ctx, r.kv, resultPrefix+result.ID, result); err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	if result.ContentHash != "" {
		if err := r.kv.Put(ctx, resultByHashPrefix+result.ContentHash, []byte(result.ID)); err != nil {
			return fmt.Errorf("index result by hash: %w", err)
		}
	}
	if result.DocumentID != "" {
		if err := r.kv.Put(ctx, resultByDocPrefix+result.DocumentID, []byte(result.ID)); err != nil {
			return fmt.Errorf("index result by document: %w", err)
		}
	}
	return nil
}

func (r *ResultRepository) GetByID(ctx context.Context, id string) (*domain.ExtractionResult, error) {
	var result domain.ExtractionResult
	if err := getJSON(ctx, r.kv, resultPrefix+id, &result); err != nil {
		return nil, notFound(err, domain.ErrResultNotFound, "get result")
	}
	return &result, nil
}

func (r *ResultRepository) GetLatestByHash(ctx context.Context, contentHash string) (*domain.ExtractionResult, error) {
	return r.follow(ctx, resultByHashPrefix+contentHash, "get result by hash")
}

func (r *ResultRepository) GetLatestByDocument(ctx context.Context, documentID string) (*domain.ExtractionResult, error) {
	return r.follow(ctx, resultByDocPrefix+documentID, "get result by document")
}

// LinkDocument indexes an existing result under another document, used when
// identical content was uploaded twice.
func (r *ResultRepository) LinkDocument(ctx context.Context, documentID, resultID string) error {
	if strings.TrimSpace(documentID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "link result", fmt.Errorf("empty document id"))
	}
	if _, err := r.GetByID(ctx, resultID); err != nil {
		return err
	}
	if err := r.kv.Put(ctx, resultByDocPrefix+documentID, []byte(resultID)); err != nil {
		return fmt.Errorf("index result by document: %w", err)
	}
	return nil
}

// History returns every stored result, oldest first.
func (r *ResultRepository) History(ctx context.Context) ([]domain.ExtractionResult, error) {
	entries, err := r.kv.Scan(ctx, resultPrefix)
	if err != nil {
		return nil, fmt.Errorf("scan results: %w", err)
	}
	out := make([]domain.ExtractionResult, 0, len(entries))
	for _, entry := range entries {
		var result domain.ExtractionResult
		if err := json.Unmarshal(entry.Value, &result); err != nil {
			return nil, fmt.Errorf("decode result %s: %w", entry.Key, err)
		}
		out = append(out, result)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *ResultRepository) follow(ctx context.Context, pointer, operation string) (*domain.ExtractionResult, error) {
	id, err := r.kv.Get(ctx, pointer)
	if err != nil {
		return nil, notFound(err, domain.ErrResultNotFound, operation)
	}
	return r.GetByID(ctx, string(id))
}
