package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
	"github.com/kirillkom/tax-document-intelligence/internal/core/ports"
)

type CorrectionRepository struct {
	kv ports.KeyValueStore
}

func NewCorrectionRepository(kv ports.KeyValueStore) *CorrectionRepository {
	return &CorrectionRepository{kv: kv}
}

func (r *CorrectionRepository) Save(ctx context.Context, correction *domain.Correction) error {
	key := correctionPrefix + correction.ResultID + "/" + correction.ID
	if _, err := r.kv.Get(ctx, key); err == nil {
		return domain.WrapError(domain.ErrInvalidInput, "save correction", fmt.Errorf("correction %s already stored", correction.ID))
	}
	if err := putJSON(ctx, r.kv, key, correction); err != nil {
		return fmt.Errorf("save correction: %w", err)
	}
	return nil
}

func (r *CorrectionRepository) ListByResult(ctx context.Context, resultID string) ([]domain.Correction, error) {
	entries, err := r.kv.Scan(ctx, correctionPrefix+resultID+"/")
	if err != nil {
		return nil, fmt.Errorf("scan corrections: %w", err)
	}
	out := make([]domain.Correction, 0, len(entries))
	for _, entry := range entries {
		var c domain.Correction
		if err := json.Unmarshal(entry.Value, &c); err != nil {
			return nil, fmt.Errorf("decode correction %s: %w", entry.Key, err)
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
