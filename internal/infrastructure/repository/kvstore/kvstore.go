// Package kvstore keeps the pipeline's typed records (documents, results,
// corrections) as JSON values in any ports.KeyValueStore.
package kvstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
	"github.com/kirillkom/tax-document-intelligence/internal/core/ports"
)

const (
	documentPrefix     = "document/"
	resultPrefix       = "result/"
	resultByHashPrefix = "result-by-hash/"
	resultByDocPrefix  = "result-by-document/"
	correctionPrefix   = "correction/"
)

func getJSON(ctx context.Context, kv ports.KeyValueStore, key string, out any) error {
	raw, err := kv.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func putJSON(ctx context.Context, kv ports.KeyValueStore, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return kv.Put(ctx, key, raw)
}

// notFound rewrites a missing key into the record-level sentinel.
func notFound(err error, kind error, operation string) error {
	if domain.IsKind(err, domain.ErrKeyNotFound) {
		return domain.WrapError(kind, operation, err)
	}
	return fmt.Errorf("%s: %w", operation, err)
}
