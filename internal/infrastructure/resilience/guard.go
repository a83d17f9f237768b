package resilience

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
)

type MemorySampler interface {
	Sample(ctx context.Context) (domain.SystemRecord, error)
}

// ResourceGuard rejects heavy operations while process memory is above the
// configured limit.
type ResourceGuard struct {
	sampler    MemorySampler
	limitBytes uint64
}

func NewResourceGuard(sampler MemorySampler, limitBytes uint64) *ResourceGuard {
	return &ResourceGuard{sampler: sampler, limitBytes: limitBytes}
}

func (g *ResourceGuard) Check(ctx context.Context, operation string) error {
	if g == nil || g.sampler == nil || g.limitBytes == 0 {
		return nil
	}
	rec, err := g.sampler.Sample(ctx)
	if err != nil {
		slog.Warn("resource_guard_sample_failed", "operation", operation, "error", err)
		return nil
	}
	used := rec.MemoryBytes()
	if used <= g.limitBytes {
		return nil
	}
	return &domain.PipelineError{
		Kind:    domain.ErrResourceLimit,
		Op:      operation,
		Message: "memory usage above limit",
		Context: map[string]string{
			"memory_bytes": strconv.FormatUint(used, 10),
			"limit_bytes":  strconv.FormatUint(g.limitBytes, 10),
		},
	}
}
