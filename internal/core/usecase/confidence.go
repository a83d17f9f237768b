package usecase

import (
	"math"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
	"github.com/kirillkom/tax-document-intelligence/internal/extraction"
)

var fieldWeights = map[string]float64{
	domain.FieldTotalAmount: 3,
	domain.FieldTaxAmount:   2,
	domain.FieldNetAmount:   2,
	domain.FieldInvoiceDate: 1.5,
}

// aggregateConfidence is the weighted mean of field confidences clamped by
// the strategy ceiling. It is a pure function of its inputs.
func aggregateConfidence(fields []domain.ExtractedField, strategy domain.Strategy) float64 {
	if len(fields) == 0 {
		return 0
	}
	var sum, weights float64
	for _, f := range fields {
		w, ok := fieldWeights[f.Name]
		if !ok {
			w = 1
		}
		sum += w * clampUnit(f.Confidence)
		weights += w
	}
	mean := sum / weights
	return math.Min(mean, strategyCeiling(strategy))
}

func strategyCeiling(strategy domain.Strategy) float64 {
	if strategy == domain.StrategyFallback {
		return extraction.FallbackCeiling
	}
	return 1
}

func clampUnit(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
