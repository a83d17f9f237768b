package extraction

import (
	"math"
	"sort"
	"time"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
)

const templatePrior = 0.9

// TemplateConfidence is the starting confidence of every field a template
// extracts: a high prior decayed by template age and by how often the
// template's extractions held up.
func TemplateConfidence(t *domain.Template, now time.Time) float64 {
	ageDays := now.Sub(t.CreatedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	ageFactor := math.Max(0.8, 1-0.2*ageDays/365)

	hitRatio := float64(t.SuccessCount+1) / float64(t.UsageCount+1)
	hitRatio = math.Min(1, math.Max(0.5, hitRatio))

	return templatePrior * ageFactor * hitRatio
}

// ApplyTemplate runs every stored pattern over the text. It returns the
// extracted fields and the names of patterns that found nothing.
func ApplyTemplate(t *domain.Template, text string, now time.Time) ([]domain.ExtractedField, []string) {
	base := TemplateConfidence(t, now)

	names := make([]string, 0, len(t.Patterns))
	for name := range t.Patterns {
		names = append(names, name)
	}
	sort.Strings(names)

	var fields []domain.ExtractedField
	var misses []string
	for _, name := range names {
		pattern := t.Patterns[name]
		value, ok := matchPattern(pattern, text)
		if !ok {
			misses = append(misses, name)
			continue
		}
		patternConfidence := pattern.Confidence
		if patternConfidence <= 0 {
			patternConfidence = 1
		}
		fields = append(fields, domain.ExtractedField{
			Name:       name,
			Value:      value,
			Confidence: clamp01(base * patternConfidence),
			Source:     domain.StrategyTemplateMatch,
		})
	}
	return fields, misses
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
