package extraction

import (
	"math"
	"sort"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
)

type Reconciliation struct {
	Fields    []domain.ExtractedField
	Agreed    []string
	Disagreed []string
}

// Reconcile merges template and vision fields for HYBRID extraction.
// Agreement boosts confidence; on disagreement the vision value wins at a
// discount; single-source fields pass through.
func Reconcile(templateFields, visionFields []domain.ExtractedField) Reconciliation {
	byName := make(map[string]domain.ExtractedField, len(templateFields))
	for _, f := range templateFields {
		byName[f.Name] = f
	}

	var out Reconciliation
	used := make(map[string]bool)
	for _, v := range visionFields {
		t, ok := byName[v.Name]
		if !ok || t.Value == nil {
			v.Source = domain.StrategyHybrid
			out.Fields = append(out.Fields, v)
			continue
		}
		used[v.Name] = true
		merged := v
		merged.Source = domain.StrategyHybrid
		if v.Value != nil && v.Value.Equal(t.Value) {
			merged.Confidence = math.Min(1, math.Max(v.Confidence, t.Confidence)+0.1)
			out.Agreed = append(out.Agreed, v.Name)
		} else {
			merged.Confidence = v.Confidence * 0.8
			out.Disagreed = append(out.Disagreed, v.Name)
		}
		out.Fields = append(out.Fields, merged)
	}
	for _, t := range templateFields {
		if used[t.Name] {
			continue
		}
		if _, inVision := indexOf(visionFields, t.Name); inVision {
			continue
		}
		t.Source = domain.StrategyHybrid
		out.Fields = append(out.Fields, t)
	}

	sort.SliceStable(out.Fields, func(i, j int) bool { return out.Fields[i].Name < out.Fields[j].Name })
	return out
}

func indexOf(fields []domain.ExtractedField, name string) (int, bool) {
	for i, f := range fields {
		if f.Name == name {
			return i, true
		}
	}
	return -1, false
}
