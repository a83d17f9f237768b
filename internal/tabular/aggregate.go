package tabular

import (
	"math"
	"strings"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
)

const (
	MethodSubtotalRows = "subtotal_rows"
	MethodItemizedRows = "itemized_rows"
	MethodMixed        = "mixed"
	MethodAmbiguous    = "ambiguous_subtotals"

	confidenceResolved  = 0.95
	confidenceAmbiguous = 0.6
	confidenceMismatch  = 0.6

	// StatedTotalTolerance is how far a computed total may drift from the
	// report's own bottom line before the two are considered to disagree.
	StatedTotalTolerance = 0.01
)

var DefaultSubtotalKeywords = []string{"subtotal", "sub-total", "sub total", "total", "summary"}

var DefaultGrandTotalKeywords = []string{"grand total"}

// Engine sums spreadsheet-style tax reports without double counting line
// rows that a subtotal row already covers.
type Engine struct {
	subtotalKeywords   []string
	grandTotalKeywords []string
}

func NewEngine(subtotalKeywords, grandTotalKeywords []string) *Engine {
	if len(subtotalKeywords) == 0 {
		subtotalKeywords = DefaultSubtotalKeywords
	}
	if len(grandTotalKeywords) == 0 {
		grandTotalKeywords = DefaultGrandTotalKeywords
	}
	return &Engine{
		subtotalKeywords:   lowerAll(subtotalKeywords),
		grandTotalKeywords: lowerAll(grandTotalKeywords),
	}
}

// Aggregate is a pure function of its rows. Within each group a row is a
// subtotal when its descriptor names one or when it is the group's only row.
// One subtotal row stands for the group; none means every row counts; more
// than one resolves to the later-listed row and marks the group ambiguous.
// Grand total rows, and subtotal-keyword rows outside any group, are the
// report's stated total: they never count, and a total that disagrees with
// them lowers the confidence.
func (e *Engine) Aggregate(rows []domain.ReportRow) domain.AggregationResult {
	result := domain.AggregationResult{Method: MethodItemizedRows}

	var order []string
	groups := make(map[string][]domain.ReportRow)
	var stated *float64
	for _, row := range rows {
		if e.isStatedTotal(row) {
			result.Excluded = append(result.Excluded, row)
			amount := row.Amount
			stated = &amount
			continue
		}
		key := strings.TrimSpace(row.Group)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], row)
	}
	result.StatedTotal = stated

	var totalCents int64
	bySubtotal, byItems, ambiguous := 0, 0, 0
	for _, key := range order {
		members := groups[key]
		breakdown := domain.GroupBreakdown{Group: key, Rows: len(members)}

		var subtotals []domain.ReportRow
		for _, row := range members {
			if len(members) == 1 || e.isSubtotal(row.Descriptor) {
				subtotals = append(subtotals, row)
			}
		}
		breakdown.SubtotalRows = len(subtotals)

		var cents int64
		switch len(subtotals) {
		case 0:
			for _, row := range members {
				cents += toCents(row.Amount)
				breakdown.UsedLines = append(breakdown.UsedLines, row.Line)
			}
			breakdown.Resolution = domain.ResolvedByItems
			byItems++
		case 1:
			cents = toCents(subtotals[0].Amount)
			breakdown.UsedLines = []int{subtotals[0].Line}
			breakdown.Resolution = domain.ResolvedBySubtotal
			bySubtotal++
		default:
			chosen := subtotals[len(subtotals)-1]
			cents = toCents(chosen.Amount)
			breakdown.UsedLines = []int{chosen.Line}
			breakdown.Resolution = domain.ResolvedAmbiguous
			ambiguous++
		}

		breakdown.Contribution = fromCents(cents)
		totalCents += cents
		result.Groups = append(result.Groups, breakdown)
	}

	result.Total = fromCents(totalCents)
	switch {
	case ambiguous > 0:
		result.Method = MethodAmbiguous
		result.Confidence = confidenceAmbiguous
	case bySubtotal > 0 && byItems > 0:
		result.Method = MethodMixed
		result.Confidence = confidenceResolved
	case bySubtotal > 0:
		result.Method = MethodSubtotalRows
		result.Confidence = confidenceResolved
	default:
		result.Method = MethodItemizedRows
		result.Confidence = confidenceResolved
	}
	if stated != nil && !Validate(result.Total, *stated, StatedTotalTolerance) {
		result.Confidence = math.Min(result.Confidence, confidenceMismatch)
	}
	if len(order) == 0 {
		result.Confidence = 0
	}
	return result
}

// Validate reports whether total matches expected within tolerance.
func Validate(total, expected, tolerance float64) bool {
	if tolerance < 0 {
		tolerance = 0
	}
	return math.Abs(total-expected) <= tolerance+1e-9
}

func (e *Engine) isSubtotal(descriptor string) bool {
	return containsAny(strings.ToLower(descriptor), e.subtotalKeywords)
}

func (e *Engine) isStatedTotal(row domain.ReportRow) bool {
	if containsAny(strings.ToLower(row.Descriptor), e.grandTotalKeywords) {
		return true
	}
	return strings.TrimSpace(row.Group) == "" && e.isSubtotal(row.Descriptor)
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func toCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

func fromCents(cents int64) float64 {
	return float64(cents) / 100
}
