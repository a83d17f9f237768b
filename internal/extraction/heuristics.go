package extraction

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
	"github.com/kirillkom/tax-document-intelligence/internal/tabular"
)

// FallbackCeiling caps the confidence of anything found by local heuristics.
const FallbackCeiling = 0.3

type heuristic struct {
	field     string
	kind      domain.FieldKind
	re        *regexp.Regexp
	certainty float64
	lastWins  bool
}

var heuristics = []heuristic{
	{
		field:     domain.FieldTotalAmount,
		kind:      domain.KindAmount,
		re:        regexp.MustCompile(`(?im)^[^\n]*\b(?:grand total|total amount|amount due|total due|total)\b[^\n]*?(` + amountExpr + `)[^\d\n]*$`),
		certainty: 0.3,
		lastWins:  true,
	},
	{
		field:     domain.FieldTaxAmount,
		kind:      domain.KindAmount,
		re:        regexp.MustCompile(`(?im)^[^\n]*\b(?:vat|tax|gst|btw|iva|mwst)\b[^\n]*?(` + amountExpr + `)[^\d%\n]*$`),
		certainty: 0.25,
	},
	{
		field:     domain.FieldNetAmount,
		kind:      domain.KindAmount,
		re:        regexp.MustCompile(`(?im)^[^\n]*\b(?:net amount|net|subtotal|total excl[^\n]*?)\b[^\n]*?(` + amountExpr + `)[^\d\n]*$`),
		certainty: 0.25,
	},
	{
		field:     domain.FieldInvoiceDate,
		kind:      domain.KindDate,
		re:        regexp.MustCompile(`(?im)\b(?:invoice date|date of issue|dated|date)\b[^\n]*?(` + dateExpr + `)`),
		certainty: 0.25,
	},
	{
		field:     domain.FieldInvoiceDate,
		kind:      domain.KindDate,
		re:        regexp.MustCompile(`(` + dateExpr + `)`),
		certainty: 0.15,
	},
	{
		field:     domain.FieldVATRate,
		kind:      domain.KindRate,
		re:        regexp.MustCompile(`(` + rateExpr + `)`),
		certainty: 0.2,
	},
	{
		field:     domain.FieldInvoiceNumber,
		kind:      domain.KindText,
		re:        regexp.MustCompile(`(?im)\b(?:invoice|receipt|bill)\s*(?:no\.?|number|nr\.?|#)\s*[:#]?\s*([A-Z0-9][A-Z0-9\-/]{2,})`),
		certainty: 0.25,
	},
	{
		field:     domain.FieldVATNumber,
		kind:      domain.KindText,
		re:        regexp.MustCompile(`(?im)\b(?:vat\s*(?:id|no\.?|number|reg\.?\s*no\.?)|tax\s*id)\s*[:#]?\s*([A-Z]{2}[A-Z0-9]{6,14})`),
		certainty: 0.25,
	},
}

// Heuristic extracts what it can from locally readable content without any
// learned template. Every field is capped at FallbackCeiling.
func Heuristic(content domain.LocalContent, engine *tabular.Engine) []domain.ExtractedField {
	var fields []domain.ExtractedField
	seen := make(map[string]bool)

	if len(content.Rows) > 0 && engine != nil {
		agg := engine.Aggregate(content.Rows)
		if len(agg.Groups) > 0 {
			fields = append(fields, fallbackField(domain.FieldTotalAmount, domain.AmountValue{Amount: agg.Total}, agg.Confidence))
			seen[domain.FieldTotalAmount] = true
		}
	}

	text := content.Text
	if strings.TrimSpace(text) == "" {
		return fields
	}

	for _, h := range heuristics {
		if seen[h.field] {
			continue
		}
		raw, ok := find(h, text)
		if !ok {
			continue
		}
		value, err := domain.ParseValue(h.kind, raw)
		if err != nil {
			continue
		}
		fields = append(fields, fallbackField(h.field, value, h.certainty))
		seen[h.field] = true
	}

	if !seen[domain.FieldVendorName] {
		if vendor := firstLetteredLine(text); vendor != "" {
			fields = append(fields, fallbackField(domain.FieldVendorName, domain.TextValue{Text: vendor}, 0.15))
		}
	}
	return fields
}

func find(h heuristic, text string) (string, bool) {
	if h.lastWins {
		all := h.re.FindAllStringSubmatch(text, -1)
		if len(all) == 0 {
			return "", false
		}
		return all[len(all)-1][1], true
	}
	m := h.re.FindStringSubmatch(text)
	if len(m) < 2 {
		return "", false
	}
	return m[1], true
}

func fallbackField(name string, value domain.Value, certainty float64) domain.ExtractedField {
	if certainty > FallbackCeiling {
		certainty = FallbackCeiling
	}
	return domain.ExtractedField{
		Name:       name,
		Value:      value,
		Confidence: certainty,
		Source:     domain.StrategyFallback,
	}
}

func firstLetteredLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && strings.IndexFunc(line, unicode.IsLetter) >= 0 {
			if len(line) > 80 {
				return ""
			}
			return line
		}
	}
	return ""
}
