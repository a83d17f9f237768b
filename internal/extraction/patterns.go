package extraction

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
)

const (
	amountExpr = `[€$£]?\s?-?\d(?:[\d.,]*\d)?`
	dateExpr   = `\d{4}-\d{2}-\d{2}|\d{1,2}[./-]\d{1,2}[./-]\d{2,4}|\d{1,2}\s+[A-Za-z]{3,9}\s+\d{4}|[A-Za-z]{3,9}\s+\d{1,2},\s*\d{4}`
	rateExpr   = `\d{1,2}(?:[.,]\d+)?\s?%`

	firstLineLabel = "^"
)

var (
	amountRe = regexp.MustCompile(amountExpr)
	dateRe   = regexp.MustCompile(dateExpr)
	rateRe   = regexp.MustCompile(rateExpr)
)

// BuildExpr returns the expression a template uses to find a field of the
// given kind after label on the same line.
func BuildExpr(label string, kind domain.FieldKind) string {
	if label == firstLineLabel {
		return `\A\s*([^\n]+?)\s*(?:\n|\z)`
	}
	prefix := `(?im)^\s*` + regexp.QuoteMeta(label)
	switch kind {
	case domain.KindAmount:
		return prefix + `[^\n]*?(` + amountExpr + `)[^\d\n]*$`
	case domain.KindDate:
		return prefix + `[^\n]*?(` + dateExpr + `)`
	case domain.KindRate:
		return prefix + `[^\n]*?(` + rateExpr + `)`
	default:
		return prefix + `\s*[:#\-]?\s*([^\n]+?)\s*$`
	}
}

// DerivePatterns locates every field value in the document text and turns
// the text preceding it on the same line into a reusable pattern. Fields
// that cannot be anchored to a label are skipped.
func DerivePatterns(text string, fields []domain.ExtractedField) map[string]domain.FieldPattern {
	lines := strings.Split(text, "\n")
	firstLine := ""
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			firstLine = strings.TrimSpace(line)
			break
		}
	}

	out := make(map[string]domain.FieldPattern)
	for _, field := range fields {
		if field.Value == nil {
			continue
		}
		kind := field.Value.Kind()
		if kind == domain.KindText && firstLine != "" && strings.EqualFold(firstLine, strings.TrimSpace(field.Value.String())) {
			out[field.Name] = domain.FieldPattern{
				Kind:       kind,
				Label:      firstLineLabel,
				Expr:       BuildExpr(firstLineLabel, kind),
				Confidence: 1,
			}
			continue
		}
		label, ok := locateLabel(lines, field.Value)
		if !ok {
			continue
		}
		pattern := domain.FieldPattern{
			Kind:       kind,
			Label:      label,
			Expr:       BuildExpr(label, kind),
			Confidence: 1,
		}
		if !patternReproduces(pattern, text, field.Value) {
			continue
		}
		out[field.Name] = pattern
	}
	return out
}

func locateLabel(lines []string, value domain.Value) (string, bool) {
	for _, line := range lines {
		idx := valueIndex(line, value)
		if idx < 0 {
			continue
		}
		prefix := line[:idx]
		if value.Kind() != domain.KindText {
			if d := strings.IndexFunc(prefix, unicode.IsDigit); d >= 0 {
				prefix = prefix[:d]
			}
		}
		label := strings.TrimRightFunc(prefix, func(r rune) bool {
			return unicode.IsSpace(r) || r == ':' || r == '-' || r == '#' || r == '='
		})
		label = strings.TrimSpace(label)
		if label == "" || strings.IndexFunc(label, unicode.IsLetter) < 0 {
			continue
		}
		return label, true
	}
	return "", false
}

// valueIndex finds where value appears in line, comparing typed values so
// that "1.234,56" matches 1234.56. The last match on the line wins.
func valueIndex(line string, value domain.Value) int {
	var re *regexp.Regexp
	switch value.Kind() {
	case domain.KindAmount:
		re = amountRe
	case domain.KindDate:
		re = dateRe
	case domain.KindRate:
		re = rateRe
	default:
		return strings.Index(strings.ToLower(line), strings.ToLower(strings.TrimSpace(value.String())))
	}
	found := -1
	for _, loc := range re.FindAllStringIndex(line, -1) {
		candidate, err := domain.ParseValue(value.Kind(), line[loc[0]:loc[1]])
		if err != nil || !candidate.Equal(value) {
			continue
		}
		if value.Kind() == domain.KindAmount && strings.HasPrefix(strings.TrimSpace(line[loc[1]:]), "%") {
			continue
		}
		found = loc[0]
	}
	return found
}

func patternReproduces(p domain.FieldPattern, text string, want domain.Value) bool {
	got, ok := matchPattern(p, text)
	return ok && got.Equal(want)
}

func matchPattern(p domain.FieldPattern, text string) (domain.Value, bool) {
	re, err := regexp.Compile(p.Expr)
	if err != nil {
		return nil, false
	}
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return nil, false
	}
	v, err := domain.ParseValue(p.Kind, m[1])
	if err != nil {
		return nil, false
	}
	return v, true
}
