package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
)

var taxKeywords = []string{
	"amount due",
	"balance",
	"btw",
	"credit note",
	"gross",
	"gst",
	"iban",
	"invoice",
	"net",
	"purchase order",
	"receipt",
	"sales",
	"subtotal",
	"tax",
	"total",
	"vat",
}

const maxVendorHint = 48

// Compute derives the fingerprint of a document from its mime type, the
// locally readable content and caller hints. Identical inputs always yield
// the same key.
func Compute(mimeType string, content domain.LocalContent, bc domain.BusinessContext) domain.Fingerprint {
	layout := Layout(mimeType, content)
	keywords := Keywords(content.Text)
	vendor := VendorHint(content.Text, bc)

	sum := sha256.Sum256([]byte(layout + "|" + strings.Join(keywords, ",") + "|" + vendor))
	return domain.Fingerprint{
		Key:        hex.EncodeToString(sum[:8]),
		Layout:     layout,
		Keywords:   keywords,
		VendorHint: vendor,
	}
}

func mimeClass(mimeType string) string {
	switch mimeType {
	case domain.MimePDF:
		return "pdf"
	case domain.MimeXLSX, domain.MimeCSV:
		return "sheet"
	case domain.MimeText:
		return "text"
	default:
		if strings.HasPrefix(mimeType, "image/") {
			return "image"
		}
		return "other"
	}
}

// Layout buckets the document's shape so small content edits keep the same
// signature.
func Layout(mimeType string, content domain.LocalContent) string {
	class := mimeClass(mimeType)
	if len(content.Rows) > 0 {
		return fmt.Sprintf("%s/rows:%s", class, bucket(len(content.Rows)))
	}
	lines := nonEmptyLines(content.Text)
	if len(lines) == 0 {
		return class
	}
	return fmt.Sprintf("%s/lines:%s", class, bucket(len(lines)))
}

func bucket(n int) string {
	switch {
	case n < 10:
		return "0-9"
	case n < 30:
		return "10-29"
	case n < 60:
		return "30-59"
	default:
		return "60+"
	}
}

func Keywords(text string) []string {
	normalized := " " + normalize(text) + " "
	var found []string
	for _, kw := range taxKeywords {
		if strings.Contains(normalized, " "+kw+" ") {
			found = append(found, kw)
		}
	}
	sort.Strings(found)
	return found
}

// VendorHint prefers caller-supplied context, then the first line of text
// that carries letters.
func VendorHint(text string, bc domain.BusinessContext) string {
	if v := normalize(bc.KnownVendor); v != "" {
		return truncate(v)
	}
	if v := normalize(bc.VATNumber); v != "" {
		return truncate(v)
	}
	for _, line := range nonEmptyLines(text) {
		if strings.IndexFunc(line, unicode.IsLetter) < 0 {
			continue
		}
		if v := normalize(line); v != "" {
			return truncate(v)
		}
	}
	return ""
}

// Similarity scores two fingerprints in [0,1]: layout agreement, keyword
// overlap and vendor name closeness weighted 0.3/0.4/0.3.
func Similarity(a, b domain.Fingerprint) float64 {
	if a.Key != "" && a.Key == b.Key {
		return 1
	}
	return 0.3*layoutScore(a.Layout, b.Layout) + 0.4*jaccard(a.Keywords, b.Keywords) + 0.3*vendorScore(a.VendorHint, b.VendorHint)
}

func layoutScore(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	if classOf(a) == classOf(b) {
		return 0.5
	}
	return 0
}

func classOf(layout string) string {
	if i := strings.IndexByte(layout, '/'); i >= 0 {
		return layout[:i]
	}
	return layout
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	inter := 0
	union := len(set)
	for _, v := range b {
		if _, ok := set[v]; ok {
			inter++
			continue
		}
		union++
	}
	return float64(inter) / float64(union)
}

func vendorScore(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	longest := len([]rune(a))
	if n := len([]rune(b)); n > longest {
		longest = n
	}
	distance := levenshtein.ComputeDistance(a, b)
	score := 1 - float64(distance)/float64(longest)
	if score < 0 {
		return 0
	}
	return score
}

func nonEmptyLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalize(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space && b.Len() > 0 {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) > maxVendorHint {
		return strings.TrimSpace(string(r[:maxVendorHint]))
	}
	return s
}
