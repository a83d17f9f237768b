package ollama

import (
	"sort"
	"strings"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
)

const maxSnippet = 6000

func buildExtractionPrompt(mimeType, text string) string {
	names := make([]string, 0, len(domain.FieldKinds))
	for name := range domain.FieldKinds {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(`You extract tax figures from financial documents (invoices, receipts, tax reports).
Return a strict JSON object {"fields": {...}} where each key is one of:
`)
	b.WriteString(strings.Join(names, ", "))
	b.WriteString(`
and each value is {"value": string, "confidence": number from 0 to 1}.
Amounts as plain numbers without currency, dates as YYYY-MM-DD, rates as percent numbers.
Omit fields you cannot see. No markdown, no extra keys.
`)
	b.WriteString("Document type: ")
	b.WriteString(mimeType)
	b.WriteString("\n")

	snippet := strings.TrimSpace(text)
	if len(snippet) > maxSnippet {
		snippet = snippet[:maxSnippet]
	}
	if snippet != "" {
		b.WriteString("\nText layer:\n")
		b.WriteString(snippet)
		b.WriteString("\n")
	}
	return b.String()
}
