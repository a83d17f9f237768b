package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
)

func TestLoadDocumentDetectsMimeAndCategory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Q1-Report.XLSX")
	if err := os.WriteFile(path, []byte("stub"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	doc, err := loadDocument(path, " purchase ")
	if err != nil {
		t.Fatalf("loadDocument() error = %v", err)
	}
	if doc.MimeType != domain.MimeXLSX || doc.Category != domain.CategoryPurchase {
		t.Fatalf("unexpected document %+v", doc)
	}
	if doc.Filename != "Q1-Report.XLSX" || doc.ID == "" {
		t.Fatalf("unexpected identity %q %q", doc.Filename, doc.ID)
	}

	if _, err := loadDocument(filepath.Join(t.TempDir(), "missing.pdf"), ""); err == nil {
		t.Fatalf("expected error for a missing file")
	}
}

func TestPrintResultRendersTypedValues(t *testing.T) {
	var buf bytes.Buffer
	err := printResult(&buf, &domain.ExtractionResult{
		Strategy:    domain.StrategyFallback,
		Confidence:  0.3,
		NeedsReview: true,
		Fields: []domain.ExtractedField{
			{Name: domain.FieldTotalAmount, Value: domain.AmountValue{Amount: 121, Currency: "EUR"}, Confidence: 0.3, Source: domain.StrategyFallback},
			{Name: domain.FieldInvoiceNumber, Value: domain.TextValue{Text: "A-1"}, Confidence: 0.3, Source: domain.StrategyFallback},
		},
		Degradations: []string{"vision: circuit breaker is open"},
	})
	if err != nil {
		t.Fatalf("printResult() error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{"FALLBACK", "121.00 EUR", "A-1", "Review:      required", "circuit breaker is open"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output is missing %q:\n%s", want, out)
		}
	}
}
