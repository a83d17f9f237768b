package extraction

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
	"github.com/kirillkom/tax-document-intelligence/internal/tabular"
)

const invoiceText = `ACME Supplies GmbH
Invoice number: INV-2024-001
Date: 15.03.2024
Net: 100,00
VAT 21%: 21,00
Total: 121,00 EUR`

func visionFields() []domain.ExtractedField {
	date, _ := domain.ParseValue(domain.KindDate, "2024-03-15")
	return []domain.ExtractedField{
		{Name: domain.FieldVendorName, Value: domain.TextValue{Text: "ACME Supplies GmbH"}, Confidence: 0.9},
		{Name: domain.FieldInvoiceNumber, Value: domain.TextValue{Text: "INV-2024-001"}, Confidence: 0.9},
		{Name: domain.FieldInvoiceDate, Value: date, Confidence: 0.85},
		{Name: domain.FieldNetAmount, Value: domain.AmountValue{Amount: 100}, Confidence: 0.9},
		{Name: domain.FieldTaxAmount, Value: domain.AmountValue{Amount: 21}, Confidence: 0.9},
		{Name: domain.FieldVATRate, Value: domain.RateValue{Percent: 21}, Confidence: 0.8},
		{Name: domain.FieldTotalAmount, Value: domain.AmountValue{Amount: 121}, Confidence: 0.95},
	}
}

func TestDerivePatternsAnchorsEveryLabelledField(t *testing.T) {
	patterns := DerivePatterns(invoiceText, visionFields())

	for _, name := range []string{
		domain.FieldVendorName,
		domain.FieldInvoiceNumber,
		domain.FieldInvoiceDate,
		domain.FieldNetAmount,
		domain.FieldTaxAmount,
		domain.FieldVATRate,
		domain.FieldTotalAmount,
	} {
		if _, ok := patterns[name]; !ok {
			t.Fatalf("expected pattern for %s, got %v", name, patterns)
		}
	}
	if patterns[domain.FieldTaxAmount].Label != "VAT" {
		t.Fatalf("expected VAT label, got %q", patterns[domain.FieldTaxAmount].Label)
	}
	if patterns[domain.FieldTotalAmount].Label != "Total" {
		t.Fatalf("expected Total label, got %q", patterns[domain.FieldTotalAmount].Label)
	}
}

func TestDerivePatternsSkipsValuesMissingFromText(t *testing.T) {
	patterns := DerivePatterns(invoiceText, []domain.ExtractedField{
		{Name: domain.FieldTotalAmount, Value: domain.AmountValue{Amount: 999}},
	})
	if len(patterns) != 0 {
		t.Fatalf("expected no patterns, got %v", patterns)
	}
}

func TestApplyTemplateOnSiblingDocument(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tpl := &domain.Template{
		Patterns:  DerivePatterns(invoiceText, visionFields()),
		CreatedAt: now,
	}

	next := strings.NewReplacer(
		"INV-2024-001", "INV-2024-002",
		"15.03.2024", "14.04.2024",
		"100,00", "200,00",
		"21,00", "42,00",
		"121,00", "242,00",
	).Replace(invoiceText)

	fields, misses := ApplyTemplate(tpl, next, now)
	if len(misses) != 0 {
		t.Fatalf("expected every pattern to match, missed %v", misses)
	}
	got := map[string]domain.ExtractedField{}
	for _, f := range fields {
		got[f.Name] = f
	}
	if !got[domain.FieldTotalAmount].Value.Equal(domain.AmountValue{Amount: 242}) {
		t.Fatalf("unexpected total %v", got[domain.FieldTotalAmount].Value)
	}
	if !got[domain.FieldTaxAmount].Value.Equal(domain.AmountValue{Amount: 42}) {
		t.Fatalf("unexpected tax %v", got[domain.FieldTaxAmount].Value)
	}
	if got[domain.FieldInvoiceNumber].Value.String() != "INV-2024-002" {
		t.Fatalf("unexpected invoice number %v", got[domain.FieldInvoiceNumber].Value)
	}
	if got[domain.FieldInvoiceDate].Value.String() != "2024-04-14" {
		t.Fatalf("unexpected date %v", got[domain.FieldInvoiceDate].Value)
	}
	if math.Abs(got[domain.FieldTotalAmount].Confidence-0.9) > 1e-9 {
		t.Fatalf("fresh template should start at the 0.9 prior, got %v", got[domain.FieldTotalAmount].Confidence)
	}
}

func TestTemplateConfidenceDecays(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fresh := &domain.Template{CreatedAt: created}
	old := &domain.Template{CreatedAt: created, UsageCount: 10, SuccessCount: 4}

	a := TemplateConfidence(fresh, created)
	b := TemplateConfidence(old, created.AddDate(2, 0, 0))
	if a != 0.9 {
		t.Fatalf("expected 0.9 prior, got %v", a)
	}
	if b >= a {
		t.Fatalf("expected aged, unreliable template to score lower: %v >= %v", b, a)
	}
	if math.Abs(b-0.9*0.8*0.5) > 1e-9 {
		t.Fatalf("expected floors to apply, got %v", b)
	}
}

func TestHeuristicFieldsAreCapped(t *testing.T) {
	fields := Heuristic(domain.LocalContent{Text: invoiceText}, nil)
	got := map[string]domain.ExtractedField{}
	for _, f := range fields {
		if f.Confidence > FallbackCeiling {
			t.Fatalf("field %s exceeds ceiling: %v", f.Name, f.Confidence)
		}
		if f.Source != domain.StrategyFallback {
			t.Fatalf("unexpected source %s", f.Source)
		}
		got[f.Name] = f
	}
	if !got[domain.FieldTotalAmount].Value.Equal(domain.AmountValue{Amount: 121}) {
		t.Fatalf("unexpected total %+v", got[domain.FieldTotalAmount])
	}
	if !got[domain.FieldTaxAmount].Value.Equal(domain.AmountValue{Amount: 21}) {
		t.Fatalf("unexpected tax %+v", got[domain.FieldTaxAmount])
	}
	if got[domain.FieldInvoiceNumber].Value.String() != "INV-2024-001" {
		t.Fatalf("unexpected invoice number %+v", got[domain.FieldInvoiceNumber])
	}
	if got[domain.FieldVendorName].Value.String() != "ACME Supplies GmbH" {
		t.Fatalf("unexpected vendor %+v", got[domain.FieldVendorName])
	}
}

func TestHeuristicUsesTabularTotalForSpreadsheets(t *testing.T) {
	rows := []domain.ReportRow{
		{Line: 1, Group: "EU", Descriptor: "Subtotal", Amount: 5374.38},
		{Line: 2, Group: "Non-EU", Descriptor: "Subtotal", Amount: 100.86},
	}
	fields := Heuristic(domain.LocalContent{Rows: rows}, tabular.NewEngine(nil, nil))
	if len(fields) != 1 || !fields[0].Value.Equal(domain.AmountValue{Amount: 5475.24}) {
		t.Fatalf("unexpected fields %+v", fields)
	}
	if fields[0].Confidence != FallbackCeiling {
		t.Fatalf("expected capped confidence, got %v", fields[0].Confidence)
	}
}

func TestHeuristicWithoutTextFindsNothing(t *testing.T) {
	if fields := Heuristic(domain.LocalContent{}, nil); len(fields) != 0 {
		t.Fatalf("expected no fields, got %+v", fields)
	}
}

func TestReconcileBoostsAgreementAndDiscountsConflict(t *testing.T) {
	tpl := []domain.ExtractedField{
		{Name: domain.FieldTotalAmount, Value: domain.AmountValue{Amount: 121}, Confidence: 0.8},
		{Name: domain.FieldTaxAmount, Value: domain.AmountValue{Amount: 20}, Confidence: 0.8},
		{Name: domain.FieldInvoiceNumber, Value: domain.TextValue{Text: "INV-1"}, Confidence: 0.7},
	}
	vision := []domain.ExtractedField{
		{Name: domain.FieldTotalAmount, Value: domain.AmountValue{Amount: 121}, Confidence: 0.85},
		{Name: domain.FieldTaxAmount, Value: domain.AmountValue{Amount: 21}, Confidence: 0.9},
		{Name: domain.FieldVendorName, Value: domain.TextValue{Text: "ACME"}, Confidence: 0.6},
	}

	r := Reconcile(tpl, vision)
	got := map[string]domain.ExtractedField{}
	for _, f := range r.Fields {
		got[f.Name] = f
		if f.Source != domain.StrategyHybrid {
			t.Fatalf("expected hybrid source on %s", f.Name)
		}
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 merged fields, got %d", len(got))
	}
	if math.Abs(got[domain.FieldTotalAmount].Confidence-0.95) > 1e-9 {
		t.Fatalf("expected boosted agreement, got %v", got[domain.FieldTotalAmount].Confidence)
	}
	if !got[domain.FieldTaxAmount].Value.Equal(domain.AmountValue{Amount: 21}) || math.Abs(got[domain.FieldTaxAmount].Confidence-0.72) > 1e-9 {
		t.Fatalf("expected discounted vision value on conflict, got %+v", got[domain.FieldTaxAmount])
	}
	if len(r.Agreed) != 1 || len(r.Disagreed) != 1 {
		t.Fatalf("unexpected agreement bookkeeping %+v / %+v", r.Agreed, r.Disagreed)
	}
}
