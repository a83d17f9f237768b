package domain

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func TestParseAmountHandlesLocaleSeparators(t *testing.T) {
	cases := []struct {
		raw      string
		want     float64
		currency string
	}{
		{"1,234.56", 1234.56, ""},
		{"1.234,56", 1234.56, ""},
		{"€ 12,50", 12.50, "EUR"},
		{"$1,000", 1000, "USD"},
		{"5333.62", 5333.62, ""},
		{"(40.76)", -40.76, ""},
		{"1.234.567", 1234567, ""},
	}
	for _, tc := range cases {
		got, currency, err := ParseAmount(tc.raw)
		if err != nil {
			t.Fatalf("ParseAmount(%q) returned error: %v", tc.raw, err)
		}
		if math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("ParseAmount(%q) = %v, want %v", tc.raw, got, tc.want)
		}
		if currency != tc.currency {
			t.Fatalf("ParseAmount(%q) currency = %q, want %q", tc.raw, currency, tc.currency)
		}
	}
}

func TestParseAmountRejectsText(t *testing.T) {
	_, _, err := ParseAmount("n/a")
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestParseValueDateLayouts(t *testing.T) {
	for _, raw := range []string{"2024-03-15", "15.03.2024", "15 March 2024", "Mar 15, 2024"} {
		v, err := ParseValue(KindDate, raw)
		if err != nil {
			t.Fatalf("ParseValue(date, %q): %v", raw, err)
		}
		if v.String() != "2024-03-15" {
			t.Fatalf("ParseValue(date, %q) = %s", raw, v)
		}
	}
}

func TestExtractedFieldJSONKeepsVariant(t *testing.T) {
	in := ExtractedField{
		Name:       FieldTotalAmount,
		Value:      AmountValue{Amount: 121, Currency: "EUR"},
		Confidence: 0.92,
		Source:     StrategyAIVision,
	}
	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out ExtractedField
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	amount, ok := out.Value.(AmountValue)
	if !ok {
		t.Fatalf("expected AmountValue, got %T", out.Value)
	}
	if amount.Currency != "EUR" || !amount.Equal(in.Value) {
		t.Fatalf("unexpected value after round trip: %+v", amount)
	}
}

func TestValueEqualityIsKindAware(t *testing.T) {
	if (AmountValue{Amount: 10}).Equal(RateValue{Percent: 10}) {
		t.Fatalf("amount must not equal rate")
	}
	if !(TextValue{Text: " ACME "}).Equal(TextValue{Text: "acme"}) {
		t.Fatalf("text comparison should ignore case and padding")
	}
}

func TestCorrectionChangedFields(t *testing.T) {
	c := Correction{
		Original: []ExtractedField{
			{Name: FieldTotalAmount, Value: AmountValue{Amount: 100}},
			{Name: FieldVendorName, Value: TextValue{Text: "Acme"}},
		},
		Corrected: []ExtractedField{
			{Name: FieldTotalAmount, Value: AmountValue{Amount: 110}},
			{Name: FieldVendorName, Value: TextValue{Text: "acme"}},
			{Name: FieldTaxAmount, Value: AmountValue{Amount: 10}},
		},
	}
	changed := c.ChangedFields()
	if len(changed) != 2 || changed[0] != FieldTotalAmount || changed[1] != FieldTaxAmount {
		t.Fatalf("unexpected changed fields: %v", changed)
	}
}

func TestPipelineErrorCodesAndRecoverability(t *testing.T) {
	err := WrapError(ErrTemporary, "vision.infer", NewPipelineError(ErrProcessingTimeout, "vision", "deadline", map[string]string{"service": "vision"}))
	if CodeOf(err) != CodeProcessingTimeout {
		t.Fatalf("expected timeout code, got %s", CodeOf(err))
	}
	if !IsRecoverable(err) {
		t.Fatalf("timeout should be recoverable")
	}

	open := NewPipelineError(ErrCircuitOpen, "vision", "", nil)
	if open.Code() != CodeCircuitBreakerOpen || open.Recoverable() {
		t.Fatalf("circuit open must be non-recoverable with stable code, got %s/%v", open.Code(), open.Recoverable())
	}
	if CodeOf(errors.New("boom")) != CodeInternal {
		t.Fatalf("unknown errors should map to INTERNAL")
	}
}
