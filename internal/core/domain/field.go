package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
)

type FieldKind string

const (
	KindAmount FieldKind = "amount"
	KindDate   FieldKind = "date"
	KindText   FieldKind = "text"
	KindRate   FieldKind = "rate"
)

const (
	FieldVendorName    = "vendor_name"
	FieldVATNumber     = "vat_number"
	FieldInvoiceNumber = "invoice_number"
	FieldInvoiceDate   = "invoice_date"
	FieldNetAmount     = "net_amount"
	FieldTaxAmount     = "tax_amount"
	FieldTotalAmount   = "total_amount"
	FieldVATRate       = "vat_rate"
)

// FieldKinds maps every canonical field name to the value kind it holds.
var FieldKinds = map[string]FieldKind{
	FieldVendorName:    KindText,
	FieldVATNumber:     KindText,
	FieldInvoiceNumber: KindText,
	FieldInvoiceDate:   KindDate,
	FieldNetAmount:     KindAmount,
	FieldTaxAmount:     KindAmount,
	FieldTotalAmount:   KindAmount,
	FieldVATRate:       KindRate,
}

// Value is a closed set of typed field values. Only the variants declared in
// this file implement it.
type Value interface {
	Kind() FieldKind
	String() string
	Equal(other Value) bool
	isValue()
}

type AmountValue struct {
	Amount   float64
	Currency string
}

func (AmountValue) Kind() FieldKind { return KindAmount }
func (AmountValue) isValue()        {}

func (v AmountValue) String() string {
	return strconv.FormatFloat(v.Amount, 'f', 2, 64)
}

func (v AmountValue) Equal(other Value) bool {
	o, ok := other.(AmountValue)
	return ok && math.Abs(v.Amount-o.Amount) < 0.005
}

type DateValue struct {
	Date time.Time
}

func (DateValue) Kind() FieldKind { return KindDate }
func (DateValue) isValue()        {}

func (v DateValue) String() string {
	return v.Date.Format("2006-01-02")
}

func (v DateValue) Equal(other Value) bool {
	o, ok := other.(DateValue)
	return ok && v.String() == o.String()
}

type TextValue struct {
	Text string
}

func (TextValue) Kind() FieldKind { return KindText }
func (TextValue) isValue()        {}

func (v TextValue) String() string { return v.Text }

func (v TextValue) Equal(other Value) bool {
	o, ok := other.(TextValue)
	return ok && strings.EqualFold(strings.TrimSpace(v.Text), strings.TrimSpace(o.Text))
}

type RateValue struct {
	Percent float64
}

func (RateValue) Kind() FieldKind { return KindRate }
func (RateValue) isValue()        {}

func (v RateValue) String() string {
	return strconv.FormatFloat(v.Percent, 'f', -1, 64) + "%"
}

func (v RateValue) Equal(other Value) bool {
	o, ok := other.(RateValue)
	return ok && math.Abs(v.Percent-o.Percent) < 0.001
}

// ExtractedField is one named value together with the confidence of the
// strategy that produced it.
type ExtractedField struct {
	Name       string
	Value      Value
	Confidence float64
	Source     Strategy
}

type fieldJSON struct {
	Name       string    `json:"name"`
	Kind       FieldKind `json:"kind"`
	Value      string    `json:"value"`
	Currency   string    `json:"currency,omitempty"`
	Confidence float64   `json:"confidence"`
	Source     Strategy  `json:"source,omitempty"`
}

func (f ExtractedField) MarshalJSON() ([]byte, error) {
	out := fieldJSON{
		Name:       f.Name,
		Confidence: f.Confidence,
		Source:     f.Source,
	}
	if f.Value != nil {
		out.Kind = f.Value.Kind()
		out.Value = f.Value.String()
		if amount, ok := f.Value.(AmountValue); ok {
			out.Currency = amount.Currency
		}
	}
	return json.Marshal(out)
}

func (f *ExtractedField) UnmarshalJSON(data []byte) error {
	var in fieldJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	kind := in.Kind
	if kind == "" {
		kind = KindOf(in.Name)
	}
	value, err := ParseValue(kind, in.Value)
	if err != nil {
		return fmt.Errorf("field %q: %w", in.Name, err)
	}
	if amount, ok := value.(AmountValue); ok && in.Currency != "" {
		amount.Currency = in.Currency
		value = amount
	}
	*f = ExtractedField{
		Name:       in.Name,
		Value:      value,
		Confidence: in.Confidence,
		Source:     in.Source,
	}
	return nil
}

// KindOf returns the value kind of a canonical field; unknown names are text.
func KindOf(name string) FieldKind {
	if kind, ok := FieldKinds[name]; ok {
		return kind
	}
	return KindText
}

var dateLayouts = []string{
	"2006-01-02",
	"02.01.2006",
	"02/01/2006",
	"2/1/2006",
	"01/02/2006",
	"2 January 2006",
	"2 Jan 2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"02-01-2006",
	"2006/01/02",
	time.RFC3339,
}

// ParseValue converts raw text into a typed value of the given kind.
func ParseValue(kind FieldKind, raw string) (Value, error) {
	raw = strings.TrimSpace(raw)
	switch kind {
	case KindAmount:
		amount, currency, err := ParseAmount(raw)
		if err != nil {
			return nil, err
		}
		return AmountValue{Amount: amount, Currency: currency}, nil
	case KindDate:
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return DateValue{Date: t}, nil
			}
		}
		return nil, fmt.Errorf("%w: unrecognized date %q", ErrInvalidInput, raw)
	case KindRate:
		trimmed := strings.TrimSpace(strings.TrimSuffix(raw, "%"))
		trimmed = strings.ReplaceAll(trimmed, ",", ".")
		pct, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: unrecognized rate %q", ErrInvalidInput, raw)
		}
		return RateValue{Percent: pct}, nil
	case KindText, "":
		if raw == "" {
			return nil, fmt.Errorf("%w: empty text", ErrInvalidInput)
		}
		return TextValue{Text: raw}, nil
	default:
		return nil, fmt.Errorf("%w: unknown field kind %q", ErrInvalidInput, kind)
	}
}

var currencySymbols = map[string]string{
	"€":   "EUR",
	"$":   "USD",
	"£":   "GBP",
	"EUR": "EUR",
	"USD": "USD",
	"GBP": "GBP",
	"CHF": "CHF",
}

// ParseAmount accepts both "1,234.56" and "1.234,56" notations plus an
// optional currency symbol or ISO code.
func ParseAmount(raw string) (float64, string, error) {
	s := strings.TrimSpace(raw)
	currency := ""
	for symbol, code := range currencySymbols {
		if strings.Contains(strings.ToUpper(s), symbol) {
			currency = code
			s = strings.ReplaceAll(strings.ToUpper(s), symbol, "")
		}
	}
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	s = strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) || r == '.' || r == ',' || r == '-' {
			return r
		}
		return -1
	}, s)
	if strings.HasPrefix(s, "-") {
		negative = !negative
		s = strings.TrimPrefix(s, "-")
	}
	if s == "" {
		return 0, "", fmt.Errorf("%w: unrecognized amount %q", ErrInvalidInput, raw)
	}

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") == 1 && len(s)-lastComma-1 <= 2 {
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastDot >= 0 && strings.Count(s, ".") > 1:
		s = strings.ReplaceAll(s, ".", "")
	}

	value, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, "", fmt.Errorf("%w: unrecognized amount %q", ErrInvalidInput, raw)
	}
	if negative {
		value = -value
	}
	return value, currency, nil
}
