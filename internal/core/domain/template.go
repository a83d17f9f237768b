package domain

import "time"

// FieldPattern locates one field in a document's local text: Label is the
// anchor phrase and Expr the regular expression whose first group holds the
// value.
type FieldPattern struct {
	Kind          FieldKind `json:"kind"`
	Label         string    `json:"label"`
	Expr          string    `json:"expr"`
	Confidence    float64   `json:"confidence"`
	Hits          int       `json:"hits"`
	Misses        int       `json:"misses"`
	Corrections   int       `json:"corrections"`
	LastCorrected string    `json:"last_corrected,omitempty"`
}

type Template struct {
	ID             string                  `json:"id"`
	FingerprintKey string                  `json:"fingerprint_key"`
	Fingerprint    Fingerprint             `json:"fingerprint"`
	Patterns       map[string]FieldPattern `json:"patterns"`
	Weight         float64                 `json:"weight"`
	UsageCount     int                     `json:"usage_count"`
	SuccessCount   int                     `json:"success_count"`
	Active         bool                    `json:"active"`
	Version        int                     `json:"version"`
	Source         Strategy                `json:"source"`
	CreatedAt      time.Time               `json:"created_at"`
	UpdatedAt      time.Time               `json:"updated_at"`
	DeactivatedAt  *time.Time              `json:"deactivated_at,omitempty"`
}

func (t *Template) Clone() *Template {
	if t == nil {
		return nil
	}
	out := *t
	out.Fingerprint.Keywords = append([]string(nil), t.Fingerprint.Keywords...)
	out.Patterns = make(map[string]FieldPattern, len(t.Patterns))
	for k, v := range t.Patterns {
		out.Patterns[k] = v
	}
	if t.DeactivatedAt != nil {
		at := *t.DeactivatedAt
		out.DeactivatedAt = &at
	}
	return &out
}

type Feedback string

const (
	FeedbackCorrect          Feedback = "CORRECT"
	FeedbackPartiallyCorrect Feedback = "PARTIALLY_CORRECT"
	FeedbackIncorrect        Feedback = "INCORRECT"
)

func (f Feedback) Valid() bool {
	switch f {
	case FeedbackCorrect, FeedbackPartiallyCorrect, FeedbackIncorrect:
		return true
	default:
		return false
	}
}

// Correction is a user's verdict on a stored result. Immutable once stored.
type Correction struct {
	ID             string           `json:"id"`
	DocumentID     string           `json:"document_id"`
	ResultID       string           `json:"result_id"`
	FingerprintKey string           `json:"fingerprint_key"`
	Feedback       Feedback         `json:"feedback"`
	Original       []ExtractedField `json:"original"`
	Corrected      []ExtractedField `json:"corrected,omitempty"`
	Comment        string           `json:"comment,omitempty"`
	Accuracy       float64          `json:"accuracy"`
	CreatedAt      time.Time        `json:"created_at"`
}

// ChangedFields returns the names whose corrected value differs from the
// original one, including fields the user added.
func (c *Correction) ChangedFields() []string {
	original := make(map[string]ExtractedField, len(c.Original))
	for _, f := range c.Original {
		original[f.Name] = f
	}
	var changed []string
	for _, f := range c.Corrected {
		prev, ok := original[f.Name]
		if !ok || prev.Value == nil || f.Value == nil || !prev.Value.Equal(f.Value) {
			changed = append(changed, f.Name)
		}
	}
	return changed
}
