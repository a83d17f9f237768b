package domain

import "time"

type Strategy string

const (
	StrategyTemplateMatch Strategy = "TEMPLATE_MATCH"
	StrategyHybrid        Strategy = "HYBRID"
	StrategyAIVision      Strategy = "AI_VISION"
	StrategyFallback      Strategy = "FALLBACK"
)

// Fingerprint is a deterministic signature of a document's layout and
// content features. Key is stable for identical inputs.
type Fingerprint struct {
	Key        string   `json:"key"`
	Layout     string   `json:"layout"`
	Keywords   []string `json:"keywords"`
	VendorHint string   `json:"vendor_hint,omitempty"`
}

type ResultError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// ExtractionResult is immutable once stored. Reprocessing produces a new
// result whose Supersedes points at the previous one.
type ExtractionResult struct {
	ID                    string           `json:"id"`
	DocumentID            string           `json:"document_id"`
	ContentHash           string           `json:"content_hash"`
	FingerprintKey        string           `json:"fingerprint_key"`
	TemplateID            string           `json:"template_id,omitempty"`
	Strategy              Strategy         `json:"strategy"`
	Fields                []ExtractedField `json:"fields"`
	Confidence            float64          `json:"confidence"`
	NeedsReview           bool             `json:"needs_review"`
	MatchedFeatures       []string         `json:"matched_features,omitempty"`
	SuggestedImprovements []string         `json:"suggested_improvements,omitempty"`
	Degradations          []string         `json:"degradations,omitempty"`
	Duration              time.Duration    `json:"duration_ns"`
	Success               bool             `json:"success"`
	Error                 *ResultError     `json:"error,omitempty"`
	Supersedes            string           `json:"supersedes,omitempty"`
	CreatedAt             time.Time        `json:"created_at"`
}

func (r *ExtractionResult) Field(name string) (ExtractedField, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return ExtractedField{}, false
}

type VisionRequest struct {
	DocumentID string
	MimeType   string
	Content    []byte
	Text       string
	Prompt     string
}

type VisionResponse struct {
	Text   string
	Fields []ExtractedField
	Model  string
}
