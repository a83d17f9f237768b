package usecase

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
)

// visionService is the breaker and degradation name of the vision adapter.
const visionService = "vision"

var strategyChain = []domain.Strategy{
	domain.StrategyTemplateMatch,
	domain.StrategyHybrid,
	domain.StrategyAIVision,
	domain.StrategyFallback,
}

var allowedMimeTypes = map[string]bool{
	domain.MimePDF:  true,
	domain.MimeJPEG: true,
	domain.MimePNG:  true,
	domain.MimeWebP: true,
	domain.MimeText: true,
	domain.MimeCSV:  true,
	domain.MimeXLSX: true,
}

// attempt is the per-document state the strategies share. It lives for one
// Process call only.
type attempt struct {
	doc         *domain.Document
	content     domain.LocalContent
	fingerprint domain.Fingerprint
	template    *domain.Template
	similarity  float64

	visionReachable bool
	visionReason    string
	visionFailed    bool
	templateTried   bool
	templateHeld    bool
}

func (a *attempt) hasText() bool {
	return strings.TrimSpace(a.content.Text) != ""
}

// selectStrategy applies the decision policy; the first matching rule wins.
func (o *Orchestrator) selectStrategy(a *attempt) domain.Strategy {
	switch {
	case a.template != nil && a.template.Weight >= o.cfg.TemplateMatchThreshold:
		return domain.StrategyTemplateMatch
	case a.template != nil && a.visionReachable:
		return domain.StrategyHybrid
	case a.visionReachable:
		return domain.StrategyAIVision
	default:
		return domain.StrategyFallback
	}
}

func chainFrom(start domain.Strategy) []domain.Strategy {
	for i, s := range strategyChain {
		if s == start {
			return strategyChain[i:]
		}
	}
	return strategyChain[len(strategyChain)-1:]
}

// eligible reports whether a degradation step can run at all.
func (o *Orchestrator) eligible(strategy domain.Strategy, a *attempt) bool {
	switch strategy {
	case domain.StrategyTemplateMatch:
		if a.template == nil || !a.hasText() {
			return false
		}
		return a.template.Weight >= o.cfg.TemplateMatchThreshold
	case domain.StrategyHybrid:
		if a.template == nil || !a.hasText() {
			return false
		}
		return a.visionUsable()
	case domain.StrategyAIVision:
		return a.visionUsable()
	default:
		return true
	}
}

// visionUsable is false once a vision call failed for this document so the
// chain never calls the service twice.
func (a *attempt) visionUsable() bool {
	return a.visionReachable && !a.visionFailed
}

// visionReachability decides whether the vision service may be called for
// this document: it must be configured, able to read the format and not
// behind an open breaker.
func (o *Orchestrator) visionReachability(mimeType string) (bool, string) {
	if o.vision == nil {
		return false, ""
	}
	if !visionCapable(mimeType) {
		return false, ""
	}
	if o.breakers != nil && o.breakers.BreakerState(visionService).State == domain.BreakerOpen {
		return false, "vision service circuit breaker is open"
	}
	return true, ""
}

func visionCapable(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/") || mimeType == domain.MimePDF
}

var (
	magicPDF  = []byte("%PDF-")
	magicPNG  = []byte("\x89PNG\r\n\x1a\n")
	magicJPEG = []byte{0xFF, 0xD8, 0xFF}
	magicZIP  = []byte("PK\x03\x04")
)

// validateDocument rejects documents that cannot be processed at all.
func (o *Orchestrator) validateDocument(doc *domain.Document) error {
	if doc == nil {
		return invalidInput("document is required", nil)
	}
	if len(doc.Content) == 0 {
		return invalidInput("document content is empty", map[string]string{"document_id": doc.ID})
	}
	if o.cfg.MaxDocumentBytes > 0 && int64(len(doc.Content)) > o.cfg.MaxDocumentBytes {
		return invalidInput(
			fmt.Sprintf("document exceeds %d bytes", o.cfg.MaxDocumentBytes),
			map[string]string{"document_id": doc.ID, "size": strconv.Itoa(len(doc.Content))},
		)
	}
	if !allowedMimeTypes[doc.MimeType] {
		return invalidInput("unsupported mime type", map[string]string{"document_id": doc.ID, "mime_type": doc.MimeType})
	}
	if doc.Category != "" && !doc.Category.Valid() {
		return invalidInput("unknown category", map[string]string{"document_id": doc.ID, "category": string(doc.Category)})
	}
	if !contentMatchesMime(doc.MimeType, doc.Content) {
		return invalidInput("content does not match declared mime type", map[string]string{"document_id": doc.ID, "mime_type": doc.MimeType})
	}
	return nil
}

func contentMatchesMime(mimeType string, content []byte) bool {
	switch mimeType {
	case domain.MimePDF:
		head := content
		if len(head) > 1024 {
			head = head[:1024]
		}
		return bytes.Contains(head, magicPDF)
	case domain.MimePNG:
		return bytes.HasPrefix(content, magicPNG)
	case domain.MimeJPEG:
		return bytes.HasPrefix(content, magicJPEG)
	case domain.MimeWebP:
		return len(content) >= 12 && string(content[:4]) == "RIFF" && string(content[8:12]) == "WEBP"
	case domain.MimeXLSX:
		return bytes.HasPrefix(content, magicZIP)
	case domain.MimeText, domain.MimeCSV:
		return utf8.Valid(content)
	default:
		return false
	}
}

func invalidInput(message string, ctx map[string]string) error {
	return domain.NewPipelineError(domain.ErrInvalidInput, "process document", message, ctx)
}
