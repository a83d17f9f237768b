package localtext

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
	"github.com/kirillkom/tax-document-intelligence/internal/tabular"
)

const maxTextBytes = 512 << 10

// Extractor derives the locally readable layer of a document: plain text,
// the PDF text layer, or spreadsheet rows. Images have none.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Extract(ctx context.Context, doc *domain.Document) (domain.LocalContent, error) {
	if err := ctx.Err(); err != nil {
		return domain.LocalContent{}, err
	}
	switch doc.MimeType {
	case domain.MimeText:
		return plainText(doc)
	case domain.MimePDF:
		return pdfText(doc.Content)
	case domain.MimeCSV:
		rows, err := tabular.ReadCSV(bytes.NewReader(doc.Content))
		if err != nil {
			return domain.LocalContent{}, err
		}
		return domain.LocalContent{Text: tabular.RenderText(rows), Rows: rows, Pages: 1}, nil
	case domain.MimeXLSX:
		rows, err := tabular.ReadXLSX(bytes.NewReader(doc.Content))
		if err != nil {
			return domain.LocalContent{}, err
		}
		return domain.LocalContent{Text: tabular.RenderText(rows), Rows: rows, Pages: 1}, nil
	default:
		return domain.LocalContent{}, nil
	}
}

func plainText(doc *domain.Document) (domain.LocalContent, error) {
	if !utf8.Valid(doc.Content) {
		return domain.LocalContent{}, domain.WrapError(domain.ErrInvalidInput, "extract text", fmt.Errorf("not valid utf-8: %s", doc.Filename))
	}
	return domain.LocalContent{Text: strings.TrimSpace(string(doc.Content)), Pages: 1}, nil
}

// pdfText reads the embedded text layer. Scanned PDFs without one yield empty
// content rather than an error.
func pdfText(content []byte) (out domain.LocalContent, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = domain.LocalContent{}, nil
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return domain.LocalContent{}, domain.WrapError(domain.ErrInvalidInput, "open pdf", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return domain.LocalContent{Pages: reader.NumPage()}, nil
	}
	raw, err := io.ReadAll(io.LimitReader(plain, maxTextBytes))
	if err != nil {
		return domain.LocalContent{}, fmt.Errorf("read pdf text: %w", err)
	}
	return domain.LocalContent{Text: strings.TrimSpace(string(raw)), Pages: reader.NumPage()}, nil
}
