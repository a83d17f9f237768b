package domain

import "time"

type DocumentStatus string

const (
	StatusUploaded   DocumentStatus = "uploaded"
	StatusProcessing DocumentStatus = "processing"
	StatusReady      DocumentStatus = "ready"
	StatusFailed     DocumentStatus = "failed"
)

type Category string

const (
	CategorySales    Category = "SALES"
	CategoryPurchase Category = "PURCHASE"
)

func (c Category) Valid() bool {
	return c == CategorySales || c == CategoryPurchase
}

const (
	MimePDF  = "application/pdf"
	MimeJPEG = "image/jpeg"
	MimePNG  = "image/png"
	MimeWebP = "image/webp"
	MimeText = "text/plain"
	MimeCSV  = "text/csv"
	MimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Document is one submitted file. It is not modified during processing.
type Document struct {
	ID       string   `json:"id"`
	Filename string   `json:"filename"`
	MimeType string   `json:"mime_type"`
	Category Category `json:"category"`
	Content  []byte   `json:"-"`
}

// DocumentRecord tracks an uploaded document through asynchronous processing.
type DocumentRecord struct {
	ID          string         `json:"id"`
	Filename    string         `json:"filename"`
	MimeType    string         `json:"mime_type"`
	Category    Category       `json:"category"`
	StoragePath string         `json:"storage_path"`
	ContentHash string         `json:"content_hash,omitempty"`
	Status      DocumentStatus `json:"status"`
	Error       string         `json:"error,omitempty"`
	ResultID    string         `json:"result_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// BusinessContext holds caller-side hints that sharpen fingerprinting.
type BusinessContext struct {
	KnownVendor string `json:"known_vendor,omitempty"`
	VATNumber   string `json:"vat_number,omitempty"`
}

type ProcessOptions struct {
	Context        BusinessContext `json:"context"`
	ForceReprocess bool            `json:"force_reprocess"`
}

// LocalContent is what can be read from a document without the vision
// service: a text layer and, for spreadsheets, the report rows.
type LocalContent struct {
	Text  string      `json:"text"`
	Rows  []ReportRow `json:"rows,omitempty"`
	Pages int         `json:"pages"`
}

func (c LocalContent) Empty() bool {
	return c.Text == "" && len(c.Rows) == 0
}
