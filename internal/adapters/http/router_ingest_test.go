package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/kirillkom/tax-document-intelligence/internal/config"
	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
)

type ingestFake struct {
	mimeType string
	category domain.Category
}

func (f *ingestFake) Upload(_ context.Context, filename, mimeType string, category domain.Category, body io.Reader) (*domain.DocumentRecord, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload", io.EOF)
	}
	f.mimeType = mimeType
	f.category = category

	now := time.Now().UTC()
	return &domain.DocumentRecord{
		ID:          "doc-1",
		Filename:    filename,
		MimeType:    mimeType,
		Category:    category,
		StoragePath: "doc-1_file.txt",
		Status:      domain.StatusUploaded,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

type docsFake struct {
	err error
}

func (f docsFake) GetByID(context.Context, string) (*domain.DocumentRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.DocumentRecord{ID: "doc-1", Filename: "a", MimeType: "text/plain", StoragePath: "a", Status: domain.StatusReady}, nil
}

func (f docsFake) GetResult(context.Context, string) (*domain.ExtractionResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.ExtractionResult{ID: "r1", DocumentID: "doc-1", Success: true}, nil
}

type processorFake struct {
	doc  *domain.Document
	opts domain.ProcessOptions
	err  error
}

func (f *processorFake) Process(_ context.Context, doc *domain.Document, opts domain.ProcessOptions) (*domain.ExtractionResult, error) {
	f.doc = doc
	f.opts = opts
	if f.err != nil {
		return nil, f.err
	}
	return &domain.ExtractionResult{
		ID:         "r1",
		DocumentID: doc.ID,
		Strategy:   domain.StrategyAIVision,
		Success:    true,
		Confidence: 0.91,
		Fields: []domain.ExtractedField{
			{Name: domain.FieldTotalAmount, Value: domain.AmountValue{Amount: 121}, Confidence: 0.95, Source: domain.StrategyAIVision},
		},
	}, nil
}

type reportsFake struct{}

func (reportsFake) AggregateReport(_ context.Context, doc *domain.Document) (*domain.AggregationResult, error) {
	if doc.MimeType != domain.MimeCSV {
		return nil, domain.NewPipelineError(domain.ErrInvalidInput, "aggregate report", "only csv and xlsx reports can be aggregated", nil)
	}
	return &domain.AggregationResult{Total: 5475.24, Method: "subtotal_rows", Confidence: 0.95}, nil
}

type correctionsFake struct {
	ref string
	got domain.Correction
	err error
}

func (f *correctionsFake) SubmitCorrection(_ context.Context, ref string, c domain.Correction) (*domain.Correction, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.ref = ref
	f.got = c
	c.ID = "c1"
	c.ResultID = ref
	return &c, nil
}

func (f *correctionsFake) Corrections(context.Context, string) ([]domain.Correction, error) {
	return nil, nil
}

type analyticsFake struct {
	hours int
}

func (f *analyticsFake) AnalyticsSummary(hoursBack int) domain.AnalyticsSummary {
	f.hours = hoursBack
	return domain.AnalyticsSummary{TotalProcessed: 1}
}

func (f *analyticsFake) RealTimeStats() domain.RealTimeStats {
	return domain.RealTimeStats{Processed: 1}
}

type healthFake struct {
	statuses []domain.ServiceHealth
}

func (f healthFake) Health(context.Context) []domain.ServiceHealth { return f.statuses }

func testServices() Services {
	return Services{
		Processor:   &processorFake{},
		Ingestor:    &ingestFake{},
		Documents:   docsFake{},
		Corrections: &correctionsFake{},
		Reports:     reportsFake{},
		Analytics:   &analyticsFake{},
	}
}

func newTestHandler(cfg config.Config, svc Services) http.Handler {
	return NewRouter(cfg, svc).Handler()
}

func multipartBody(t *testing.T, filename, contentType string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("CreatePart() error = %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatalf("WriteField() error = %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return &body, writer.FormDataContentType()
}

func TestHealthzEndpoint(t *testing.T) {
	handler := newTestHandler(config.Config{}, testServices())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if res.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}
}

func TestUploadDocumentSuccess(t *testing.T) {
	ingest := &ingestFake{}
	svc := testServices()
	svc.Ingestor = ingest
	handler := newTestHandler(config.Config{}, svc)

	body, contentType := multipartBody(t, "report.xlsx", "application/octet-stream", []byte("PK\x03\x04"), map[string]string{"category": "sales"})
	req := httptest.NewRequest(http.MethodPost, "/v1/documents", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", res.Code)
	}

	var docResp map[string]any
	if err := json.NewDecoder(res.Body).Decode(&docResp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if docResp["id"] != "doc-1" {
		t.Fatalf("unexpected response: %+v", docResp)
	}
	if ingest.mimeType != domain.MimeXLSX || ingest.category != domain.CategorySales {
		t.Fatalf("expected extension-derived mime and normalized category, got %q %q", ingest.mimeType, ingest.category)
	}
}

func TestUploadDocumentMissingMultipartField(t *testing.T) {
	handler := newTestHandler(config.Config{}, testServices())

	req := httptest.NewRequest(http.MethodPost, "/v1/documents", bytes.NewBufferString("plain-text"))
	req.Header.Set("Content-Type", "text/plain")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestUploadDocumentTooLarge(t *testing.T) {
	cfg := config.Config{Pipeline: config.Pipeline{MaxDocumentBytes: 1}}
	handler := newTestHandler(cfg, testServices())

	body, contentType := multipartBody(t, "big.txt", "text/plain", bytes.Repeat([]byte("a"), 2<<20), nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/documents", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", res.Code)
	}
}

func TestProcessDocumentPassesOptions(t *testing.T) {
	processor := &processorFake{}
	svc := testServices()
	svc.Processor = processor
	handler := newTestHandler(config.Config{}, svc)

	body, contentType := multipartBody(t, "invoice.pdf", "application/pdf", []byte("%PDF-1.7"), map[string]string{
		"force_reprocess": "true",
		"known_vendor":    "ACME",
		"document_id":     "inv-7",
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/documents/process", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if processor.doc.ID != "inv-7" || processor.doc.MimeType != domain.MimePDF || string(processor.doc.Content) != "%PDF-1.7" {
		t.Fatalf("unexpected document %+v", processor.doc)
	}
	if !processor.opts.ForceReprocess || processor.opts.Context.KnownVendor != "ACME" {
		t.Fatalf("unexpected options %+v", processor.opts)
	}

	var result struct {
		Strategy string `json:"strategy"`
		Fields   []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"fields"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Strategy != "AI_VISION" || len(result.Fields) != 1 || result.Fields[0].Name != domain.FieldTotalAmount {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestProcessDocumentInvalidInputIs400(t *testing.T) {
	svc := testServices()
	svc.Processor = &processorFake{err: domain.NewPipelineError(domain.ErrInvalidInput, "process document", "unsupported mime type", nil)}
	handler := newTestHandler(config.Config{}, svc)

	body, contentType := multipartBody(t, "a.doc", "application/msword", []byte("x"), nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/documents/process", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestAggregateReportEndpoint(t *testing.T) {
	handler := newTestHandler(config.Config{}, testServices())

	body, contentType := multipartBody(t, "vat.csv", "text/csv", []byte("country,description,amount\n"), nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/reports/aggregate", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var result domain.AggregationResult
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Total != 5475.24 {
		t.Fatalf("unexpected total %v", result.Total)
	}
}
