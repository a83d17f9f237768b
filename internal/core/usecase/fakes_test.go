package usecase

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
	"github.com/kirillkom/tax-document-intelligence/internal/extraction"
	"github.com/kirillkom/tax-document-intelligence/internal/infrastructure/repository/kvstore"
	"github.com/kirillkom/tax-document-intelligence/internal/infrastructure/repository/memory"
	"github.com/kirillkom/tax-document-intelligence/internal/infrastructure/resilience"
	"github.com/kirillkom/tax-document-intelligence/internal/tabular"
	"github.com/kirillkom/tax-document-intelligence/internal/templates"
)

const invoiceText = `ACME Supplies GmbH
Invoice number: INV-2024-001
Date: 15.03.2024
Net: 100,00
VAT 21%: 21,00
Total: 121,00 EUR`

var pdfContent = []byte("%PDF-1.7\n% scanned invoice")

func invoiceFields() []domain.ExtractedField {
	date, _ := domain.ParseValue(domain.KindDate, "2024-03-15")
	return []domain.ExtractedField{
		{Name: domain.FieldVendorName, Value: domain.TextValue{Text: "ACME Supplies GmbH"}, Confidence: 0.9},
		{Name: domain.FieldInvoiceNumber, Value: domain.TextValue{Text: "INV-2024-001"}, Confidence: 0.9},
		{Name: domain.FieldInvoiceDate, Value: date, Confidence: 0.85},
		{Name: domain.FieldNetAmount, Value: domain.AmountValue{Amount: 100}, Confidence: 0.9},
		{Name: domain.FieldTaxAmount, Value: domain.AmountValue{Amount: 21}, Confidence: 0.9},
		{Name: domain.FieldTotalAmount, Value: domain.AmountValue{Amount: 121}, Confidence: 0.95},
	}
}

type textExtractorFake struct {
	content domain.LocalContent
	err     error
	panics  bool
}

func (f *textExtractorFake) Extract(context.Context, *domain.Document) (domain.LocalContent, error) {
	if f.panics {
		panic("corrupt xref table")
	}
	if f.err != nil {
		return domain.LocalContent{}, f.err
	}
	return f.content, nil
}

type visionFake struct {
	fields []domain.ExtractedField
	err    error
	block  chan struct{}
	calls  atomic.Int32
	last   domain.VisionRequest
	mu     sync.Mutex
}

func (f *visionFake) Infer(ctx context.Context, req domain.VisionRequest) (*domain.VisionResponse, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.last = req
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return &domain.VisionResponse{Fields: f.fields, Model: "fake"}, nil
}

type breakersFake struct {
	states map[string]domain.BreakerState
}

func (f *breakersFake) BreakerState(service string) domain.CircuitBreakerState {
	state, ok := f.states[service]
	if !ok {
		state = domain.BreakerClosed
	}
	return domain.CircuitBreakerState{Service: service, State: state}
}

func (f *breakersFake) BreakerStates() []domain.CircuitBreakerState {
	out := make([]domain.CircuitBreakerState, 0, len(f.states))
	for service := range f.states {
		out = append(out, f.BreakerState(service))
	}
	return out
}

type guardFake struct {
	err error
}

func (f *guardFake) Check(context.Context, string) error { return f.err }

type recorderFake struct {
	mu         sync.Mutex
	processing []domain.ProcessingRecord
	quality    []domain.QualityRecord
	errors     []domain.ErrorRecord
}

func (f *recorderFake) RecordProcessing(rec domain.ProcessingRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processing = append(f.processing, rec)
}

func (f *recorderFake) RecordQuality(rec domain.QualityRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quality = append(f.quality, rec)
}

func (f *recorderFake) RecordError(rec domain.ErrorRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, rec)
}

func (f *recorderFake) errorCodes() []domain.ErrorCode {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ErrorCode, 0, len(f.errors))
	for _, rec := range f.errors {
		out = append(out, rec.Code)
	}
	return out
}

type pipelineFixture struct {
	orchestrator *Orchestrator
	extractor    *textExtractorFake
	vision       *visionFake
	breakers     *breakersFake
	metrics      *recorderFake
	templates    *templates.Store
	results      *kvstore.ResultRepository
	fallbacks    *resilience.DegradationRegistry[domain.LocalContent, []domain.ExtractedField]
}

func newPipelineFixture(withVision bool) *pipelineFixture {
	kv := memory.NewStore()
	f := &pipelineFixture{
		extractor: &textExtractorFake{content: domain.LocalContent{Text: invoiceText, Pages: 1}},
		vision:    &visionFake{fields: invoiceFields()},
		breakers:  &breakersFake{states: map[string]domain.BreakerState{}},
		metrics:   &recorderFake{},
		results:   kvstore.NewResultRepository(kv),
		fallbacks: resilience.NewDegradationRegistry[domain.LocalContent, []domain.ExtractedField](),
	}
	f.templates = templates.NewStore(kv, nil, f.metrics, templates.DefaultConfig())
	engine := tabular.NewEngine(nil, nil)
	f.fallbacks.Register(visionService, func(_ context.Context, content domain.LocalContent) ([]domain.ExtractedField, error) {
		return extraction.Heuristic(content, engine), nil
	})

	deps := OrchestratorDeps{
		Extractor: f.extractor,
		Templates: f.templates,
		Results:   f.results,
		Breakers:  f.breakers,
		Fallbacks: f.fallbacks,
		Metrics:   f.metrics,
	}
	if withVision {
		deps.Vision = f.vision
	}
	f.orchestrator = NewOrchestrator(DefaultOrchestratorConfig(), deps)
	return f
}

func pdfDocument(id string) *domain.Document {
	return &domain.Document{ID: id, Filename: id + ".pdf", MimeType: domain.MimePDF, Content: pdfContent}
}

type documentRepoFake struct {
	mu          sync.Mutex
	docs        map[string]*domain.DocumentRecord
	statusCalls []domain.DocumentStatus
	createErr   error
}

func newDocumentRepoFake(docs ...*domain.DocumentRecord) *documentRepoFake {
	f := &documentRepoFake{docs: make(map[string]*domain.DocumentRecord)}
	for _, d := range docs {
		f.docs[d.ID] = d
	}
	return f
}

func (f *documentRepoFake) Create(_ context.Context, doc *domain.DocumentRecord) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	copyDoc := *doc
	f.docs[doc.ID] = &copyDoc
	return nil
}

func (f *documentRepoFake) GetByID(_ context.Context, id string) (*domain.DocumentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	copyDoc := *doc
	return &copyDoc, nil
}

func (f *documentRepoFake) UpdateStatus(_ context.Context, id string, status domain.DocumentStatus, errMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls = append(f.statusCalls, status)
	doc, ok := f.docs[id]
	if !ok {
		return domain.ErrDocumentNotFound
	}
	doc.Status = status
	doc.Error = errMessage
	return nil
}

func (f *documentRepoFake) SaveResultRef(_ context.Context, id, resultID, contentHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return domain.ErrDocumentNotFound
	}
	doc.ResultID = resultID
	doc.ContentHash = contentHash
	return nil
}

type storageFake struct {
	mu    sync.Mutex
	files map[string]string
	err   error
}

func newStorageFake() *storageFake {
	return &storageFake{files: make(map[string]string)}
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	if f.err != nil {
		return f.err
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[key] = string(raw)
	return nil
}

func (f *storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.files[key]
	if !ok {
		return nil, errors.New("object not found")
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

type queueFake struct {
	published []string
	err       error
}

func (f *queueFake) PublishDocumentSubmitted(_ context.Context, documentID string) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, documentID)
	return nil
}

func (f *queueFake) SubscribeDocumentSubmitted(context.Context, func(context.Context, string) error) error {
	return errors.New("not implemented")
}
