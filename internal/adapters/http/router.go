package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/kirillkom/tax-document-intelligence/internal/config"
	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
	"github.com/kirillkom/tax-document-intelligence/internal/core/ports"
	"github.com/kirillkom/tax-document-intelligence/internal/observability/metrics"
)

// CorrectionService submits and lists user feedback on stored results.
type CorrectionService interface {
	ports.CorrectionSubmitter
	Corrections(ctx context.Context, resultID string) ([]domain.Correction, error)
}

// Services are the inbound ports the router exposes. Nil services answer
// 503 on their routes.
type Services struct {
	Processor   ports.DocumentProcessor
	Ingestor    ports.DocumentIngestor
	Documents   ports.DocumentReader
	Corrections CorrectionService
	Reports     ports.ReportAggregator
	Analytics   ports.AnalyticsReader
	Health      ports.HealthReporter
	Metrics     *metrics.HTTPServerMetrics
}

type Router struct {
	cfg     config.Config
	svc     Services
	limiter *rate.Limiter
}

func NewRouter(cfg config.Config, svc Services) *Router {
	var limiter *rate.Limiter
	if cfg.APIRateLimitRPS > 0 {
		burst := cfg.APIRateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.APIRateLimitRPS), burst)
	}
	return &Router{cfg: cfg, svc: svc, limiter: limiter}
}

func (rt *Router) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /v1/documents/process", rt.processDocument)
	api.HandleFunc("POST /v1/documents", rt.uploadDocument)
	api.HandleFunc("GET /v1/documents/{id}", rt.getDocument)
	api.HandleFunc("GET /v1/results/{id}", rt.getResult)
	api.HandleFunc("POST /v1/results/{id}/corrections", rt.submitCorrection)
	api.HandleFunc("GET /v1/results/{id}/corrections", rt.listCorrections)
	api.HandleFunc("POST /v1/reports/aggregate", rt.aggregateReport)
	api.HandleFunc("GET /v1/analytics/summary", rt.analyticsSummary)
	api.HandleFunc("GET /v1/analytics/realtime", rt.realtimeStats)

	var guarded http.Handler = api
	guarded = backpressureMiddleware(guarded, rt.cfg.APIMaxInFlight, rt.cfg.APIBackpressureWait, rt.recordRejected)
	guarded = rateLimitMiddleware(guarded, rt.limiter, rt.recordRejected)
	guarded = apiKeyMiddleware(guarded, rt.cfg.APIKey, rt.recordRejected)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.svc.Metrics != nil {
		mux.Handle("GET /metrics", rt.svc.Metrics.Handler())
	}
	mux.Handle("/v1/", guarded)

	var handler http.Handler = mux
	if rt.svc.Metrics != nil {
		handler = rt.svc.Metrics.Middleware(handler)
	}
	handler = accessLogMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

func (rt *Router) recordRejected(reason string) {
	if rt.svc.Metrics != nil {
		rt.svc.Metrics.RecordRejected(reason)
	}
}

func (rt *Router) healthz(w http.ResponseWriter, r *http.Request) {
	if rt.svc.Health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	statuses := rt.svc.Health.Health(r.Context())
	status, code := "ok", http.StatusOK
	for _, s := range statuses {
		if !s.Healthy {
			status, code = "degraded", http.StatusServiceUnavailable
			break
		}
	}
	writeJSON(w, code, map[string]any{"status": status, "services": statuses})
}

func (rt *Router) processDocument(w http.ResponseWriter, r *http.Request) {
	if rt.svc.Processor == nil {
		writeUnavailable(w, "processing")
		return
	}
	doc, ok := rt.readDocument(w, r)
	if !ok {
		return
	}
	opts := domain.ProcessOptions{
		ForceReprocess: parseBool(r.FormValue("force_reprocess")),
		Context: domain.BusinessContext{
			KnownVendor: strings.TrimSpace(r.FormValue("known_vendor")),
			VATNumber:   strings.TrimSpace(r.FormValue("vat_number")),
		},
	}

	result, err := rt.svc.Processor.Process(r.Context(), doc, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	if rt.svc.Ingestor == nil {
		writeUnavailable(w, "ingestion")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, rt.maxUploadBytes())
	file, header, err := r.FormFile("file")
	if err != nil {
		writeFormError(w, err)
		return
	}
	defer file.Close()

	doc, err := rt.svc.Ingestor.Upload(
		r.Context(),
		header.Filename,
		detectMimeType(header),
		domain.Category(strings.ToUpper(strings.TrimSpace(r.FormValue("category")))),
		file,
	)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, doc)
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request) {
	if rt.svc.Documents == nil {
		writeUnavailable(w, "documents")
		return
	}
	doc, err := rt.svc.Documents.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) getResult(w http.ResponseWriter, r *http.Request) {
	if rt.svc.Documents == nil {
		writeUnavailable(w, "documents")
		return
	}
	result, err := rt.svc.Documents.GetResult(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type correctionRequest struct {
	Feedback  domain.Feedback         `json:"feedback"`
	Corrected []domain.ExtractedField `json:"corrected"`
	Comment   string                  `json:"comment"`
}

func (rt *Router) submitCorrection(w http.ResponseWriter, r *http.Request) {
	if rt.svc.Corrections == nil {
		writeUnavailable(w, "feedback")
		return
	}
	var req correctionRequest
	decoder := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(domain.CodeInvalidInput, "invalid json: "+err.Error()))
		return
	}

	stored, err := rt.svc.Corrections.SubmitCorrection(r.Context(), r.PathValue("id"), domain.Correction{
		Feedback:  req.Feedback,
		Corrected: req.Corrected,
		Comment:   req.Comment,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

func (rt *Router) listCorrections(w http.ResponseWriter, r *http.Request) {
	if rt.svc.Corrections == nil {
		writeUnavailable(w, "feedback")
		return
	}
	items, err := rt.svc.Corrections.Corrections(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []domain.Correction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"corrections": items})
}

func (rt *Router) aggregateReport(w http.ResponseWriter, r *http.Request) {
	if rt.svc.Reports == nil {
		writeUnavailable(w, "reports")
		return
	}
	doc, ok := rt.readDocument(w, r)
	if !ok {
		return
	}
	result, err := rt.svc.Reports.AggregateReport(r.Context(), doc)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) analyticsSummary(w http.ResponseWriter, r *http.Request) {
	if rt.svc.Analytics == nil {
		writeUnavailable(w, "analytics")
		return
	}
	hours := 24
	if raw := strings.TrimSpace(r.URL.Query().Get("hours")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 24*30 {
			writeJSON(w, http.StatusBadRequest, errorBody(domain.CodeInvalidInput, "hours must be between 1 and 720"))
			return
		}
		hours = parsed
	}
	writeJSON(w, http.StatusOK, rt.svc.Analytics.AnalyticsSummary(hours))
}

func (rt *Router) realtimeStats(w http.ResponseWriter, _ *http.Request) {
	if rt.svc.Analytics == nil {
		writeUnavailable(w, "analytics")
		return
	}
	writeJSON(w, http.StatusOK, rt.svc.Analytics.RealTimeStats())
}

// readDocument reads the multipart "file" field fully into a document.
func (rt *Router) readDocument(w http.ResponseWriter, r *http.Request) (*domain.Document, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, rt.maxUploadBytes())
	file, header, err := r.FormFile("file")
	if err != nil {
		writeFormError(w, err)
		return nil, false
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeFormError(w, err)
		return nil, false
	}
	id := strings.TrimSpace(r.FormValue("document_id"))
	if id == "" {
		id = uuid.NewString()
	}
	return &domain.Document{
		ID:       id,
		Filename: header.Filename,
		MimeType: detectMimeType(header),
		Category: domain.Category(strings.ToUpper(strings.TrimSpace(r.FormValue("category")))),
		Content:  content,
	}, true
}

func (rt *Router) maxUploadBytes() int64 {
	limit := rt.cfg.Pipeline.MaxDocumentBytes
	if limit <= 0 {
		limit = 20 << 20
	}
	return limit + 1<<20
}

var extensionMimeTypes = map[string]string{
	".pdf":  domain.MimePDF,
	".png":  domain.MimePNG,
	".jpg":  domain.MimeJPEG,
	".jpeg": domain.MimeJPEG,
	".webp": domain.MimeWebP,
	".txt":  domain.MimeText,
	".csv":  domain.MimeCSV,
	".xlsx": domain.MimeXLSX,
}

// detectMimeType trusts an explicit part content type and falls back to the
// file extension for generic ones.
func detectMimeType(header *multipart.FileHeader) string {
	declared := strings.TrimSpace(header.Header.Get("Content-Type"))
	if idx := strings.Index(declared, ";"); idx >= 0 {
		declared = strings.TrimSpace(declared[:idx])
	}
	if declared != "" && declared != "application/octet-stream" {
		return strings.ToLower(declared)
	}
	if byExt, ok := extensionMimeTypes[strings.ToLower(filepath.Ext(header.Filename))]; ok {
		return byExt
	}
	return declared
}

func parseBool(raw string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && v
}

func writeFormError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody(domain.CodeInvalidInput, "document too large"))
		return
	}
	writeJSON(w, http.StatusBadRequest, errorBody(domain.CodeInvalidInput, "multipart field 'file' is required"))
}

func writeUnavailable(w http.ResponseWriter, feature string) {
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": feature + " is not configured"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
