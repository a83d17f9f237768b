package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
	"github.com/kirillkom/tax-document-intelligence/internal/core/ports"
	"github.com/kirillkom/tax-document-intelligence/internal/extraction"
	"github.com/kirillkom/tax-document-intelligence/internal/fingerprint"
	"github.com/kirillkom/tax-document-intelligence/internal/infrastructure/resilience"
)

type OrchestratorConfig struct {
	TemplateMatchThreshold float64
	ReviewThreshold        float64
	MaxDocumentBytes       int64
}

func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		TemplateMatchThreshold: 0.8,
		ReviewThreshold:        0.7,
		MaxDocumentBytes:       20 << 20,
	}
}

// OrchestratorDeps lists the collaborators of the orchestrator. Vision,
// Breakers, Guard, Fallbacks, Metrics and Cache are optional.
type OrchestratorDeps struct {
	Extractor ports.TextExtractor
	Templates ports.TemplateStore
	Results   ports.ResultRepository
	Vision    ports.VisionService
	Breakers  ports.CircuitInspector
	Guard     ports.ResourceGuard
	Fallbacks ports.FallbackProvider
	Metrics   ports.MetricsRecorder
	Cache     ports.ResultCache
}

// Orchestrator picks an extraction strategy per document, degrades through
// the remaining strategies on failure and feeds outcomes back into metrics
// and the template store.
type Orchestrator struct {
	cfg OrchestratorConfig

	extractor ports.TextExtractor
	templates ports.TemplateStore
	results   ports.ResultRepository
	vision    ports.VisionService
	breakers  ports.CircuitInspector
	guard     ports.ResourceGuard
	fallbacks ports.FallbackProvider
	metrics   ports.MetricsRecorder
	cache     ports.ResultCache

	inflight singleflight.Group
	now      func() time.Time
	newID    func() string
	logger   *slog.Logger
}

func NewOrchestrator(cfg OrchestratorConfig, deps OrchestratorDeps) *Orchestrator {
	def := DefaultOrchestratorConfig()
	if cfg.TemplateMatchThreshold <= 0 {
		cfg.TemplateMatchThreshold = def.TemplateMatchThreshold
	}
	if cfg.ReviewThreshold <= 0 {
		cfg.ReviewThreshold = def.ReviewThreshold
	}
	if cfg.MaxDocumentBytes <= 0 {
		cfg.MaxDocumentBytes = def.MaxDocumentBytes
	}
	return &Orchestrator{
		cfg:       cfg,
		extractor: deps.Extractor,
		templates: deps.Templates,
		results:   deps.Results,
		vision:    deps.Vision,
		breakers:  deps.Breakers,
		guard:     deps.Guard,
		fallbacks: deps.Fallbacks,
		metrics:   deps.Metrics,
		cache:     deps.Cache,
		now:       time.Now,
		newID:     uuid.NewString,
		logger:    slog.Default().With("component", "orchestrator"),
	}
}

// Process extracts the tax fields of one document. Only invalid input is
// returned as an error; every other failure becomes an unsuccessful
// FALLBACK result carrying a readable reason.
func (o *Orchestrator) Process(ctx context.Context, doc *domain.Document, opts domain.ProcessOptions) (*domain.ExtractionResult, error) {
	if err := o.validateDocument(doc); err != nil {
		o.recordError(err, map[string]string{"stage": "validate"})
		return nil, err
	}

	hash := ContentHash(doc.Content)
	if !opts.ForceReprocess {
		if stored := o.storedResult(ctx, hash); stored != nil {
			o.linkDocument(ctx, doc.ID, stored)
			return stored, nil
		}
	}

	// The flight is shared by every caller with the same content, so one
	// caller giving up must not cancel it; the executor bounds each call.
	flightCtx := context.WithoutCancel(ctx)
	value, _, _ := o.inflight.Do(hash, func() (any, error) {
		var prior *domain.ExtractionResult
		if o.results != nil {
			latest, err := o.results.GetLatestByHash(flightCtx, hash)
			if err == nil {
				prior = latest
			}
		}
		if !opts.ForceReprocess && prior != nil && prior.Success {
			return prior, nil
		}
		return o.run(flightCtx, doc, opts, hash, prior), nil
	})
	result := value.(*domain.ExtractionResult)
	o.linkDocument(ctx, doc.ID, result)
	return result, nil
}

// linkDocument points documentID at a result produced for another upload
// with identical bytes, so corrections by document ID still resolve.
func (o *Orchestrator) linkDocument(ctx context.Context, documentID string, result *domain.ExtractionResult) {
	if o.results == nil || documentID == "" || result.DocumentID == documentID {
		return
	}
	if err := o.results.LinkDocument(context.WithoutCancel(ctx), documentID, result.ID); err != nil {
		o.logger.Warn("result_link_failed", "document_id", documentID, "result_id", result.ID, "error", err)
		o.recordError(err, map[string]string{"document_id": documentID, "stage": "link_result"})
	}
}

func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// storedResult returns a previous successful result for identical content,
// consulting the cache before the result store.
func (o *Orchestrator) storedResult(ctx context.Context, hash string) *domain.ExtractionResult {
	if o.cache != nil {
		cached, ok, err := o.cache.Get(ctx, hash)
		if err != nil {
			o.logger.Warn("result_cache_get_failed", "content_hash", hash, "error", err)
		} else if ok && cached.Success {
			return cached
		}
	}
	if o.results == nil {
		return nil
	}
	stored, err := o.results.GetLatestByHash(ctx, hash)
	if err != nil {
		if !domain.IsKind(err, domain.ErrResultNotFound) {
			o.logger.Warn("result_lookup_failed", "content_hash", hash, "error", err)
		}
		return nil
	}
	if !stored.Success {
		return nil
	}
	return stored
}

func (o *Orchestrator) run(ctx context.Context, doc *domain.Document, opts domain.ProcessOptions, hash string, prior *domain.ExtractionResult) *domain.ExtractionResult {
	start := o.now()
	result := &domain.ExtractionResult{
		ID:          o.newID(),
		DocumentID:  doc.ID,
		ContentHash: hash,
		CreatedAt:   start.UTC(),
	}
	if prior != nil {
		result.Supersedes = prior.ID
	}

	var a *attempt
	if err := resilience.Safely("extract "+doc.ID, func() {
		a = o.extract(ctx, doc, opts, result)
	}); err != nil {
		result.Fields = nil
		o.fail(result, domain.CodeInternal, "extraction aborted unexpectedly")
		o.recordError(err, map[string]string{"document_id": doc.ID})
	}

	result.Confidence = aggregateConfidence(result.Fields, result.Strategy)
	result.NeedsReview = result.Confidence < o.cfg.ReviewThreshold
	result.Duration = o.now().Sub(start)

	o.emitProcessing(result)
	if a != nil {
		o.learn(ctx, result, a)
	}
	o.persist(ctx, result)

	o.logger.Info("document_processed",
		"document_id", doc.ID,
		"strategy", result.Strategy,
		"success", result.Success,
		"confidence", result.Confidence,
		"needs_review", result.NeedsReview,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result
}

func (o *Orchestrator) extract(ctx context.Context, doc *domain.Document, opts domain.ProcessOptions, result *domain.ExtractionResult) *attempt {
	a := &attempt{doc: doc}

	if o.extractor != nil {
		content, err := o.extractor.Extract(ctx, doc)
		if err != nil {
			o.note(result, "", "local text could not be read: "+err.Error())
			o.recordError(err, map[string]string{"document_id": doc.ID, "stage": "local_text"})
		} else {
			a.content = content
		}
	}

	a.fingerprint = fingerprint.Compute(doc.MimeType, a.content, opts.Context)
	result.FingerprintKey = a.fingerprint.Key
	result.MatchedFeatures = matchedFeatures(a.fingerprint)

	if o.templates != nil {
		if tmpl, score, ok := o.templates.Lookup(ctx, a.fingerprint); ok {
			a.template = tmpl
			a.similarity = score
			result.MatchedFeatures = append(result.MatchedFeatures, fmt.Sprintf("template:%s@%.2f", tmpl.ID, score))
		}
	}
	a.visionReachable, a.visionReason = o.visionReachability(doc.MimeType)
	if !a.visionReachable && a.visionReason != "" {
		o.note(result, domain.StrategyAIVision, a.visionReason)
	}

	var lastErr error
	for _, strategy := range chainFrom(o.selectStrategy(a)) {
		if !o.eligible(strategy, a) {
			continue
		}

		fields, err := o.execute(ctx, strategy, a, result)
		if err != nil {
			lastErr = err
			o.note(result, strategy, describeFailure(err))
			o.recordError(err, map[string]string{"document_id": doc.ID, "strategy": string(strategy)})
			continue
		}

		result.Strategy = strategy
		result.Fields = fields
		result.Success = true
		if a.template != nil && (strategy == domain.StrategyTemplateMatch || strategy == domain.StrategyHybrid) {
			result.TemplateID = a.template.ID
			result.FingerprintKey = a.template.FingerprintKey
			a.templateHeld = true
		}
		return a
	}

	if lastErr == nil {
		lastErr = domain.ErrNoFallback
	}
	o.fail(result, domain.CodeOf(lastErr), "no extraction strategy produced any field")
	return a
}

func (o *Orchestrator) execute(ctx context.Context, strategy domain.Strategy, a *attempt, result *domain.ExtractionResult) ([]domain.ExtractedField, error) {
	switch strategy {
	case domain.StrategyTemplateMatch:
		return o.applyTemplate(a, result)
	case domain.StrategyHybrid:
		return o.hybrid(ctx, a, result)
	case domain.StrategyAIVision:
		resp, err := o.callVision(ctx, a)
		if err != nil {
			return nil, err
		}
		return withSource(resp.Fields, domain.StrategyAIVision), nil
	default:
		return o.fallback(ctx, a)
	}
}

func (o *Orchestrator) applyTemplate(a *attempt, result *domain.ExtractionResult) ([]domain.ExtractedField, error) {
	a.templateTried = true
	fields, misses := extraction.ApplyTemplate(a.template, a.content.Text, o.now())
	if len(fields) == 0 || len(misses) > len(fields) {
		return nil, fmt.Errorf("template %s matched %d of %d patterns", a.template.ID, len(fields), len(a.template.Patterns))
	}
	for _, name := range misses {
		result.SuggestedImprovements = append(result.SuggestedImprovements,
			fmt.Sprintf("template pattern for %s found nothing; correct the field to retrain it", name))
	}
	return fields, nil
}

func (o *Orchestrator) hybrid(ctx context.Context, a *attempt, result *domain.ExtractionResult) ([]domain.ExtractedField, error) {
	a.templateTried = true
	templateFields, _ := extraction.ApplyTemplate(a.template, a.content.Text, o.now())
	resp, err := o.callVision(ctx, a)
	if err != nil {
		return nil, err
	}
	merged := extraction.Reconcile(templateFields, resp.Fields)
	for _, name := range merged.Disagreed {
		result.SuggestedImprovements = append(result.SuggestedImprovements,
			fmt.Sprintf("template and vision disagree on %s; please verify it", name))
	}
	return merged.Fields, nil
}

func (o *Orchestrator) callVision(ctx context.Context, a *attempt) (*domain.VisionResponse, error) {
	if o.guard != nil {
		if err := o.guard.Check(ctx, visionService); err != nil {
			return nil, err
		}
	}
	resp, err := o.vision.Infer(ctx, domain.VisionRequest{
		DocumentID: a.doc.ID,
		MimeType:   a.doc.MimeType,
		Content:    a.doc.Content,
		Text:       a.content.Text,
	})
	if err != nil {
		a.visionFailed = true
		return nil, err
	}
	if len(resp.Fields) == 0 {
		a.visionFailed = true
		return nil, errors.New("vision service returned no recognizable fields")
	}
	return resp, nil
}

func (o *Orchestrator) fallback(ctx context.Context, a *attempt) ([]domain.ExtractedField, error) {
	if o.fallbacks == nil {
		return nil, domain.NewPipelineError(domain.ErrNoFallback, "fallback", "no degraded extractor registered", map[string]string{"service": visionService})
	}
	fn, ok := o.fallbacks.Fallback(visionService)
	if !ok {
		return nil, domain.NewPipelineError(domain.ErrNoFallback, "fallback", "no degraded extractor registered", map[string]string{"service": visionService})
	}
	fields, err := fn(ctx, a.content)
	if err != nil {
		return nil, fmt.Errorf("fallback extraction: %w", err)
	}
	if len(fields) == 0 {
		return nil, domain.NewPipelineError(domain.ErrNoFallback, "fallback", "heuristics found no fields", nil)
	}
	out := withSource(fields, domain.StrategyFallback)
	for i := range out {
		if out[i].Confidence > extraction.FallbackCeiling {
			out[i].Confidence = extraction.FallbackCeiling
		}
	}
	return out, nil
}

// learn feeds the outcome back into the template store: usage for applied
// templates and a candidate for successful vision reads with local text.
func (o *Orchestrator) learn(ctx context.Context, result *domain.ExtractionResult, a *attempt) {
	if o.templates == nil {
		return
	}
	if a.templateTried && a.template != nil {
		if err := o.templates.RecordUsage(ctx, a.template.FingerprintKey, a.templateHeld); err != nil {
			o.logger.Warn("template_usage_failed", "fingerprint", a.template.FingerprintKey, "error", err)
		}
	}
	if !result.Success || !a.hasText() {
		return
	}
	if result.Strategy != domain.StrategyAIVision && result.Strategy != domain.StrategyHybrid {
		return
	}
	patterns := extraction.DerivePatterns(a.content.Text, result.Fields)
	if len(patterns) == 0 {
		return
	}
	target := a.fingerprint
	if result.Strategy == domain.StrategyHybrid && a.template != nil {
		target = a.template.Fingerprint
		target.Key = a.template.FingerprintKey
	}
	if _, err := o.templates.Upsert(ctx, target, domain.Template{Patterns: patterns, Source: result.Strategy}); err != nil {
		o.logger.Warn("template_upsert_failed", "fingerprint", target.Key, "error", err)
		o.recordError(err, map[string]string{"document_id": result.DocumentID, "stage": "learn"})
	}
}

func (o *Orchestrator) persist(ctx context.Context, result *domain.ExtractionResult) {
	if o.results != nil {
		if err := o.results.Save(ctx, result); err != nil {
			o.logger.Error("result_save_failed", "result_id", result.ID, "error", err)
			o.recordError(err, map[string]string{"result_id": result.ID, "stage": "persist"})
		}
	}
	if o.cache != nil && result.Success {
		if err := o.cache.Set(ctx, result.ContentHash, result); err != nil {
			o.logger.Warn("result_cache_set_failed", "result_id", result.ID, "error", err)
		}
	}
}

func (o *Orchestrator) emitProcessing(result *domain.ExtractionResult) {
	if o.metrics == nil {
		return
	}
	rec := domain.ProcessingRecord{
		At:          o.now(),
		DocumentID:  result.DocumentID,
		Strategy:    result.Strategy,
		Success:     result.Success,
		Duration:    result.Duration,
		Confidence:  result.Confidence,
		NeedsReview: result.NeedsReview,
	}
	if result.Error != nil {
		rec.ErrorCode = result.Error.Code
	}
	o.metrics.RecordProcessing(rec)
}

func (o *Orchestrator) recordError(err error, ctx map[string]string) {
	if o.metrics == nil || err == nil {
		return
	}
	o.metrics.RecordError(domain.ErrorRecord{
		At:          o.now(),
		Code:        domain.CodeOf(err),
		Recoverable: domain.IsRecoverable(err),
		Context:     ctx,
	})
}

func (o *Orchestrator) fail(result *domain.ExtractionResult, code domain.ErrorCode, message string) {
	result.Strategy = domain.StrategyFallback
	result.Success = false
	result.Error = &domain.ResultError{Code: code, Message: message}
}

// note records why a step was skipped or abandoned.
func (o *Orchestrator) note(result *domain.ExtractionResult, strategy domain.Strategy, reason string) {
	entry := reason
	if strategy != "" {
		entry = string(strategy) + ": " + reason
	}
	result.Degradations = append(result.Degradations, entry)
	result.SuggestedImprovements = append(result.SuggestedImprovements, entry)
}

func describeFailure(err error) string {
	code := domain.CodeOf(err)
	switch code {
	case domain.CodeCircuitBreakerOpen:
		return "vision service is temporarily unavailable (circuit open); retry later"
	case domain.CodeResourceLimitExceeded:
		return "server is under memory pressure; retry later"
	case domain.CodeProcessingTimeout:
		return "vision service timed out"
	case domain.CodeNoFallbackAvailable:
		return "no degraded extractor could recover any field"
	case domain.CodeInternal:
		return err.Error()
	default:
		return fmt.Sprintf("%s (%s)", err.Error(), code)
	}
}

func withSource(fields []domain.ExtractedField, source domain.Strategy) []domain.ExtractedField {
	out := make([]domain.ExtractedField, len(fields))
	for i, f := range fields {
		f.Source = source
		f.Confidence = clampUnit(f.Confidence)
		out[i] = f
	}
	return out
}

func matchedFeatures(fp domain.Fingerprint) []string {
	features := []string{"layout:" + fp.Layout}
	if fp.VendorHint != "" {
		features = append(features, "vendor:"+fp.VendorHint)
	}
	for _, kw := range fp.Keywords {
		features = append(features, "keyword:"+kw)
	}
	return features
}
