package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
	"github.com/kirillkom/tax-document-intelligence/internal/extraction"
	"github.com/kirillkom/tax-document-intelligence/internal/fingerprint"
)

func TestProcessRejectsInvalidInput(t *testing.T) {
	f := newPipelineFixture(true)
	cases := []struct {
		name string
		doc  *domain.Document
	}{
		{"empty content", &domain.Document{ID: "d1", MimeType: domain.MimePDF}},
		{"unsupported mime", &domain.Document{ID: "d2", MimeType: "application/msword", Content: []byte("x")}},
		{"png magic mismatch", &domain.Document{ID: "d3", MimeType: domain.MimePNG, Content: []byte("not a png")}},
		{"invalid utf8 text", &domain.Document{ID: "d4", MimeType: domain.MimeText, Content: []byte{0xff, 0xfe, 0xfd}}},
		{"unknown category", &domain.Document{ID: "d5", MimeType: domain.MimePDF, Category: "REFUND", Content: pdfContent}},
	}
	for _, tc := range cases {
		_, err := f.orchestrator.Process(context.Background(), tc.doc, domain.ProcessOptions{})
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("%s: expected invalid input, got %v", tc.name, err)
		}
		if domain.CodeOf(err) != domain.CodeInvalidInput {
			t.Fatalf("%s: unexpected code %s", tc.name, domain.CodeOf(err))
		}
	}
	if len(f.metrics.processing) != 0 {
		t.Fatalf("rejected documents must not emit processing records")
	}
	if len(f.metrics.errors) != len(cases) {
		t.Fatalf("expected %d error records, got %d", len(cases), len(f.metrics.errors))
	}
	if f.vision.calls.Load() != 0 {
		t.Fatalf("vision must not be called for invalid input")
	}
}

func TestProcessWithoutVisionFallsBackToHeuristics(t *testing.T) {
	f := newPipelineFixture(false)
	doc := &domain.Document{ID: "txt-1", MimeType: domain.MimeText, Content: []byte(invoiceText)}

	result, err := f.orchestrator.Process(context.Background(), doc, domain.ProcessOptions{})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if result.Strategy != domain.StrategyFallback || !result.Success {
		t.Fatalf("expected successful fallback, got %s success=%v", result.Strategy, result.Success)
	}
	if result.Confidence > 0.3 || !result.NeedsReview {
		t.Fatalf("fallback confidence must be capped and reviewed, got %v review=%v", result.Confidence, result.NeedsReview)
	}
	total, ok := result.Field(domain.FieldTotalAmount)
	if !ok || !total.Value.Equal(domain.AmountValue{Amount: 121}) {
		t.Fatalf("expected heuristic total 121, got %+v", total)
	}
	if len(f.metrics.processing) != 1 || f.metrics.processing[0].Strategy != domain.StrategyFallback {
		t.Fatalf("expected one fallback processing record, got %+v", f.metrics.processing)
	}
}

func TestProcessNoTemplateUsesVision(t *testing.T) {
	f := newPipelineFixture(true)

	result, err := f.orchestrator.Process(context.Background(), pdfDocument("pdf-1"), domain.ProcessOptions{})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if result.Strategy != domain.StrategyAIVision {
		t.Fatalf("expected AI_VISION without a template, got %s", result.Strategy)
	}
	if f.vision.calls.Load() != 1 {
		t.Fatalf("expected one vision call, got %d", f.vision.calls.Load())
	}
	if f.vision.last.Text != invoiceText || f.vision.last.MimeType != domain.MimePDF {
		t.Fatalf("vision request must carry the text layer, got %+v", f.vision.last)
	}
	if result.NeedsReview {
		t.Fatalf("high-confidence vision result should not need review, confidence=%v", result.Confidence)
	}

	tmpl, _, ok := f.templates.Lookup(context.Background(), fingerprint.Compute(domain.MimePDF, f.extractor.content, domain.BusinessContext{}))
	if !ok || tmpl.Weight != 0.5 {
		t.Fatalf("expected a candidate template at 0.5, got %+v", tmpl)
	}
}

func TestTemplateAboveThresholdSkipsVision(t *testing.T) {
	f := newPipelineFixture(true)
	ctx := context.Background()
	fp := fingerprint.Compute(domain.MimePDF, f.extractor.content, domain.BusinessContext{})
	seeded, err := f.templates.Upsert(ctx, fp, domain.Template{
		Patterns: extraction.DerivePatterns(invoiceText, invoiceFields()),
		Weight:   0.9,
	})
	if err != nil {
		t.Fatalf("seed template: %v", err)
	}

	result, err := f.orchestrator.Process(ctx, pdfDocument("pdf-2"), domain.ProcessOptions{})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if result.Strategy != domain.StrategyTemplateMatch {
		t.Fatalf("expected TEMPLATE_MATCH, got %s (%v)", result.Strategy, result.Degradations)
	}
	if f.vision.calls.Load() != 0 {
		t.Fatalf("template match must not call vision, got %d calls", f.vision.calls.Load())
	}
	if result.TemplateID != seeded.ID {
		t.Fatalf("expected template id %s, got %s", seeded.ID, result.TemplateID)
	}
	tax, ok := result.Field(domain.FieldTaxAmount)
	if !ok || !tax.Value.Equal(domain.AmountValue{Amount: 21}) || tax.Source != domain.StrategyTemplateMatch {
		t.Fatalf("unexpected tax field %+v", tax)
	}

	after, _, _ := f.templates.Lookup(ctx, fp)
	if after.UsageCount != 1 || after.SuccessCount != 1 {
		t.Fatalf("expected usage to be recorded, got usage=%d success=%d", after.UsageCount, after.SuccessCount)
	}
}

func TestHybridAgreementPromotesTemplateToMatch(t *testing.T) {
	f := newPipelineFixture(true)
	ctx := context.Background()
	force := domain.ProcessOptions{ForceReprocess: true}

	first, err := f.orchestrator.Process(ctx, pdfDocument("pdf-3"), domain.ProcessOptions{})
	if err != nil || first.Strategy != domain.StrategyAIVision {
		t.Fatalf("first run: strategy=%v err=%v", first.Strategy, err)
	}

	var previous = first
	for i := 0; i < 3; i++ {
		next, err := f.orchestrator.Process(ctx, pdfDocument("pdf-3"), force)
		if err != nil {
			t.Fatalf("run %d: %v", i+2, err)
		}
		if next.Strategy != domain.StrategyHybrid {
			t.Fatalf("run %d: expected HYBRID, got %s", i+2, next.Strategy)
		}
		if next.Supersedes != previous.ID {
			t.Fatalf("run %d: expected to supersede %s, got %q", i+2, previous.ID, next.Supersedes)
		}
		previous = next
	}

	promoted, err := f.orchestrator.Process(ctx, pdfDocument("pdf-3"), force)
	if err != nil {
		t.Fatalf("final run: %v", err)
	}
	if promoted.Strategy != domain.StrategyTemplateMatch {
		t.Fatalf("expected agreement to promote the template, got %s", promoted.Strategy)
	}
	if f.vision.calls.Load() != 4 {
		t.Fatalf("expected 4 vision calls, got %d", f.vision.calls.Load())
	}
}

func TestOpenBreakerSkipsVision(t *testing.T) {
	f := newPipelineFixture(true)
	f.breakers.states[visionService] = domain.BreakerOpen

	result, err := f.orchestrator.Process(context.Background(), pdfDocument("pdf-4"), domain.ProcessOptions{})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if result.Strategy != domain.StrategyFallback {
		t.Fatalf("expected FALLBACK, got %s", result.Strategy)
	}
	if f.vision.calls.Load() != 0 {
		t.Fatalf("open breaker must short-circuit vision")
	}
	if !containsEntry(result.Degradations, "circuit breaker is open") {
		t.Fatalf("expected breaker reason in degradations, got %v", result.Degradations)
	}
}

func TestVisionFailureDegradesToFallback(t *testing.T) {
	f := newPipelineFixture(true)
	f.vision.err = &domain.PipelineError{Kind: domain.ErrCircuitOpen, Op: visionService}

	result, err := f.orchestrator.Process(context.Background(), pdfDocument("pdf-5"), domain.ProcessOptions{})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if result.Strategy != domain.StrategyFallback || !result.Success {
		t.Fatalf("expected successful fallback, got %s success=%v", result.Strategy, result.Success)
	}
	if !containsEntry(result.SuggestedImprovements, "retry later") {
		t.Fatalf("expected readable reason, got %v", result.SuggestedImprovements)
	}
	codes := f.metrics.errorCodes()
	if len(codes) != 1 || codes[0] != domain.CodeCircuitBreakerOpen {
		t.Fatalf("expected one circuit-open error record, got %v", codes)
	}
	if f.vision.calls.Load() != 1 {
		t.Fatalf("vision must be tried once, got %d", f.vision.calls.Load())
	}
}

func TestResourceGuardDegradesBeforeVision(t *testing.T) {
	f := newPipelineFixture(true)
	f.orchestrator.guard = &guardFake{err: &domain.PipelineError{Kind: domain.ErrResourceLimit, Op: visionService}}

	result, err := f.orchestrator.Process(context.Background(), pdfDocument("pdf-6"), domain.ProcessOptions{})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if result.Strategy != domain.StrategyFallback {
		t.Fatalf("expected FALLBACK, got %s", result.Strategy)
	}
	if f.vision.calls.Load() != 0 {
		t.Fatalf("guard must run before the vision call")
	}
	if codes := f.metrics.errorCodes(); len(codes) != 1 || codes[0] != domain.CodeResourceLimitExceeded {
		t.Fatalf("expected resource limit error record, got %v", codes)
	}
}

func TestMissingFallbackIsReportedInResult(t *testing.T) {
	f := newPipelineFixture(false)
	f.orchestrator.fallbacks = nil
	doc := &domain.Document{ID: "txt-2", MimeType: domain.MimeText, Content: []byte(invoiceText)}

	result, err := f.orchestrator.Process(context.Background(), doc, domain.ProcessOptions{})
	if err != nil {
		t.Fatalf("only invalid input may surface as an error, got %v", err)
	}
	if result.Success || result.Strategy != domain.StrategyFallback {
		t.Fatalf("expected failed fallback result, got %+v", result)
	}
	if result.Error == nil || result.Error.Code != domain.CodeNoFallbackAvailable {
		t.Fatalf("expected NO_FALLBACK_AVAILABLE, got %+v", result.Error)
	}
	if len(f.metrics.processing) != 1 || f.metrics.processing[0].ErrorCode != domain.CodeNoFallbackAvailable {
		t.Fatalf("expected failed processing record, got %+v", f.metrics.processing)
	}
}

func TestPanicBecomesFailedResult(t *testing.T) {
	f := newPipelineFixture(true)
	f.extractor.panics = true

	result, err := f.orchestrator.Process(context.Background(), pdfDocument("pdf-7"), domain.ProcessOptions{})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if result.Success || result.Error == nil || result.Error.Code != domain.CodeInternal {
		t.Fatalf("expected internal failure result, got %+v", result)
	}
}

func TestIdempotentReprocessReturnsStoredResult(t *testing.T) {
	f := newPipelineFixture(true)
	ctx := context.Background()

	first, err := f.orchestrator.Process(ctx, pdfDocument("pdf-8"), domain.ProcessOptions{})
	if err != nil {
		t.Fatalf("first Process() error = %v", err)
	}
	second, err := f.orchestrator.Process(ctx, pdfDocument("pdf-8"), domain.ProcessOptions{})
	if err != nil {
		t.Fatalf("second Process() error = %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected stored result %s, got %s", first.ID, second.ID)
	}
	if f.vision.calls.Load() != 1 || len(f.metrics.processing) != 1 {
		t.Fatalf("stored result must not rerun extraction: vision=%d records=%d", f.vision.calls.Load(), len(f.metrics.processing))
	}
}

func TestConcurrentIdenticalSubmissionsCollapse(t *testing.T) {
	f := newPipelineFixture(true)
	f.vision.block = make(chan struct{})

	const callers = 8
	results := make([]*domain.ExtractionResult, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.orchestrator.Process(context.Background(), pdfDocument("pdf-9"), domain.ProcessOptions{})
			if err != nil {
				t.Errorf("Process() error = %v", err)
				return
			}
			results[i] = res
		}(i)
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.vision.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(f.vision.block)
	wg.Wait()

	if f.vision.calls.Load() != 1 {
		t.Fatalf("expected a single vision call, got %d", f.vision.calls.Load())
	}
	for i, res := range results {
		if res == nil || res.ID != results[0].ID {
			t.Fatalf("caller %d got a different result", i)
		}
	}
}

func TestCancelledCallerDoesNotDegradeSharedExtraction(t *testing.T) {
	f := newPipelineFixture(true)
	f.vision.block = make(chan struct{})

	leaderCtx, cancel := context.WithCancel(context.Background())
	results := make([]*domain.ExtractionResult, 2)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = f.orchestrator.Process(leaderCtx, pdfDocument("pdf-10"), domain.ProcessOptions{})
	}()

	deadline := time.Now().Add(2 * time.Second)
	for f.vision.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], _ = f.orchestrator.Process(context.Background(), pdfDocument("pdf-10"), domain.ProcessOptions{})
	}()
	time.Sleep(20 * time.Millisecond)
	close(f.vision.block)
	wg.Wait()

	for i, res := range results {
		if res == nil || !res.Success || res.Strategy != domain.StrategyAIVision {
			t.Fatalf("caller %d expected a successful AI_VISION result, got %+v", i, res)
		}
	}
	stored, err := f.results.GetLatestByHash(context.Background(), ContentHash(pdfContent))
	if err != nil || stored.Strategy != domain.StrategyAIVision {
		t.Fatalf("expected the persisted result to be AI_VISION, got %+v, %v", stored, err)
	}
}

func TestChainFromStartsAtSelectedStrategy(t *testing.T) {
	got := chainFrom(domain.StrategyHybrid)
	if len(got) != 3 || got[0] != domain.StrategyHybrid || got[2] != domain.StrategyFallback {
		t.Fatalf("unexpected chain %v", got)
	}
	if fallback := chainFrom(domain.StrategyFallback); len(fallback) != 1 {
		t.Fatalf("unexpected fallback chain %v", fallback)
	}
}

func containsEntry(entries []string, fragment string) bool {
	for _, e := range entries {
		if strings.Contains(e, fragment) {
			return true
		}
	}
	return false
}
