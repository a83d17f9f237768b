package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
	"github.com/kirillkom/tax-document-intelligence/internal/core/ports"
)

// FeedbackUseCase stores user verdicts on results and feeds them into the
// template store so future extractions of the same layout improve.
type FeedbackUseCase struct {
	results     ports.ResultRepository
	corrections ports.CorrectionRepository
	templates   ports.TemplateStore
	metrics     ports.MetricsRecorder
	now         func() time.Time
	logger      *slog.Logger
}

func NewFeedbackUseCase(
	results ports.ResultRepository,
	corrections ports.CorrectionRepository,
	templates ports.TemplateStore,
	metrics ports.MetricsRecorder,
) *FeedbackUseCase {
	return &FeedbackUseCase{
		results:     results,
		corrections: corrections,
		templates:   templates,
		metrics:     metrics,
		now:         time.Now,
		logger:      slog.Default().With("component", "feedback"),
	}
}

// SubmitCorrection accepts either a result ID or a document ID; a document
// ID resolves to the document's latest result.
func (uc *FeedbackUseCase) SubmitCorrection(ctx context.Context, documentRef string, correction domain.Correction) (*domain.Correction, error) {
	documentRef = strings.TrimSpace(documentRef)
	if documentRef == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "submit correction", fmt.Errorf("result or document reference is required"))
	}
	if !correction.Feedback.Valid() {
		return nil, domain.WrapError(domain.ErrInvalidInput, "submit correction", fmt.Errorf("unknown feedback %q", correction.Feedback))
	}
	for _, f := range correction.Corrected {
		if _, known := domain.FieldKinds[f.Name]; !known || f.Value == nil {
			return nil, domain.WrapError(domain.ErrInvalidInput, "submit correction", fmt.Errorf("invalid corrected field %q", f.Name))
		}
	}

	result, err := uc.resolve(ctx, documentRef)
	if err != nil {
		return nil, err
	}

	stored := domain.Correction{
		ID:             uuid.NewString(),
		DocumentID:     result.DocumentID,
		ResultID:       result.ID,
		FingerprintKey: result.FingerprintKey,
		Feedback:       correction.Feedback,
		Original:       append([]domain.ExtractedField(nil), result.Fields...),
		Corrected:      append([]domain.ExtractedField(nil), correction.Corrected...),
		Comment:        strings.TrimSpace(correction.Comment),
		CreatedAt:      uc.now().UTC(),
	}
	stored.Accuracy = accuracy(&stored)

	if err := uc.corrections.Save(ctx, &stored); err != nil {
		return nil, fmt.Errorf("save correction: %w", err)
	}

	if uc.templates != nil && stored.FingerprintKey != "" {
		tmpl, err := uc.templates.ApplyCorrection(ctx, stored.FingerprintKey, stored)
		switch {
		case err == nil:
			uc.logger.Info("template_corrected",
				"fingerprint", stored.FingerprintKey,
				"feedback", stored.Feedback,
				"weight", tmpl.Weight,
				"active", tmpl.Active,
			)
		case domain.IsKind(err, domain.ErrTemplateNotFound):
			uc.logger.Debug("correction_without_template", "result_id", stored.ResultID)
		default:
			uc.logger.Warn("template_correction_failed", "fingerprint", stored.FingerprintKey, "error", err)
			if uc.metrics != nil {
				uc.metrics.RecordError(domain.ErrorRecord{
					At:          uc.now(),
					Code:        domain.CodeOf(err),
					Recoverable: domain.IsRecoverable(err),
					Context:     map[string]string{"result_id": stored.ResultID, "stage": "feedback"},
				})
			}
		}
	}

	if uc.metrics != nil {
		uc.metrics.RecordQuality(domain.QualityRecord{
			At:         uc.now(),
			Source:     domain.QualityFeedback,
			DocumentID: stored.DocumentID,
			Score:      stored.Accuracy,
			Detail:     string(stored.Feedback),
		})
	}
	return &stored, nil
}

func (uc *FeedbackUseCase) Corrections(ctx context.Context, resultID string) ([]domain.Correction, error) {
	items, err := uc.corrections.ListByResult(ctx, resultID)
	if err != nil {
		return nil, fmt.Errorf("list corrections: %w", err)
	}
	return items, nil
}

func (uc *FeedbackUseCase) resolve(ctx context.Context, ref string) (*domain.ExtractionResult, error) {
	result, err := uc.results.GetByID(ctx, ref)
	if err == nil {
		return result, nil
	}
	if !domain.IsKind(err, domain.ErrResultNotFound) {
		return nil, fmt.Errorf("load result: %w", err)
	}
	result, err = uc.results.GetLatestByDocument(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("load latest result for document: %w", err)
	}
	return result, nil
}

// accuracy is the share of originally extracted fields the user left
// untouched.
func accuracy(c *domain.Correction) float64 {
	switch c.Feedback {
	case domain.FeedbackCorrect:
		return 1
	case domain.FeedbackIncorrect:
		if len(c.Corrected) == 0 {
			return 0
		}
	}
	total := len(c.Original)
	changed := c.ChangedFields()
	originalNames := make(map[string]bool, len(c.Original))
	for _, f := range c.Original {
		originalNames[f.Name] = true
	}
	for _, name := range changed {
		if !originalNames[name] {
			total++
		}
	}
	if total == 0 {
		return 0
	}
	score := float64(total-len(changed)) / float64(total)
	if score < 0 {
		return 0
	}
	return score
}
