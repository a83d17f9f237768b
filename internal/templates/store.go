package templates

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
	"github.com/kirillkom/tax-document-intelligence/internal/core/ports"
	"github.com/kirillkom/tax-document-intelligence/internal/fingerprint"
	"github.com/kirillkom/tax-document-intelligence/internal/infrastructure/resilience"
)

const (
	activePrefix  = "template/"
	archivePrefix = "template-archive/"

	operation = "template-store"
)

type Config struct {
	SimilarityThreshold float64
	CandidateWeight     float64
	AgreementBoost      float64
	CorrectBoost        float64
	IncorrectPenalty    float64
	DeactivateFloor     float64
	PatternPenalty      float64
}

func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: 0.75,
		CandidateWeight:     0.5,
		AgreementBoost:      0.1,
		CorrectBoost:        0.05,
		IncorrectPenalty:    0.15,
		DeactivateFloor:     0.2,
		PatternPenalty:      0.1,
	}
}

type QualityRecorder interface {
	RecordQuality(rec domain.QualityRecord)
}

// Store keeps one template per fingerprint key in a KeyValueStore and an
// in-memory index of the latest committed state for similarity lookups.
// Writes for the same fingerprint are serialized; unrelated fingerprints
// proceed in parallel.
type Store struct {
	kv       ports.KeyValueStore
	executor *resilience.Executor
	quality  QualityRecorder
	cfg      Config
	now      func() time.Time
	logger   *slog.Logger

	locks keyedMutex

	mu    sync.RWMutex
	index map[string]*domain.Template
}

func NewStore(kv ports.KeyValueStore, executor *resilience.Executor, quality QualityRecorder, cfg Config) *Store {
	def := DefaultConfig()
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = def.SimilarityThreshold
	}
	if cfg.CandidateWeight <= 0 {
		cfg.CandidateWeight = def.CandidateWeight
	}
	if cfg.AgreementBoost <= 0 {
		cfg.AgreementBoost = def.AgreementBoost
	}
	if cfg.CorrectBoost <= 0 {
		cfg.CorrectBoost = def.CorrectBoost
	}
	if cfg.IncorrectPenalty <= 0 {
		cfg.IncorrectPenalty = def.IncorrectPenalty
	}
	if cfg.DeactivateFloor <= 0 {
		cfg.DeactivateFloor = def.DeactivateFloor
	}
	if cfg.PatternPenalty <= 0 {
		cfg.PatternPenalty = def.PatternPenalty
	}
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig())
	}
	return &Store{
		kv:       kv,
		executor: executor,
		quality:  quality,
		cfg:      cfg,
		now:      time.Now,
		logger:   slog.Default().With("component", "template_store"),
		locks:    keyedMutex{locks: make(map[string]*keyLock)},
		index:    make(map[string]*domain.Template),
	}
}

// Load warms the lookup index from persisted templates.
func (s *Store) Load(ctx context.Context) error {
	var entries []ports.KeyValue
	err := s.executor.Execute(ctx, operation, func(callCtx context.Context) error {
		var scanErr error
		entries, scanErr = s.kv.Scan(callCtx, activePrefix)
		return scanErr
	}, resilience.DefaultClassifier)
	if err != nil {
		return fmt.Errorf("scan templates: %w", err)
	}

	loaded := make(map[string]*domain.Template, len(entries))
	for _, entry := range entries {
		var t domain.Template
		if err := json.Unmarshal(entry.Value, &t); err != nil {
			s.logger.Warn("template_decode_failed", "key", entry.Key, "error", err)
			continue
		}
		loaded[t.FingerprintKey] = &t
	}

	s.mu.Lock()
	s.index = loaded
	s.mu.Unlock()
	s.logger.Info("templates_loaded", "count", len(loaded))
	return nil
}

// Lookup returns the best active template whose fingerprint similarity
// reaches the threshold. Ties prefer higher usage, then the latest update.
func (s *Store) Lookup(_ context.Context, fp domain.Fingerprint) (*domain.Template, float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *domain.Template
	bestScore := 0.0
	for _, t := range s.index {
		if !t.Active {
			continue
		}
		score := fingerprint.Similarity(fp, t.Fingerprint)
		if score < s.cfg.SimilarityThreshold {
			continue
		}
		if best == nil || better(score, t, bestScore, best) {
			best = t
			bestScore = score
		}
	}
	if best == nil {
		return nil, 0, false
	}
	return best.Clone(), bestScore, true
}

func better(score float64, t *domain.Template, bestScore float64, best *domain.Template) bool {
	if math.Abs(score-bestScore) > 1e-9 {
		return score > bestScore
	}
	if t.UsageCount != best.UsageCount {
		return t.UsageCount > best.UsageCount
	}
	return t.UpdatedAt.After(best.UpdatedAt)
}

// Upsert stores a learned candidate for the fingerprint. An active template
// absorbs the candidate: missing patterns are added and agreeing patterns
// raise the weight. A deactivated one is archived and replaced.
func (s *Store) Upsert(ctx context.Context, fp domain.Fingerprint, candidate domain.Template) (*domain.Template, error) {
	if strings.TrimSpace(fp.Key) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upsert template", fmt.Errorf("empty fingerprint key"))
	}
	unlock := s.locks.Lock(fp.Key)
	defer unlock()

	existing, err := s.read(ctx, fp.Key)
	if err != nil && !domain.IsKind(err, domain.ErrTemplateNotFound) {
		return nil, err
	}
	now := s.now().UTC()

	var next *domain.Template
	detail := "created"
	switch {
	case existing != nil && existing.Active:
		next = existing.Clone()
		agreed := 0
		for name, pattern := range candidate.Patterns {
			current, ok := next.Patterns[name]
			if !ok {
				next.Patterns[name] = pattern
				continue
			}
			if current.Expr == pattern.Expr {
				current.Hits++
				next.Patterns[name] = current
				agreed++
			}
		}
		if agreed > 0 {
			next.Weight = clampWeight(next.Weight + s.cfg.AgreementBoost)
		}
		next.Fingerprint = mergeFingerprint(next.Fingerprint, fp)
		next.Version++
		next.UpdatedAt = now
		detail = "merged"
	default:
		if existing != nil {
			if err := s.archive(ctx, existing); err != nil {
				return nil, err
			}
			detail = "replaced"
		}
		weight := candidate.Weight
		if weight <= 0 {
			weight = s.cfg.CandidateWeight
		}
		patterns := make(map[string]domain.FieldPattern, len(candidate.Patterns))
		for name, pattern := range candidate.Patterns {
			patterns[name] = pattern
		}
		next = &domain.Template{
			ID:             uuid.NewString(),
			FingerprintKey: fp.Key,
			Fingerprint:    fp,
			Patterns:       patterns,
			Weight:         clampWeight(weight),
			Active:         true,
			Version:        1,
			Source:         candidate.Source,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
	}

	if err := s.commit(ctx, next); err != nil {
		return nil, err
	}
	s.emit(next, detail)
	return next.Clone(), nil
}

// ApplyCorrection adjusts the template behind a stored result from user
// feedback. CORRECT only raises the weight, INCORRECT only lowers it and
// deactivates the template below the floor, PARTIALLY_CORRECT penalises the
// corrected field patterns alone.
func (s *Store) ApplyCorrection(ctx context.Context, fingerprintKey string, correction domain.Correction) (*domain.Template, error) {
	if !correction.Feedback.Valid() {
		return nil, domain.WrapError(domain.ErrInvalidInput, "apply correction", fmt.Errorf("unknown feedback %q", correction.Feedback))
	}
	unlock := s.locks.Lock(fingerprintKey)
	defer unlock()

	current, err := s.read(ctx, fingerprintKey)
	if err != nil {
		return nil, err
	}
	if !current.Active {
		return current, nil
	}

	next := current.Clone()
	now := s.now().UTC()
	switch correction.Feedback {
	case domain.FeedbackCorrect:
		next.Weight = clampWeight(next.Weight + s.cfg.CorrectBoost)
	case domain.FeedbackIncorrect:
		next.Weight = clampWeight(next.Weight - s.cfg.IncorrectPenalty)
		if next.Weight < s.cfg.DeactivateFloor {
			next.Active = false
			next.DeactivatedAt = &now
		}
	case domain.FeedbackPartiallyCorrect:
		corrected := make(map[string]domain.ExtractedField, len(correction.Corrected))
		for _, f := range correction.Corrected {
			corrected[f.Name] = f
		}
		for _, name := range correction.ChangedFields() {
			pattern, ok := next.Patterns[name]
			if !ok {
				continue
			}
			pattern.Confidence = math.Max(0, pattern.Confidence-s.cfg.PatternPenalty)
			pattern.Corrections++
			if f, ok := corrected[name]; ok && f.Value != nil {
				pattern.LastCorrected = f.Value.String()
			}
			next.Patterns[name] = pattern
		}
	}
	next.Version++
	next.UpdatedAt = now

	if !next.Active {
		if err := s.archive(ctx, next); err != nil {
			return nil, err
		}
		s.logger.Info("template_deactivated", "fingerprint", fingerprintKey, "template_id", next.ID, "weight", next.Weight)
	}
	if err := s.commit(ctx, next); err != nil {
		return nil, err
	}
	s.emit(next, "correction:"+strings.ToLower(string(correction.Feedback)))
	return next.Clone(), nil
}

// RecordUsage counts one application of the template and whether it held up.
func (s *Store) RecordUsage(ctx context.Context, fingerprintKey string, success bool) error {
	unlock := s.locks.Lock(fingerprintKey)
	defer unlock()

	current, err := s.read(ctx, fingerprintKey)
	if err != nil {
		return err
	}
	current.UsageCount++
	if success {
		current.SuccessCount++
	}
	current.UpdatedAt = s.now().UTC()
	return s.commit(ctx, current)
}

// Archived lists every retired version kept for a fingerprint.
func (s *Store) Archived(ctx context.Context, fingerprintKey string) ([]domain.Template, error) {
	var entries []ports.KeyValue
	err := s.executor.Execute(ctx, operation, func(callCtx context.Context) error {
		var scanErr error
		entries, scanErr = s.kv.Scan(callCtx, archivePrefix+fingerprintKey+"/")
		return scanErr
	}, resilience.DefaultClassifier)
	if err != nil {
		return nil, fmt.Errorf("scan archived templates: %w", err)
	}
	out := make([]domain.Template, 0, len(entries))
	for _, entry := range entries {
		var t domain.Template
		if err := json.Unmarshal(entry.Value, &t); err != nil {
			return nil, fmt.Errorf("decode archived template %s: %w", entry.Key, err)
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Store) read(ctx context.Context, fingerprintKey string) (*domain.Template, error) {
	var raw []byte
	err := s.executor.Execute(ctx, operation, func(callCtx context.Context) error {
		var getErr error
		raw, getErr = s.kv.Get(callCtx, activePrefix+fingerprintKey)
		return getErr
	}, resilience.DefaultClassifier)
	if err != nil {
		if domain.IsKind(err, domain.ErrKeyNotFound) {
			return nil, domain.WrapError(domain.ErrTemplateNotFound, "read template", fmt.Errorf("fingerprint %s", fingerprintKey))
		}
		return nil, fmt.Errorf("read template: %w", err)
	}
	var t domain.Template
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("decode template: %w", err)
	}
	return &t, nil
}

func (s *Store) commit(ctx context.Context, t *domain.Template) error {
	if err := s.put(ctx, activePrefix+t.FingerprintKey, t); err != nil {
		return err
	}
	s.mu.Lock()
	s.index[t.FingerprintKey] = t.Clone()
	s.mu.Unlock()
	return nil
}

func (s *Store) archive(ctx context.Context, t *domain.Template) error {
	return s.put(ctx, archivePrefix+t.FingerprintKey+"/"+t.ID, t)
}

func (s *Store) put(ctx context.Context, key string, t *domain.Template) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode template: %w", err)
	}
	err = s.executor.Execute(ctx, operation, func(callCtx context.Context) error {
		return s.kv.Put(callCtx, key, raw)
	}, resilience.DefaultClassifier)
	if err != nil {
		return fmt.Errorf("write template: %w", err)
	}
	return nil
}

func (s *Store) emit(t *domain.Template, detail string) {
	if s.quality == nil {
		return
	}
	s.quality.RecordQuality(domain.QualityRecord{
		At:     s.now().UTC(),
		Source: domain.QualityTemplate,
		Score:  t.Weight,
		Detail: detail,
	})
}

func mergeFingerprint(stored, seen domain.Fingerprint) domain.Fingerprint {
	if stored.VendorHint == "" {
		stored.VendorHint = seen.VendorHint
	}
	if stored.Layout == "" {
		stored.Layout = seen.Layout
	}
	if len(stored.Keywords) == 0 {
		stored.Keywords = append([]string(nil), seen.Keywords...)
	}
	return stored
}

func clampWeight(w float64) float64 {
	return math.Round(math.Min(1, math.Max(0, w))*1000) / 1000
}
