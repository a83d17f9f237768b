package monitoring

import (
	"sync"
	"time"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
)

type Config struct {
	MaxRecords     int
	Retention      time.Duration
	RealTimeWindow time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxRecords:     10000,
		Retention:      24 * time.Hour,
		RealTimeWindow: 5 * time.Minute,
	}
}

// Sink receives every processing record after it has been logged.
type Sink interface {
	ObserveProcessing(rec domain.ProcessingRecord)
}

// Collector keeps bounded in-memory logs of processing, system, quality and
// error records and derives rolling statistics from them.
type Collector struct {
	cfg Config
	now func() time.Time

	processing *ringLog[domain.ProcessingRecord]
	system     *ringLog[domain.SystemRecord]
	quality    *ringLog[domain.QualityRecord]
	errors     *ringLog[domain.ErrorRecord]

	sinksMu sync.RWMutex
	sinks   []Sink
}

func NewCollector(cfg Config) *Collector {
	def := DefaultConfig()
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = def.MaxRecords
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.RealTimeWindow <= 0 {
		cfg.RealTimeWindow = def.RealTimeWindow
	}
	return &Collector{
		cfg: cfg,
		now: time.Now,
		processing: newRingLog(cfg.MaxRecords, cfg.Retention, func(r domain.ProcessingRecord) time.Time {
			return r.At
		}),
		system: newRingLog(cfg.MaxRecords, cfg.Retention, func(r domain.SystemRecord) time.Time {
			return r.At
		}),
		quality: newRingLog(cfg.MaxRecords, cfg.Retention, func(r domain.QualityRecord) time.Time {
			return r.At
		}),
		errors: newRingLog(cfg.MaxRecords, cfg.Retention, func(r domain.ErrorRecord) time.Time {
			return r.At
		}),
	}
}

func (c *Collector) AddSink(sink Sink) {
	if sink == nil {
		return
	}
	c.sinksMu.Lock()
	defer c.sinksMu.Unlock()
	c.sinks = append(c.sinks, sink)
}

func (c *Collector) RecordProcessing(rec domain.ProcessingRecord) {
	now := c.now()
	if rec.At.IsZero() {
		rec.At = now
	}
	c.processing.append(rec, now)

	c.sinksMu.RLock()
	sinks := append([]Sink(nil), c.sinks...)
	c.sinksMu.RUnlock()
	for _, sink := range sinks {
		sink.ObserveProcessing(rec)
	}
}

func (c *Collector) RecordSystem(rec domain.SystemRecord) {
	now := c.now()
	if rec.At.IsZero() {
		rec.At = now
	}
	c.system.append(rec, now)
}

func (c *Collector) RecordQuality(rec domain.QualityRecord) {
	now := c.now()
	if rec.At.IsZero() {
		rec.At = now
	}
	c.quality.append(rec, now)
}

func (c *Collector) RecordError(rec domain.ErrorRecord) {
	now := c.now()
	if rec.At.IsZero() {
		rec.At = now
	}
	c.errors.append(rec, now)
}

// Cleanup evicts records older than the retention window and reports how
// many were dropped.
func (c *Collector) Cleanup() int {
	now := c.now()
	return c.processing.prune(now) + c.system.prune(now) + c.quality.prune(now) + c.errors.prune(now)
}

func (c *Collector) LatestSystem() (domain.SystemRecord, bool) {
	return c.system.last()
}

type LogSizes struct {
	Processing int
	System     int
	Quality    int
	Errors     int
}

func (c *Collector) Sizes() LogSizes {
	return LogSizes{
		Processing: c.processing.len(),
		System:     c.system.len(),
		Quality:    c.quality.len(),
		Errors:     c.errors.len(),
	}
}

func (c *Collector) RealTimeStats() domain.RealTimeStats {
	now := c.now()
	from := now.Add(-c.cfg.RealTimeWindow)
	records := c.processing.since(from, now)

	stats := domain.RealTimeStats{
		WindowStart:       from,
		StrategyBreakdown: make(map[domain.Strategy]int),
		ErrorCounts:       countErrors(c.errors.since(from, now)),
	}
	agg := aggregate(records)
	stats.Processed = agg.total
	stats.Successful = agg.successful
	stats.SuccessRate = agg.successRate()
	stats.AvgLatency = agg.avgDuration()
	stats.AvgConfidence = agg.avgConfidence()
	stats.StrategyBreakdown = agg.strategies
	if minutes := c.cfg.RealTimeWindow.Minutes(); minutes > 0 {
		stats.ThroughputPerMin = float64(agg.total) / minutes
	}
	if sys, ok := c.system.last(); ok {
		stats.System = &sys
	}
	return stats
}

func (c *Collector) Summary(hoursBack int) domain.AnalyticsSummary {
	if hoursBack <= 0 {
		hoursBack = 24
	}
	now := c.now()
	from := now.Add(-time.Duration(hoursBack) * time.Hour)
	records := c.processing.since(from, now)
	agg := aggregate(records)

	summary := domain.AnalyticsSummary{
		From:              from,
		To:                now,
		TotalProcessed:    agg.total,
		Successful:        agg.successful,
		SuccessRate:       agg.successRate(),
		ThroughputPerHour: float64(agg.total) / float64(hoursBack),
		AvgDuration:       agg.avgDuration(),
		AvgConfidence:     agg.avgConfidence(),
		StrategyBreakdown: agg.strategies,
		QualityAverages:   qualityAverages(c.quality.since(from, now)),
		ErrorCounts:       countErrors(c.errors.since(from, now)),
		Trends:            trends(records),
	}
	if agg.total > 0 {
		summary.ReviewRate = float64(agg.review) / float64(agg.total)
	}
	return summary
}

type processingAggregate struct {
	total         int
	successful    int
	review        int
	totalDuration time.Duration
	confidenceSum float64
	strategies    map[domain.Strategy]int
}

func aggregate(records []domain.ProcessingRecord) processingAggregate {
	agg := processingAggregate{strategies: make(map[domain.Strategy]int)}
	for _, rec := range records {
		agg.total++
		if rec.Success {
			agg.successful++
		}
		if rec.NeedsReview {
			agg.review++
		}
		agg.totalDuration += rec.Duration
		agg.confidenceSum += rec.Confidence
		agg.strategies[rec.Strategy]++
	}
	return agg
}

func (a processingAggregate) successRate() float64 {
	if a.total == 0 {
		return 0
	}
	return float64(a.successful) / float64(a.total)
}

func (a processingAggregate) avgDuration() time.Duration {
	if a.total == 0 {
		return 0
	}
	return a.totalDuration / time.Duration(a.total)
}

func (a processingAggregate) avgConfidence() float64 {
	if a.total == 0 {
		return 0
	}
	return a.confidenceSum / float64(a.total)
}

func countErrors(records []domain.ErrorRecord) map[domain.ErrorCode]int {
	out := make(map[domain.ErrorCode]int)
	for _, rec := range records {
		out[rec.Code]++
	}
	return out
}

func qualityAverages(records []domain.QualityRecord) map[domain.QualitySource]float64 {
	sums := make(map[domain.QualitySource]float64)
	counts := make(map[domain.QualitySource]int)
	for _, rec := range records {
		sums[rec.Source] += rec.Score
		counts[rec.Source]++
	}
	out := make(map[domain.QualitySource]float64, len(sums))
	for source, sum := range sums {
		out[source] = sum / float64(counts[source])
	}
	return out
}

const trendTolerance = 0.05

// trends compares the early half of the window against the late half.
func trends(records []domain.ProcessingRecord) domain.Trends {
	out := domain.Trends{
		SuccessRate:    domain.TrendStable,
		Confidence:     domain.TrendStable,
		ProcessingTime: domain.TrendStable,
	}
	if len(records) < 4 {
		return out
	}
	mid := len(records) / 2
	early := aggregate(records[:mid])
	late := aggregate(records[mid:])

	out.SuccessRate = direction(early.successRate(), late.successRate(), true)
	out.Confidence = direction(early.avgConfidence(), late.avgConfidence(), true)
	out.ProcessingTime = direction(float64(early.avgDuration()), float64(late.avgDuration()), false)
	return out
}

func direction(early, late float64, higherIsBetter bool) domain.Trend {
	var change float64
	switch {
	case early == 0 && late == 0:
		return domain.TrendStable
	case early == 0:
		change = 1
	default:
		change = (late - early) / early
	}
	if change > -trendTolerance && change < trendTolerance {
		return domain.TrendStable
	}
	if (change > 0) == higherIsBetter {
		return domain.TrendImproving
	}
	return domain.TrendDeclining
}
