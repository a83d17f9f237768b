package domain

import "time"

type ProcessingRecord struct {
	At          time.Time     `json:"at"`
	DocumentID  string        `json:"document_id"`
	Strategy    Strategy      `json:"strategy"`
	Success     bool          `json:"success"`
	Duration    time.Duration `json:"duration_ns"`
	Confidence  float64       `json:"confidence"`
	NeedsReview bool          `json:"needs_review"`
	ErrorCode   ErrorCode     `json:"error_code,omitempty"`
}

type SystemRecord struct {
	At          time.Time `json:"at"`
	HeapBytes   uint64    `json:"heap_bytes"`
	RSSBytes    uint64    `json:"rss_bytes"`
	Goroutines  int       `json:"goroutines"`
	QueueLength int       `json:"queue_length"`
	CPUSeconds  float64   `json:"cpu_seconds"`
}

// MemoryBytes prefers resident memory and falls back to the Go heap when the
// platform cannot report RSS.
func (r SystemRecord) MemoryBytes() uint64 {
	if r.RSSBytes > 0 {
		return r.RSSBytes
	}
	return r.HeapBytes
}

type QualitySource string

const (
	QualityExtraction QualitySource = "extraction"
	QualityFeedback   QualitySource = "feedback"
	QualityTemplate   QualitySource = "template"
)

type QualityRecord struct {
	At         time.Time     `json:"at"`
	Source     QualitySource `json:"source"`
	DocumentID string        `json:"document_id,omitempty"`
	Score      float64       `json:"score"`
	Detail     string        `json:"detail,omitempty"`
}

type ErrorRecord struct {
	At          time.Time         `json:"at"`
	Code        ErrorCode         `json:"code"`
	Recoverable bool              `json:"recoverable"`
	Context     map[string]string `json:"context,omitempty"`
}

type RealTimeStats struct {
	WindowStart       time.Time         `json:"window_start"`
	Processed         int               `json:"processed"`
	Successful        int               `json:"successful"`
	SuccessRate       float64           `json:"success_rate"`
	ThroughputPerMin  float64           `json:"throughput_per_min"`
	AvgLatency        time.Duration     `json:"avg_latency_ns"`
	AvgConfidence     float64           `json:"avg_confidence"`
	StrategyBreakdown map[Strategy]int  `json:"strategy_breakdown"`
	ErrorCounts       map[ErrorCode]int `json:"error_counts"`
	System            *SystemRecord     `json:"system,omitempty"`
}

type Trend string

const (
	TrendImproving Trend = "IMPROVING"
	TrendDeclining Trend = "DECLINING"
	TrendStable    Trend = "STABLE"
)

type Trends struct {
	SuccessRate    Trend `json:"success_rate"`
	Confidence     Trend `json:"confidence"`
	ProcessingTime Trend `json:"processing_time"`
}

type AnalyticsSummary struct {
	From              time.Time                 `json:"from"`
	To                time.Time                 `json:"to"`
	TotalProcessed    int                       `json:"total_processed"`
	Successful        int                       `json:"successful"`
	SuccessRate       float64                   `json:"success_rate"`
	ThroughputPerHour float64                   `json:"throughput_per_hour"`
	AvgDuration       time.Duration             `json:"avg_duration_ns"`
	AvgConfidence     float64                   `json:"avg_confidence"`
	ReviewRate        float64                   `json:"review_rate"`
	StrategyBreakdown map[Strategy]int          `json:"strategy_breakdown"`
	QualityAverages   map[QualitySource]float64 `json:"quality_averages"`
	ErrorCounts       map[ErrorCode]int         `json:"error_counts"`
	Trends            Trends                    `json:"trends"`
}

type AlertType string

const (
	AlertLowSuccessRate AlertType = "low_success_rate"
	AlertHighLatency    AlertType = "high_latency"
	AlertHighMemory     AlertType = "high_memory"
	AlertQueueBacklog   AlertType = "queue_backlog"
)

type Alert struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	At        time.Time `json:"at"`
}

type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// CircuitBreakerState is a read-only snapshot of one service's breaker.
type CircuitBreakerState struct {
	Service             string       `json:"service"`
	State               BreakerState `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	LastFailureAt       *time.Time   `json:"last_failure_at,omitempty"`
}

type ServiceHealth struct {
	Service string `json:"service"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}
