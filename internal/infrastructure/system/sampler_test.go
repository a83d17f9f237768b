package system

import (
	"context"
	"testing"
)

func TestSamplerReportsRuntimeFigures(t *testing.T) {
	gauge := &QueueGauge{}
	gauge.Inc()
	gauge.Inc()
	gauge.Dec()

	s := NewSampler(gauge.Value)
	rec, err := s.Sample(context.Background())
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if rec.HeapBytes == 0 || rec.Goroutines == 0 {
		t.Fatalf("expected runtime figures, got %+v", rec)
	}
	if rec.QueueLength != 1 {
		t.Fatalf("expected queue length 1, got %d", rec.QueueLength)
	}
	if rec.MemoryBytes() == 0 {
		t.Fatalf("expected a memory figure")
	}
}

func TestSamplerHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewSampler(nil).Sample(ctx); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestQueueGaugeNeverNegative(t *testing.T) {
	g := &QueueGauge{}
	g.Dec()
	if g.Value() != 0 {
		t.Fatalf("expected 0, got %d", g.Value())
	}
}
