package kafka

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
)

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func TestOutcomeSinkPublishesKeyedByDocument(t *testing.T) {
	writer := &fakeWriter{}
	sink := newOutcomeSink(writer, 8, "outcomes")
	sink.Start(context.Background())

	sink.ObserveProcessing(domain.ProcessingRecord{DocumentID: "d1", Strategy: domain.StrategyHybrid, Success: true, Duration: time.Second})
	sink.ObserveProcessing(domain.ProcessingRecord{DocumentID: "d2", Strategy: domain.StrategyFallback})
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if !writer.closed {
		t.Fatalf("expected writer to be closed")
	}
	if len(writer.messages) != 2 || string(writer.messages[0].Key) != "d1" {
		t.Fatalf("unexpected messages %+v", writer.messages)
	}
	var rec domain.ProcessingRecord
	if err := json.Unmarshal(writer.messages[0].Value, &rec); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if rec.Strategy != domain.StrategyHybrid || !rec.Success {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestOutcomeSinkDropsWhenBufferFull(t *testing.T) {
	sink := newOutcomeSink(&fakeWriter{}, 1, "outcomes")
	sink.ObserveProcessing(domain.ProcessingRecord{DocumentID: "d1"})
	sink.ObserveProcessing(domain.ProcessingRecord{DocumentID: "d2"})
	if sink.Dropped() != 1 {
		t.Fatalf("expected one dropped record, got %d", sink.Dropped())
	}
}
