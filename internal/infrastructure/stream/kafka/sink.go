// Package kafka streams per-document processing outcomes to a topic so
// downstream analytics can consume them outside the service.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// OutcomeSink buffers processing records and publishes them asynchronously.
// A full buffer drops records rather than blocking the pipeline.
type OutcomeSink struct {
	writer  messageWriter
	events  chan domain.ProcessingRecord
	logger  *slog.Logger
	done    chan struct{}
	once    sync.Once
	dropped int64
	mu      sync.Mutex
}

func NewOutcomeSink(brokers []string, topic string, bufferSize int) *OutcomeSink {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  3,
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}
	return newOutcomeSink(w, bufferSize, topic)
}

func newOutcomeSink(w messageWriter, bufferSize int, topic string) *OutcomeSink {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	return &OutcomeSink{
		writer: w,
		events: make(chan domain.ProcessingRecord, bufferSize),
		logger: slog.Default().With("component", "outcome-stream", "topic", topic),
		done:   make(chan struct{}),
	}
}

func (s *OutcomeSink) ObserveProcessing(rec domain.ProcessingRecord) {
	select {
	case s.events <- rec:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		s.logger.Warn("outcome_dropped", "document_id", rec.DocumentID)
	}
}

func (s *OutcomeSink) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Start publishes buffered records until ctx ends or Close is called.
func (s *OutcomeSink) Start(ctx context.Context) {
	go func() {
		defer close(s.done)
		for {
			select {
			case rec, ok := <-s.events:
				if !ok {
					return
				}
				if err := s.publish(ctx, rec); err != nil {
					s.logger.Error("outcome_publish_failed", "document_id", rec.DocumentID, "error", err)
				}
			case <-ctx.Done():
				s.drainRemaining()
				return
			}
		}
	}()
	s.logger.Info("outcome_stream_started", "buffer_size", cap(s.events))
}

func (s *OutcomeSink) Close() error {
	s.once.Do(func() { close(s.events) })
	<-s.done
	return s.writer.Close()
}

func (s *OutcomeSink) publish(ctx context.Context, rec domain.ProcessingRecord) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling outcome: %w", err)
	}
	if err := s.writer.WriteMessages(ctx, kafka.Message{Key: []byte(rec.DocumentID), Value: value}); err != nil {
		return fmt.Errorf("publishing to kafka: %w", err)
	}
	return nil
}

func (s *OutcomeSink) drainRemaining() {
	for {
		select {
		case rec, ok := <-s.events:
			if !ok {
				return
			}
			if err := s.publish(context.Background(), rec); err != nil {
				s.logger.Error("outcome_publish_failed", "document_id", rec.DocumentID, "error", err)
			}
		default:
			return
		}
	}
}
