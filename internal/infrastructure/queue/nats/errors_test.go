package nats

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
)

func TestClassifyPublishError(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
		record    bool
	}{
		{"canceled", context.Canceled, false, false},
		{"no servers", fmt.Errorf("nats publish: %w", nats.ErrNoServers), true, true},
		{"disconnected", nats.ErrDisconnected, true, true},
		{"bad subject", nats.ErrBadSubject, false, true},
		{"circuit open", &domain.PipelineError{Kind: domain.ErrCircuitOpen}, false, false},
	}
	for _, tc := range cases {
		got := classifyPublishError(tc.err)
		if got.Retryable != tc.retryable || got.RecordFailure != tc.record {
			t.Fatalf("%s: got %+v", tc.name, got)
		}
	}
}

func TestPublishFailureMarksConnectionErrorsTemporary(t *testing.T) {
	err := publishFailure(fmt.Errorf("nats publish: %w", nats.ErrTimeout))
	if !domain.IsKind(err, domain.ErrTemporary) || !errors.Is(err, nats.ErrTimeout) {
		t.Fatalf("expected temporary wrapping, got %v", err)
	}
	plain := errors.New("boom")
	if got := publishFailure(plain); got != plain {
		t.Fatalf("other errors must pass through, got %v", got)
	}
}

func TestDecodeSubmission(t *testing.T) {
	if got := decodeSubmission([]byte(`{"document_id":"d1","submitted_at":"2026-01-02T03:04:05Z"}`)); got.DocumentID != "d1" || got.SubmittedAt.IsZero() {
		t.Fatalf("unexpected submission %+v", got)
	}
	if got := decodeSubmission([]byte(" d2 \n")); got.DocumentID != "d2" {
		t.Fatalf("bare ids must still decode, got %+v", got)
	}
	if got := decodeSubmission([]byte(`{"submitted_at":"2026-01-02T03:04:05Z"}`)); got.DocumentID == "d1" {
		t.Fatalf("unexpected submission %+v", got)
	}
}
