package nats

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
	"github.com/kirillkom/tax-document-intelligence/internal/infrastructure/resilience"
)

// Connection-level failures clear up once the client reconnects.
var connectionErrors = []error{
	nats.ErrNoServers,
	nats.ErrTimeout,
	nats.ErrConnectionClosed,
	nats.ErrDisconnected,
	nats.ErrConnectionReconnecting,
}

func isConnectionError(err error) bool {
	for _, target := range connectionErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func classifyPublishError(err error) resilience.ErrorClassification {
	switch {
	case err == nil,
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		resilience.IsCircuitOpen(err):
		return resilience.ErrorClassification{}
	case isConnectionError(err):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	default:
		return resilience.ErrorClassification{RecordFailure: true}
	}
}

func publishFailure(err error) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) || domain.IsKind(err, domain.ErrCircuitOpen) {
		return err
	}
	if isConnectionError(err) {
		return domain.WrapError(domain.ErrTemporary, publishOperation, err)
	}
	return err
}
