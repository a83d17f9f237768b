package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
	"github.com/kirillkom/tax-document-intelligence/internal/infrastructure/resilience"
)

const maxErrorBody = 2048

// StatusError is a non-2xx answer from the inference service.
type StatusError struct {
	Call   string
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("vision %s: http %d", e.Call, e.Code)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Overloaded and gateway answers are worth another attempt; everything else
// is the model rejecting the request.
var transientStatus = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

var (
	ignore    = resilience.ErrorClassification{}
	transient = resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	permanent = resilience.ErrorClassification{RecordFailure: true}
)

func classifyVisionError(err error) resilience.ErrorClassification {
	var status *StatusError
	var netErr net.Error
	switch {
	case err == nil, errors.Is(err, context.Canceled), resilience.IsCircuitOpen(err):
		return ignore
	case errors.As(err, &status):
		if transientStatus[status.Code] {
			return transient
		}
		// The request itself was bad; the breaker should not count it.
		return ignore
	case domain.IsKind(err, domain.ErrProcessingTimeout), errors.As(err, &netErr):
		return transient
	default:
		return permanent
	}
}

// asTemporary marks failures that survived the retry budget but are still
// transient so callers can fall back instead of failing the document.
func asTemporary(err error) error {
	if err == nil ||
		domain.IsKind(err, domain.ErrTemporary) ||
		domain.IsKind(err, domain.ErrProcessingTimeout) ||
		resilience.IsCircuitOpen(err) {
		return err
	}
	if classifyVisionError(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, Operation, err)
	}
	return err
}

func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode vision request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	name := strings.TrimPrefix(path, "/api/")

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build vision %s request: %w", name, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("vision %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Call: name, Code: resp.StatusCode, Detail: strings.TrimSpace(string(detail))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode vision %s response: %w", name, err)
	}
	return nil
}
