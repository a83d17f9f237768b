package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrDocumentNotFound  = errors.New("document not found")
	ErrResultNotFound    = errors.New("extraction result not found")
	ErrTemplateNotFound  = errors.New("template not found")
	ErrKeyNotFound       = errors.New("key not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrTemporary         = errors.New("temporary failure")
	ErrProcessingTimeout = errors.New("processing timeout")
	ErrCircuitOpen       = errors.New("circuit breaker open")
	ErrResourceLimit     = errors.New("resource limit exceeded")
	ErrNoFallback        = errors.New("no fallback available")
)

// ErrorCode is the stable, client-facing identifier of an error kind.
type ErrorCode string

const (
	CodeInvalidInput          ErrorCode = "INVALID_INPUT"
	CodeProcessingTimeout     ErrorCode = "PROCESSING_TIMEOUT"
	CodeCircuitBreakerOpen    ErrorCode = "CIRCUIT_BREAKER_OPEN"
	CodeResourceLimitExceeded ErrorCode = "RESOURCE_LIMIT_EXCEEDED"
	CodeNoFallbackAvailable   ErrorCode = "NO_FALLBACK_AVAILABLE"
	CodeTemporary             ErrorCode = "TEMPORARY_FAILURE"
	CodeNotFound              ErrorCode = "NOT_FOUND"
	CodeInternal              ErrorCode = "INTERNAL"
)

var kindCodes = []struct {
	kind        error
	code        ErrorCode
	recoverable bool
}{
	{ErrInvalidInput, CodeInvalidInput, false},
	{ErrProcessingTimeout, CodeProcessingTimeout, true},
	{ErrCircuitOpen, CodeCircuitBreakerOpen, false},
	{ErrResourceLimit, CodeResourceLimitExceeded, true},
	{ErrNoFallback, CodeNoFallbackAvailable, false},
	{ErrTemporary, CodeTemporary, true},
	{ErrDocumentNotFound, CodeNotFound, false},
	{ErrResultNotFound, CodeNotFound, false},
	{ErrTemplateNotFound, CodeNotFound, false},
	{ErrKeyNotFound, CodeNotFound, false},
}

// PipelineError carries a typed kind plus the context a caller needs to
// report it. Kind is one of the sentinel errors above.
type PipelineError struct {
	Kind    error
	Op      string
	Message string
	Context map[string]string
	Err     error
}

func NewPipelineError(kind error, op, message string, ctx map[string]string) *PipelineError {
	return &PipelineError{Kind: kind, Op: op, Message: message, Context: ctx}
}

func (e *PipelineError) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	} else {
		b.WriteString("pipeline error")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" [")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(" ")
			}
			fmt.Fprintf(&b, "%s=%s", k, e.Context[k])
		}
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *PipelineError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func (e *PipelineError) Code() ErrorCode {
	return CodeOf(e)
}

func (e *PipelineError) Recoverable() bool {
	return IsRecoverable(e)
}

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// CodeOf maps any error to its stable code. Unknown errors map to INTERNAL.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	for _, kc := range kindCodes {
		if errors.Is(err, kc.kind) {
			return kc.code
		}
	}
	return CodeInternal
}

// IsRecoverable reports whether a retry or backpressure may clear the error.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	for _, kc := range kindCodes {
		if errors.Is(err, kc.kind) {
			return kc.recoverable
		}
	}
	return false
}
