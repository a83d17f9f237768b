package httpadapter

import (
	"net/http"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrDocumentNotFound),
		domain.IsKind(err, domain.ErrResultNotFound),
		domain.IsKind(err, domain.ErrTemplateNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrProcessingTimeout):
		return http.StatusGatewayTimeout
	case domain.IsKind(err, domain.ErrTemporary),
		domain.IsKind(err, domain.ErrCircuitOpen),
		domain.IsKind(err, domain.ErrResourceLimit):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(code domain.ErrorCode, message string) map[string]string {
	return map[string]string{"error": message, "code": string(code)}
}

// writeError hides internal error text behind the stable code.
func writeError(w http.ResponseWriter, err error) {
	status := mapErrorToHTTPStatus(err)
	code := domain.CodeOf(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	writeJSON(w, status, errorBody(code, message))
}
