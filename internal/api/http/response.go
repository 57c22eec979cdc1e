package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	dherrors "github.com/hmis-ug/dhis2sql/internal/errors"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Category  string `json:"category,omitempty"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// statusByCategory maps dialect error categories to HTTP statuses.
// Unlisted categories are 500.
var statusByCategory = map[dherrors.ErrorCategory]int{
	dherrors.ErrCategoryValidation:     http.StatusBadRequest,
	dherrors.ErrCategoryQuery:          http.StatusBadRequest,
	dherrors.ErrCategoryColumnMapping:  http.StatusBadRequest,
	dherrors.ErrCategoryAuthentication: http.StatusUnauthorized,
	dherrors.ErrCategoryNotFound:       http.StatusNotFound,
	dherrors.ErrCategoryCursor:         http.StatusConflict,
	dherrors.ErrCategoryConnection:     http.StatusBadGateway,
	dherrors.ErrCategoryUpstream:       http.StatusBadGateway,
	dherrors.ErrCategoryTimeout:        http.StatusGatewayTimeout,
}

// StatusFor returns the HTTP status for err. A context deadline anywhere
// in the chain is a gateway timeout.
func StatusFor(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	if status, ok := statusByCategory[dherrors.GetCategory(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message, requestID string) {
	writeJSON(w, status, ErrorResponse{Error: message, RequestID: requestID})
}

// writeDialectError writes err with its category and code when it is a
// dialect error, and the status StatusFor picks.
func writeDialectError(w http.ResponseWriter, err error, requestID string) {
	resp := ErrorResponse{Error: err.Error(), RequestID: requestID}
	if de, ok := dherrors.As(err); ok {
		resp.Error = de.UserMessage()
		resp.Category = string(de.Category)
		resp.Code = de.Code
	}
	writeJSON(w, StatusFor(err), resp)
}
