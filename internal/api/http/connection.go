package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/hmis-ug/dhis2sql/internal/dhis2"
	"github.com/hmis-ug/dhis2sql/pkg/types"
)

// ConnectionTester checks that a DHIS2 server accepts a connection.
type ConnectionTester func(ctx context.Context, conn types.Connection) error

// TestConnectionRequest carries a dhis2:// URI.
type TestConnectionRequest struct {
	URI string `json:"uri"`
}

// TestConnectionResponse reports a successful check.
type TestConnectionResponse struct {
	OK        bool   `json:"ok"`
	BaseURL   string `json:"base_url"`
	RequestID string `json:"request_id"`
}

// TestConnectionHandler handles POST /v1/test-connection requests.
type TestConnectionHandler struct {
	test   ConnectionTester
	logger logrus.FieldLogger
}

// NewTestConnectionHandler creates a handler. A nil tester calls /api/me
// with a fresh client.
func NewTestConnectionHandler(test ConnectionTester, logger logrus.FieldLogger) *TestConnectionHandler {
	if test == nil {
		test = func(ctx context.Context, conn types.Connection) error {
			return dhis2.TestConnection(ctx, conn, dhis2.WithLogger(logger))
		}
	}
	return &TestConnectionHandler{test: test, logger: logger}
}

// ServeHTTP handles the test-connection HTTP request.
func (h *TestConnectionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	var req TestConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
		return
	}

	conn, err := dhis2.ParseURI(req.URI)
	if err != nil {
		writeDialectError(w, err, requestID)
		return
	}

	if err := h.test(r.Context(), conn); err != nil {
		h.logger.WithFields(logrus.Fields{
			"request_id": requestID,
			"base_url":   conn.APIBase(),
		}).WithError(err).Info("connection test failed")
		writeDialectError(w, err, requestID)
		return
	}

	writeJSON(w, http.StatusOK, TestConnectionResponse{OK: true, BaseURL: conn.APIBase(), RequestID: requestID})
}
