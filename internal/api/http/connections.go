package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/hmis-ug/dhis2sql/internal/catalog"
	"github.com/hmis-ug/dhis2sql/internal/dhis2"
	"github.com/hmis-ug/dhis2sql/pkg/types"
)

// ConnectionStore is the part of the catalog the connections endpoint uses.
type ConnectionStore interface {
	ListConnections(ctx context.Context) ([]*catalog.Database, error)
	PutConnection(ctx context.Context, name string, conn types.Connection) (int64, error)
	DeleteConnection(ctx context.Context, id int64) error
}

// PutConnectionRequest stores a dhis2:// URI under a name.
type PutConnectionRequest struct {
	Name string `json:"name"`
	URI  string `json:"uri"`

	// SkipCheck stores the connection without calling the server
	SkipCheck bool `json:"skip_check"`
}

// PutConnectionResponse reports the stored connection's id.
type PutConnectionResponse struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	BaseURL   string `json:"base_url"`
	RequestID string `json:"request_id"`
}

// ConnectionsResponse lists stored connections. Secrets are never encoded.
type ConnectionsResponse struct {
	Connections []*catalog.Database `json:"connections"`
	RequestID   string              `json:"request_id"`
}

// ConnectionsHandler handles /v1/connections: GET lists, POST stores and
// DELETE ?id= removes.
type ConnectionsHandler struct {
	store  ConnectionStore
	test   ConnectionTester
	logger logrus.FieldLogger
}

// NewConnectionsHandler creates a handler. A nil tester calls /api/me with a
// fresh client.
func NewConnectionsHandler(store ConnectionStore, test ConnectionTester, logger logrus.FieldLogger) *ConnectionsHandler {
	if test == nil {
		test = func(ctx context.Context, conn types.Connection) error {
			return dhis2.TestConnection(ctx, conn, dhis2.WithLogger(logger))
		}
	}
	return &ConnectionsHandler{store: store, test: test, logger: logger}
}

// ServeHTTP dispatches on the method.
func (h *ConnectionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.list(w, r)
	case http.MethodPost:
		h.put(w, r)
	case http.MethodDelete:
		h.delete(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", GetRequestID(r.Context()))
	}
}

func (h *ConnectionsHandler) list(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	dbs, err := h.store.ListConnections(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), requestID)
		return
	}
	if dbs == nil {
		dbs = []*catalog.Database{}
	}
	writeJSON(w, http.StatusOK, ConnectionsResponse{Connections: dbs, RequestID: requestID})
}

func (h *ConnectionsHandler) put(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	var req PutConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required", requestID)
		return
	}
	conn, err := dhis2.ParseURI(req.URI)
	if err != nil {
		writeDialectError(w, err, requestID)
		return
	}
	if !req.SkipCheck {
		if err := h.test(r.Context(), conn); err != nil {
			writeDialectError(w, err, requestID)
			return
		}
	}

	id, err := h.store.PutConnection(r.Context(), req.Name, conn)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), requestID)
		return
	}
	h.logger.WithFields(logrus.Fields{
		"request_id":  requestID,
		"database_id": id,
		"database":    req.Name,
	}).Info("connection stored")
	writeJSON(w, http.StatusOK, PutConnectionResponse{ID: id, Name: req.Name, BaseURL: conn.APIBase(), RequestID: requestID})
}

func (h *ConnectionsHandler) delete(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "id must be a positive integer", requestID)
		return
	}
	if err := h.store.DeleteConnection(r.Context(), id); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("database %d not found", id), requestID)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error(), requestID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
