package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hmis-ug/dhis2sql/internal/cursor"
	"github.com/hmis-ug/dhis2sql/pkg/types"
)

// QueryRequest is the body of POST /v1/query. Dimensions seed the request
// context; a DHIS2 comment in the SQL still overrides them.
type QueryRequest struct {
	SQL        string            `json:"sql"`
	DatabaseID int64             `json:"database_id"`
	Dimensions *types.Dimensions `json:"dimensions,omitempty"`
}

func (q QueryRequest) validate() error {
	switch {
	case strings.TrimSpace(q.SQL) == "":
		return errors.New("sql is required")
	case q.DatabaseID <= 0:
		return errors.New("database_id is required")
	}
	return nil
}

// QueryResponse carries the result set. Rows is never null.
type QueryResponse struct {
	Columns   []ColumnInfo    `json:"columns"`
	Rows      [][]interface{} `json:"rows"`
	Stats     QueryStats      `json:"stats"`
	RequestID string          `json:"request_id"`
}

type ColumnInfo struct {
	Name        string           `json:"name"`
	VerboseName string           `json:"verbose_name,omitempty"`
	Type        types.ColumnType `json:"type"`
	GroupBy     bool             `json:"groupby"`
}

type QueryStats struct {
	RowCount        int   `json:"row_count"`
	ExecutionTimeMs int64 `json:"execution_time_ms"`
}

// CursorFactory opens a cursor on a configured database.
type CursorFactory interface {
	NewCursor(ctx context.Context, databaseID int64, rc *cursor.RequestContext) (*cursor.Cursor, error)
}

// QueryHandler serves POST /v1/query: one statement, fully fetched.
type QueryHandler struct {
	cursors CursorFactory
	logger  logrus.FieldLogger
}

func NewQueryHandler(cursors CursorFactory, logger logrus.FieldLogger) *QueryHandler {
	return &QueryHandler{cursors: cursors, logger: logger}
}

func (h *QueryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), requestID)
		return
	}

	start := time.Now()
	cols, rows, err := h.run(r.Context(), req)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"request_id":  requestID,
			"database_id": req.DatabaseID,
		}).WithError(err).Warn("query failed")
		writeDialectError(w, err, requestID)
		return
	}

	resp := QueryResponse{
		Columns:   make([]ColumnInfo, 0, len(cols)),
		Rows:      rows,
		Stats:     QueryStats{RowCount: len(rows), ExecutionTimeMs: time.Since(start).Milliseconds()},
		RequestID: requestID,
	}
	for _, c := range cols {
		resp.Columns = append(resp.Columns, ColumnInfo{Name: c.Name, VerboseName: c.VerboseName, Type: c.Type, GroupBy: c.GroupBy})
	}
	if resp.Rows == nil {
		resp.Rows = [][]interface{}{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// run executes req on a fresh cursor and fetches every row.
func (h *QueryHandler) run(ctx context.Context, req QueryRequest) ([]types.ColumnMeta, [][]interface{}, error) {
	rc := cursor.NewRequestContext()
	if req.Dimensions != nil {
		rc = cursor.NewRequestContextWithDimensions(*req.Dimensions)
	}
	cur, err := h.cursors.NewCursor(ctx, req.DatabaseID, rc)
	if err != nil {
		return nil, nil, err
	}
	defer cur.Close()

	if err := cur.Execute(ctx, req.SQL); err != nil {
		return nil, nil, err
	}
	rows, err := cur.FetchAll()
	if err != nil {
		return nil, nil, err
	}
	return cur.Columns(), rows, nil
}
