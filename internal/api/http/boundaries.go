package http

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/hmis-ug/dhis2sql/internal/boundary"
	"github.com/hmis-ug/dhis2sql/pkg/types"
)

// BoundaryService is the part of boundary.Service the handler uses.
type BoundaryService interface {
	Lookup(ctx context.Context, key types.BoundaryKey) (*boundary.Result, error)
	Invalidate(ctx context.Context, key types.BoundaryKey) error
	InvalidateAll(ctx context.Context, databaseID int64) error
}

// BoundaryHandler handles /v1/boundaries.
//
// GET returns the GeoJSON FeatureCollection for database_id, level, parent
// and include_children. DELETE drops the cached entry for the same key, or
// every entry of the database when level is omitted.
type BoundaryHandler struct {
	service BoundaryService
	logger  logrus.FieldLogger
}

// NewBoundaryHandler creates a new boundary handler.
func NewBoundaryHandler(service BoundaryService, logger logrus.FieldLogger) *BoundaryHandler {
	return &BoundaryHandler{service: service, logger: logger}
}

// ServeHTTP dispatches on the request method.
func (h *BoundaryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.get(w, r)
	case http.MethodDelete:
		h.invalidate(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", GetRequestID(r.Context()))
	}
}

func (h *BoundaryHandler) get(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	key, err := parseBoundaryKey(r, true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), requestID)
		return
	}

	res, err := h.service.Lookup(r.Context(), key)
	if err != nil {
		writeDialectError(w, err, requestID)
		return
	}

	w.Header().Set("ETag", res.ETag)
	if res.Cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	if match := r.Header.Get("If-None-Match"); match != "" && match == res.ETag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Payload)
}

func (h *BoundaryHandler) invalidate(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	key, err := parseBoundaryKey(r, false)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), requestID)
		return
	}

	if key.Level == 0 {
		err = h.service.InvalidateAll(r.Context(), key.DatabaseID)
	} else {
		err = h.service.Invalidate(r.Context(), key)
	}
	if err != nil {
		writeDialectError(w, err, requestID)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"request_id":  requestID,
		"database_id": key.DatabaseID,
		"level":       key.Level,
	}).Info("boundary cache invalidated")
	w.WriteHeader(http.StatusNoContent)
}

func parseBoundaryKey(r *http.Request, levelRequired bool) (types.BoundaryKey, error) {
	q := r.URL.Query()
	var key types.BoundaryKey

	id, err := strconv.ParseInt(q.Get("database_id"), 10, 64)
	if err != nil || id <= 0 {
		return key, fmt.Errorf("database_id must be a positive integer")
	}
	key.DatabaseID = id

	if v := q.Get("level"); v != "" {
		level, err := strconv.Atoi(v)
		if err != nil {
			return key, fmt.Errorf("level must be an integer")
		}
		key.Level = level
	} else if levelRequired {
		return key, fmt.Errorf("level is required")
	}

	key.ParentID = q.Get("parent")
	if v := q.Get("include_children"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return key, fmt.Errorf("include_children must be a boolean")
		}
		key.IncludeChildren = b
	}
	return key, nil
}
