package http

import (
	"net/http"
	"time"

	"github.com/hmis-ug/dhis2sql/internal/cache"
	"github.com/hmis-ug/dhis2sql/internal/observability"
)

// metered is a cache tier that exposes counters.
type metered interface {
	Name() string
	Metrics() *cache.Metrics
}

// StatsResponse is the body of GET /v1/stats.
type StatsResponse struct {
	Resolution observability.Snapshot          `json:"resolution"`
	Cache      map[string]cache.MetricsSnapshot `json:"cache"`
	UptimeSec  int64                            `json:"uptime_sec"`
}

// StatsHandler handles GET /v1/stats.
type StatsHandler struct {
	stats   *observability.QueryStats
	tiers   []cache.Tier
	started time.Time
}

// NewStatsHandler reports resolution counters and the counters of every
// tier that keeps them.
func NewStatsHandler(stats *observability.QueryStats, tiers ...cache.Tier) *StatsHandler {
	return &StatsHandler{stats: stats, tiers: tiers, started: time.Now()}
}

// ServeHTTP handles the stats HTTP request.
func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", GetRequestID(r.Context()))
		return
	}

	resp := StatsResponse{
		Cache:     make(map[string]cache.MetricsSnapshot),
		UptimeSec: int64(time.Since(h.started).Seconds()),
	}
	if h.stats != nil {
		resp.Resolution = h.stats.Snapshot()
	}
	for _, t := range h.tiers {
		if m, ok := t.(metered); ok {
			resp.Cache[m.Name()] = m.Metrics().Snapshot()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// HealthHandler handles GET /health.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
