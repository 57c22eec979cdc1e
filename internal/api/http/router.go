package http

import (
	"net/http"

	"github.com/sirupsen/logrus"
)

// Handlers groups the gateway endpoints. Nil handlers are not mounted.
type Handlers struct {
	Query          http.Handler
	Boundaries     http.Handler
	TestConnection http.Handler
	Connections    http.Handler
	Stats          http.Handler
}

// NewRouter mounts the handlers behind the default middleware chain.
func NewRouter(h Handlers, logger logrus.FieldLogger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", HealthHandler)
	mount := func(path string, handler http.Handler) {
		if handler != nil {
			mux.Handle(path, handler)
		}
	}
	mount("/v1/query", h.Query)
	mount("/v1/boundaries", h.Boundaries)
	mount("/v1/test-connection", h.TestConnection)
	mount("/v1/connections", h.Connections)
	mount("/v1/stats", h.Stats)

	return DefaultMiddleware(logger)(mux)
}
