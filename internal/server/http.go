package server

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// GracefulHTTPServer serves until the ShutdownManager starts shutting
// down, then lets open connections finish.
type GracefulHTTPServer struct {
	srv *http.Server
	sm  *ShutdownManager
}

// NewGracefulHTTPServer registers srv with sm. On shutdown srv gets
// timeout (default 10s) to finish open connections.
func NewGracefulHTTPServer(srv *http.Server, sm *ShutdownManager, timeout time.Duration) *GracefulHTTPServer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	sm.RegisterCloser("http server", CloserFunc(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return srv.Shutdown(ctx)
	}))
	return &GracefulHTTPServer{srv: srv, sm: sm}
}

// ListenAndServe returns a listener failure, or nil after a clean
// shutdown.
func (g *GracefulHTTPServer) ListenAndServe() error {
	failed := make(chan error, 1)
	go func() {
		err := g.srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		failed <- err
	}()

	select {
	case err := <-failed:
		return err
	case <-g.sm.ShutdownCh():
		return <-failed
	}
}

// ShutdownMiddleware counts requests in and out, and answers 503 with
// Connection: close once shutdown has started.
func ShutdownMiddleware(sm *ShutdownManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !sm.TrackRequest() {
				w.Header().Set("Connection", "close")
				http.Error(w, "service unavailable: shutting down", http.StatusServiceUnavailable)
				return
			}
			defer sm.UntrackRequest()
			next.ServeHTTP(w, r)
		})
	}
}
