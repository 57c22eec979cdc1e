// Package server runs the gateway and shuts it down in order: stop
// accepting requests, drain in-flight queries, then close resources.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// ShutdownConfig tunes a ShutdownManager. Zero values take the defaults.
type ShutdownConfig struct {
	ShutdownTimeout time.Duration // whole sequence, default 30s
	DrainTimeout    time.Duration // wait for in-flight requests, default 15s
	Logger          logrus.FieldLogger
}

// DefaultShutdownConfig returns the default shutdown configuration.
func DefaultShutdownConfig() ShutdownConfig {
	return ShutdownConfig{
		ShutdownTimeout: 30 * time.Second,
		DrainTimeout:    15 * time.Second,
	}
}

// ShutdownManager runs the shutdown sequence exactly once. It tracks
// in-flight requests so they can drain, and closes registered resources
// last-registered first.
type ShutdownManager struct {
	cfg ShutdownConfig
	log logrus.FieldLogger

	started  chan struct{}
	once     sync.Once
	result   error
	draining atomic.Bool
	active   atomic.Int64

	mu      sync.Mutex
	closers []namedCloser
	hooks   []func()
}

type namedCloser struct {
	name string
	io.Closer
}

// NewShutdownManager creates a manager.
func NewShutdownManager(cfg ShutdownConfig) *ShutdownManager {
	def := DefaultShutdownConfig()
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = def.DrainTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ShutdownManager{cfg: cfg, log: log, started: make(chan struct{})}
}

// RegisterCloser adds a resource closed during shutdown, after every
// resource registered later.
func (sm *ShutdownManager) RegisterCloser(name string, c io.Closer) {
	sm.mu.Lock()
	sm.closers = append(sm.closers, namedCloser{name, c})
	sm.mu.Unlock()
}

// OnShutdownStart registers fn to run as soon as shutdown begins.
func (sm *ShutdownManager) OnShutdownStart(fn func()) {
	sm.mu.Lock()
	sm.hooks = append(sm.hooks, fn)
	sm.mu.Unlock()
}

// ListenForSignals blocks until SIGINT or SIGTERM arrives, ctx ends or
// Shutdown is called elsewhere, then returns the shutdown result.
func (sm *ShutdownManager) ListenForSignals(ctx context.Context) error {
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reason := ""
	select {
	case <-sigCtx.Done():
		reason = "signal received"
		if ctx.Err() != nil {
			reason = "context cancelled"
		}
	case <-sm.started:
	}
	return sm.Shutdown(context.Background(), reason)
}

// Shutdown stops admitting requests, waits for in-flight ones and closes
// resources. Only the first call does the work; every call returns its
// result.
func (sm *ShutdownManager) Shutdown(ctx context.Context, reason string) error {
	sm.once.Do(func() {
		start := time.Now()
		sm.draining.Store(true)
		close(sm.started)
		sm.log.WithField("reason", reason).Info("shutting down")

		sm.mu.Lock()
		hooks, closers := sm.hooks, sm.closers
		sm.mu.Unlock()
		for _, fn := range hooks {
			fn()
		}

		ctx, cancel := context.WithTimeout(ctx, sm.cfg.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := sm.drain(ctx); err != nil {
			sm.log.WithError(err).Warn("in-flight requests did not drain")
			errs = append(errs, err)
		}
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				sm.log.WithField("resource", closers[i].name).WithError(err).Error("close failed")
				errs = append(errs, fmt.Errorf("close %s: %w", closers[i].name, err))
			}
		}
		sm.result = errors.Join(errs...)
		sm.log.WithField("duration_ms", time.Since(start).Milliseconds()).Info("shutdown complete")
	})
	return sm.result
}

// drain polls the in-flight count until it reaches zero or DrainTimeout
// passes.
func (sm *ShutdownManager) drain(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, sm.cfg.DrainTimeout)
	defer cancel()
	tick := time.NewTicker(25 * time.Millisecond)
	defer tick.Stop()

	for sm.active.Load() > 0 {
		select {
		case <-ctx.Done():
			if n := sm.active.Load(); n > 0 {
				return fmt.Errorf("drain: %d requests still in flight", n)
			}
			return nil
		case <-tick.C:
		}
	}
	return nil
}

// TrackRequest admits a request. It returns false once shutdown has
// started, in which case the caller must not call UntrackRequest.
func (sm *ShutdownManager) TrackRequest() bool {
	sm.active.Add(1)
	if sm.draining.Load() {
		sm.active.Add(-1)
		return false
	}
	return true
}

// UntrackRequest releases a request admitted by TrackRequest.
func (sm *ShutdownManager) UntrackRequest() {
	sm.active.Add(-1)
}

// IsShuttingDown reports whether shutdown has started.
func (sm *ShutdownManager) IsShuttingDown() bool {
	return sm.draining.Load()
}

// InFlightCount returns the number of admitted requests.
func (sm *ShutdownManager) InFlightCount() int64 {
	return sm.active.Load()
}

// ShutdownCh is closed when shutdown begins.
func (sm *ShutdownManager) ShutdownCh() <-chan struct{} {
	return sm.started
}

// CloserFunc adapts a function to io.Closer.
type CloserFunc func() error

func (f CloserFunc) Close() error { return f() }
