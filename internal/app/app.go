// Package app wires the catalog, DHIS2 clients, boundary cache and HTTP
// gateway into one process.
package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	httpapi "github.com/hmis-ug/dhis2sql/internal/api/http"
	"github.com/hmis-ug/dhis2sql/internal/boundary"
	"github.com/hmis-ug/dhis2sql/internal/cache"
	"github.com/hmis-ug/dhis2sql/internal/catalog"
	"github.com/hmis-ug/dhis2sql/internal/config"
	"github.com/hmis-ug/dhis2sql/internal/events"
	"github.com/hmis-ug/dhis2sql/internal/observability"
	"github.com/hmis-ug/dhis2sql/internal/server"
	"github.com/hmis-ug/dhis2sql/internal/storage"
)

// DefaultDatabaseName names the connection registered from the config file.
const DefaultDatabaseName = "default"

// statsWindow is how long resolution counters survive without activity.
const statsWindow = 24 * time.Hour

// App manages the dhis2sql lifecycle.
type App struct {
	cfg    *config.Config
	logger *logrus.Logger

	// Shared resources
	catalog    *catalog.Catalog
	bus        *events.Bus
	changes    *events.Subscription
	watchDone  chan struct{}
	databases  *Databases
	stats      *observability.QueryStats
	memory     *cache.TTLCache
	redis      *cache.RedisTier
	tiers      []cache.Tier
	boundaries *boundary.Service
	defaultID  int64
	shutdown   *server.ShutdownManager

	httpServer *http.Server

	mu      sync.Mutex
	opened  bool
	running bool
	wg      sync.WaitGroup
}

// New validates cfg and prepares its directories.
func New(cfg *config.Config, logger *logrus.Logger) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &App{cfg: cfg, logger: logger}, nil
}

// Open initializes the catalog, the cache tiers and the boundary service.
// The CLI uses an opened App without starting the gateway.
func (a *App) Open(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.opened {
		return nil
	}
	if err := a.initSharedResources(ctx); err != nil {
		a.cleanup()
		return err
	}
	a.opened = true
	return nil
}

func (a *App) initSharedResources(ctx context.Context) error {
	var err error

	a.catalog, err = catalog.Open(ctx, a.cfg.Catalog.Path)
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	a.logger.WithField("path", a.cfg.Catalog.Path).Info("catalog opened")
	a.bus = events.NewBus(64)
	a.catalog.SetEvents(a.bus)

	if a.cfg.Connection.IsSet() {
		conn, err := a.cfg.Connection.Resolve()
		if err != nil {
			return fmt.Errorf("invalid connection: %w", err)
		}
		name := a.cfg.Connection.Name
		if name == "" {
			name = DefaultDatabaseName
		}
		a.defaultID, err = a.catalog.PutConnection(ctx, name, conn)
		if err != nil {
			return fmt.Errorf("failed to register connection %q: %w", name, err)
		}
		a.logger.WithFields(logrus.Fields{
			"database_id": a.defaultID,
			"database":    name,
			"base_url":    conn.APIBase(),
		}).Info("connection registered")
	}

	a.stats = observability.NewQueryStats(statsWindow)
	a.databases = NewDatabases(a.catalog, a.cfg, a.stats, a.logger)

	if err := a.initCacheTiers(ctx); err != nil {
		return err
	}
	tiered := cache.NewTiered(a.cfg.Boundary.TTL, a.logger, a.tiers...)
	a.boundaries = boundary.NewService(a.databases,
		boundary.WithCache(tiered),
		boundary.WithTTL(a.cfg.Boundary.TTL),
		boundary.WithLogger(a.logger))
	a.watchCatalog()

	a.shutdown = server.NewShutdownManager(server.ShutdownConfig{
		ShutdownTimeout: a.cfg.HTTP.ShutdownTimeout,
		Logger:          a.logger,
	})
	return nil
}

// watchCatalog drops per-database state when a connection changes: the
// cached client holds the old credentials and the cached boundaries may come
// from another server.
func (a *App) watchCatalog() {
	a.changes = a.bus.Subscribe(events.ConnectionChanged, events.ConnectionDeleted)
	a.watchDone = make(chan struct{})
	sub, boundaries, done := a.changes, a.boundaries, a.watchDone
	go func() {
		defer close(done)
		for e := range sub.C {
			a.databases.Forget(e.DatabaseID)
			if err := boundaries.InvalidateAll(context.Background(), e.DatabaseID); err != nil {
				a.logger.WithError(err).WithField("database_id", e.DatabaseID).Warn("boundary invalidation failed")
				continue
			}
			a.logger.WithFields(logrus.Fields{
				"database_id": e.DatabaseID,
				"event":       e.Kind.String(),
			}).Debug("database state dropped")
		}
	}()
}

// initCacheTiers builds memory, then Redis, then archive, fastest first.
func (a *App) initCacheTiers(ctx context.Context) error {
	bc := a.cfg.Boundary

	maxEntries := bc.MaxEntries
	if maxEntries == 0 {
		maxEntries = 1024
	}
	a.memory = cache.NewTTLCache(maxEntries, bc.TTL, cache.WithJanitor(time.Minute))
	a.tiers = append(a.tiers, a.memory)

	if bc.Redis.Addr != "" {
		r, err := cache.NewRedisTier(ctx, cache.RedisConfig{
			Addr:     bc.Redis.Addr,
			Password: bc.Redis.Password,
			DB:       bc.Redis.DB,
			Prefix:   bc.Redis.Prefix,
		}, bc.TTL)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.redis = r
		a.tiers = append(a.tiers, r)
		a.logger.WithField("addr", bc.Redis.Addr).Info("redis boundary tier enabled")
	}

	var store storage.ObjectStorage
	var err error
	switch bc.Archive.Type {
	case "local":
		store, err = storage.NewLocalStorage(bc.Archive.Path)
	case "s3":
		s3c := bc.Archive.S3
		store, err = storage.NewS3Storage(ctx, storage.S3Config{
			Bucket:       s3c.Bucket,
			Region:       s3c.Region,
			Endpoint:     s3c.Endpoint,
			UsePathStyle: s3c.UsePathStyle,
			Prefix:       s3c.Prefix,
		})
	}
	if err != nil {
		return fmt.Errorf("failed to initialize %s archive: %w", bc.Archive.Type, err)
	}
	if store != nil {
		a.tiers = append(a.tiers, cache.NewArchiveTier(store, "cache", bc.TTL))
		a.logger.WithField("type", bc.Archive.Type).Info("archive boundary tier enabled")
	}
	return nil
}

// Start opens the shared resources and starts the HTTP gateway.
func (a *App) Start(ctx context.Context) error {
	if err := a.Open(ctx); err != nil {
		return err
	}

	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	router := httpapi.NewRouter(httpapi.Handlers{
		Query:          httpapi.NewQueryHandler(a.databases, a.logger),
		Boundaries:     httpapi.NewBoundaryHandler(a.boundaries, a.logger),
		TestConnection: httpapi.NewTestConnectionHandler(nil, a.logger),
		Connections:    httpapi.NewConnectionsHandler(a.catalog, nil, a.logger),
		Stats:          httpapi.NewStatsHandler(a.stats, a.tiers...),
	}, a.logger)

	a.httpServer = &http.Server{
		Addr:         a.cfg.HTTP.Addr,
		Handler:      server.ShutdownMiddleware(a.shutdown)(router),
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}
	// Closers run in reverse: the gateway stops before resources go.
	a.shutdown.RegisterCloser("resources", server.CloserFunc(func() error {
		a.cleanup()
		return nil
	}))
	gs := server.NewGracefulHTTPServer(a.httpServer, a.shutdown, a.cfg.HTTP.ShutdownTimeout)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.WithField("addr", a.cfg.HTTP.Addr).Info("HTTP gateway listening")
		if err := gs.ListenAndServe(); err != nil {
			a.logger.WithError(err).Error("HTTP gateway failed")
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.stats.Prune()
			case <-a.shutdown.ShutdownCh():
				return
			}
		}
	}()

	return nil
}

// WaitForShutdown blocks until a signal or ctx ends the process, then runs
// the shutdown sequence.
func (a *App) WaitForShutdown(ctx context.Context) error {
	err := a.shutdown.ListenForSignals(ctx)
	a.wg.Wait()
	return err
}

// Stop runs the shutdown sequence.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	running := a.running
	a.running = false
	a.mu.Unlock()

	if !running {
		a.Close()
		return nil
	}
	err := a.shutdown.Shutdown(ctx, "stop requested")
	a.wg.Wait()
	return err
}

// Close releases the shared resources of an App that was only opened.
func (a *App) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cleanup()
	a.opened = false
}

// cleanup releases all shared resources.
func (a *App) cleanup() {
	if a.changes != nil {
		a.bus.Unsubscribe(a.changes)
		<-a.watchDone
		a.changes = nil
	}
	if a.memory != nil {
		a.memory.Close()
		a.memory = nil
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.WithError(err).Warn("redis close failed")
		}
		a.redis = nil
	}
	if a.catalog != nil {
		if err := a.catalog.Close(); err != nil {
			a.logger.WithError(err).Warn("catalog close failed")
		}
		a.catalog = nil
	}
}

// Events returns the catalog change bus. Valid after Open.
func (a *App) Events() *events.Bus { return a.bus }

// Catalog returns the metadata store. Valid after Open.
func (a *App) Catalog() *catalog.Catalog { return a.catalog }

// Databases returns the client registry. Valid after Open.
func (a *App) Databases() *Databases { return a.databases }

// Boundaries returns the boundary service. Valid after Open.
func (a *App) Boundaries() *boundary.Service { return a.boundaries }

// Stats returns the resolution counters. Valid after Open.
func (a *App) Stats() *observability.QueryStats { return a.stats }

// DefaultDatabaseID is the catalog id of the configured connection, or 0
// when none was configured.
func (a *App) DefaultDatabaseID() int64 { return a.defaultID }

// Config returns the resolved configuration.
func (a *App) Config() *config.Config { return a.cfg }
