package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/hmis-ug/dhis2sql/internal/boundary"
	"github.com/hmis-ug/dhis2sql/internal/catalog"
	"github.com/hmis-ug/dhis2sql/internal/config"
	"github.com/hmis-ug/dhis2sql/internal/cursor"
	"github.com/hmis-ug/dhis2sql/internal/dhis2"
	dherrors "github.com/hmis-ug/dhis2sql/internal/errors"
	"github.com/hmis-ug/dhis2sql/internal/observability"
)

// Databases hands out one DHIS2 client per catalog connection. Clients are
// built on first use and kept until Forget.
type Databases struct {
	catalog *catalog.Catalog
	retry   dhis2.RetryPolicy
	query   config.QueryConfig
	stats   *observability.QueryStats
	logger  logrus.FieldLogger

	mu      sync.Mutex
	clients map[int64]*dhis2.Client
}

// NewDatabases creates a registry over cat.
func NewDatabases(cat *catalog.Catalog, cfg *config.Config, stats *observability.QueryStats, logger logrus.FieldLogger) *Databases {
	return &Databases{
		catalog: cat,
		retry:   cfg.Retry,
		query:   cfg.Query,
		stats:   stats,
		logger:  logger,
		clients: make(map[int64]*dhis2.Client),
	}
}

// Client returns the client of a stored connection.
func (d *Databases) Client(ctx context.Context, databaseID int64) (*dhis2.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if c, ok := d.clients[databaseID]; ok {
		return c, nil
	}

	db, err := d.catalog.GetConnection(ctx, databaseID)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, dherrors.NewValidationError(dherrors.CodeInvalidArgument,
			fmt.Sprintf("database %d is not configured", databaseID))
	}
	if err != nil {
		return nil, dherrors.NewInternalError("could not read the connection catalog", err)
	}

	log := d.logger.WithFields(logrus.Fields{"database_id": databaseID, "database": db.Name})
	c, err := dhis2.NewClient(db.Connection, dhis2.WithLogger(log), dhis2.WithRetry(d.retry))
	if err != nil {
		return nil, err
	}
	d.clients[databaseID] = c
	log.WithField("base_url", c.BaseURL()).Debug("dhis2 client created")
	return c, nil
}

// GeoClient implements boundary.ClientProvider.
func (d *Databases) GeoClient(ctx context.Context, databaseID int64) (boundary.GeoClient, error) {
	c, err := d.Client(ctx, databaseID)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// NewCursor opens a cursor on a stored connection with the configured
// defaults and the catalog's columns and dataset presets.
func (d *Databases) NewCursor(ctx context.Context, databaseID int64, rc *cursor.RequestContext) (*cursor.Cursor, error) {
	c, err := d.Client(ctx, databaseID)
	if err != nil {
		return nil, err
	}
	return cursor.New(c,
		cursor.WithCatalog(d.catalog),
		cursor.WithRequestContext(rc),
		cursor.WithLogger(d.logger.WithField("database_id", databaseID)),
		cursor.WithStats(d.stats),
		cursor.WithDefaults(d.query.DefaultPeriods, d.query.DefaultOrgUnits),
		cursor.WithMaxRows(d.query.MaxRows),
	), nil
}

// Forget drops the cached client, so the next use rereads the connection.
func (d *Databases) Forget(databaseID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.clients, databaseID)
}
