package catalog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hmis-ug/dhis2sql/internal/events"
	"github.com/hmis-ug/dhis2sql/pkg/types"
)

func openTest(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(context.Background(), filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestOpen_AppliesMigrationsOnce(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "catalog.db")

	c, err := Open(ctx, path)
	require.NoError(t, err)
	v, err := c.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), v)
	require.NoError(t, c.Close())

	c, err = Open(ctx, path)
	require.NoError(t, err, "reopening must not re-run migrations")
	defer c.Close()
	v, err = c.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), v)
}

func TestOpen_InMemory(t *testing.T) {
	ctx := context.Background()
	c, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.PutDataset(ctx, Dataset{Table: "analytics", Dimensions: types.Dimensions{DataElements: []string{"fbfJHSPpUQD"}}}))
	_, ok, err := c.Dataset(ctx, "analytics")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConnections(t *testing.T) {
	ctx := context.Background()
	c := openTest(t)

	basic := types.Connection{BaseURL: "https://play.dhis2.org/40/api", Username: "admin", Password: "district"}
	id, err := c.PutConnection(ctx, "play", basic)
	require.NoError(t, err)
	assert.Positive(t, id)

	got, err := c.GetConnection(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "play", got.Name)
	assert.Equal(t, "admin", got.Connection.Username)
	assert.Equal(t, "district", got.Connection.Password)
	assert.Equal(t, "https://play.dhis2.org/40/api", got.Connection.APIBase())

	token := types.Connection{BaseURL: "https://hmis.health.go.ug", AuthMode: types.AuthToken, Token: "d2pat_abc"}
	id2, err := c.PutConnection(ctx, "hmis", token)
	require.NoError(t, err)

	// Same name replaces in place.
	again, err := c.PutConnection(ctx, "play", token)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	byName, err := c.GetConnectionByName(ctx, "play")
	require.NoError(t, err)
	assert.Equal(t, types.AuthToken, byName.Connection.AuthMode)

	list, err := c.ListConnections(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, id, list[0].ID)
	assert.Equal(t, id2, list[1].ID)

	require.NoError(t, c.DeleteConnection(ctx, id2))
	_, err = c.GetConnection(ctx, id2)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, c.DeleteConnection(ctx, id2), ErrNotFound)
}

func TestPutConnection_Validation(t *testing.T) {
	ctx := context.Background()
	c := openTest(t)

	_, err := c.PutConnection(ctx, "", types.Connection{BaseURL: "https://x", Username: "a"})
	assert.Error(t, err)
	_, err = c.PutConnection(ctx, "x", types.Connection{})
	assert.Error(t, err)
}

func TestDatasets(t *testing.T) {
	ctx := context.Background()
	c := openTest(t)

	id, err := c.PutConnection(ctx, "play", types.Connection{BaseURL: "https://play.dhis2.org", Username: "admin", Password: "district"})
	require.NoError(t, err)

	ds := Dataset{
		Table:      `"Malaria_Monthly"`,
		DatabaseID: id,
		Dimensions: types.Dimensions{
			DataElements: []string{"fbfJHSPpUQD", "cYeuwXTCPkU"},
			Periods:      []string{"LAST_12_MONTHS"},
			OrgUnits:     []string{"USER_ORGUNIT", "LEVEL-3"},
			OUMode:       "DESCENDANTS",
			Hierarchy:    true,
		},
	}
	require.NoError(t, c.PutDataset(ctx, ds))

	got, err := c.GetDataset(ctx, "malaria_monthly")
	require.NoError(t, err)
	assert.Equal(t, "malaria_monthly", got.Table)
	assert.Equal(t, id, got.DatabaseID)
	assert.Equal(t, ds.Dimensions, got.Dimensions)

	dims, ok, err := c.Dataset(ctx, "MALARIA_MONTHLY")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"fbfJHSPpUQD", "cYeuwXTCPkU"}, dims.DataElements)

	_, ok, err = c.Dataset(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, ok, "missing dataset is not an error")

	_, err = c.GetDataset(ctx, "unknown")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, c.DeleteConnection(ctx, id))
	got, err = c.GetDataset(ctx, "malaria_monthly")
	require.NoError(t, err)
	assert.Zero(t, got.DatabaseID, "deleting a connection detaches its datasets")
}

func TestColumns(t *testing.T) {
	ctx := context.Background()
	c := openTest(t)

	cols := []types.ColumnMeta{
		{Name: "Period", Type: types.ColumnString, GroupBy: true},
		{Name: "105-EP01a. Suspected fever", Type: types.ColumnNumeric, SourceUID: "fbfJHSPpUQD"},
		{Name: "OrgUnit", VerboseName: "Organisation unit", Type: types.ColumnString, GroupBy: true},
	}
	require.NoError(t, c.PutColumns(ctx, "analytics", cols))

	got, err := c.Columns(ctx, "analytics")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "Period", got[0].Name)
	assert.Equal(t, "105_EP01a_Suspected_fever", got[1].Name, "names are sanitized")
	assert.Equal(t, "105-EP01a. Suspected fever", got[1].VerboseName, "display name defaults to the raw name")
	assert.Equal(t, types.ColumnNumeric, got[1].Type)
	assert.Equal(t, "fbfJHSPpUQD", got[1].SourceUID)
	assert.True(t, got[2].GroupBy)

	mapping, err := c.ColumnMapping(ctx, "analytics")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"105-EP01a. Suspected fever": "105_EP01a_Suspected_fever",
		"Organisation unit":          "OrgUnit",
	}, mapping)

	// Replacing drops the old set.
	require.NoError(t, c.PutColumns(ctx, "analytics", cols[:1]))
	got, err = c.Columns(ctx, "analytics")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	tables, err := c.Tables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"analytics"}, tables)
}

func TestPutColumns_RejectsCollisions(t *testing.T) {
	ctx := context.Background()
	c := openTest(t)

	err := c.PutColumns(ctx, "analytics", []types.ColumnMeta{
		{Name: "Malaria cases"},
		{Name: "Malaria-cases"},
	})
	assert.Error(t, err)

	got, err := c.Columns(ctx, "analytics")
	require.NoError(t, err)
	assert.Empty(t, got, "failed replace leaves nothing behind")
}

func TestDeleteDataset(t *testing.T) {
	ctx := context.Background()
	c := openTest(t)

	require.NoError(t, c.PutDataset(ctx, Dataset{Table: "t", Dimensions: types.Dimensions{DataElements: []string{"fbfJHSPpUQD"}}}))
	require.NoError(t, c.PutColumns(ctx, "t", []types.ColumnMeta{{Name: "x"}}))
	require.NoError(t, c.DeleteDataset(ctx, "t"))

	_, ok, err := c.Dataset(ctx, "t")
	require.NoError(t, err)
	assert.False(t, ok)
	cols, err := c.Columns(ctx, "t")
	require.NoError(t, err)
	assert.Empty(t, cols)
}

func TestCatalog_PublishesChanges(t *testing.T) {
	ctx := context.Background()
	c := openTest(t)
	bus := events.NewBus(16)
	sub := bus.Subscribe()
	c.SetEvents(bus)

	conn := types.Connection{BaseURL: "https://play.dhis2.org/40", AuthMode: types.AuthBasic, Username: "admin", Password: "district"}
	id, err := c.PutConnection(ctx, "play", conn)
	require.NoError(t, err)
	require.NoError(t, c.PutDataset(ctx, Dataset{Table: "Malaria", DatabaseID: id, Dimensions: types.Dimensions{DataElements: []string{"fbfJHSPpUQD"}}}))
	require.NoError(t, c.PutColumns(ctx, "malaria", []types.ColumnMeta{{Name: "OrgUnit"}}))
	require.NoError(t, c.DeleteDataset(ctx, "malaria"))
	require.NoError(t, c.DeleteConnection(ctx, id))

	// A failed write publishes nothing.
	assert.ErrorIs(t, c.DeleteConnection(ctx, id), ErrNotFound)

	want := []events.Kind{
		events.ConnectionChanged,
		events.DatasetChanged,
		events.DatasetChanged,
		events.DatasetDeleted,
		events.ConnectionDeleted,
	}
	require.Len(t, sub.C, len(want))
	for i, kind := range want {
		e := <-sub.C
		assert.Equal(t, kind, e.Kind, "event %d", i)
		switch kind {
		case events.ConnectionChanged, events.ConnectionDeleted:
			assert.Equal(t, id, e.DatabaseID)
		default:
			assert.Equal(t, "malaria", e.Table)
		}
	}
}
