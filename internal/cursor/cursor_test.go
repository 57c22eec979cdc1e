package cursor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hmis-ug/dhis2sql/internal/dhis2"
	dherrors "github.com/hmis-ug/dhis2sql/internal/errors"
	"github.com/hmis-ug/dhis2sql/internal/observability"
	"github.com/hmis-ug/dhis2sql/pkg/types"
)

const scenarioA = `{
  "headers": [
    {"name": "dx", "column": "Data"},
    {"name": "pe", "column": "Period"},
    {"name": "ou", "column": "Organisation unit"},
    {"name": "value", "column": "Value"}
  ],
  "rows": [
    ["fbfJHSPpUQD", "2024Q1", "O6uvpzGd5pu", "12"],
    ["cYeuwXTCPkU", "2024Q1", "O6uvpzGd5pu", "3"],
    ["fbfJHSPpUQD", "2024Q1", "fdc6uOvgoji", "7.5"]
  ],
  "metaData": {
    "items": {
      "fbfJHSPpUQD": {"name": "Malaria Cases"},
      "cYeuwXTCPkU": {"name": "TB Cases"},
      "O6uvpzGd5pu": {"name": "Gulu"},
      "fdc6uOvgoji": {"name": "Kitgum"}
    },
    "dimensions": {"dx": ["fbfJHSPpUQD", "cYeuwXTCPkU"], "pe": ["2024Q1"], "ou": ["O6uvpzGd5pu", "fdc6uOvgoji"]}
  }
}`

const scenarioComment = `/* DHIS2: dx=fbfJHSPpUQD;cYeuwXTCPkU&pe=2024Q1&ou=O6uvpzGd5pu;fdc6uOvgoji */ `

const emptyAnalytics = `{
  "headers": [{"name": "dx"}, {"name": "pe"}, {"name": "ou"}, {"name": "value"}],
  "rows": [],
  "metaData": {
    "items": {"fbfJHSPpUQD": {"name": "Malaria Cases"}},
    "dimensions": {"dx": ["fbfJHSPpUQD"], "pe": ["2024Q1"], "ou": ["O6uvpzGd5pu"]}
  }
}`

type fakeFetcher struct {
	body         string // analytics response; scenarioA when empty
	analytics    []types.Dimensions
	valueSets    []dhis2.DataValueSetQuery
	analyticsErr error
}

func (f *fakeFetcher) Analytics(_ context.Context, d types.Dimensions) (*dhis2.AnalyticsResponse, error) {
	f.analytics = append(f.analytics, d)
	if f.analyticsErr != nil {
		return nil, f.analyticsErr
	}
	body := f.body
	if body == "" {
		body = scenarioA
	}
	var resp dhis2.AnalyticsResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (f *fakeFetcher) DataValueSets(_ context.Context, q dhis2.DataValueSetQuery) (*dhis2.DataValueSetResponse, error) {
	f.valueSets = append(f.valueSets, q)
	return &dhis2.DataValueSetResponse{DataValues: []dhis2.DataValue{
		{DataElement: "fbfJHSPpUQD", Period: "202401", OrgUnit: "O6uvpzGd5pu", CategoryOptionCombo: "a", Value: "4"},
		{DataElement: "fbfJHSPpUQD", Period: "202401", OrgUnit: "O6uvpzGd5pu", CategoryOptionCombo: "b", Value: "3"},
	}}, nil
}

func (f *fakeFetcher) DataElementNames(_ context.Context, ids []string) (map[string]string, error) {
	return map[string]string{"fbfJHSPpUQD": "Malaria Cases"}, nil
}

func (f *fakeFetcher) OrgUnits(_ context.Context, ids []string) ([]dhis2.OrgUnit, error) {
	var out []dhis2.OrgUnit
	for _, id := range ids {
		if id == "O6uvpzGd5pu" {
			out = append(out, dhis2.OrgUnit{ID: id, Name: "Gulu"})
		}
	}
	return out, nil
}

func (f *fakeFetcher) OrgUnitsByName(_ context.Context, names []string) ([]dhis2.OrgUnit, error) {
	var out []dhis2.OrgUnit
	for _, n := range names {
		if n == "Gulu" {
			out = append(out, dhis2.OrgUnit{ID: "O6uvpzGd5pu", Name: "Gulu"})
		}
	}
	return out, nil
}

type fakeCatalog struct {
	columns map[string][]types.ColumnMeta
	calls   int
}

func (c *fakeCatalog) Columns(_ context.Context, table string) ([]types.ColumnMeta, error) {
	c.calls++
	return c.columns[table], nil
}

func (c *fakeCatalog) Dataset(_ context.Context, table string) (types.Dimensions, bool, error) {
	return types.Dimensions{}, false, nil
}

func quietLogger() logrus.FieldLogger {
	l, _ := test.NewNullLogger()
	return l
}

func newCursor(f Fetcher, opts ...Option) *Cursor {
	return New(f, append([]Option{WithLogger(quietLogger())}, opts...)...)
}

func TestExecuteScenarioA(t *testing.T) {
	f := &fakeFetcher{}
	c := newCursor(f)

	err := c.Execute(context.Background(),
		scenarioComment+`SELECT "Period", "OrgUnit", "Malaria Cases", "TB Cases" FROM analytics`)
	require.NoError(t, err)
	assert.Equal(t, StateReady, c.State())

	require.Len(t, f.analytics, 1)
	assert.Equal(t, []string{"fbfJHSPpUQD", "cYeuwXTCPkU"}, f.analytics[0].DataElements)
	assert.Equal(t, []string{"2024Q1"}, f.analytics[0].Periods)

	assert.Equal(t, []Description{
		{Name: "Period", TypeCode: types.ColumnString},
		{Name: "OrgUnit", TypeCode: types.ColumnString},
		{Name: "Malaria_Cases", TypeCode: types.ColumnNumeric},
		{Name: "TB_Cases", TypeCode: types.ColumnNumeric},
	}, c.Description())
	assert.Equal(t, 2, c.RowCount())

	rows, err := c.FetchAll()
	require.NoError(t, err)
	assert.Equal(t, [][]interface{}{
		{"2024Q1", "Gulu", 12.0, 3.0},
		{"2024Q1", "Kitgum", 7.5, nil},
	}, rows)
	assert.Equal(t, StateIdle, c.State())
}

func TestExecuteWithoutDataDimensionSkipsDHIS2(t *testing.T) {
	f := &fakeFetcher{}
	c := newCursor(f)

	require.NoError(t, c.Execute(context.Background(), `SELECT "OrgUnit", "Period", "Value" FROM analytics`))
	assert.Empty(t, f.analytics)

	assert.Equal(t, []Description{
		{Name: "OrgUnit", TypeCode: types.ColumnString},
		{Name: "Period", TypeCode: types.ColumnString},
		{Name: "Value", TypeCode: types.ColumnString},
	}, c.Description())

	rows, err := c.FetchAll()
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestExecuteTranslatesDisplayNamesAndAggregates(t *testing.T) {
	f := &fakeFetcher{}
	cat := &fakeCatalog{columns: map[string][]types.ColumnMeta{
		"analytics": {
			{Name: "Malaria_Cases", VerboseName: "Malaria Cases", Type: types.ColumnNumeric, SourceUID: "fbfJHSPpUQD"},
		},
	}}
	rc := NewRequestContext()
	c := newCursor(f, WithCatalog(cat), WithRequestContext(rc), WithDefaults(nil, []string{"USER_ORGUNIT"}))

	sql := `SELECT "OrgUnit", SUM("Malaria Cases") AS total FROM analytics
		WHERE "Period" = '2024Q1' GROUP BY "OrgUnit" ORDER BY total DESC`
	require.NoError(t, c.Execute(context.Background(), sql))

	require.Len(t, f.analytics, 1)
	d := f.analytics[0]
	assert.Equal(t, []string{"fbfJHSPpUQD"}, d.DataElements)
	assert.Equal(t, []string{"2024Q1"}, d.Periods)
	assert.Equal(t, []string{"USER_ORGUNIT"}, d.OrgUnits)
	assert.Equal(t, "Malaria_Cases", rc.ColumnMappings["analytics"]["Malaria Cases"])

	rows, err := c.FetchAll()
	require.NoError(t, err)
	assert.Equal(t, [][]interface{}{{"Gulu", 12.0}, {"Kitgum", 7.5}}, rows)

	// the mapping is cached for the rest of the request
	require.NoError(t, c.Execute(context.Background(), sql))
	assert.Equal(t, 1, cat.calls)
}

func TestExecuteDataValueSets(t *testing.T) {
	f := &fakeFetcher{}
	c := newCursor(f)

	err := c.Execute(context.Background(),
		`/* DHIS2: dx=fbfJHSPpUQD&pe=202401&ou=O6uvpzGd5pu */ SELECT * FROM "dataValueSets"`)
	require.NoError(t, err)
	assert.Empty(t, f.analytics)
	require.Len(t, f.valueSets, 1)
	assert.Equal(t, []string{"202401"}, f.valueSets[0].Periods)

	rows, err := c.FetchAll()
	require.NoError(t, err)
	assert.Equal(t, [][]interface{}{{"202401", "Gulu", 7.0}}, rows)
}

func TestFetchAllWithoutExecute(t *testing.T) {
	_, err := newCursor(&fakeFetcher{}).FetchAll()
	require.Error(t, err)
	assert.Equal(t, dherrors.ErrCategoryCursor, dherrors.GetCategory(err))
	assert.Equal(t, dherrors.CodeNoResult, dherrors.GetCode(err))
}

func TestExecuteWhileExecutingIsRejected(t *testing.T) {
	c := newCursor(&fakeFetcher{})
	c.state = StateExecuting

	err := c.Execute(context.Background(), scenarioComment+`SELECT * FROM analytics`)
	require.Error(t, err)
	assert.Equal(t, dherrors.CodeCursorBusy, dherrors.GetCode(err))
}

func TestSecondExecuteDiscardsPreviousResult(t *testing.T) {
	c := newCursor(&fakeFetcher{})
	ctx := context.Background()

	require.NoError(t, c.Execute(ctx, scenarioComment+`SELECT * FROM analytics`))
	require.Equal(t, 4, len(c.Description()))

	require.NoError(t, c.Execute(ctx, scenarioComment+`SELECT "OrgUnit" FROM analytics WHERE "OrgUnit" = 'Kitgum'`))
	rows, err := c.FetchAll()
	require.NoError(t, err)
	assert.Equal(t, [][]interface{}{{"Kitgum"}}, rows)
}

func TestFetchAllRejectsMisalignedRows(t *testing.T) {
	c := newCursor(&fakeFetcher{})
	c.result = &types.Table{
		Columns: []types.ColumnMeta{{Name: "OrgUnit"}, {Name: "Malaria_Cases"}},
		Rows:    [][]interface{}{{"Gulu", 12.0}, {"Kitgum"}},
	}
	c.state = StateReady

	_, err := c.FetchAll()
	require.Error(t, err)
	assert.Equal(t, dherrors.ErrCategoryCursor, dherrors.GetCategory(err))
	assert.Equal(t, dherrors.CodeRowWidthMismatch, dherrors.GetCode(err))
}

func TestUnmappedColumnFailsExecute(t *testing.T) {
	c := newCursor(&fakeFetcher{})
	err := c.Execute(context.Background(), scenarioComment+`SELECT "HIV_Tests" FROM analytics`)
	require.Error(t, err)
	assert.Equal(t, dherrors.ErrCategoryColumnMapping, dherrors.GetCategory(err))
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, -1, c.RowCount())
}

func TestUnmappedColumnFailsWithoutRows(t *testing.T) {
	f := &fakeFetcher{body: emptyAnalytics}
	c := newCursor(f)
	comment := `/* DHIS2: dx=fbfJHSPpUQD&pe=2024Q1&ou=O6uvpzGd5pu */ `

	err := c.Execute(context.Background(), comment+`SELECT "OrgUnit", "No Such Column" FROM analytics`)
	require.Error(t, err)
	assert.Equal(t, dherrors.ErrCategoryColumnMapping, dherrors.GetCategory(err))
	assert.Equal(t, StateIdle, c.State())
	require.Len(t, f.analytics, 1)

	require.NoError(t, c.Execute(context.Background(), comment+`SELECT "OrgUnit", "Malaria Cases" FROM analytics`))
	assert.Equal(t, []Description{
		{Name: "OrgUnit", TypeCode: types.ColumnString},
		{Name: "Malaria_Cases", TypeCode: types.ColumnNumeric},
	}, c.Description())
	rows, err := c.FetchAll()
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestUpstreamErrorPropagates(t *testing.T) {
	f := &fakeFetcher{analyticsErr: dherrors.NewAuthenticationError(dherrors.CodeUnauthorized, nil)}
	c := newCursor(f)
	err := c.Execute(context.Background(), scenarioComment+`SELECT * FROM analytics`)
	require.Error(t, err)
	assert.Equal(t, dherrors.ErrCategoryAuthentication, dherrors.GetCategory(err))
}

func TestClosedCursor(t *testing.T) {
	c := newCursor(&fakeFetcher{})
	require.NoError(t, c.Close())
	err := c.Execute(context.Background(), scenarioComment+`SELECT * FROM analytics`)
	assert.Equal(t, dherrors.CodeCursorClosed, dherrors.GetCode(err))
}

func TestParseErrorIsQueryError(t *testing.T) {
	err := newCursor(&fakeFetcher{}).Execute(context.Background(), `SELECT FROM WHERE`)
	require.Error(t, err)
	assert.Equal(t, dherrors.ErrCategoryQuery, dherrors.GetCategory(err))
}

func TestMaxRows(t *testing.T) {
	c := newCursor(&fakeFetcher{}, WithMaxRows(1))
	require.NoError(t, c.Execute(context.Background(), scenarioComment+`SELECT * FROM analytics`))
	assert.Equal(t, 1, c.RowCount())
}

func TestStatsRecorded(t *testing.T) {
	stats := observability.NewQueryStats(time.Hour)
	c := newCursor(&fakeFetcher{}, WithStats(stats))
	require.NoError(t, c.Execute(context.Background(), scenarioComment+`SELECT "Malaria Cases" FROM analytics`))

	sources := stats.TopSources(3)
	require.Len(t, sources, 3)
	for _, s := range sources {
		assert.Equal(t, 1, s.Breakdown["comment"], s.Name)
	}
	matches := stats.TopMatches(5)
	require.NotEmpty(t, matches)
	assert.Equal(t, "sanitized", matches[0].Name)
}

func TestEndpointFor(t *testing.T) {
	tests := []struct {
		table string
		want  Endpoint
	}{
		{"analytics", EndpointAnalytics},
		{"dataValueSets", EndpointDataValueSets},
		{"dhis2.datavaluesets", EndpointDataValueSets},
		{"data_value_sets", EndpointDataValueSets},
		{"malaria_dataset", EndpointAnalytics},
		{"", EndpointAnalytics},
	}
	for _, tt := range tests {
		if got := EndpointFor(tt.table); got != tt.want {
			t.Errorf("EndpointFor(%q) = %s, want %s", tt.table, got, tt.want)
		}
	}
}

func TestExecuteAgainstHTTPServer(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, "/api/analytics", r.URL.Path)
		assert.Equal(t, []string{"dx:fbfJHSPpUQD;cYeuwXTCPkU", "pe:2024Q1", "ou:O6uvpzGd5pu;fdc6uOvgoji"},
			r.URL.Query()["dimension"])
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(scenarioA))
	}))
	defer srv.Close()

	client, err := dhis2.NewClient(types.Connection{BaseURL: srv.URL, Username: "admin", Password: "district"},
		dhis2.WithLogger(quietLogger()))
	require.NoError(t, err)

	c := newCursor(client)
	require.NoError(t, c.Execute(context.Background(), scenarioComment+`SELECT * FROM analytics`))
	rows, err := c.FetchAll()
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}
