package dhis2

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dherrors "github.com/hmis-ug/dhis2sql/internal/errors"
	"github.com/hmis-ug/dhis2sql/pkg/types"
)

func quietLogger() logrus.FieldLogger {
	l, _ := test.NewNullLogger()
	return l
}

func newTestClient(t *testing.T, srv *httptest.Server, opts ...Option) *Client {
	t.Helper()
	conn := types.Connection{BaseURL: srv.URL, Username: "admin", Password: "district"}
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	c, err := NewClient(conn, opts...)
	require.NoError(t, err)
	return c
}

func TestFetchBasicAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "admin", user)
		assert.Equal(t, "district", pass)
		assert.Equal(t, "/api/me", r.URL.Path)
		w.Write([]byte(`{"id":"xE7jOejl9FI","username":"admin"}`))
	}))
	defer srv.Close()

	me, err := newTestClient(t, srv).Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "admin", me.Username)
}

func TestFetchTokenAuth(t *testing.T) {
	tests := []struct {
		token string
		want  string
	}{
		{"d2pat_5xVA12xyUbWNedQxy4ohH77WlxRGVvZZ1151814092", "ApiToken d2pat_5xVA12xyUbWNedQxy4ohH77WlxRGVvZZ1151814092"},
		{"eyJhbGciOi", "Bearer eyJhbGciOi"},
	}

	for _, tt := range tests {
		var got string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = r.Header.Get("Authorization")
			w.Write([]byte(`{}`))
		}))

		c, err := NewClient(types.Connection{BaseURL: srv.URL + "/api/", AuthMode: types.AuthToken, Token: tt.token},
			WithLogger(quietLogger()))
		require.NoError(t, err)
		_, err = c.Fetch(context.Background(), "me", nil)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
		srv.Close()
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		status   int
		category dherrors.ErrorCategory
		contains string
	}{
		{http.StatusUnauthorized, dherrors.ErrCategoryAuthentication, "credentials"},
		{http.StatusForbidden, dherrors.ErrCategoryAuthentication, "credentials"},
		{http.StatusNotFound, dherrors.ErrCategoryNotFound, "URL"},
		{http.StatusInternalServerError, dherrors.ErrCategoryUpstream, "server error"},
		{http.StatusConflict, dherrors.ErrCategoryUpstream, "Dimension dx is present"},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			w.Write([]byte(`{"httpStatus":"x","message":"Dimension dx is present in query without any valid dimension options"}`))
		}))

		_, err := newTestClient(t, srv).Fetch(context.Background(), "analytics", nil)
		require.Error(t, err)
		assert.Equal(t, tt.category, dherrors.GetCategory(err), "status %d", tt.status)
		de, ok := dherrors.As(err)
		require.True(t, ok)
		assert.Contains(t, de.Message, tt.contains, "status %d", tt.status)
		srv.Close()
	}
}

func TestTestConnectionUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := TestConnection(context.Background(),
		types.Connection{BaseURL: srv.URL, Username: "admin", Password: "wrong"},
		WithLogger(quietLogger()))
	require.Error(t, err)
	assert.Equal(t, dherrors.ErrCategoryAuthentication, dherrors.GetCategory(err))
	assert.Contains(t, err.Error(), "credentials")
	assert.False(t, dherrors.IsRetryable(err))
}

func TestTestConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	err := TestConnection(context.Background(),
		types.Connection{BaseURL: addr, Username: "admin", Password: "district"},
		WithLogger(quietLogger()))
	require.Error(t, err)
	assert.Equal(t, dherrors.ErrCategoryConnection, dherrors.GetCategory(err))
	assert.Contains(t, err.Error(), "connect")
}

func TestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c, err := NewClient(types.Connection{BaseURL: srv.URL, Username: "a", Password: "b", Timeout: 20 * time.Millisecond},
		WithLogger(quietLogger()))
	require.NoError(t, err)

	_, err = c.Fetch(context.Background(), "me", nil)
	require.Error(t, err)
	assert.Equal(t, dherrors.ErrCategoryTimeout, dherrors.GetCategory(err))
	assert.Contains(t, err.Error(), "connect")
}

func TestRetryPolicy(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"id":"x"}`))
	}))
	defer srv.Close()

	// Default: a single attempt.
	_, err := newTestClient(t, srv).Fetch(context.Background(), "me", nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	atomic.StoreInt32(&calls, 0)
	c := newTestClient(t, srv, WithRetry(RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond}))
	_, err = c.Fetch(context.Background(), "me", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestRetryNeverRetriesAuthentication(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, WithRetry(RetryPolicy{MaxAttempts: 5, InitialDelay: time.Millisecond}))
	_, err := c.Fetch(context.Background(), "me", nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestAnalytics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dims := r.URL.Query()["dimension"]
		assert.Equal(t, []string{"dx:fbfJHSPpUQD;cYeuwXTCPkU", "pe:2024Q1", "ou:O6uvpzGd5pu"}, dims)
		assert.Equal(t, "true", r.URL.Query().Get("hierarchyMeta"))
		w.Write([]byte(`{
			"headers":[{"name":"dx"},{"name":"pe"},{"name":"ou"},{"name":"value","valueType":"NUMBER"}],
			"rows":[["fbfJHSPpUQD","2024Q1","O6uvpzGd5pu","12"],["cYeuwXTCPkU","2024Q1","O6uvpzGd5pu",3.5]],
			"metaData":{"items":{"fbfJHSPpUQD":{"name":"Malaria Cases"}},"ouHierarchy":{"O6uvpzGd5pu":"ImspTQPwCqd"}}
		}`))
	}))
	defer srv.Close()

	resp, err := newTestClient(t, srv).Analytics(context.Background(), types.Dimensions{
		DataElements: []string{"fbfJHSPpUQD", "cYeuwXTCPkU"},
		Periods:      []string{"2024Q1"},
		OrgUnits:     []string{"O6uvpzGd5pu"},
		Hierarchy:    true,
	})
	require.NoError(t, err)
	require.Len(t, resp.Rows, 2)
	assert.Equal(t, 3, resp.HeaderIndex("value"))
	assert.Equal(t, "12", resp.Rows[0][3].Value)
	assert.Equal(t, "3.5", resp.Rows[1][3].Value)
	assert.Equal(t, "Malaria Cases", resp.MetaData.ItemName("fbfJHSPpUQD"))
	assert.Equal(t, "cYeuwXTCPkU", resp.MetaData.ItemName("cYeuwXTCPkU"))
	assert.Equal(t, "ImspTQPwCqd", resp.MetaData.OUHierarchy["O6uvpzGd5pu"])
}

func TestAnalyticsInvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>login</html>`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).Analytics(context.Background(), types.Dimensions{DataElements: []string{"a"}})
	require.Error(t, err)
	assert.Equal(t, dherrors.CodeInvalidResponse, dherrors.GetCode(err))
}

func TestDataValueSetsExpandsRelativePeriodsAndUserOrgUnits(t *testing.T) {
	restore := Now
	Now = func() time.Time { return time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC) }
	defer func() { Now = restore }()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/me":
			w.Write([]byte(`{"id":"u1","organisationUnits":[{"id":"ImspTQPwCqd","children":[{"id":"O6uvpzGd5pu"},{"id":"fdc6uOvgoji"}]}]}`))
		case "/api/dataValueSets":
			q := r.URL.Query()
			assert.Equal(t, []string{"2021", "2022", "2023", "202404"}, q["period"])
			assert.Equal(t, []string{"O6uvpzGd5pu", "fdc6uOvgoji"}, q["orgUnit"])
			assert.Equal(t, "BfMAe6Itzgt", q.Get("dataSet"))
			assert.Equal(t, []string{"fbfJHSPpUQD"}, q["dataElement"])
			w.Write([]byte(`{"dataValues":[
				{"dataElement":"fbfJHSPpUQD","period":"2023","orgUnit":"O6uvpzGd5pu","value":"4"},
				{"dataElement":"zzzzzzzzzzz","period":"2023","orgUnit":"O6uvpzGd5pu","value":"9"}]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	resp, err := newTestClient(t, srv).DataValueSets(context.Background(), DataValueSetQuery{
		DataSet:      "BfMAe6Itzgt",
		DataElements: []string{"fbfJHSPpUQD"},
		Periods:      []string{"LAST_3_YEARS", "LAST_MONTH"},
		OrgUnits:     []string{"USER_ORGUNIT_CHILDREN"},
	})
	require.NoError(t, err)
	require.Len(t, resp.DataValues, 1)
	assert.Equal(t, "fbfJHSPpUQD", resp.DataValues[0].DataElement)
}

func TestDataValueSetsByDataElement(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Empty(t, q.Get("dataSet"))
		assert.Equal(t, []string{"fbfJHSPpUQD", "cYeuwXTCPkU"}, q["dataElement"])
		w.Write([]byte(`{"dataValues":[{"dataElement":"fbfJHSPpUQD","period":"202401","orgUnit":"O6uvpzGd5pu","value":"4"}]}`))
	}))
	defer srv.Close()

	resp, err := newTestClient(t, srv).DataValueSets(context.Background(), DataValueSetQuery{
		DataElements: []string{"fbfJHSPpUQD", "cYeuwXTCPkU"},
		Periods:      []string{"202401"},
		OrgUnits:     []string{"O6uvpzGd5pu"},
	})
	require.NoError(t, err)
	assert.Len(t, resp.DataValues, 1)
}

func TestDataValueSetsRejectsIncompleteQueries(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()
	c := newTestClient(t, srv)

	tests := []struct {
		name string
		q    DataValueSetQuery
	}{
		{"no data set or data element", DataValueSetQuery{Periods: []string{"202401"}, OrgUnits: []string{"O6uvpzGd5pu"}}},
		{"no period", DataValueSetQuery{DataSet: "BfMAe6Itzgt", OrgUnits: []string{"O6uvpzGd5pu"}}},
		{"no org unit", DataValueSetQuery{DataElements: []string{"fbfJHSPpUQD"}, Periods: []string{"202401"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.DataValueSets(context.Background(), tt.q)
			require.Error(t, err)
			assert.Equal(t, dherrors.ErrCategoryValidation, dherrors.GetCategory(err))
		})
	}
	assert.Zero(t, atomic.LoadInt32(&hits), "invalid queries never reach the server")
}

func TestGeoFeaturesAndLevels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/geoFeatures":
			assert.Equal(t, "ou:LEVEL-2", r.URL.Query().Get("ou"))
			w.Write([]byte(`[{"id":"O6uvpzGd5pu","na":"Bo","le":2,"ty":2,"co":"[[[1,2],[3,4],[1,2]]]","pi":"ImspTQPwCqd","pn":"Sierra Leone","hcd":true}]`))
		case "/api/organisationUnitLevels":
			w.Write([]byte(`{"organisationUnitLevels":[{"id":"b","name":"District","level":2},{"id":"a","name":"National","level":1}]}`))
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	features, err := c.GeoFeatures(context.Background(), "ou:LEVEL-2")
	require.NoError(t, err)
	require.Len(t, features, 1)
	assert.Equal(t, "Bo", features[0].Name)
	assert.Equal(t, 2, features[0].Type)
	assert.True(t, features[0].HCD)

	levels, err := c.OrgUnitLevels(context.Background())
	require.NoError(t, err)
	require.Len(t, levels, 2)
	assert.Equal(t, "National", levels[0].Name)
}

func TestDataElementNamesFallsBackToIndicators(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		filter := r.URL.Query().Get("filter")
		switch r.URL.Path {
		case "/api/dataElements":
			assert.Equal(t, "id:in:[fbfJHSPpUQD,Uvn6LCg7dVU]", filter)
			w.Write([]byte(`{"dataElements":[{"id":"fbfJHSPpUQD","displayName":"ANC 1st visit"}]}`))
		case "/api/indicators":
			assert.Equal(t, "id:in:[Uvn6LCg7dVU]", filter)
			w.Write([]byte(`{"indicators":[{"id":"Uvn6LCg7dVU","displayName":"ANC 1 Coverage"}]}`))
		}
	}))
	defer srv.Close()

	names, err := newTestClient(t, srv).DataElementNames(context.Background(), []string{"fbfJHSPpUQD", "Uvn6LCg7dVU"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"fbfJHSPpUQD": "ANC 1st visit", "Uvn6LCg7dVU": "ANC 1 Coverage"}, names)
}

func TestURIRoundTrip(t *testing.T) {
	tests := []types.Connection{
		{BaseURL: "https://hmis.health.go.ug/api", AuthMode: types.AuthBasic, Username: "admin", Password: "p@ss:word"},
		{BaseURL: "https://play.dhis2.org/40.2.0/api", AuthMode: types.AuthToken, Token: "d2pat_abc123"},
		{BaseURL: "http://localhost:8080/api", AuthMode: types.AuthBasic, Username: "admin", Password: "district", Timeout: 30 * time.Second},
	}

	for _, conn := range tests {
		uri := BuildURI(conn)
		assert.True(t, strings.HasPrefix(uri, "dhis2://"), uri)

		got, err := ParseURI(uri)
		require.NoError(t, err, uri)
		assert.Equal(t, conn, got, uri)
	}

	assert.Equal(t, "dhis2://:d2pat_abc123@play.dhis2.org/40.2.0/api", BuildURI(tests[1]))
}

func TestParseURIErrors(t *testing.T) {
	for _, raw := range []string{"postgres://a:b@host/db", "dhis2:///api", "dhis2://host/api"} {
		_, err := ParseURI(raw)
		require.Error(t, err, raw)
		assert.Equal(t, dherrors.ErrCategoryValidation, dherrors.GetCategory(err), raw)
	}
}
