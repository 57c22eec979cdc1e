package dhis2

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	dherrors "github.com/hmis-ug/dhis2sql/internal/errors"
	"github.com/hmis-ug/dhis2sql/pkg/types"
)

// Endpoint paths relative to the API base.
const (
	EndpointAnalytics     = "analytics"
	EndpointDataValueSets = "dataValueSets"
	EndpointGeoFeatures   = "geoFeatures"
	EndpointOrgUnits      = "organisationUnits"
	EndpointOrgUnitLevels = "organisationUnitLevels"
	EndpointDataElements  = "dataElements"
	EndpointIndicators    = "indicators"
	EndpointMe            = "me"
)

// Cell is one analytics value. DHIS2 sends strings, but numbers and nulls
// are accepted too.
type Cell struct {
	Value string
	Null  bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Cell) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*c = Cell{Null: true}
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*c = Cell{Value: v}
		return nil
	}
	*c = Cell{Value: s}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (c Cell) MarshalJSON() ([]byte, error) {
	if c.Null {
		return []byte("null"), nil
	}
	return json.Marshal(c.Value)
}

// Header describes one column of an analytics response.
type Header struct {
	Name      string `json:"name"`
	Column    string `json:"column"`
	ValueType string `json:"valueType"`
	Type      string `json:"type"`
	Hidden    bool   `json:"hidden"`
	Meta      bool   `json:"meta"`
}

// MetaItem is a metaData.items entry.
type MetaItem struct {
	UID  string `json:"uid,omitempty"`
	Name string `json:"name"`
	Code string `json:"code,omitempty"`
}

// MetaData is the metaData block of an analytics response.
type MetaData struct {
	Items       map[string]MetaItem `json:"items"`
	Dimensions  map[string][]string `json:"dimensions"`
	OUHierarchy map[string]string   `json:"ouHierarchy,omitempty"`
}

// AnalyticsResponse is the body of GET /api/analytics.
type AnalyticsResponse struct {
	Headers  []Header `json:"headers"`
	Rows     [][]Cell `json:"rows"`
	MetaData MetaData `json:"metaData"`
	Height   int      `json:"height"`
	Width    int      `json:"width"`
}

// HeaderIndex returns the position of the named header, or -1.
func (r *AnalyticsResponse) HeaderIndex(name string) int {
	for i, h := range r.Headers {
		if h.Name == name {
			return i
		}
	}
	return -1
}

// ItemName returns the display name for a UID, falling back to the UID.
func (m MetaData) ItemName(uid string) string {
	if it, ok := m.Items[uid]; ok && it.Name != "" {
		return it.Name
	}
	return uid
}

// AnalyticsParams builds the query string for an analytics request.
func AnalyticsParams(d types.Dimensions) url.Values {
	params := url.Values{}
	for _, axis := range types.Axes {
		if vals := d.Get(axis); len(vals) > 0 {
			params.Add("dimension", string(axis)+":"+strings.Join(vals, ";"))
		}
	}
	if d.OUMode != "" {
		params.Set("ouMode", d.OUMode)
	}
	if d.Hierarchy {
		params.Set("hierarchyMeta", "true")
	}
	params.Set("displayProperty", "NAME")
	return params
}

// Analytics calls GET /api/analytics for the given dimensions.
func (c *Client) Analytics(ctx context.Context, d types.Dimensions) (*AnalyticsResponse, error) {
	body, err := c.Fetch(ctx, EndpointAnalytics, AnalyticsParams(d))
	if err != nil {
		return nil, err
	}
	var resp AnalyticsResponse
	if err := decode(EndpointAnalytics, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DataValue is one entry of a dataValueSets response.
type DataValue struct {
	DataElement          string `json:"dataElement"`
	Period               string `json:"period"`
	OrgUnit              string `json:"orgUnit"`
	CategoryOptionCombo  string `json:"categoryOptionCombo"`
	AttributeOptionCombo string `json:"attributeOptionCombo"`
	Value                string `json:"value"`
}

// DataValueSetResponse is the body of GET /api/dataValueSets.
type DataValueSetResponse struct {
	DataSet    string      `json:"dataSet,omitempty"`
	DataValues []DataValue `json:"dataValues"`
}

// DataValueSetQuery selects raw data values. Periods and OrgUnits may hold
// relative periods and USER_ORGUNIT keywords; they are expanded before the
// request because the endpoint only accepts concrete codes.
type DataValueSetQuery struct {
	DataSet      string
	DataElements []string
	Periods      []string
	OrgUnits     []string
	Children     bool
}

// DataValueSetQueryFrom derives a dataValueSets query from resolved dimensions.
func DataValueSetQueryFrom(d types.Dimensions) DataValueSetQuery {
	mode := strings.ToUpper(d.OUMode)
	return DataValueSetQuery{
		DataSet:      d.DataSet,
		DataElements: d.DataElements,
		Periods:      d.Periods,
		OrgUnits:     d.OrgUnits,
		Children:     mode == "DESCENDANTS" || mode == "CHILDREN",
	}
}

// Validate reports a VALIDATION error for queries DHIS2 would reject: the
// endpoint needs a data set or data elements, a period and an org unit.
func (q DataValueSetQuery) Validate() error {
	switch {
	case q.DataSet == "" && len(q.DataElements) == 0:
		return dherrors.NewValidationError(dherrors.CodeInvalidArgument,
			"dataValueSets needs a data set or at least one data element")
	case len(q.Periods) == 0:
		return dherrors.NewValidationError(dherrors.CodeInvalidArgument,
			"dataValueSets needs at least one period")
	case len(q.OrgUnits) == 0:
		return dherrors.NewValidationError(dherrors.CodeInvalidArgument,
			"dataValueSets needs at least one org unit")
	}
	return nil
}

// DataValueSets calls GET /api/dataValueSets after expanding relative
// periods and user org-unit keywords. Data elements are sent as
// dataElement parameters and also filtered locally, since servers that
// predate the parameter return the whole data set.
func (c *Client) DataValueSets(ctx context.Context, q DataValueSetQuery) (*DataValueSetResponse, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	periods := ExpandPeriods(q.Periods, Now())
	orgUnits, err := c.ExpandOrgUnits(ctx, q.OrgUnits)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	if q.DataSet != "" {
		params.Set("dataSet", q.DataSet)
	}
	for _, de := range q.DataElements {
		params.Add("dataElement", de)
	}
	for _, p := range periods {
		params.Add("period", p)
	}
	for _, ou := range orgUnits {
		params.Add("orgUnit", ou)
	}
	if q.Children {
		params.Set("children", strconv.FormatBool(true))
	}

	body, err := c.Fetch(ctx, EndpointDataValueSets, params)
	if err != nil {
		return nil, err
	}
	var resp DataValueSetResponse
	if err := decode(EndpointDataValueSets, body, &resp); err != nil {
		return nil, err
	}

	if len(q.DataElements) > 0 {
		keep := make(map[string]bool, len(q.DataElements))
		for _, de := range q.DataElements {
			keep[de] = true
		}
		filtered := resp.DataValues[:0]
		for _, dv := range resp.DataValues {
			if keep[dv.DataElement] {
				filtered = append(filtered, dv)
			}
		}
		resp.DataValues = filtered
	}
	return &resp, nil
}
