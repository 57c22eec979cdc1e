package dhis2

import (
	"context"
	"encoding/json"
	"net/url"
	"sort"
	"strings"

	"github.com/buger/jsonparser"

	dherrors "github.com/hmis-ug/dhis2sql/internal/errors"
)

// GeoFeature is one entry of GET /api/geoFeatures. Coordinates arrive as a
// JSON document encoded in a string.
type GeoFeature struct {
	ID          string `json:"id"`
	Code        string `json:"code,omitempty"`
	Name        string `json:"na"`
	HCD         bool   `json:"hcd"`
	HCU         bool   `json:"hcu"`
	Level       int    `json:"le"`
	ParentGraph string `json:"pg"`
	ParentID    string `json:"pi"`
	ParentName  string `json:"pn"`
	Type        int    `json:"ty"`
	Coordinates string `json:"co"`
}

// GeoFeatures calls GET /api/geoFeatures?ou=<ouParam>. ouParam uses the
// dimension syntax, for example "ou:LEVEL-2" or "ou:akV6429SUqu;LEVEL-3".
func (c *Client) GeoFeatures(ctx context.Context, ouParam string) ([]GeoFeature, error) {
	params := url.Values{}
	params.Set("ou", ouParam)
	params.Set("displayProperty", "NAME")

	body, err := c.Fetch(ctx, EndpointGeoFeatures, params)
	if err != nil {
		return nil, err
	}
	var features []GeoFeature
	if err := decode(EndpointGeoFeatures, body, &features); err != nil {
		return nil, err
	}
	return features, nil
}

// OrgUnitLevel is one configured org-unit hierarchy level.
type OrgUnitLevel struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Level int    `json:"level"`
}

// OrgUnitLevels calls GET /api/organisationUnitLevels, sorted by level.
func (c *Client) OrgUnitLevels(ctx context.Context) ([]OrgUnitLevel, error) {
	params := url.Values{}
	params.Set("fields", "id,name,level")
	params.Set("paging", "false")

	body, err := c.Fetch(ctx, EndpointOrgUnitLevels, params)
	if err != nil {
		return nil, err
	}
	var levels []OrgUnitLevel
	if err := decodeArray(EndpointOrgUnitLevels, body, "organisationUnitLevels", &levels); err != nil {
		return nil, err
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].Level < levels[j].Level })
	return levels, nil
}

// Ref is an id/name pair.
type Ref struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// OrgUnit is an organisation unit with its position in the hierarchy.
type OrgUnit struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Code     string `json:"code,omitempty"`
	Level    int    `json:"level"`
	Path     string `json:"path"`
	Parent   *Ref   `json:"parent,omitempty"`
	Children []Ref  `json:"children,omitempty"`
}

// Ancestors returns the UIDs on the path from the root down to, but not
// including, the unit itself.
func (o OrgUnit) Ancestors() []string {
	parts := strings.Split(strings.Trim(o.Path, "/"), "/")
	var out []string
	for _, p := range parts {
		if p != "" && p != o.ID {
			out = append(out, p)
		}
	}
	return out
}

const orgUnitFields = "id,name,code,level,path,parent[id,name]"

// OrgUnits fetches org units by UID.
func (c *Client) OrgUnits(ctx context.Context, ids []string) ([]OrgUnit, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return c.orgUnitsFiltered(ctx, "id:in:["+strings.Join(ids, ",")+"]")
}

// OrgUnitsByName fetches org units whose name is one of names.
func (c *Client) OrgUnitsByName(ctx context.Context, names []string) ([]OrgUnit, error) {
	if len(names) == 0 {
		return nil, nil
	}
	return c.orgUnitsFiltered(ctx, "name:in:["+strings.Join(names, ",")+"]")
}

func (c *Client) orgUnitsFiltered(ctx context.Context, filter string) ([]OrgUnit, error) {
	params := url.Values{}
	params.Set("filter", filter)
	params.Set("fields", orgUnitFields)
	params.Set("paging", "false")

	body, err := c.Fetch(ctx, EndpointOrgUnits, params)
	if err != nil {
		return nil, err
	}
	var units []OrgUnit
	if err := decodeArray(EndpointOrgUnits, body, "organisationUnits", &units); err != nil {
		return nil, err
	}
	return units, nil
}

// OrgUnitNames returns UID -> name for the given org units.
func (c *Client) OrgUnitNames(ctx context.Context, ids []string) (map[string]string, error) {
	units, err := c.OrgUnits(ctx, ids)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(units))
	for _, u := range units {
		names[u.ID] = u.Name
	}
	return names, nil
}

// DataElementNames returns UID -> display name for data elements, falling
// back to indicators for UIDs that are not data elements.
func (c *Client) DataElementNames(ctx context.Context, ids []string) (map[string]string, error) {
	names := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}

	for _, spec := range []struct{ endpoint, key string }{
		{EndpointDataElements, "dataElements"},
		{EndpointIndicators, "indicators"},
	} {
		var missing []string
		for _, id := range ids {
			if _, ok := names[id]; !ok {
				missing = append(missing, id)
			}
		}
		if len(missing) == 0 {
			break
		}

		params := url.Values{}
		params.Set("filter", "id:in:["+strings.Join(missing, ",")+"]")
		params.Set("fields", "id,displayName")
		params.Set("paging", "false")

		body, err := c.Fetch(ctx, spec.endpoint, params)
		if err != nil {
			return nil, err
		}
		var items []struct {
			ID          string `json:"id"`
			DisplayName string `json:"displayName"`
		}
		if err := decodeArray(spec.endpoint, body, spec.key, &items); err != nil {
			return nil, err
		}
		for _, it := range items {
			names[it.ID] = it.DisplayName
		}
	}
	return names, nil
}

// Me is the subset of GET /api/me used by the dialect.
type Me struct {
	ID                string    `json:"id"`
	Username          string    `json:"username"`
	Name              string    `json:"name"`
	OrganisationUnits []OrgUnit `json:"organisationUnits"`
}

// Me calls GET /api/me with the user's org units and two levels of children.
func (c *Client) Me(ctx context.Context) (*Me, error) {
	params := url.Values{}
	params.Set("fields", "id,username,name,organisationUnits[id,name,level,path,children[id,name]]")

	body, err := c.Fetch(ctx, EndpointMe, params)
	if err != nil {
		return nil, err
	}
	var me Me
	if err := decode(EndpointMe, body, &me); err != nil {
		return nil, err
	}
	return &me, nil
}

// decodeArray extracts a named array from a metadata response.
func decodeArray(endpoint string, body []byte, key string, v interface{}) error {
	raw, dataType, _, err := jsonparser.Get(body, key)
	if err != nil || dataType != jsonparser.Array {
		if err == jsonparser.KeyPathNotFoundError {
			raw = []byte("[]")
		} else {
			return dherrors.NewUpstreamError(dherrors.CodeInvalidResponse,
				"DHIS2 "+endpoint+" response has no "+key+" array", err)
		}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return dherrors.NewUpstreamError(dherrors.CodeInvalidResponse,
			"DHIS2 "+endpoint+" returned malformed "+key, err)
	}
	return nil
}
