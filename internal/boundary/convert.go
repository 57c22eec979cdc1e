package boundary

import (
	"encoding/json"
	"fmt"

	"github.com/hmis-ug/dhis2sql/internal/dhis2"
	"github.com/hmis-ug/dhis2sql/pkg/types"
)

// DHIS2 geoFeature type codes.
const (
	geoTypePoint        = 1
	geoTypePolygon      = 2
	geoTypeMultiPolygon = 3
)

// ConvertFeature turns one geoFeature into a GeoJSON feature. The
// stringified coordinates are parsed and checked against the nesting depth
// of the geometry type.
func ConvertFeature(f dhis2.GeoFeature) (types.Feature, error) {
	if f.ID == "" {
		return types.Feature{}, fmt.Errorf("feature has no id")
	}
	if f.Coordinates == "" {
		return types.Feature{}, fmt.Errorf("feature %s has no coordinates", f.ID)
	}

	var coords interface{}
	if err := json.Unmarshal([]byte(f.Coordinates), &coords); err != nil {
		return types.Feature{}, fmt.Errorf("feature %s has malformed coordinates: %w", f.ID, err)
	}
	depth, ok := nesting(coords)
	if !ok {
		return types.Feature{}, fmt.Errorf("feature %s has ragged or non-numeric coordinates", f.ID)
	}

	var geomType string
	switch {
	case f.Type == geoTypePoint && depth == 1:
		geomType = types.GeometryPoint
	case f.Type == geoTypePolygon && depth == 3:
		geomType = types.GeometryPolygon
	// DHIS2 labels many multi-part boundaries as polygons.
	case f.Type == geoTypePolygon && depth == 4:
		geomType = types.GeometryMultiPolygon
	case f.Type == geoTypeMultiPolygon && depth == 4:
		geomType = types.GeometryMultiPolygon
	case f.Type < geoTypePoint || f.Type > geoTypeMultiPolygon:
		return types.Feature{}, fmt.Errorf("feature %s has unknown geometry type %d", f.ID, f.Type)
	default:
		return types.Feature{}, fmt.Errorf("feature %s: coordinates nested %d deep do not fit geometry type %d", f.ID, depth, f.Type)
	}

	return types.Feature{
		Type: "Feature",
		ID:   f.ID,
		Geometry: types.Geometry{
			Type:        geomType,
			Coordinates: json.RawMessage(f.Coordinates),
		},
		Properties: types.FeatureProperties{
			ID:                         f.ID,
			Name:                       f.Name,
			Code:                       f.Code,
			Level:                      f.Level,
			ParentID:                   f.ParentID,
			ParentName:                 f.ParentName,
			ParentGraph:                f.ParentGraph,
			HasChildrenWithCoordinates: f.HCD,
			HasParentWithCoordinates:   f.HCU,
		},
	}, nil
}

// nesting returns how many array levels wrap the numbers of a coordinate
// value. A position [x, y] has depth 1. Every branch must have the same
// depth and positions need at least two numbers.
func nesting(v interface{}) (int, bool) {
	arr, ok := v.([]interface{})
	if !ok || len(arr) == 0 {
		return 0, false
	}
	if _, isNum := arr[0].(float64); isNum {
		if len(arr) < 2 {
			return 0, false
		}
		for _, x := range arr {
			if _, ok := x.(float64); !ok {
				return 0, false
			}
		}
		return 1, true
	}

	depth := -1
	for _, child := range arr {
		d, ok := nesting(child)
		if !ok {
			return 0, false
		}
		if depth >= 0 && d != depth {
			return 0, false
		}
		depth = d
	}
	return depth + 1, true
}
