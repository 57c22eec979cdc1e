package types

import (
	"encoding/json"
	"fmt"
)

// GeoJSON geometry types produced from DHIS2 geoFeatures.
const (
	GeometryPoint        = "Point"
	GeometryPolygon      = "Polygon"
	GeometryMultiPolygon = "MultiPolygon"
)

// Geometry is a GeoJSON geometry with raw coordinates.
type Geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// FeatureProperties carries the org-unit hierarchy metadata of a boundary.
type FeatureProperties struct {
	ID                         string `json:"id"`
	Name                       string `json:"name"`
	Code                       string `json:"code,omitempty"`
	Level                      int    `json:"level"`
	ParentID                   string `json:"parentId,omitempty"`
	ParentName                 string `json:"parentName,omitempty"`
	ParentGraph                string `json:"parentGraph,omitempty"`
	HasChildrenWithCoordinates bool   `json:"hasChildrenWithCoordinates"`
	HasParentWithCoordinates   bool   `json:"hasParentWithCoordinates"`
}

// Feature is one organisation unit's boundary.
type Feature struct {
	Type       string            `json:"type"`
	ID         string            `json:"id"`
	Geometry   Geometry          `json:"geometry"`
	Properties FeatureProperties `json:"properties"`
}

// FeatureCollection is a GeoJSON FeatureCollection.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// NewFeatureCollection returns an empty, well-formed collection.
func NewFeatureCollection() *FeatureCollection {
	return &FeatureCollection{Type: "FeatureCollection", Features: []Feature{}}
}

// BoundaryKey identifies one boundary request. An empty ParentID means no parent filter.
type BoundaryKey struct {
	DatabaseID      int64
	Level           int
	ParentID        string
	IncludeChildren bool
}

// String returns the canonical cache key.
func (k BoundaryKey) String() string {
	parent := k.ParentID
	if parent == "" {
		parent = "-"
	}
	return fmt.Sprintf("boundaries:%d:%d:%s:%t", k.DatabaseID, k.Level, parent, k.IncludeChildren)
}
