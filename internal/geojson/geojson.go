// Package geojson builds the portable map artifacts served to renderers:
// route lines, tile polygons, region boundaries and raster tile URLs.
package geojson

import (
	"encoding/json"
	"fmt"

	"example.com/tilehunt/internal/domain"
	"example.com/tilehunt/internal/tiles"
)

const (
	routeStroke        = "#f60909"
	routeStrokeWidth   = 2
	routeStrokeOpacity = 1
)

// Feature is a GeoJSON feature. Geometry is kept raw: store-produced
// geometries pass through unparsed.
type Feature struct {
	Type       string                 `json:"type"`
	ID         string                 `json:"id,omitempty"`
	Geometry   json.RawMessage        `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

// FeatureCollection is a GeoJSON feature collection.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// NewCollection combines feature slices into one collection.
func NewCollection(groups ...[]Feature) FeatureCollection {
	var features []Feature
	for _, group := range groups {
		features = append(features, group...)
	}
	if features == nil {
		features = []Feature{}
	}
	return FeatureCollection{Type: "FeatureCollection", Features: features}
}

// RouteFeature wraps an activity route geometry as a colored line.
func RouteFeature(name string, geometry json.RawMessage) Feature {
	return Feature{
		Type:     "Feature",
		Geometry: geometry,
		Properties: map[string]interface{}{
			"name":           name,
			"stroke":         routeStroke,
			"stroke-width":   routeStrokeWidth,
			"stroke-opacity": routeStrokeOpacity,
		},
	}
}

// TileFeature builds the polygon feature of one stored tile from its corner
// ring.
func TileFeature(tile domain.Tile) Feature {
	ring := tile.Ring
	if len(ring) == 0 {
		ring = tiles.Ring(tile.X, tile.Y, tile.Z)
	}
	geometry, _ := json.Marshal(map[string]interface{}{
		"type":        "Polygon",
		"coordinates": [][][2]float64{ring},
	})
	return Feature{
		Type:     "Feature",
		Geometry: geometry,
		Properties: map[string]interface{}{
			"x": fmt.Sprintf("%d", tile.X),
			"y": fmt.Sprintf("%d", tile.Y),
			"z": fmt.Sprintf("%d", tile.Z),
		},
	}
}

// TileFeatures maps a tile set to features.
func TileFeatures(tileSet []domain.Tile) []Feature {
	features := make([]Feature, 0, len(tileSet))
	for _, tile := range tileSet {
		features = append(features, TileFeature(tile))
	}
	return features
}

// RegionFeature wraps a region boundary geometry.
func RegionFeature(region domain.Region, geometry json.RawMessage) Feature {
	return Feature{
		Type:     "Feature",
		ID:       region.Name,
		Geometry: geometry,
		Properties: map[string]interface{}{
			"name": region.Name,
		},
	}
}

// TileURL builds the raster tile URL of a stored tile. The stored (shifted)
// indices go straight into the path.
func TileURL(tileServer string, tile domain.Tile) string {
	return fmt.Sprintf("%s/%d/%d/%d.png", tileServer, tile.Z, tile.X, tile.Y)
}
