package geo

import (
	"encoding/json"
	"fmt"
)

// geoJSONGeometry mirrors the subset of GeoJSON the map UI actually sends:
// Polygon and MultiPolygon selections with [lon, lat] positions.  Holes are
// rejected rather than silently ignored, because a selection with a hole
// would quietly change which sensors count.
type geoJSONGeometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// ParseGeoJSON decodes a GeoJSON Polygon or MultiPolygon into a Polygon.
// The returned geometry is already validated.
func ParseGeoJSON(raw []byte) (Polygon, error) {
	var g geoJSONGeometry
	if err := json.Unmarshal(raw, &g); err != nil {
		return Polygon{}, fmt.Errorf("geo: decode geometry: %w", err)
	}

	switch g.Type {
	case "Polygon":
		var rings [][][2]float64
		if err := json.Unmarshal(g.Coordinates, &rings); err != nil {
			return Polygon{}, fmt.Errorf("geo: decode polygon coordinates: %w", err)
		}
		poly, err := polygonFromRings(rings)
		if err != nil {
			return Polygon{}, err
		}
		return poly, poly.Validate()

	case "MultiPolygon":
		var multi [][][][2]float64
		if err := json.Unmarshal(g.Coordinates, &multi); err != nil {
			return Polygon{}, fmt.Errorf("geo: decode multipolygon coordinates: %w", err)
		}
		var poly Polygon
		for _, rings := range multi {
			part, err := polygonFromRings(rings)
			if err != nil {
				return Polygon{}, err
			}
			poly.Rings = append(poly.Rings, part.Rings...)
		}
		return poly, poly.Validate()

	default:
		return Polygon{}, fmt.Errorf("geo: unsupported geometry type %q", g.Type)
	}
}

// polygonFromRings keeps only the outer ring of each GeoJSON polygon and
// refuses holes outright.
func polygonFromRings(rings [][][2]float64) (Polygon, error) {
	if len(rings) == 0 {
		return Polygon{}, ErrDegenerate
	}
	if len(rings) > 1 {
		return Polygon{}, fmt.Errorf("geo: polygons with holes are not supported")
	}
	ring := make(Ring, 0, len(rings[0]))
	for _, pos := range rings[0] {
		// GeoJSON positions are [lon, lat].
		ring = append(ring, Point{Lat: pos[1], Lon: pos[0]})
	}
	return Polygon{Rings: []Ring{ring}}, nil
}
