package geojson

import "circuitmap/internal/overpass"

// FeatureCollection is a GeoJSON FeatureCollection.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// Feature is a GeoJSON Feature.
type Feature struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
	Geometry   Geometry       `json:"geometry"`
}

// Geometry is a LineString geometry with [lon, lat] coordinates.
type Geometry struct {
	Type        string       `json:"type"`
	Coordinates [][2]float64 `json:"coordinates"`
}

// FromElement converts an element fetched with full geometry. A relation
// yields one LineString per way member that carries geometry; a way yields a
// single LineString. Anything else produces an empty collection.
func FromElement(el overpass.Element) FeatureCollection {
	fc := FeatureCollection{Type: "FeatureCollection", Features: []Feature{}}
	switch el.Type {
	case overpass.KindRelation:
		for _, member := range el.Members {
			if member.Type != overpass.KindWay || len(member.Geometry) == 0 {
				continue
			}
			fc.Features = append(fc.Features, lineFeature(member.Geometry, map[string]any{
				"role": member.Role,
				"ref":  member.Ref,
			}))
		}
	case overpass.KindWay:
		if len(el.Geometry) > 0 {
			fc.Features = append(fc.Features, lineFeature(el.Geometry, map[string]any{}))
		}
	}
	return fc
}

// Empty reports whether the collection has no features.
func (fc FeatureCollection) Empty() bool {
	return len(fc.Features) == 0
}

func lineFeature(points []overpass.Point, props map[string]any) Feature {
	coords := make([][2]float64, len(points))
	for i, p := range points {
		coords[i] = [2]float64{p.Lon, p.Lat}
	}
	return Feature{
		Type:       "Feature",
		Properties: props,
		Geometry:   Geometry{Type: "LineString", Coordinates: coords},
	}
}
