// Package geojson converts Overpass geometries into GeoJSON feature
// collections of LineStrings.
package geojson
