// Package fileutil holds the crash-safe write helpers shared by the mapping
// store and the GeoJSON exporter.
package fileutil
