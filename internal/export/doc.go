// Package export writes circuit geometries to the output directory.
package export
