// Command circuitmap resolves racing circuit names to OpenStreetMap track
// elements and exports their geometry as GeoJSON.
//
// The sync subcommand walks the circuit list, resolving each name through
// the mapping store, Wikidata, and Overpass before writing one
// <name>.geojson file per circuit. The mappings subcommands inspect and pin
// store records; history reads the optional decision journal; preflight
// checks directories and upstream services.
package main
