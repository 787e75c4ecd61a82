// Package testsupport provides shared helpers for tests: temp-directory
// configs and a fake Overpass/Wikidata/OSM API server.
package testsupport
