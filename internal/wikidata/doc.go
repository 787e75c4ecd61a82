// Package wikidata searches Wikidata for circuit entities and resolves their
// OpenStreetMap relation cross-references (property P402), either in one
// SPARQL batch or per entity.
package wikidata
