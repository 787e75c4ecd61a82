// Package resolver implements the circuit resolution pipeline.
//
// Resolve maps a circuit to an OSM element in a fixed order: the mapping
// store (verified against the OSM API), Wikidata identifiers for every
// search name, P402 cross-references, elements tagged with those
// identifiers, and finally a direct name search. Candidates found through
// the circuit's own name always outrank those found through a Grand Prix
// name. The winner is persisted unless an operator pinned the record, and
// runners-up are written to the record's comment for review.
//
// Process wraps Resolve with geometry export and version tracking, and
// turns every failure into a ProcessResult carrying operator guidance.
package resolver
