// Package overpass queries the OpenStreetMap Overpass API.
//
// Client.Query fails over across an ordered list of interchangeable servers,
// classifying each failure as rate limited, timed out, or other. Rounds are
// only retried when a server rate limited the request. On top of Query the
// package provides the searches the resolver needs: elements by Wikidata tag,
// elements by name, descent into venue complexes, and cached geometry fetches.
// Score and IsComplex implement the tag heuristics that separate a racing
// line from the venue around it.
package overpass
