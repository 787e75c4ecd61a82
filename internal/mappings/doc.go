// Package mappings persists circuit name to OpenStreetMap element decisions.
//
// The store is a single JSON document with a self-describing "_schema"
// header and a "circuits" object keyed by circuit name. Records flagged
// manual belong to the operator: automated writes never replace them. Loading
// is permissive and writes are atomic, so a crash or a bad hand edit never
// takes the run down.
package mappings
