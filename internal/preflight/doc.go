// Package preflight provides readiness checks for the services and paths
// circuitmap depends on.
//
// The "preflight" command runs RunAll and prints a table; "sync" runs it
// too and refuses to start when no Overpass server answers, since every
// circuit would fail anyway. Server checks run concurrently.
package preflight
