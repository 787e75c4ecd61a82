// Package circuit models the racing circuits being resolved and loads them
// from YAML or JSON lists.
package circuit
