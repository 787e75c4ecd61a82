// Package config loads, normalizes, and validates circuitmap configuration data.
//
// It supplies repository defaults (including the public Overpass failover
// list), expands user paths (including tilde shortcuts), reads TOML files, and
// honours the CIRCUITMAP_USER_AGENT environment override. Always obtain
// settings through this package so downstream code receives sanitized paths
// and clear validation errors.
package config
