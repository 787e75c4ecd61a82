// Package osmapi wraps the two OpenStreetMap editing API calls the resolver
// needs: a HEAD existence check for cached mappings and a version lookup for
// change detection.
package osmapi
