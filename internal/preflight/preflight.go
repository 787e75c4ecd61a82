package preflight

import (
	"context"
	"net/http"

	"golang.org/x/sync/errgroup"

	"circuitmap/internal/config"
	"circuitmap/internal/overpass"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// Dependencies carries the clients the network checks use.
type Dependencies struct {
	Overpass   Pinger
	Servers    []overpass.Server
	HTTPClient *http.Client
}

// RunAll executes every check for the given config. Server checks run
// concurrently; results keep a stable order regardless of completion order.
func RunAll(ctx context.Context, cfg *config.Config, deps Dependencies) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckFileParent("Mapping store", cfg.Paths.MappingsFile),
	}
	if cfg.History.Enabled {
		results = append(results, CheckFileParent("Decision journal", cfg.Paths.HistoryDB))
	}

	ua := cfg.HTTP.UserAgent
	endpoints := []struct{ name, url string }{
		{"Wikidata API", cfg.Wikidata.APIURL},
		{"Wikidata SPARQL", cfg.Wikidata.SPARQLURL},
		{"OSM API", cfg.OSM.APIBase + "/capabilities"},
	}

	var servers []Result
	endpointResults := make([]Result, len(endpoints))
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		servers = CheckOverpassServers(gctx, deps.Overpass, deps.Servers)
		return nil
	})
	for i, ep := range endpoints {
		g.Go(func() error {
			endpointResults[i] = CheckEndpoint(gctx, deps.HTTPClient, ep.name, ep.url, ua)
			return nil
		})
	}
	_ = g.Wait()

	results = append(results, servers...)
	return append(results, endpointResults...)
}

// CheckOverpassServers checks every server concurrently. Results follow the
// order of servers.
func CheckOverpassServers(ctx context.Context, pinger Pinger, servers []overpass.Server) []Result {
	if pinger == nil || len(servers) == 0 {
		return nil
	}
	results := make([]Result, len(servers))
	var g errgroup.Group
	for i, server := range servers {
		g.Go(func() error {
			results[i] = CheckOverpassServer(ctx, pinger, server)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}

// OverpassHealthy reports whether at least one Overpass server answered.
// Failover needs only one.
func OverpassHealthy(results []Result, servers []overpass.Server) bool {
	for _, server := range servers {
		for _, r := range results {
			if r.Name == "Overpass "+server.Name && r.Passed {
				return true
			}
		}
	}
	return false
}
