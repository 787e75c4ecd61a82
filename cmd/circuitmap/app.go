package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"

	"circuitmap/internal/config"
	"circuitmap/internal/history"
	"circuitmap/internal/logging"
	"circuitmap/internal/mappings"
	"circuitmap/internal/osmapi"
	"circuitmap/internal/overpass"
	"circuitmap/internal/ratelimit"
	"circuitmap/internal/resolver"
	"circuitmap/internal/wikidata"
)

// app bundles the clients and stores one command run needs.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	overpass *overpass.Client
	wikidata *wikidata.Client
	osm      *osmapi.Client
	store    *mappings.Store
	journal  *history.Store
	resolver *resolver.Resolver
}

func overpassServers(cfg *config.Config) []overpass.Server {
	servers := make([]overpass.Server, 0, len(cfg.Overpass.Servers))
	for _, s := range cfg.Overpass.Servers {
		servers = append(servers, overpass.Server{Name: s.Name, URL: s.URL})
	}
	return servers
}

func newOverpassClient(cfg *config.Config, logger *slog.Logger) (*overpass.Client, error) {
	return overpass.New(overpassServers(cfg),
		overpass.WithHTTPClient(&http.Client{}),
		overpass.WithUserAgent(cfg.HTTP.UserAgent),
		overpass.WithTimeout(cfg.QueryTimeout()),
		overpass.WithGeometryTimeout(cfg.GeometryTimeout()),
		overpass.WithRetries(cfg.HTTP.MaxRetries, cfg.RetryDelay()),
		overpass.WithThrottle(ratelimit.New(cfg.RequestDelay())),
		overpass.WithLogger(logger),
	)
}

// openApp wires every client. The journal is opened only when enabled; a
// journal that fails to open is logged and skipped.
func (c *commandContext) openApp() (*app, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.newLogger()
	if err != nil {
		return nil, err
	}

	op, err := newOverpassClient(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("overpass client: %w", err)
	}
	wd := wikidata.New(wikidata.Endpoints{
		API:    cfg.Wikidata.APIURL,
		Entity: cfg.Wikidata.EntityURL,
		SPARQL: cfg.Wikidata.SPARQLURL,
	}, cfg.WikidataTimeout(),
		wikidata.WithUserAgent(cfg.HTTP.UserAgent),
		wikidata.WithThrottle(ratelimit.New(cfg.RequestDelay())),
		wikidata.WithLogger(logger),
	)
	osm := osmapi.New(cfg.OSM.APIBase, cfg.OSMTimeout(),
		osmapi.WithUserAgent(cfg.HTTP.UserAgent),
		osmapi.WithFailOpen(cfg.Resolution.VerifyFailOpen),
		osmapi.WithLogger(logger),
	)

	store, err := mappings.Open(cfg.Paths.MappingsFile, logger)
	if err != nil {
		return nil, fmt.Errorf("open mapping store: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, overpass: op, wikidata: wd, osm: osm, store: store}

	opts := []resolver.Option{
		resolver.WithLogger(logger),
		resolver.WithSearchLimit(cfg.Wikidata.SearchLimit),
		resolver.WithNameSearchThreshold(cfg.Resolution.NameSearchThreshold),
		resolver.WithAuthorityBonus(cfg.Resolution.AuthorityBonus),
		resolver.WithMappingsName(filepath.Base(cfg.Paths.MappingsFile)),
	}
	if cfg.History.Enabled {
		journal, err := history.Open(cfg.Paths.HistoryDB)
		if err != nil {
			logging.WarnWithContext(logger, "decision journal unavailable", "history_open_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check paths.history_db or set history.enabled=false"),
				logging.String(logging.FieldImpact, "decisions are not journaled this run"))
		} else {
			a.journal = journal
			opts = append(opts, resolver.WithJournal(journal))
		}
	}
	a.resolver = resolver.New(wd, op, osm, store, opts...)
	return a, nil
}

func (a *app) Close() error {
	if a.journal == nil {
		return nil
	}
	return a.journal.Close()
}
