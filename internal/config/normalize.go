package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeHTTP()
	c.normalizeOverpass()
	c.normalizeEndpoints()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		c.Paths.OutputDir = defaultOutputDir
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.MappingsFile) == "" {
		c.Paths.MappingsFile = defaultMappingsFile
	}
	if c.Paths.MappingsFile, err = expandPath(c.Paths.MappingsFile); err != nil {
		return fmt.Errorf("paths.mappings_file: %w", err)
	}
	if c.Paths.CircuitsFile, err = expandPath(strings.TrimSpace(c.Paths.CircuitsFile)); err != nil {
		return fmt.Errorf("paths.circuits_file: %w", err)
	}
	if strings.TrimSpace(c.Paths.HistoryDB) == "" {
		c.Paths.HistoryDB = defaultHistoryDB
	}
	if c.Paths.HistoryDB, err = expandPath(c.Paths.HistoryDB); err != nil {
		return fmt.Errorf("paths.history_db: %w", err)
	}
	return nil
}

func (c *Config) normalizeHTTP() {
	if value, ok := os.LookupEnv("CIRCUITMAP_USER_AGENT"); ok && strings.TrimSpace(value) != "" {
		c.HTTP.UserAgent = value
	}
	c.HTTP.UserAgent = strings.TrimSpace(c.HTTP.UserAgent)
	if c.HTTP.UserAgent == "" {
		c.HTTP.UserAgent = defaultUserAgent
	}
}

func (c *Config) normalizeOverpass() {
	servers := make([]OverpassServer, 0, len(c.Overpass.Servers))
	for _, server := range c.Overpass.Servers {
		server.Name = strings.TrimSpace(server.Name)
		server.URL = strings.TrimSpace(server.URL)
		if server.URL == "" {
			continue
		}
		if server.Name == "" {
			server.Name = server.URL
		}
		servers = append(servers, server)
	}
	c.Overpass.Servers = servers
}

func (c *Config) normalizeEndpoints() {
	c.Wikidata.APIURL = strings.TrimSpace(c.Wikidata.APIURL)
	if c.Wikidata.APIURL == "" {
		c.Wikidata.APIURL = defaultWikidataAPIURL
	}
	c.Wikidata.EntityURL = strings.TrimRight(strings.TrimSpace(c.Wikidata.EntityURL), "/")
	if c.Wikidata.EntityURL == "" {
		c.Wikidata.EntityURL = defaultWikidataEntityURL
	}
	c.Wikidata.SPARQLURL = strings.TrimSpace(c.Wikidata.SPARQLURL)
	if c.Wikidata.SPARQLURL == "" {
		c.Wikidata.SPARQLURL = defaultWikidataSPARQLURL
	}
	c.OSM.APIBase = strings.TrimRight(strings.TrimSpace(c.OSM.APIBase), "/")
	if c.OSM.APIBase == "" {
		c.OSM.APIBase = defaultOSMAPIBase
	}
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch format {
	case "", "console", "text":
		c.Logging.Format = "console"
	case "json":
		c.Logging.Format = "json"
	default:
		c.Logging.Format = format
	}
	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = defaultLogLevel
	}
	c.Logging.Level = level
}
