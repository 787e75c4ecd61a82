package config

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateHTTP(); err != nil {
		return err
	}
	if err := c.validateOverpass(); err != nil {
		return err
	}
	if err := c.validateWikidata(); err != nil {
		return err
	}
	if err := c.validateResolution(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateHTTP() error {
	if c.HTTP.RequestDelayMS < 0 {
		return errors.New("http.request_delay_ms must not be negative")
	}
	if c.HTTP.RetryDelaySeconds < 0 {
		return errors.New("http.retry_delay_seconds must not be negative")
	}
	return ensurePositiveMap(map[string]int{
		"http.timeout_seconds":              c.HTTP.TimeoutSeconds,
		"http.max_retries":                  c.HTTP.MaxRetries,
		"overpass.query_timeout_seconds":    c.Overpass.QueryTimeoutSeconds,
		"overpass.geometry_timeout_seconds": c.Overpass.GeometryTimeoutSeconds,
		"wikidata.timeout_seconds":          c.Wikidata.TimeoutSeconds,
		"osm.timeout_seconds":               c.OSM.TimeoutSeconds,
	})
}

func (c *Config) validateOverpass() error {
	if len(c.Overpass.Servers) == 0 {
		return errors.New("overpass.servers must list at least one server")
	}
	seen := make(map[string]struct{}, len(c.Overpass.Servers))
	for _, server := range c.Overpass.Servers {
		if err := validateURL("overpass.servers["+server.Name+"].url", server.URL); err != nil {
			return err
		}
		if _, dup := seen[server.Name]; dup {
			return fmt.Errorf("overpass.servers: duplicate server name %q", server.Name)
		}
		seen[server.Name] = struct{}{}
	}
	return nil
}

func (c *Config) validateWikidata() error {
	if c.Wikidata.SearchLimit <= 0 || c.Wikidata.SearchLimit > 50 {
		return errors.New("wikidata.search_limit must be between 1 and 50")
	}
	for key, value := range map[string]string{
		"wikidata.api_url":    c.Wikidata.APIURL,
		"wikidata.entity_url": c.Wikidata.EntityURL,
		"wikidata.sparql_url": c.Wikidata.SPARQLURL,
		"osm.api_base":        c.OSM.APIBase,
	} {
		if err := validateURL(key, value); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateResolution() error {
	if c.Resolution.AuthorityBonus < 0 {
		return errors.New("resolution.authority_bonus must not be negative")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func validateURL(key, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("%s must be set", key)
	}
	parsed, err := url.Parse(value)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", key, value)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
