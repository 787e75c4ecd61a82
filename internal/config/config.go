package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains file and directory locations.
type Paths struct {
	OutputDir    string `toml:"output_dir"`
	LogDir       string `toml:"log_dir"`
	MappingsFile string `toml:"mappings_file"`
	CircuitsFile string `toml:"circuits_file"`
	HistoryDB    string `toml:"history_db"`
}

// HTTP contains settings shared by every outbound client.
type HTTP struct {
	UserAgent         string `toml:"user_agent"`
	RequestDelayMS    int    `toml:"request_delay_ms"`
	TimeoutSeconds    int    `toml:"timeout_seconds"`
	MaxRetries        int    `toml:"max_retries"`
	RetryDelaySeconds int    `toml:"retry_delay_seconds"`
}

// OverpassServer names one interchangeable Overpass interpreter endpoint.
type OverpassServer struct {
	Name string `toml:"name"`
	URL  string `toml:"url"`
}

// Overpass contains the failover server list and query timeouts.
type Overpass struct {
	Servers                []OverpassServer `toml:"servers"`
	QueryTimeoutSeconds    int              `toml:"query_timeout_seconds"`
	GeometryTimeoutSeconds int              `toml:"geometry_timeout_seconds"`
}

// Wikidata contains knowledge-base endpoints.
type Wikidata struct {
	APIURL         string `toml:"api_url"`
	EntityURL      string `toml:"entity_url"`
	SPARQLURL      string `toml:"sparql_url"`
	SearchLimit    int    `toml:"search_limit"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// OSM contains settings for the OpenStreetMap editing API used for
// existence and version checks.
type OSM struct {
	APIBase        string `toml:"api_base"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Resolution contains tunables for the resolution pipeline.
type Resolution struct {
	// VerifyFailOpen keeps cached IDs when the existence check hits a network
	// error. Default: true
	VerifyFailOpen bool `toml:"verify_fail_open"`
	// NameSearchThreshold is the best candidate score below which the
	// fallback name search runs when no candidate came from the circuit name.
	NameSearchThreshold int `toml:"name_search_threshold"`
	// AuthorityBonus is added to the score of P402 cross-reference candidates.
	AuthorityBonus int `toml:"authority_bonus"`
}

// History contains configuration for the SQLite decision journal.
type History struct {
	Enabled bool `toml:"enabled"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for circuitmap.
//
// Configuration sections by subsystem:
//   - Paths: output, log, mapping store, circuit list, and journal locations
//   - HTTP: user agent, rate limit, timeouts, and retry policy
//   - Overpass: failover server list and geometry timeout
//   - Wikidata: search, entity, and SPARQL endpoints
//   - OSM: existence and version check API
//   - Resolution: scoring thresholds and verification policy
//   - History: decision journal toggle
//   - Logging: log format and level
type Config struct {
	Paths      Paths      `toml:"paths"`
	HTTP       HTTP       `toml:"http"`
	Overpass   Overpass   `toml:"overpass"`
	Wikidata   Wikidata   `toml:"wikidata"`
	OSM        OSM        `toml:"osm"`
	Resolution Resolution `toml:"resolution"`
	History    History    `toml:"history"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/circuitmap/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("circuitmap.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the output and log directories plus the parent
// directories of the mapping store and journal.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.OutputDir, c.Paths.LogDir, filepath.Dir(c.Paths.MappingsFile)}
	if c.History.Enabled && strings.TrimSpace(c.Paths.HistoryDB) != "" {
		dirs = append(dirs, filepath.Dir(c.Paths.HistoryDB))
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// RequestDelay returns the minimum spacing between requests to one backend.
func (c *Config) RequestDelay() time.Duration {
	return time.Duration(c.HTTP.RequestDelayMS) * time.Millisecond
}

// RequestTimeout returns the default per-request timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// RetryDelay returns the base delay used for escalating Overpass backoff.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.HTTP.RetryDelaySeconds) * time.Second
}

// QueryTimeout returns the default timeout for ordinary Overpass queries.
func (c *Config) QueryTimeout() time.Duration {
	return time.Duration(c.Overpass.QueryTimeoutSeconds) * time.Second
}

// GeometryTimeout returns the timeout used for heavy geometry and
// recursive-descent queries.
func (c *Config) GeometryTimeout() time.Duration {
	return time.Duration(c.Overpass.GeometryTimeoutSeconds) * time.Second
}

// WikidataTimeout returns the per-request timeout for knowledge-base calls.
func (c *Config) WikidataTimeout() time.Duration {
	return time.Duration(c.Wikidata.TimeoutSeconds) * time.Second
}

// OSMTimeout returns the per-request timeout for existence and version checks.
func (c *Config) OSMTimeout() time.Duration {
	return time.Duration(c.OSM.TimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
