package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"circuitmap/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Request spacing and retry delays are zeroed so tests never sleep.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.OutputDir = filepath.Join(base, "tracks")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.MappingsFile = filepath.Join(base, "state", "circuit_mappings.json")
	cfgVal.Paths.CircuitsFile = filepath.Join(base, "circuits.yaml")
	cfgVal.Paths.HistoryDB = filepath.Join(base, "state", "history.db")
	cfgVal.HTTP.RequestDelayMS = 0
	cfgVal.HTTP.RetryDelaySeconds = 0
	cfgVal.HTTP.MaxRetries = 1
	cfgVal.Logging.Level = "error"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithFakeAPI points every endpoint at api.
func WithFakeAPI(api *FakeAPI) ConfigOption {
	return func(b *configBuilder) {
		base := api.URL()
		b.cfg.Overpass.Servers = []config.OverpassServer{{Name: "fake", URL: base + OverpassPath}}
		b.cfg.Wikidata.APIURL = base + WikidataAPIPath
		b.cfg.Wikidata.EntityURL = base + WikidataEntityPath
		b.cfg.Wikidata.SPARQLURL = base + SPARQLPath
		b.cfg.OSM.APIBase = base + OSMAPIPath
	}
}

// WithHistory toggles the decision journal.
func WithHistory(enabled bool) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.History.Enabled = enabled
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.OutputDir)
}

// WriteConfig encodes cfg as TOML at path.
func WriteConfig(t testing.TB, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}
