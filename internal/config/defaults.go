package config

const (
	defaultOutputDir              = "tracks_geojson"
	defaultLogDir                 = "logs"
	defaultMappingsFile           = "circuit_mappings.json"
	defaultCircuitsFile           = "circuits.yaml"
	defaultHistoryDB              = "~/.local/share/circuitmap/history.db"
	defaultUserAgent              = "circuitmap/1.0"
	defaultRequestDelayMS         = 1000
	defaultTimeoutSeconds         = 30
	defaultMaxRetries             = 3
	defaultRetryDelaySeconds      = 5
	defaultQueryTimeoutSeconds    = 30
	defaultGeometryTimeoutSeconds = 90
	defaultWikidataAPIURL         = "https://www.wikidata.org/w/api.php"
	defaultWikidataEntityURL      = "https://www.wikidata.org/wiki/Special:EntityData"
	defaultWikidataSPARQLURL      = "https://query.wikidata.org/sparql"
	defaultWikidataSearchLimit    = 5
	defaultWikidataTimeoutSeconds = 15
	defaultOSMAPIBase             = "https://www.openstreetmap.org/api/0.6"
	defaultOSMTimeoutSeconds      = 10
	defaultNameSearchThreshold    = 50
	defaultAuthorityBonus         = 20
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
)

// DefaultOverpassServers returns the public Overpass interpreters in failover order.
func DefaultOverpassServers() []OverpassServer {
	return []OverpassServer{
		{Name: "overpass-api.de", URL: "https://overpass-api.de/api/interpreter"},
		{Name: "kumi.systems", URL: "https://overpass.kumi.systems/api/interpreter"},
		{Name: "mail.ru", URL: "https://maps.mail.ru/osm/tools/overpass/api/interpreter"},
		{Name: "private.coffee", URL: "https://overpass.private.coffee/api/interpreter"},
		{Name: "osm.jp", URL: "https://overpass.osm.jp/api/interpreter"},
	}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			OutputDir:    defaultOutputDir,
			LogDir:       defaultLogDir,
			MappingsFile: defaultMappingsFile,
			CircuitsFile: defaultCircuitsFile,
			HistoryDB:    defaultHistoryDB,
		},
		HTTP: HTTP{
			UserAgent:         defaultUserAgent,
			RequestDelayMS:    defaultRequestDelayMS,
			TimeoutSeconds:    defaultTimeoutSeconds,
			MaxRetries:        defaultMaxRetries,
			RetryDelaySeconds: defaultRetryDelaySeconds,
		},
		Overpass: Overpass{
			Servers:                DefaultOverpassServers(),
			QueryTimeoutSeconds:    defaultQueryTimeoutSeconds,
			GeometryTimeoutSeconds: defaultGeometryTimeoutSeconds,
		},
		Wikidata: Wikidata{
			APIURL:         defaultWikidataAPIURL,
			EntityURL:      defaultWikidataEntityURL,
			SPARQLURL:      defaultWikidataSPARQLURL,
			SearchLimit:    defaultWikidataSearchLimit,
			TimeoutSeconds: defaultWikidataTimeoutSeconds,
		},
		OSM: OSM{
			APIBase:        defaultOSMAPIBase,
			TimeoutSeconds: defaultOSMTimeoutSeconds,
		},
		Resolution: Resolution{
			VerifyFailOpen:      true,
			NameSearchThreshold: defaultNameSearchThreshold,
			AuthorityBonus:      defaultAuthorityBonus,
		},
		History: History{
			Enabled: true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
