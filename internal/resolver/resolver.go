package resolver

import (
	"context"
	"log/slog"

	"circuitmap/internal/history"
	"circuitmap/internal/logging"
	"circuitmap/internal/mappings"
	"circuitmap/internal/overpass"
)

const (
	defaultSearchLimit         = 5
	defaultNameSearchThreshold = 50
	defaultAuthorityBonus      = 20
	defaultMappingsName        = "circuit_mappings.json"
)

// KnowledgeBase is the subset of the Wikidata client the pipeline uses.
type KnowledgeBase interface {
	FindIDs(ctx context.Context, name string, limit int) ([]string, error)
	CrossReferenceBatch(ctx context.Context, qids []string) (map[string]*int64, error)
	CrossReference(ctx context.Context, qid string) (*int64, error)
}

// Backend is the subset of the Overpass client the pipeline uses.
type Backend interface {
	Element(ctx context.Context, id int64, kind string) (*overpass.Element, string, error)
	FindByWikidataTags(ctx context.Context, qids []string) (map[string]overpass.TagMatch, error)
	FindByName(ctx context.Context, name string) (*overpass.Element, string, error)
}

// Verifier checks cached mappings against the OSM API.
type Verifier interface {
	Exists(ctx context.Context, id int64, kind string) bool
	Version(ctx context.Context, id int64, kind string) (int, bool)
}

// Store persists resolution decisions.
type Store interface {
	Get(name string) (mappings.Record, bool)
	Set(name string, update mappings.Update) (bool, error)
	UpdateVersion(name string, version int) error
}

// Journal records every decision for later review.
type Journal interface {
	Append(ctx context.Context, d history.Decision) (int64, error)
}

// Outcome is a resolved OSM element. A nil *Outcome means the circuit could
// not be resolved.
type Outcome struct {
	OSMID      int64
	OSMType    string
	Method     string
	WikidataID string
}

// Ref renders the element as "<type>/<id>".
func (o Outcome) Ref() string {
	return elementRef(o.OSMType, o.OSMID)
}

// Resolver maps circuit names to OSM elements.
type Resolver struct {
	kb       KnowledgeBase
	backend  Backend
	verifier Verifier
	store    Store
	journal  Journal
	logger   *slog.Logger

	searchLimit         int
	nameSearchThreshold int
	authorityBonus      int
	mappingsName        string
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithJournal records decisions in j.
func WithJournal(j Journal) Option {
	return func(r *Resolver) {
		r.journal = j
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logging.NewComponentLogger(logger, "resolver")
	}
}

// WithSearchLimit caps Wikidata hits per search name.
func WithSearchLimit(limit int) Option {
	return func(r *Resolver) {
		if limit > 0 {
			r.searchLimit = limit
		}
	}
}

// WithNameSearchThreshold sets the best-score ceiling under which the
// fallback name search runs when no candidate came from the circuit name.
func WithNameSearchThreshold(threshold int) Option {
	return func(r *Resolver) {
		r.nameSearchThreshold = threshold
	}
}

// WithAuthorityBonus sets the score bonus for P402 candidates.
func WithAuthorityBonus(bonus int) Option {
	return func(r *Resolver) {
		r.authorityBonus = bonus
	}
}

// WithMappingsName sets the mapping file name quoted in operator guidance.
func WithMappingsName(name string) Option {
	return func(r *Resolver) {
		if name != "" {
			r.mappingsName = name
		}
	}
}

// New wires a resolver. The journal is optional.
func New(kb KnowledgeBase, backend Backend, verifier Verifier, store Store, opts ...Option) *Resolver {
	r := &Resolver{
		kb:                  kb,
		backend:             backend,
		verifier:            verifier,
		store:               store,
		logger:              logging.NewComponentLogger(nil, "resolver"),
		searchLimit:         defaultSearchLimit,
		nameSearchThreshold: defaultNameSearchThreshold,
		authorityBonus:      defaultAuthorityBonus,
		mappingsName:        defaultMappingsName,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}
