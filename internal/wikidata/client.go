package wikidata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"circuitmap/internal/logging"
	"circuitmap/internal/ratelimit"
	"circuitmap/internal/services"
)

const (
	defaultAPIURL    = "https://www.wikidata.org/w/api.php"
	defaultEntityURL = "https://www.wikidata.org/wiki/Special:EntityData"
	defaultSPARQLURL = "https://query.wikidata.org/sparql"

	// PropertyOSMRelation is the Wikidata property holding an OSM relation ID.
	PropertyOSMRelation = "P402"
)

var (
	circuitKeywords = []string{"circuit", "track", "raceway", "motorsport", "racing"}
	formulaKeywords = []string{"formula", "f1"}
)

// Endpoints groups the three Wikidata services the client talks to.
type Endpoints struct {
	API    string
	Entity string
	SPARQL string
}

// Client searches Wikidata entities and resolves their OSM cross-references.
type Client struct {
	endpoints  Endpoints
	userAgent  string
	httpClient *http.Client
	throttle   *ratelimit.Throttle
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithUserAgent sets the User-Agent header. Wikimedia rejects anonymous
// clients, so callers should always set one.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = strings.TrimSpace(ua)
	}
}

// WithThrottle rate limits every request through t.
func WithThrottle(t *ratelimit.Throttle) Option {
	return func(c *Client) {
		c.throttle = t
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logging.NewComponentLogger(logger, "wikidata")
	}
}

// New creates a Wikidata client. Empty endpoints fall back to the public
// Wikidata services.
func New(endpoints Endpoints, timeout time.Duration, opts ...Option) *Client {
	if strings.TrimSpace(endpoints.API) == "" {
		endpoints.API = defaultAPIURL
	}
	if strings.TrimSpace(endpoints.Entity) == "" {
		endpoints.Entity = defaultEntityURL
	}
	if strings.TrimSpace(endpoints.SPARQL) == "" {
		endpoints.SPARQL = defaultSPARQLURL
	}
	endpoints.Entity = strings.TrimRight(endpoints.Entity, "/")
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := &Client{
		endpoints:  endpoints,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.NewComponentLogger(nil, "wikidata"),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type searchResponse struct {
	Search []struct {
		ID          string `json:"id"`
		Label       string `json:"label"`
		Description string `json:"description"`
	} `json:"search"`
}

// FindIDs searches entities by free text and returns their IDs, circuit-like
// descriptions first. Results are re-ranked, never filtered, and equal ranks
// keep Wikidata's order. No hits yields a services.ErrNotFoundInKnowledgeBase
// error.
func (c *Client) FindIDs(ctx context.Context, name string, limit int) ([]string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("wikidata: search name must not be empty")
	}
	if limit <= 0 {
		limit = 5
	}
	params := url.Values{}
	params.Set("action", "wbsearchentities")
	params.Set("search", name)
	params.Set("language", "en")
	params.Set("format", "json")
	params.Set("limit", strconv.Itoa(limit))

	var payload searchResponse
	if err := c.getJSON(ctx, c.endpoints.API, params, &payload); err != nil {
		return nil, services.Wrap(services.ErrBackendError, "wikidata", "search", name, err)
	}

	type ranked struct {
		id    string
		bonus int
	}
	results := make([]ranked, 0, len(payload.Search))
	for _, hit := range payload.Search {
		if strings.TrimSpace(hit.ID) == "" {
			continue
		}
		results = append(results, ranked{id: hit.ID, bonus: DescriptionBonus(hit.Description)})
	}
	if len(results) == 0 {
		return nil, services.Wrap(services.ErrNotFoundInKnowledgeBase, "wikidata", "search",
			fmt.Sprintf("no entities for %q", name), nil)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].bonus > results[j].bonus
	})

	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.id)
	}
	return ids, nil
}

// DescriptionBonus rates an entity description: +10 for motorsport venue
// wording, +5 more for Formula One wording.
func DescriptionBonus(description string) int {
	desc := strings.ToLower(description)
	bonus := 0
	for _, kw := range circuitKeywords {
		if strings.Contains(desc, kw) {
			bonus += 10
			break
		}
	}
	for _, kw := range formulaKeywords {
		if strings.Contains(desc, kw) {
			bonus += 5
			break
		}
	}
	return bonus
}

type sparqlResponse struct {
	Results struct {
		Bindings []map[string]struct {
			Type  string `json:"type"`
			Value string `json:"value"`
		} `json:"bindings"`
	} `json:"results"`
}

// CrossReferenceBatch resolves the OSM relation ID (P402) for many entities
// in one SPARQL request. Every input ID is a key of the result; entities
// without the property, malformed bindings, and a failed request all map to
// nil. The error reports request-level failures only.
func (c *Client) CrossReferenceBatch(ctx context.Context, qids []string) (map[string]*int64, error) {
	results := make(map[string]*int64, len(qids))
	values := make([]string, 0, len(qids))
	for _, qid := range qids {
		if _, seen := results[qid]; seen {
			continue
		}
		results[qid] = nil
		if isQID(qid) {
			values = append(values, "wd:"+qid)
		}
	}
	if len(values) == 0 {
		return results, nil
	}

	query := fmt.Sprintf(`SELECT ?item ?osmRelation WHERE {
  VALUES ?item { %s }
  OPTIONAL { ?item wdt:%s ?osmRelation. }
}`, strings.Join(values, " "), PropertyOSMRelation)
	params := url.Values{}
	params.Set("query", query)
	params.Set("format", "json")

	var payload sparqlResponse
	if err := c.getJSON(ctx, c.endpoints.SPARQL, params, &payload); err != nil {
		logging.WithContext(ctx, c.logger).Debug("sparql batch query failed", logging.Error(err))
		return results, services.Wrap(services.ErrBackendError, "wikidata", "cross reference batch", "", err)
	}

	for _, binding := range payload.Results.Bindings {
		item, ok := binding["item"]
		if !ok {
			continue
		}
		qid := item.Value[strings.LastIndex(item.Value, "/")+1:]
		current, wanted := results[qid]
		if !wanted || current != nil {
			continue
		}
		rel, ok := binding["osmRelation"]
		if !ok {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSpace(rel.Value), 10, 64)
		if err != nil || id <= 0 {
			logging.WithContext(ctx, c.logger).Debug("ignoring malformed P402 binding",
				logging.String("wikidata_id", qid),
				logging.String("value", rel.Value))
			continue
		}
		results[qid] = &id
	}
	return results, nil
}

type entityResponse struct {
	Entities map[string]struct {
		Claims map[string][]struct {
			Mainsnak struct {
				Datavalue struct {
					Value json.RawMessage `json:"value"`
				} `json:"datavalue"`
			} `json:"mainsnak"`
		} `json:"claims"`
	} `json:"entities"`
}

// CrossReference resolves the OSM relation ID (P402) of a single entity from
// its entity data document. A nil ID with a nil error means the entity has no
// such claim.
func (c *Client) CrossReference(ctx context.Context, qid string) (*int64, error) {
	if !isQID(qid) {
		return nil, fmt.Errorf("wikidata: invalid entity id %q", qid)
	}
	var payload entityResponse
	if err := c.getJSON(ctx, c.endpoints.Entity+"/"+qid+".json", nil, &payload); err != nil {
		return nil, services.Wrap(services.ErrBackendError, "wikidata", "cross reference", qid, err)
	}
	entity, ok := payload.Entities[qid]
	if !ok {
		return nil, services.Wrap(services.ErrNotFoundInKnowledgeBase, "wikidata", "cross reference", qid, nil)
	}
	claims := entity.Claims[PropertyOSMRelation]
	if len(claims) == 0 {
		return nil, nil
	}
	raw := claims[0].Mainsnak.Datavalue.Value
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return nil, fmt.Errorf("wikidata: decode %s value for %s: %w", PropertyOSMRelation, qid, err)
	}
	id, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("wikidata: parse %s value %q for %s: %w", PropertyOSMRelation, text, qid, err)
	}
	return &id, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, params url.Values, target any) error {
	if err := c.throttle.Wait(ctx); err != nil {
		return err
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if len(params) > 0 {
		parsed.RawQuery = params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	requestStart := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(requestStart)
	if err != nil {
		return fmt.Errorf("execute request (latency=%v): %w", latency, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: wikidata returned 429 (latency=%v)", services.ErrRateLimited, latency)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("wikidata returned %d (latency=%v)", resp.StatusCode, latency)
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode wikidata response: %w", err)
	}
	return nil
}

func isQID(value string) bool {
	if len(value) < 2 || value[0] != 'Q' {
		return false
	}
	for _, r := range value[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
