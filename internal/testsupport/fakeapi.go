package testsupport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"

	"circuitmap/internal/overpass"
)

// Paths served by FakeAPI.
const (
	OverpassPath       = "/api/interpreter"
	WikidataAPIPath    = "/w/api.php"
	WikidataEntityPath = "/wiki/Special:EntityData"
	SPARQLPath         = "/sparql"
	OSMAPIPath         = "/api/0.6"
)

// SearchHit is one Wikidata search result.
type SearchHit struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// FakeAPI serves canned Overpass, Wikidata, and OSM API responses from one
// httptest server.
type FakeAPI struct {
	server *httptest.Server

	mu       sync.Mutex
	search   map[string][]SearchHit
	p402     map[string]int64
	elements map[string]overpass.Element
	tagged   map[string][]overpass.Element
	named    map[string][]overpass.Element
	versions map[string]int
	queries  []string
}

var (
	elementQuery  = regexp.MustCompile(`(relation|way|node)\((\d+)\);out geom;`)
	wikidataTag   = regexp.MustCompile(`\["wikidata"="([^"]+)"\]`)
	nameFilter    = regexp.MustCompile(`\["name"~"((?:[^"\\]|\\.)*)",i\]`)
	sparqlValue   = regexp.MustCompile(`wd:(Q\d+)`)
	osmAPIElement = regexp.MustCompile(`^/(relation|way|node)/(\d+)(\.json)?$`)
)

// NewFakeAPI starts a fake closed at test cleanup.
func NewFakeAPI(t testing.TB) *FakeAPI {
	t.Helper()
	api := &FakeAPI{
		search:   make(map[string][]SearchHit),
		p402:     make(map[string]int64),
		elements: make(map[string]overpass.Element),
		tagged:   make(map[string][]overpass.Element),
		named:    make(map[string][]overpass.Element),
		versions: make(map[string]int),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(OverpassPath, api.handleOverpass)
	mux.HandleFunc(WikidataAPIPath, api.handleSearch)
	mux.HandleFunc(SPARQLPath, api.handleSPARQL)
	mux.HandleFunc(OSMAPIPath+"/", api.handleOSM)
	api.server = httptest.NewServer(mux)
	t.Cleanup(api.server.Close)
	return api
}

// URL returns the server base URL.
func (a *FakeAPI) URL() string {
	return a.server.URL
}

// AddSearch registers Wikidata search hits for a name.
func (a *FakeAPI) AddSearch(name string, hits ...SearchHit) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.search[name] = append(a.search[name], hits...)
}

// SetP402 registers the OSM relation cross-reference of an entity.
func (a *FakeAPI) SetP402(qid string, relationID int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.p402[qid] = relationID
}

// AddElement registers an element with the given version. The element is
// served by id queries, existence checks, and version lookups.
func (a *FakeAPI) AddElement(el overpass.Element, version int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.elements[el.Ref()] = el
	a.versions[el.Ref()] = version
}

// TagElement makes el match a wikidata=<qid> tag query.
func (a *FakeAPI) TagElement(qid string, el overpass.Element) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if el.Tags == nil {
		el.Tags = map[string]string{}
	}
	el.Tags["wikidata"] = qid
	a.tagged[qid] = append(a.tagged[qid], el)
}

// NameElement makes el match a name search for name.
func (a *FakeAPI) NameElement(name string, el overpass.Element) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.named[name] = append(a.named[name], el)
}

// Queries returns every Overpass query received so far.
func (a *FakeAPI) Queries() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.queries...)
}

func (a *FakeAPI) handleOverpass(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	query := r.PostForm.Get("data")

	a.mu.Lock()
	a.queries = append(a.queries, query)
	var elements []overpass.Element
	switch {
	case elementQuery.MatchString(query):
		m := elementQuery.FindStringSubmatch(query)
		if el, ok := a.elements[m[1]+"/"+m[2]]; ok {
			elements = append(elements, el)
		}
	case wikidataTag.MatchString(query):
		seen := make(map[string]bool)
		for _, m := range wikidataTag.FindAllStringSubmatch(query, -1) {
			if !seen[m[1]] {
				seen[m[1]] = true
				elements = append(elements, a.tagged[m[1]]...)
			}
		}
	case nameFilter.MatchString(query):
		name := nameFilter.FindStringSubmatch(query)[1]
		elements = append(elements, a.named[unescapeName(name)]...)
	}
	a.mu.Unlock()

	writeJSON(w, overpass.Response{Version: 0.6, Generator: "fake", Elements: elementsOrEmpty(elements)})
}

func (a *FakeAPI) handleSearch(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("search")
	a.mu.Lock()
	hits := append([]SearchHit(nil), a.search[name]...)
	a.mu.Unlock()
	if hits == nil {
		hits = []SearchHit{}
	}
	writeJSON(w, map[string]any{"search": hits})
}

func (a *FakeAPI) handleSPARQL(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	a.mu.Lock()
	bindings := []map[string]map[string]string{}
	for _, m := range sparqlValue.FindAllStringSubmatch(query, -1) {
		binding := map[string]map[string]string{
			"item": {"type": "uri", "value": "http://www.wikidata.org/entity/" + m[1]},
		}
		if id, ok := a.p402[m[1]]; ok {
			binding["osmRelation"] = map[string]string{"type": "literal", "value": strconv.FormatInt(id, 10)}
		}
		bindings = append(bindings, binding)
	}
	a.mu.Unlock()
	writeJSON(w, map[string]any{"results": map[string]any{"bindings": bindings}})
}

func (a *FakeAPI) handleOSM(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, OSMAPIPath)
	if path == "/capabilities" {
		w.WriteHeader(http.StatusOK)
		return
	}
	m := osmAPIElement.FindStringSubmatch(path)
	if m == nil {
		http.NotFound(w, r)
		return
	}
	ref := m[1] + "/" + m[2]
	a.mu.Lock()
	_, exists := a.elements[ref]
	version := a.versions[ref]
	a.mu.Unlock()
	if !exists {
		http.NotFound(w, r)
		return
	}
	if m[3] == "" {
		w.WriteHeader(http.StatusOK)
		return
	}
	writeJSON(w, map[string]any{"elements": []map[string]any{{"type": m[1], "id": m[2], "version": version}}})
}

func unescapeName(pattern string) string {
	var b strings.Builder
	for i := 0; i < len(pattern); i++ {
		if pattern[i] == '\\' && i+1 < len(pattern) {
			i++
		}
		b.WriteByte(pattern[i])
	}
	return b.String()
}

func elementsOrEmpty(elements []overpass.Element) []overpass.Element {
	if elements == nil {
		return []overpass.Element{}
	}
	return elements
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, fmt.Sprintf("encode: %v", err), http.StatusInternalServerError)
	}
}
