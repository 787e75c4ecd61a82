package resolver_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"circuitmap/internal/history"
	"circuitmap/internal/mappings"
	"circuitmap/internal/overpass"
	"circuitmap/internal/services"
)

var fixedNow = time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

type stubKB struct {
	mu         sync.Mutex
	ids        map[string][]string
	refs       map[string]int64
	searches    []string
	batchCalls  int
	batchErr    error
	singleCalls int
}

func (k *stubKB) FindIDs(_ context.Context, name string, _ int) ([]string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.searches = append(k.searches, name)
	ids := k.ids[name]
	if len(ids) == 0 {
		return nil, services.Wrap(services.ErrNotFoundInKnowledgeBase, "wikidata", "search", name, nil)
	}
	return ids, nil
}

func (k *stubKB) CrossReferenceBatch(_ context.Context, qids []string) (map[string]*int64, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.batchCalls++
	out := make(map[string]*int64, len(qids))
	if k.batchErr != nil {
		for _, qid := range qids {
			out[qid] = nil
		}
		return out, k.batchErr
	}
	for _, qid := range qids {
		if id, ok := k.refs[qid]; ok {
			out[qid] = &id
		} else {
			out[qid] = nil
		}
	}
	return out, nil
}

func (k *stubKB) CrossReference(_ context.Context, qid string) (*int64, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.singleCalls++
	id, ok := k.refs[qid]
	if !ok {
		return nil, nil
	}
	return &id, nil
}

func (k *stubKB) calls() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.searches) + k.batchCalls
}

type stubBackend struct {
	mu          sync.Mutex
	elements    map[int64]overpass.Element
	tags        map[string]overpass.TagMatch
	byName      map[string]overpass.Element
	elementErr  error
	elementHits int
	tagCalls    int
	nameCalls   int
}

func (b *stubBackend) Element(_ context.Context, id int64, kind string) (*overpass.Element, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.elementHits++
	if b.elementErr != nil {
		return nil, "", b.elementErr
	}
	el, ok := b.elements[id]
	if !ok || el.Type != kind {
		return nil, "", services.Wrap(services.ErrNotFoundInBackend, "overpass", "element", "missing", nil)
	}
	return &el, "stub-server", nil
}

func (b *stubBackend) FindByWikidataTags(_ context.Context, qids []string) (map[string]overpass.TagMatch, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tagCalls++
	out := make(map[string]overpass.TagMatch, len(qids))
	for _, qid := range qids {
		out[qid] = b.tags[qid]
	}
	return out, nil
}

func (b *stubBackend) FindByName(_ context.Context, name string) (*overpass.Element, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nameCalls++
	el, ok := b.byName[name]
	if !ok {
		return nil, "stub-server", services.Wrap(services.ErrNotFoundInBackend, "overpass", "find by name", name, nil)
	}
	return &el, "stub-server", nil
}

func (b *stubBackend) searchCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tagCalls + b.nameCalls
}

type stubVerifier struct {
	exists   bool
	versions map[int64]int
	checks   int
}

func (v *stubVerifier) Exists(context.Context, int64, string) bool {
	v.checks++
	return v.exists
}

func (v *stubVerifier) Version(_ context.Context, id int64, _ string) (int, bool) {
	version, ok := v.versions[id]
	return version, ok
}

type stubJournal struct {
	decisions []history.Decision
}

func (j *stubJournal) Append(_ context.Context, d history.Decision) (int64, error) {
	j.decisions = append(j.decisions, d)
	return int64(len(j.decisions)), nil
}

type failingStore struct {
	*mappings.Store
}

func (failingStore) Set(string, mappings.Update) (bool, error) {
	return false, services.Wrap(services.ErrStoreWriteFailed, "mappings", "set", "disk full", errors.New("ENOSPC"))
}

func openStore(t *testing.T) *mappings.Store {
	t.Helper()
	store, err := mappings.Open(filepath.Join(t.TempDir(), "circuit_mappings.json"), nil,
		mappings.WithClock(func() time.Time { return fixedNow }))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}

func relation(id int64, tags map[string]string) overpass.Element {
	return overpass.Element{ID: id, Type: overpass.KindRelation, Tags: tags}
}

func way(id int64, tags map[string]string) overpass.Element {
	return overpass.Element{ID: id, Type: overpass.KindWay, Tags: tags}
}
