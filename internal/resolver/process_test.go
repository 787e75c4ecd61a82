package resolver_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"circuitmap/internal/circuit"
	"circuitmap/internal/mappings"
	"circuitmap/internal/overpass"
	"circuitmap/internal/resolver"
	"circuitmap/internal/services"
)

func trackRelation() overpass.Element {
	return overpass.Element{
		ID:   555,
		Type: overpass.KindRelation,
		Tags: map[string]string{"type": "circuit"},
		Members: []overpass.Member{
			{Type: "way", Ref: 1, Role: "", Geometry: []overpass.Point{{Lat: 1, Lon: 2}, {Lat: 3, Lon: 4}}},
		},
	}
}

func newProcessFixture(t *testing.T, el overpass.Element) (*resolver.Resolver, *mappings.Store, *stubBackend, *stubVerifier) {
	t.Helper()
	store := openStore(t)
	kb := &stubKB{ids: map[string][]string{"Example Circuit": {"Q1"}}, refs: map[string]int64{"Q1": el.ID}}
	backend := &stubBackend{elements: map[int64]overpass.Element{el.ID: el}}
	verifier := &stubVerifier{exists: true, versions: map[int64]int{el.ID: 4}}
	return resolver.New(kb, backend, verifier, store), store, backend, verifier
}

func TestProcessSavesTrack(t *testing.T) {
	r, store, _, _ := newProcessFixture(t, trackRelation())
	dir := t.TempDir()

	res, err := r.Process(context.Background(), circuit.Circuit{Name: "Example Circuit"}, resolver.ProcessOptions{OutputDir: dir})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != resolver.StatusSaved {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Message != "Saved via Wikidata P402 (OSM relation: 555, server: stub-server)" {
		t.Fatalf("unexpected message %q", res.Message)
	}
	data, err := os.ReadFile(filepath.Join(dir, "Example_Circuit.geojson"))
	if err != nil {
		t.Fatalf("track not written: %v", err)
	}
	var doc struct {
		Type     string            `json:"type"`
		Features []json.RawMessage `json:"features"`
	}
	if err := json.Unmarshal(data, &doc); err != nil || doc.Type != "FeatureCollection" || len(doc.Features) != 1 {
		t.Fatalf("unexpected output %s (err=%v)", data, err)
	}
	rec, _ := store.Get("Example Circuit")
	if rec.Version() != 4 {
		t.Fatalf("expected version 4 stored, got %+v", rec)
	}
}

func TestProcessSkipsExistingFile(t *testing.T) {
	r, _, backend, _ := newProcessFixture(t, trackRelation())
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Example_Circuit.geojson"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	res, err := r.Process(context.Background(), circuit.Circuit{Name: "Example Circuit"}, resolver.ProcessOptions{OutputDir: dir})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != resolver.StatusSkipped || res.Message != "Already exists" {
		t.Fatalf("unexpected result %+v", res)
	}
	if backend.elementHits != 0 {
		t.Fatal("skipped circuits must not touch the backend")
	}
}

func TestProcessCheckUpdate(t *testing.T) {
	r, store, _, verifier := newProcessFixture(t, trackRelation())
	dir := t.TempDir()
	ctx := context.Background()
	c := circuit.Circuit{Name: "Example Circuit"}

	if res, err := r.Process(ctx, c, resolver.ProcessOptions{OutputDir: dir}); err != nil || res.Status != resolver.StatusSaved {
		t.Fatalf("initial export failed: %+v err=%v", res, err)
	}

	res, err := r.Process(ctx, c, resolver.ProcessOptions{OutputDir: dir, CheckUpdate: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != resolver.StatusSkipped || res.Message != "Up to date (v4)" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Outcome == nil || !strings.HasPrefix(res.Outcome.Method, "cache (") {
		t.Fatalf("expected cached outcome, got %+v", res.Outcome)
	}

	verifier.versions[555] = 6
	res, err = r.Process(ctx, c, resolver.ProcessOptions{OutputDir: dir, CheckUpdate: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != resolver.StatusSaved || res.Message != "Saved via cache (P402) (OSM relation: 555, server: stub-server)" {
		t.Fatalf("unexpected result %+v", res)
	}
	if rec, _ := store.Get(c.Name); rec.Version() != 6 {
		t.Fatalf("expected version 6, got %d", rec.Version())
	}
}

func TestProcessFailureMessages(t *testing.T) {
	ctx := context.Background()

	t.Run("known absent", func(t *testing.T) {
		store := openStore(t)
		if err := store.Pin("Gone", mappings.Record{}); err != nil {
			t.Fatal(err)
		}
		r := resolver.New(&stubKB{}, &stubBackend{}, &stubVerifier{}, store)
		res, _ := r.Process(ctx, circuit.Circuit{Name: "Gone"}, resolver.ProcessOptions{OutputDir: t.TempDir()})
		if res.Status != resolver.StatusFailed || !strings.HasPrefix(res.Message, "The race track may no longer exist.") {
			t.Fatalf("unexpected result %+v", res)
		}
		if !strings.Contains(res.Message, "circuit_mappings.json") {
			t.Fatalf("message should name the mapping file: %q", res.Message)
		}
		if services.Classify(res.Cause) != services.SeverityReview {
			t.Fatalf("expected review severity, got %v", res.Cause)
		}
	})

	t.Run("wikidata only", func(t *testing.T) {
		kb := &stubKB{ids: map[string][]string{"Ghost": {"Q77"}}}
		r := resolver.New(kb, &stubBackend{}, &stubVerifier{}, openStore(t))
		res, _ := r.Process(ctx, circuit.Circuit{Name: "Ghost"}, resolver.ProcessOptions{OutputDir: t.TempDir()})
		if !strings.HasPrefix(res.Message, "Not found in OpenStreetMap\n       Wikidata: Q77") ||
			!strings.Contains(res.Message, "https://www.wikidata.org/wiki/Q77") {
			t.Fatalf("unexpected message %q", res.Message)
		}
		if !errors.Is(res.Cause, services.ErrNotFoundInBackend) {
			t.Fatalf("expected not-found-in-backend cause, got %v", res.Cause)
		}
	})

	t.Run("nowhere", func(t *testing.T) {
		r := resolver.New(&stubKB{}, &stubBackend{}, &stubVerifier{}, openStore(t), resolver.WithMappingsName("m.json"))
		res, _ := r.Process(ctx, circuit.Circuit{Name: "Nowhere"}, resolver.ProcessOptions{OutputDir: t.TempDir()})
		if !strings.HasPrefix(res.Message, "Not found in Wikidata or OSM") ||
			!strings.Contains(res.Message, `"Nowhere": {"osm_id": 12345, "osm_type": "way", "manual": true}`) ||
			!strings.Contains(res.Message, "Add OSM ID to m.json:") {
			t.Fatalf("unexpected message %q", res.Message)
		}
		if !errors.Is(res.Cause, services.ErrNotFoundInKnowledgeBase) {
			t.Fatalf("expected not-found-in-knowledge-base cause, got %v", res.Cause)
		}
	})

	t.Run("geometry unavailable", func(t *testing.T) {
		r, _, backend, _ := newProcessFixture(t, trackRelation())
		backend.elementErr = services.Wrap(services.ErrBackendUnavailable, "overpass", "query", "all servers failed", errors.New("504"))
		res, err := r.Process(ctx, circuit.Circuit{Name: "Example Circuit"}, resolver.ProcessOptions{OutputDir: t.TempDir()})
		if err != nil {
			t.Fatal(err)
		}
		if res.Status != resolver.StatusFailed || !strings.HasPrefix(res.Message, "Failed to get geometry from Overpass API\n       OSM relation: 555") {
			t.Fatalf("unexpected result %+v", res)
		}
		if services.Classify(res.Cause) != services.SeverityRetryable {
			t.Fatalf("expected retryable severity, got %v", res.Cause)
		}
	})

	t.Run("no geometry", func(t *testing.T) {
		el := relation(555, map[string]string{"type": "circuit"})
		r, _, _, _ := newProcessFixture(t, el)
		dir := t.TempDir()
		res, _ := r.Process(ctx, circuit.Circuit{Name: "Example Circuit"}, resolver.ProcessOptions{OutputDir: dir})
		if res.Status != resolver.StatusFailed || !strings.HasPrefix(res.Message, "OSM relation has no geometry") {
			t.Fatalf("unexpected result %+v", res)
		}
		if _, err := os.Stat(filepath.Join(dir, "Example_Circuit.geojson")); !os.IsNotExist(err) {
			t.Fatal("no file should be written for an empty geometry")
		}
	})
}

func TestRefreshVersion(t *testing.T) {
	store := openStore(t)
	if _, err := store.Set("Monza", mappings.Update{OSMID: 8, OSMType: "way", Method: mappings.MethodNameSearch}); err != nil {
		t.Fatal(err)
	}
	if err := store.Pin("Gone", mappings.Record{}); err != nil {
		t.Fatal(err)
	}
	r := resolver.New(&stubKB{}, &stubBackend{}, &stubVerifier{versions: map[int64]int{8: 12}}, store)
	ctx := context.Background()

	v, err := r.RefreshVersion(ctx, "Monza")
	if err != nil || v != 12 {
		t.Fatalf("unexpected refresh result %d err=%v", v, err)
	}
	if rec, _ := store.Get("Monza"); rec.Version() != 12 {
		t.Fatalf("version not persisted: %+v", rec)
	}
	if _, err := r.RefreshVersion(ctx, "Gone"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for absent element, got %v", err)
	}
	if _, err := r.RefreshVersion(ctx, "Missing"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for unknown circuit, got %v", err)
	}
}

func TestProcessNamesNameSearchPath(t *testing.T) {
	el := trackRelation()
	el.ID = 777
	store := openStore(t)
	kb := &stubKB{}
	backend := &stubBackend{
		elements: map[int64]overpass.Element{777: el},
		byName:   map[string]overpass.Element{"Example Circuit": el},
	}
	r := resolver.New(kb, backend, &stubVerifier{exists: true}, store)

	res, err := r.Process(context.Background(), circuit.Circuit{Name: "Example Circuit"}, resolver.ProcessOptions{OutputDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if res.Message != "Saved via Overpass name search (OSM relation: 777, server: stub-server)" {
		t.Fatalf("unexpected message %q", res.Message)
	}
	if res.Outcome.Method != mappings.MethodNameSearch {
		t.Fatalf("outcome keeps the stored method, got %q", res.Outcome.Method)
	}
}
