package wikidata_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"circuitmap/internal/services"
	"circuitmap/internal/wikidata"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *wikidata.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return wikidata.New(wikidata.Endpoints{
		API:    server.URL + "/w/api.php",
		Entity: server.URL + "/wiki/Special:EntityData",
		SPARQL: server.URL + "/sparql",
	}, time.Second, wikidata.WithUserAgent("circuitmap-tests/1.0"))
}

func TestFindIDsReranksByDescription(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("action") != "wbsearchentities" || q.Get("search") != "Monza" || q.Get("limit") != "5" || q.Get("language") != "en" {
			t.Errorf("unexpected query %q", r.URL.RawQuery)
		}
		if r.UserAgent() != "circuitmap-tests/1.0" {
			t.Errorf("unexpected user agent %q", r.UserAgent())
		}
		_, _ = w.Write([]byte(`{"search":[
			{"id":"Q100","description":"city in Lombardy, Italy"},
			{"id":"Q200","description":"motor racing circuit in Italy"},
			{"id":"Q300","description":"Formula One race track"},
			{"id":"Q400","description":"football club"},
			{"id":"Q500","description":"Racing team"}
		]}`))
	})

	ids, err := client.FindIDs(context.Background(), "Monza", 5)
	if err != nil {
		t.Fatalf("FindIDs returned error: %v", err)
	}
	want := []string{"Q300", "Q200", "Q500", "Q100", "Q400"}
	if strings.Join(ids, ",") != strings.Join(want, ",") {
		t.Fatalf("FindIDs = %v, want %v", ids, want)
	}
}

func TestFindIDsNoResults(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"search":[]}`))
	})
	_, err := client.FindIDs(context.Background(), "Nowhere", 5)
	if !errors.Is(err, services.ErrNotFoundInKnowledgeBase) {
		t.Fatalf("expected not-found marker, got %v", err)
	}
}

func TestFindIDsHTTPError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	_, err := client.FindIDs(context.Background(), "Monza", 5)
	if !errors.Is(err, services.ErrRateLimited) {
		t.Fatalf("expected rate limited marker, got %v", err)
	}
}

func TestDescriptionBonus(t *testing.T) {
	tests := map[string]int{
		"":                        0,
		"racing circuit":          10,
		"F1 circuit in Bahrain":   15,
		"formula e street track":  15,
		"Formula One driver":      5,
		"municipality in Belgium": 0,
	}
	for desc, want := range tests {
		if got := wikidata.DescriptionBonus(desc); got != want {
			t.Errorf("DescriptionBonus(%q) = %d, want %d", desc, got, want)
		}
	}
}

func TestCrossReferenceBatch(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sparql" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		query := r.URL.Query().Get("query")
		for _, fragment := range []string{"VALUES ?item { wd:Q1 wd:Q2 wd:Q3 wd:Q4 }", "OPTIONAL { ?item wdt:P402 ?osmRelation. }"} {
			if !strings.Contains(query, fragment) {
				t.Errorf("query missing %q: %s", fragment, query)
			}
		}
		_, _ = w.Write([]byte(`{"results":{"bindings":[
			{"item":{"type":"uri","value":"http://www.wikidata.org/entity/Q1"},"osmRelation":{"type":"literal","value":"555"}},
			{"item":{"type":"uri","value":"http://www.wikidata.org/entity/Q2"}},
			{"item":{"type":"uri","value":"http://www.wikidata.org/entity/Q3"},"osmRelation":{"type":"literal","value":"not-a-number"}},
			{"item":{"type":"uri","value":"http://www.wikidata.org/entity/Q4"},"osmRelation":{"type":"literal","value":"777"}}
		]}}`))
	})

	got, err := client.CrossReferenceBatch(context.Background(), []string{"Q1", "Q2", "Q3", "Q4"})
	if err != nil {
		t.Fatalf("CrossReferenceBatch returned error: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected an entry per input, got %v", got)
	}
	if got["Q1"] == nil || *got["Q1"] != 555 {
		t.Fatalf("unexpected Q1: %v", got["Q1"])
	}
	if got["Q2"] != nil || got["Q3"] != nil {
		t.Fatalf("expected Q2 and Q3 to be nil, got %v %v", got["Q2"], got["Q3"])
	}
	if got["Q4"] == nil || *got["Q4"] != 777 {
		t.Fatalf("malformed binding must not affect Q4, got %v", got["Q4"])
	}
}

func TestCrossReferenceBatchFailureYieldsAllNil(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	got, err := client.CrossReferenceBatch(context.Background(), []string{"Q1", "Q2"})
	if err == nil {
		t.Fatal("expected request error")
	}
	if len(got) != 2 || got["Q1"] != nil || got["Q2"] != nil {
		t.Fatalf("expected all-nil map, got %v", got)
	}
}

func TestCrossReference(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/wiki/Special:EntityData/Q1.json":
			_, _ = w.Write([]byte(`{"entities":{"Q1":{"claims":{"P402":[{"mainsnak":{"datavalue":{"value":"555","type":"string"}}}]}}}}`))
		case "/wiki/Special:EntityData/Q2.json":
			_, _ = w.Write([]byte(`{"entities":{"Q2":{"claims":{}}}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	id, err := client.CrossReference(ctx, "Q1")
	if err != nil || id == nil || *id != 555 {
		t.Fatalf("expected 555, got %v err=%v", id, err)
	}
	id, err = client.CrossReference(ctx, "Q2")
	if err != nil || id != nil {
		t.Fatalf("expected no claim, got %v err=%v", id, err)
	}
	if _, err := client.CrossReference(ctx, "Q3"); err == nil {
		t.Fatal("expected error for missing entity")
	}
	if _, err := client.CrossReference(ctx, "bogus"); err == nil {
		t.Fatal("expected error for invalid id")
	}
}
