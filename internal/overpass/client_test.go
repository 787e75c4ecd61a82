package overpass_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"circuitmap/internal/overpass"
	"circuitmap/internal/services"
)

type statusServer struct {
	server *httptest.Server
	hits   atomic.Int32
}

func newStatusServer(t *testing.T, status int, body string) *statusServer {
	t.Helper()
	s := &statusServer{}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.FormValue("data") == "" {
			t.Errorf("expected data form field")
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(s.server.Close)
	return s
}

type sleepRecorder struct {
	waits []time.Duration
}

func (s *sleepRecorder) Sleep(_ context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return nil
}

func newClient(t *testing.T, sleeper *sleepRecorder, servers ...overpass.Server) *overpass.Client {
	t.Helper()
	client, err := overpass.New(servers,
		overpass.WithRetries(3, 5*time.Second),
		overpass.WithSleep(sleeper.Sleep),
		overpass.WithUserAgent("circuitmap-tests/1.0"),
	)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return client
}

func TestNewRequiresServer(t *testing.T) {
	if _, err := overpass.New(nil); err == nil {
		t.Fatal("expected error without servers")
	}
}

func TestQueryFailsOverWithinOneRound(t *testing.T) {
	a := newStatusServer(t, http.StatusGatewayTimeout, "")
	b := newStatusServer(t, http.StatusGatewayTimeout, "")
	c := newStatusServer(t, http.StatusOK, `{"elements":[{"id":555,"type":"relation","tags":{"type":"circuit"}}]}`)
	sleeper := &sleepRecorder{}
	client := newClient(t, sleeper,
		overpass.Server{Name: "A", URL: a.server.URL},
		overpass.Server{Name: "B", URL: b.server.URL},
		overpass.Server{Name: "C", URL: c.server.URL},
	)

	resp, server, err := client.Query(context.Background(), "relation(555);out body;", 0)
	if err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	if server != "C" {
		t.Fatalf("expected server C, got %q", server)
	}
	if len(resp.Elements) != 1 || resp.Elements[0].ID != 555 {
		t.Fatalf("unexpected response: %#v", resp)
	}
	if a.hits.Load() != 1 || b.hits.Load() != 1 || c.hits.Load() != 1 {
		t.Fatalf("expected one request per server, got %d/%d/%d", a.hits.Load(), b.hits.Load(), c.hits.Load())
	}
	if len(sleeper.waits) != 0 {
		t.Fatalf("expected no backoff, got %v", sleeper.waits)
	}
	if client.CurrentServer() != "C" {
		t.Fatalf("expected current server C, got %q", client.CurrentServer())
	}
}

func TestQueryAllTimeoutsFailsAfterOneRound(t *testing.T) {
	a := newStatusServer(t, http.StatusGatewayTimeout, "")
	b := newStatusServer(t, http.StatusGatewayTimeout, "")
	sleeper := &sleepRecorder{}
	client := newClient(t, sleeper,
		overpass.Server{Name: "A", URL: a.server.URL},
		overpass.Server{Name: "B", URL: b.server.URL},
	)

	_, _, err := client.Query(context.Background(), "way(1);out;", 0)
	if err == nil {
		t.Fatal("expected failure")
	}
	if !errors.Is(err, services.ErrBackendUnavailable) || !errors.Is(err, services.ErrBackendTimeout) {
		t.Fatalf("expected unavailable+timeout markers, got %v", err)
	}
	if a.hits.Load() != 1 || b.hits.Load() != 1 {
		t.Fatalf("expected exactly one round, got %d/%d", a.hits.Load(), b.hits.Load())
	}
	if len(sleeper.waits) != 0 {
		t.Fatalf("expected no backoff sleep, got %v", sleeper.waits)
	}
	if client.CurrentServer() != "" {
		t.Fatalf("current server must only change on success, got %q", client.CurrentServer())
	}
}

func TestQueryRateLimitedBacksOffAndRetries(t *testing.T) {
	limited := newStatusServer(t, http.StatusTooManyRequests, "")
	broken := newStatusServer(t, http.StatusInternalServerError, "")
	sleeper := &sleepRecorder{}
	client := newClient(t, sleeper,
		overpass.Server{Name: "A", URL: limited.server.URL},
		overpass.Server{Name: "B", URL: broken.server.URL},
	)

	_, _, err := client.Query(context.Background(), "way(1);out;", 0)
	if !errors.Is(err, services.ErrRateLimited) {
		t.Fatalf("expected rate limited marker, got %v", err)
	}
	if limited.hits.Load() != 3 {
		t.Fatalf("expected three rounds, got %d", limited.hits.Load())
	}
	want := []time.Duration{10 * time.Second, 15 * time.Second}
	if len(sleeper.waits) != len(want) {
		t.Fatalf("expected waits %v, got %v", want, sleeper.waits)
	}
	for i := range want {
		if sleeper.waits[i] != want[i] {
			t.Fatalf("expected waits %v, got %v", want, sleeper.waits)
		}
	}
}

func TestQueryRecoversAfterRateLimitRound(t *testing.T) {
	var calls atomic.Int32
	flaky := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"elements":[]}`))
	}))
	t.Cleanup(flaky.Close)
	sleeper := &sleepRecorder{}
	client := newClient(t, sleeper, overpass.Server{Name: "flaky", URL: flaky.URL})

	if _, server, err := client.Query(context.Background(), "way(1);out;", 0); err != nil || server != "flaky" {
		t.Fatalf("expected recovery on second round, got server=%q err=%v", server, err)
	}
	if len(sleeper.waits) != 1 || sleeper.waits[0] != 10*time.Second {
		t.Fatalf("expected one 10s backoff, got %v", sleeper.waits)
	}
}

func TestQueryUndecodableBodyCountsAsError(t *testing.T) {
	garbage := newStatusServer(t, http.StatusOK, "<html>busy</html>")
	good := newStatusServer(t, http.StatusOK, `{"elements":[{"id":7,"type":"way"}]}`)
	client := newClient(t, &sleepRecorder{},
		overpass.Server{Name: "garbage", URL: garbage.server.URL},
		overpass.Server{Name: "good", URL: good.server.URL},
	)

	_, server, err := client.Query(context.Background(), "way(7);out;", 0)
	if err != nil || server != "good" {
		t.Fatalf("expected failover past undecodable body, got server=%q err=%v", server, err)
	}
}

func TestQueryTransportTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(slow.Close)
	client := newClient(t, &sleepRecorder{}, overpass.Server{Name: "slow", URL: slow.URL})

	_, _, err := client.Query(context.Background(), "way(1);out;", 50*time.Millisecond)
	if !errors.Is(err, services.ErrBackendTimeout) {
		t.Fatalf("expected timeout classification, got %v", err)
	}
}

func TestQuerySendsUserAgent(t *testing.T) {
	var ua atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua.Store(r.UserAgent())
		_, _ = w.Write([]byte(`{"elements":[]}`))
	}))
	t.Cleanup(srv.Close)
	client := newClient(t, &sleepRecorder{}, overpass.Server{Name: "ua", URL: srv.URL})

	if _, _, err := client.Query(context.Background(), "way(1);out;", 0); err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	if got, _ := ua.Load().(string); got != "circuitmap-tests/1.0" {
		t.Fatalf("unexpected user agent %q", got)
	}
}
