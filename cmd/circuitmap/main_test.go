package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"circuitmap/internal/circuit"
	"circuitmap/internal/config"
	"circuitmap/internal/overpass"
	"circuitmap/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	api        *testsupport.FakeAPI
	configPath string
}

func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()
	api := testsupport.NewFakeAPI(t)
	cfg := testsupport.NewConfig(t, append([]testsupport.ConfigOption{testsupport.WithFakeAPI(api)}, opts...)...)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	testsupport.WriteConfig(t, configPath, cfg)
	return &cliTestEnv{cfg: cfg, api: api, configPath: configPath}
}

// seedExampleCircuit wires Example Circuit -> Q1 -> relation/555.
func (env *cliTestEnv) seedExampleCircuit() {
	env.api.AddSearch("Example Circuit", testsupport.SearchHit{ID: "Q1", Description: "motorsport racing track"})
	env.api.SetP402("Q1", 555)
	env.api.AddElement(overpass.Element{
		ID:   555,
		Type: overpass.KindRelation,
		Tags: map[string]string{"type": "circuit", "name": "Example Circuit"},
		Members: []overpass.Member{
			{Type: "way", Ref: 1, Geometry: []overpass.Point{{Lat: 50.1, Lon: 6.9}, {Lat: 50.2, Lon: 7.0}}},
		},
	}, 3)
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func TestCLISyncExportsTrack(t *testing.T) {
	env := setupCLITestEnv(t)
	env.seedExampleCircuit()
	testsupport.WriteCircuits(t, env.cfg.Paths.CircuitsFile, circuit.Circuit{Name: "Example Circuit", Country: "Germany"})

	out, _, err := runCLI(t, []string{"sync"}, env.configPath)
	if err != nil {
		t.Fatalf("sync: %v\n%s", err, out)
	}
	requireContains(t, out, "Cache: 0 manual + 0 auto-discovered mappings")
	requireContains(t, out, "Processing 1 circuits...")
	requireContains(t, out, "[1/1] Example Circuit")
	requireContains(t, out, "Saved via Wikidata P402 (OSM relation: 555, server: cache)")
	requireContains(t, out, "Results: 1 saved | 0 skipped | 0 failed")

	data, err := os.ReadFile(filepath.Join(env.cfg.Paths.OutputDir, "Example_Circuit.geojson"))
	if err != nil {
		t.Fatalf("track not written: %v", err)
	}
	var doc struct {
		Type     string `json:"type"`
		Features []struct {
			Geometry struct {
				Type        string       `json:"type"`
				Coordinates [][2]float64 `json:"coordinates"`
			} `json:"geometry"`
		} `json:"features"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("decode track: %v", err)
	}
	if doc.Type != "FeatureCollection" || len(doc.Features) != 1 {
		t.Fatalf("unexpected document %s", data)
	}
	if got := doc.Features[0].Geometry.Coordinates[0]; got != [2]float64{6.9, 50.1} {
		t.Fatalf("expected [lon, lat] ordering, got %v", got)
	}

	out, _, err = runCLI(t, []string{"sync"}, env.configPath)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	requireContains(t, out, "Cache: 0 manual + 1 auto-discovered mappings")
	requireContains(t, out, "Already exists")
	requireContains(t, out, "Results: 0 saved | 1 skipped | 0 failed")

	out, _, err = runCLI(t, []string{"sync", "--check-update"}, env.configPath)
	if err != nil {
		t.Fatalf("check-update sync: %v", err)
	}
	requireContains(t, out, "(update check mode)")
	requireContains(t, out, "Up to date (v3)")
}

func TestCLISyncReportsFailures(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.WriteCircuits(t, env.cfg.Paths.CircuitsFile, circuit.Circuit{Name: "Nowhere Ring"})

	out, stderr, err := runCLI(t, []string{"sync", "Nowhere Ring", "Missing Park"}, env.configPath)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	requireContains(t, stderr, `Unknown circuit "Missing Park"`)
	requireContains(t, out, "Results: 0 saved | 0 skipped | 1 failed")
	requireContains(t, out, "   - Nowhere Ring [review]")
	requireContains(t, out, "How to add a circuit manually:")
	requireContains(t, out, "circuitmap mappings set")
}

func TestCLISyncRejectsEmptySelection(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.WriteCircuits(t, env.cfg.Paths.CircuitsFile, circuit.Circuit{Name: "Example Circuit"})

	_, _, err := runCLI(t, []string{"sync", "Missing Park"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "no circuits to process") {
		t.Fatalf("expected empty selection error, got %v", err)
	}
}

func TestCLIResolveJSON(t *testing.T) {
	env := setupCLITestEnv(t)
	env.seedExampleCircuit()

	out, _, err := runCLI(t, []string{"resolve", "Example Circuit", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	var got resolveOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode resolve output: %v\n%s", err, out)
	}
	if !got.Resolved || got.OSMID != 555 || got.OSMType != "relation" || got.Method != "P402" || got.WikidataID != "Q1" {
		t.Fatalf("unexpected resolve output %+v", got)
	}

	out, _, err = runCLI(t, []string{"resolve", "Example Circuit"}, env.configPath)
	if err != nil {
		t.Fatalf("resolve (cached): %v", err)
	}
	requireContains(t, out, "Result:   relation/555")
	requireContains(t, out, "Method:   cache (P402)")
}

func TestCLIMappingsCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"mappings", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("mappings list: %v", err)
	}
	requireContains(t, out, "No mappings stored")

	out, _, err = runCLI(t, []string{"mappings", "set", "Test Ring", "--osm-id", "42", "--osm-type", "way", "--wikidata", "q7"}, env.configPath)
	if err != nil {
		t.Fatalf("mappings set: %v", err)
	}
	requireContains(t, out, "Pinned Test Ring to way/42")

	out, _, err = runCLI(t, []string{"mappings", "set", "Gone Raceway", "--absent", "--comment", "demolished"}, env.configPath)
	if err != nil {
		t.Fatalf("mappings set --absent: %v", err)
	}
	requireContains(t, out, "Marked Gone Raceway as having no OSM element")

	out, _, err = runCLI(t, []string{"mappings", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("mappings list: %v", err)
	}
	requireContains(t, out, "Test Ring")
	requireContains(t, out, "way/42")
	requireContains(t, out, "Gone Raceway")

	out, _, err = runCLI(t, []string{"mappings", "show", "Test Ring", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("mappings show: %v", err)
	}
	var view mappingView
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("decode show output: %v", err)
	}
	if view.OSMID == nil || *view.OSMID != 42 || view.OSMType != "way" || view.WikidataID != "Q7" || !view.Manual || view.SearchMethod != "manual" {
		t.Fatalf("unexpected view %+v", view)
	}

	out, _, err = runCLI(t, []string{"mappings", "stats"}, env.configPath)
	if err != nil {
		t.Fatalf("mappings stats: %v", err)
	}
	requireContains(t, out, "Manual:        2")
	requireContains(t, out, "Known absent:  1")

	if _, _, err := runCLI(t, []string{"mappings", "remove", "Test Ring"}, env.configPath); err != nil {
		t.Fatalf("mappings remove: %v", err)
	}
	if _, _, err := runCLI(t, []string{"mappings", "show", "Test Ring"}, env.configPath); err == nil {
		t.Fatal("expected show to fail after remove")
	}
	if _, _, err := runCLI(t, []string{"mappings", "remove", "Test Ring"}, env.configPath); err == nil {
		t.Fatal("expected second remove to fail")
	}
}

func TestCLIMappingsSetValidatesFlags(t *testing.T) {
	env := setupCLITestEnv(t)

	cases := [][]string{
		{"mappings", "set", "Test Ring"},
		{"mappings", "set", "Test Ring", "--osm-id", "1", "--absent"},
		{"mappings", "set", "Test Ring", "--osm-id", "1", "--osm-type", "node"},
	}
	for _, args := range cases {
		if _, _, err := runCLI(t, args, env.configPath); err == nil {
			t.Fatalf("expected %v to fail", args)
		}
	}
}

func TestCLIMappingsRefreshVersion(t *testing.T) {
	env := setupCLITestEnv(t)
	env.seedExampleCircuit()

	if _, _, err := runCLI(t, []string{"mappings", "set", "Example Circuit", "--osm-id", "555"}, env.configPath); err != nil {
		t.Fatalf("mappings set: %v", err)
	}
	out, _, err := runCLI(t, []string{"mappings", "refresh-version", "Example Circuit"}, env.configPath)
	if err != nil {
		t.Fatalf("refresh-version: %v", err)
	}
	requireContains(t, out, "Example Circuit is at version 3")
}

func TestCLIHistory(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithHistory(true))
	env.seedExampleCircuit()

	if _, _, err := runCLI(t, []string{"resolve", "Example Circuit"}, env.configPath); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	out, _, err := runCLI(t, []string{"history", "--circuit", "Example Circuit"}, env.configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "Example Circuit")
	requireContains(t, out, "relation/555")

	disabled := setupCLITestEnv(t, testsupport.WithHistory(false))
	if _, _, err := runCLI(t, []string{"history"}, disabled.configPath); err == nil {
		t.Fatal("expected history to fail when the journal is disabled")
	}
}

func TestCLIPreflight(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"preflight"}, env.configPath)
	if err != nil {
		t.Fatalf("preflight: %v\n%s", err, out)
	}
	requireContains(t, out, "Overpass fake")
	requireContains(t, out, "Wikidata SPARQL")
	requireContains(t, out, "PASS")
}

func TestCLIConfigInitAndValidate(t *testing.T) {
	base := t.TempDir()
	target := filepath.Join(base, "circuitmap", "config.toml")

	out, _, err := runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration to "+target)
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("sample config missing: %v", err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected init to refuse overwriting")
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target, "--overwrite"}, ""); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}

	env := setupCLITestEnv(t)
	out, _, err = runCLI(t, []string{"config", "validate"}, env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Config path: "+env.configPath)
	requireContains(t, out, "Overpass servers: 1")
	requireContains(t, out, "Configuration valid")
}
