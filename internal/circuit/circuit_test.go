package circuit_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"circuitmap/internal/circuit"
)

func TestSearchNames(t *testing.T) {
	c := circuit.Circuit{Name: "Albert Park Circuit", GrandsPrix: "Australian Grand Prix, , Melbourne Grand Prix ,"}
	got := strings.Join(c.SearchNames(), "|")
	if got != "Albert Park Circuit|Australian Grand Prix|Melbourne Grand Prix" {
		t.Fatalf("unexpected search names %q", got)
	}
	if alt := (circuit.Circuit{Name: "X"}).AlternateNames(); alt != nil {
		t.Fatalf("expected no alternates, got %v", alt)
	}
}

func TestSafeFilename(t *testing.T) {
	c := circuit.Circuit{Name: "Autódromo Hermanos Rodríguez"}
	if got := c.SafeFilename(); got != "Autodromo_Hermanos_Rodriguez" {
		t.Fatalf("unexpected filename %q", got)
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFileSourceYAML(t *testing.T) {
	path := writeFile(t, "circuits.yaml", `
- name: Circuit de Monaco
  location: Monte Carlo
  country: Monaco
  grands_prix: Monaco Grand Prix
- name: " Suzuka International Racing Course "
  country: Japan
- name: Circuit de Monaco
`)
	circuits, err := circuit.NewFileSource(path).Circuits(context.Background())
	if err != nil {
		t.Fatalf("Circuits returned error: %v", err)
	}
	if len(circuits) != 2 {
		t.Fatalf("expected duplicates to collapse, got %+v", circuits)
	}
	if circuits[0].GrandsPrix != "Monaco Grand Prix" || circuits[1].Name != "Suzuka International Racing Course" {
		t.Fatalf("unexpected circuits: %+v", circuits)
	}
}

func TestFileSourceWrappedYAMLAndJSON(t *testing.T) {
	yamlPath := writeFile(t, "list.yml", "circuits:\n  - name: Monza\n")
	jsonPath := writeFile(t, "list.json", `{"circuits":[{"name":"Spa","grands_prix":"Belgian Grand Prix"}]}`)
	bareJSON := writeFile(t, "bare.json", `[{"name":"Imola"}]`)

	for path, want := range map[string]string{yamlPath: "Monza", jsonPath: "Spa", bareJSON: "Imola"} {
		circuits, err := circuit.NewFileSource(path).Circuits(context.Background())
		if err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		if len(circuits) != 1 || circuits[0].Name != want {
			t.Fatalf("%s: unexpected circuits %+v", path, circuits)
		}
	}
}

func TestFileSourceRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	if _, err := circuit.NewFileSource(writeFile(t, "c.yaml", "- location: Nowhere\n")).Circuits(ctx); err == nil {
		t.Fatal("expected error for unnamed circuit")
	}
	if _, err := circuit.NewFileSource(writeFile(t, "c.txt", "Monza\n")).Circuits(ctx); err == nil {
		t.Fatal("expected error for unsupported extension")
	}
	if _, err := circuit.NewFileSource(filepath.Join(t.TempDir(), "missing.yaml")).Circuits(ctx); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestFilter(t *testing.T) {
	all := []circuit.Circuit{{Name: "Monza"}, {Name: "Spa"}, {Name: "Imola"}}
	got, missing := circuit.Filter(all, []string{"spa", "Imola", "Baku"})
	if len(got) != 2 || got[0].Name != "Spa" || got[1].Name != "Imola" {
		t.Fatalf("unexpected filtered circuits %+v", got)
	}
	if len(missing) != 1 || missing[0] != "Baku" {
		t.Fatalf("unexpected missing names %v", missing)
	}
}
