package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"

	"circuitmap/internal/circuit"
)

// WriteCircuits stores circuits as a YAML list at path.
func WriteCircuits(t testing.TB, path string, circuits ...circuit.Circuit) {
	t.Helper()
	data, err := yaml.Marshal(circuits)
	if err != nil {
		t.Fatalf("encode circuits: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write circuits: %v", err)
	}
}
