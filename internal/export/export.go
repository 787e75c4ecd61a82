package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"circuitmap/internal/fileutil"
	"circuitmap/internal/geojson"
)

// Extension is the suffix of exported track files.
const Extension = ".geojson"

// Writer stores feature collections under a directory, one file per circuit.
type Writer struct {
	dir string
}

// NewWriter returns a Writer rooted at dir.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// Dir returns the output directory.
func (w *Writer) Dir() string {
	return w.dir
}

// Path returns the output path for a filename stem.
func (w *Writer) Path(stem string) string {
	return filepath.Join(w.dir, stem+Extension)
}

// Exists reports whether a track file for stem is already present.
func (w *Writer) Exists(stem string) bool {
	info, err := os.Stat(w.Path(stem))
	return err == nil && !info.IsDir()
}

// Write stores fc atomically and returns the written path.
func (w *Writer) Write(stem string, fc geojson.FeatureCollection) (string, error) {
	stem = strings.TrimSpace(stem)
	if stem == "" {
		return "", errors.New("export: empty file name")
	}
	path := w.Path(stem)
	if err := fileutil.WriteJSONAtomic(path, fc); err != nil {
		return "", fmt.Errorf("export %s: %w", path, err)
	}
	return path, nil
}
