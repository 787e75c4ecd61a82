package circuit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Source yields the circuits to resolve, in processing order.
type Source interface {
	Circuits(ctx context.Context) ([]Circuit, error)
}

// FileSource reads a circuit list from a YAML (.yaml, .yml) or JSON file.
// Either a bare list or an object with a "circuits" list is accepted.
type FileSource struct {
	Path string
}

// NewFileSource returns a FileSource for path.
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

type circuitList struct {
	Circuits []Circuit `json:"circuits" yaml:"circuits"`
}

// Circuits loads and validates the list. Entries without a name are
// rejected; duplicate names keep the first occurrence.
func (s *FileSource) Circuits(ctx context.Context) ([]Circuit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := strings.TrimSpace(s.Path)
	if path == "" {
		return nil, errors.New("circuit list path not configured")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read circuit list: %w", err)
	}

	var circuits []Circuit
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		circuits, err = decodeYAML(data)
	case ".json":
		circuits, err = decodeJSON(data)
	default:
		return nil, fmt.Errorf("circuit list %s: unsupported extension (want .yaml, .yml, or .json)", path)
	}
	if err != nil {
		return nil, fmt.Errorf("parse circuit list %s: %w", path, err)
	}
	return normalize(circuits)
}

func decodeYAML(data []byte) ([]Circuit, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	if len(node.Content) == 0 {
		return nil, nil
	}
	root := node.Content[0]
	if root.Kind == yaml.MappingNode {
		var wrapped circuitList
		if err := root.Decode(&wrapped); err != nil {
			return nil, err
		}
		return wrapped.Circuits, nil
	}
	var circuits []Circuit
	if err := root.Decode(&circuits); err != nil {
		return nil, err
	}
	return circuits, nil
}

func decodeJSON(data []byte) ([]Circuit, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapped circuitList
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, err
		}
		return wrapped.Circuits, nil
	}
	var circuits []Circuit
	if err := json.Unmarshal(trimmed, &circuits); err != nil {
		return nil, err
	}
	return circuits, nil
}

func normalize(circuits []Circuit) ([]Circuit, error) {
	seen := make(map[string]struct{}, len(circuits))
	out := make([]Circuit, 0, len(circuits))
	for idx, c := range circuits {
		c.Name = strings.TrimSpace(c.Name)
		c.Location = strings.TrimSpace(c.Location)
		c.Country = strings.TrimSpace(c.Country)
		c.GrandsPrix = strings.TrimSpace(c.GrandsPrix)
		if c.Name == "" {
			return nil, fmt.Errorf("circuit #%d has no name", idx+1)
		}
		if _, dup := seen[c.Name]; dup {
			continue
		}
		seen[c.Name] = struct{}{}
		out = append(out, c)
	}
	return out, nil
}

// StaticSource serves a fixed list.
type StaticSource []Circuit

// Circuits returns the list.
func (s StaticSource) Circuits(context.Context) ([]Circuit, error) {
	return append([]Circuit(nil), s...), nil
}

// Filter returns the circuits whose name matches one of names exactly or,
// failing that, case-insensitively. Unmatched names are returned separately.
func Filter(circuits []Circuit, names []string) ([]Circuit, []string) {
	if len(names) == 0 {
		return circuits, nil
	}
	var (
		out     []Circuit
		missing []string
	)
	for _, name := range names {
		name = strings.TrimSpace(name)
		match := -1
		for i, c := range circuits {
			if c.Name == name {
				match = i
				break
			}
		}
		if match < 0 {
			for i, c := range circuits {
				if strings.EqualFold(c.Name, name) {
					match = i
					break
				}
			}
		}
		if match < 0 {
			missing = append(missing, name)
			continue
		}
		out = append(out, circuits[match])
	}
	return out, missing
}
