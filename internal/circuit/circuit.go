package circuit

import (
	"strings"

	"circuitmap/internal/textutil"
)

// Circuit is a racing circuit as listed by the circuit source. Name is the
// mapping-store key; GrandsPrix is a comma-separated list of events held
// there and only widens search recall.
type Circuit struct {
	Name       string `json:"name" yaml:"name"`
	Location   string `json:"location,omitempty" yaml:"location,omitempty"`
	Country    string `json:"country,omitempty" yaml:"country,omitempty"`
	GrandsPrix string `json:"grands_prix,omitempty" yaml:"grands_prix,omitempty"`
}

// SearchNames returns the primary name followed by every Grand Prix name.
func (c Circuit) SearchNames() []string {
	names := []string{c.Name}
	return append(names, c.AlternateNames()...)
}

// AlternateNames returns the trimmed, non-empty Grand Prix names.
func (c Circuit) AlternateNames() []string {
	if strings.TrimSpace(c.GrandsPrix) == "" {
		return nil
	}
	var names []string
	for _, part := range strings.Split(c.GrandsPrix, ",") {
		if part = strings.TrimSpace(part); part != "" {
			names = append(names, part)
		}
	}
	return names
}

// SafeFilename returns an ASCII filename stem derived from Name.
func (c Circuit) SafeFilename() string {
	return textutil.SafeFileName(c.Name)
}
