package mappings

// SchemaVersion is the current version of the store layout.
const SchemaVersion = 1

// Schema is the self-describing header written at the top of the store.
type Schema struct {
	Version     int               `json:"version"`
	Description string            `json:"description"`
	Fields      map[string]string `json:"fields"`
}

// DefaultSchema returns the header written by this version.
func DefaultSchema() Schema {
	return Schema{
		Version:     SchemaVersion,
		Description: "Circuit name to OpenStreetMap element mappings",
		Fields: map[string]string{
			"osm_id":        "OpenStreetMap element ID (number or null)",
			"osm_type":      "Element type: relation or way",
			"wikidata_id":   "Wikidata Q-ID (e.g. Q173099)",
			"search_method": "How found: manual/P402/wikidata_tag/osm_name",
			"search_name":   "Which name variant matched",
			"verified_at":   "Last verification timestamp",
			"manual":        "true = won't be auto-updated",
			"comment":       "Notes (auto-added for TODO items)",
			"osm_version":   "OSM element version (for update checking)",
		},
	}
}

// mergeSchema overlays loaded header values onto the defaults field by field,
// so files written by older versions pick up docs for newly added fields.
func mergeSchema(loaded Schema) Schema {
	out := DefaultSchema()
	if loaded.Version > 0 {
		out.Version = loaded.Version
	}
	if loaded.Description != "" {
		out.Description = loaded.Description
	}
	for key, doc := range loaded.Fields {
		out.Fields[key] = doc
	}
	return out
}
