package mappings

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var errUnreadable = errors.New("record cannot be decoded safely")

// decodeRecord reads one record field by field. Fields with the wrong type
// are reset to their zero value and reported in defaulted. A record is
// unreadable when it is not an object, when manual does not parse, or when a
// manual record's osm_id does not parse; resetting either would turn an
// operator pin into something else.
func decodeRecord(raw json.RawMessage) (rec Record, defaulted []string, err error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return Record{}, nil, fmt.Errorf("%w: not an object", errUnreadable)
	}

	if v, ok := fields["manual"]; ok {
		if err := json.Unmarshal(v, &rec.Manual); err != nil {
			return Record{}, nil, fmt.Errorf("%w: manual: %v", errUnreadable, err)
		}
	}
	if v, ok := fields["osm_id"]; ok {
		id, err := decodeOptionalInt(v)
		switch {
		case err != nil && rec.Manual:
			return Record{}, nil, fmt.Errorf("%w: osm_id: %v", errUnreadable, err)
		case err != nil:
			defaulted = append(defaulted, "osm_id")
		case id != nil:
			rec.OSMID = id
		}
	}
	if v, ok := fields["osm_version"]; ok {
		if version, err := decodeOptionalInt(v); err != nil {
			defaulted = append(defaulted, "osm_version")
		} else if version != nil {
			n := int(*version)
			rec.OSMVersion = &n
		}
	}

	optional := []struct {
		key    string
		target **string
	}{
		{"osm_type", &rec.OSMType},
		{"wikidata_id", &rec.WikidataID},
		{"search_method", &rec.SearchMethod},
		{"search_name", &rec.SearchName},
	}
	for _, f := range optional {
		v, ok := fields[f.key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(v, f.target); err != nil {
			*f.target = nil
			defaulted = append(defaulted, f.key)
		}
	}

	plain := []struct {
		key    string
		target *string
	}{
		{"verified_at", &rec.VerifiedAt},
		{"comment", &rec.Comment},
	}
	for _, f := range plain {
		v, ok := fields[f.key]
		if !ok || string(v) == "null" {
			continue
		}
		if err := json.Unmarshal(v, f.target); err != nil {
			*f.target = ""
			defaulted = append(defaulted, f.key)
		}
	}
	return rec, defaulted, nil
}

// decodeOptionalInt accepts null, a JSON integer, or an integer in a string
// ("3"), which is the usual hand-edit slip.
func decodeOptionalInt(raw json.RawMessage) (*int64, error) {
	if string(raw) == "null" {
		return nil, nil
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return &n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("expected integer, got %s", raw)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("expected integer, got %q", s)
	}
	return &n, nil
}
