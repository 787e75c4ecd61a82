package mappings

import (
	"strconv"
	"time"
)

// Search methods persisted in Record.SearchMethod.
const (
	MethodCrossReference = "P402"
	MethodWikidataTag    = "wikidata_tag"
	MethodNameSearch     = "osm_name"
	MethodManual         = "manual"
)

// TimestampLayout is the format of Record.VerifiedAt.
const TimestampLayout = "2006-01-02 15:04"

// Record is the persisted resolution of one circuit name. Nullable fields
// are pointers so they round-trip as JSON null.
type Record struct {
	OSMID        *int64  `json:"osm_id"`
	OSMType      *string `json:"osm_type"`
	WikidataID   *string `json:"wikidata_id"`
	SearchMethod *string `json:"search_method"`
	SearchName   *string `json:"search_name"`
	VerifiedAt   string  `json:"verified_at"`
	Manual       bool    `json:"manual"`
	Comment      string  `json:"comment,omitempty"`
	OSMVersion   *int    `json:"osm_version,omitempty"`
}

// NamedRecord pairs a record with its circuit name.
type NamedRecord struct {
	Name   string
	Record Record
}

// Element returns the mapped OSM element. ok is false when the record has
// no OSM ID. A missing type defaults to relation.
func (r Record) Element() (id int64, kind string, ok bool) {
	if r.OSMID == nil {
		return 0, "", false
	}
	kind = "relation"
	if r.OSMType != nil && *r.OSMType != "" {
		kind = *r.OSMType
	}
	return *r.OSMID, kind, true
}

// KnownAbsent reports whether an operator marked the circuit as having no
// OSM element.
func (r Record) KnownAbsent() bool {
	return r.Manual && r.OSMID == nil
}

// Method returns the search method or "" when unset.
func (r Record) Method() string {
	return deref(r.SearchMethod)
}

// Wikidata returns the Wikidata ID or "" when unset.
func (r Record) Wikidata() string {
	return deref(r.WikidataID)
}

// Version returns the stored OSM version or 0 when unset.
func (r Record) Version() int {
	if r.OSMVersion == nil {
		return 0
	}
	return *r.OSMVersion
}

// ElementRef renders the mapped element as "<type>/<id>", or "" when absent.
func (r Record) ElementRef() string {
	id, kind, ok := r.Element()
	if !ok {
		return ""
	}
	return kind + "/" + strconv.FormatInt(id, 10)
}

// Update carries the fields an automated resolution writes. Zero values are
// stored as null.
type Update struct {
	OSMID      int64
	OSMType    string
	WikidataID string
	Method     string
	SearchName string
	Comment    string
}

func (u Update) record(now time.Time) Record {
	rec := Record{
		WikidataID:   optionalString(u.WikidataID),
		SearchMethod: optionalString(u.Method),
		SearchName:   optionalString(u.SearchName),
		VerifiedAt:   now.Format(TimestampLayout),
		Comment:      u.Comment,
	}
	if u.OSMID != 0 {
		id := u.OSMID
		rec.OSMID = &id
		rec.OSMType = optionalString(u.OSMType)
		return rec
	}
	rec.Manual = true
	if rec.Comment == "" {
		rec.Comment = "TODO: verify OSM ID manually"
		if u.WikidataID != "" {
			rec.Comment += " (check https://www.wikidata.org/wiki/" + u.WikidataID + ")"
		}
	}
	return rec
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
