package overpass

import "strconv"

// Element kinds returned by the Overpass interpreter.
const (
	KindRelation = "relation"
	KindWay      = "way"
	KindNode     = "node"
)

// Point is one coordinate of an `out geom` geometry list.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Member is a relation member. Geometry is only present for `out geom`.
type Member struct {
	Type     string  `json:"type"`
	Ref      int64   `json:"ref"`
	Role     string  `json:"role"`
	Geometry []Point `json:"geometry,omitempty"`
}

// Element is a single OSM element as returned by the Overpass JSON output.
type Element struct {
	ID       int64             `json:"id"`
	Type     string            `json:"type"`
	Tags     map[string]string `json:"tags,omitempty"`
	Members  []Member          `json:"members,omitempty"`
	Geometry []Point           `json:"geometry,omitempty"`
	Version  int               `json:"version,omitempty"`
}

// Ref renders the element as "<type>/<id>".
func (e Element) Ref() string {
	return e.Type + "/" + strconv.FormatInt(e.ID, 10)
}

// Name returns the element's name tag, if any.
func (e Element) Name() string {
	return e.Tags["name"]
}

// Response models the Overpass JSON envelope.
type Response struct {
	Version   float64   `json:"version"`
	Generator string    `json:"generator"`
	Remark    string    `json:"remark,omitempty"`
	Elements  []Element `json:"elements"`
}

// Server is one interchangeable Overpass interpreter endpoint.
type Server struct {
	Name string
	URL  string
}

// TagMatch is the best element tagged with a given Wikidata identifier.
// A zero TagMatch means nothing was found.
type TagMatch struct {
	OSMID      int64
	OSMType    string
	Score      int
	ViaComplex bool
}

// Found reports whether the match names an element.
func (m TagMatch) Found() bool {
	return m.OSMID != 0 && m.OSMType != ""
}

// ValidKind reports whether kind is an element type the backend accepts in
// an id filter.
func ValidKind(kind string) bool {
	switch kind {
	case KindRelation, KindWay, KindNode:
		return true
	default:
		return false
	}
}
