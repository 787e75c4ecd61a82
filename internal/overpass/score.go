package overpass

import (
	"sort"
	"strings"
)

// ScoreTags rates how likely a tag set describes the racing line itself
// rather than the surrounding venue. Higher is better; the table is additive.
func ScoreTags(tags map[string]string, kind string) int {
	score := 0

	if tags["type"] == "circuit" {
		score += 100
	}
	if tags["highway"] == "raceway" {
		score += 50
	}

	if strings.Contains(tags["sport"], "motor") {
		score += 10
	}
	if tags["leisure"] == "track" {
		score += 10
	}

	switch tags["type"] {
	case "multipolygon", "site":
		score -= 30
	}
	if tags["leisure"] == "sports_centre" {
		score -= 50
	}
	if tags["highway"] == "services" {
		score -= 60
	}
	_, hasLanduse := tags["landuse"]
	_, hasAmenity := tags["amenity"]
	if hasLanduse || hasAmenity {
		score -= 20
	}

	if kind == KindRelation {
		score += 5
	}
	return score
}

// Score rates an element using ScoreTags.
func Score(el Element) int {
	return ScoreTags(el.Tags, el.Type)
}

// IsComplex reports whether an element looks like a venue container that
// must be searched into rather than accepted as the track.
func IsComplex(el Element, score int) bool {
	if score <= 0 {
		return true
	}
	switch el.Tags["type"] {
	case "multipolygon", "site":
		return true
	}
	return el.Tags["leisure"] == "sports_centre"
}

type scoredElement struct {
	element Element
	score   int
}

// rank scores elements and orders them best first. Equal scores keep the
// order the backend returned them in.
func rank(elements []Element) []scoredElement {
	ranked := make([]scoredElement, 0, len(elements))
	for _, el := range elements {
		ranked = append(ranked, scoredElement{element: el, score: Score(el)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})
	return ranked
}

// highScoreCount returns how many ranked elements score above 50. More than
// one means the backend holds several plausible tracks for the same query.
func highScoreCount(ranked []scoredElement) int {
	count := 0
	for _, r := range ranked {
		if r.score > 50 {
			count++
		}
	}
	return count
}
