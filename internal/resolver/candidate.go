package resolver

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// candidate is a provisional match found during one resolution.
type candidate struct {
	osmID      int64
	osmType    string
	qid        string
	method     string
	searchName string
	score      int
	// fromCircuitName is set when the QID came from the circuit's own name
	// rather than a Grand Prix name.
	fromCircuitName bool
}

// selectBest orders candidates so that circuit-name matches come first,
// then by descending score. Ties keep discovery order.
func selectBest(candidates []candidate) []candidate {
	ordered := slices.Clone(candidates)
	slices.SortStableFunc(ordered, func(a, b candidate) int {
		if a.fromCircuitName != b.fromCircuitName {
			if a.fromCircuitName {
				return -1
			}
			return 1
		}
		return cmp.Compare(b.score, a.score)
	})
	return ordered
}

// runnersUpComment lists every candidate after the winner for manual review.
func runnersUpComment(ordered []candidate) string {
	if len(ordered) < 2 {
		return ""
	}
	others := make([]string, 0, len(ordered)-1)
	for _, c := range ordered[1:] {
		source := c.qid
		if source == "" {
			source = "name"
		}
		others = append(others, fmt.Sprintf("%s (via '%s', %s, score=%d)", elementRef(c.osmType, c.osmID), c.searchName, source, c.score))
	}
	return "Also found: " + strings.Join(others, ", ") + ". Please verify manually."
}

func bestScore(candidates []candidate) (int, bool) {
	if len(candidates) == 0 {
		return 0, false
	}
	best := candidates[0].score
	for _, c := range candidates[1:] {
		best = max(best, c.score)
	}
	return best, true
}

func hasCircuitNameCandidate(candidates []candidate) bool {
	return slices.ContainsFunc(candidates, func(c candidate) bool { return c.fromCircuitName })
}

func elementRef(kind string, id int64) string {
	return kind + "/" + strconv.FormatInt(id, 10)
}
