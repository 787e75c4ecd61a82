package overpass

import (
	"context"
	"fmt"

	"circuitmap/internal/logging"
)

// FindInComplex looks inside a venue container for an element tagged as a
// circuit or raceway and returns the best one. It returns nil when nothing
// inside scores above zero.
func (c *Client) FindInComplex(ctx context.Context, id int64, kind string) (*Element, error) {
	if !ValidKind(kind) {
		return nil, fmt.Errorf("overpass: unsupported element kind %q", kind)
	}
	query := fmt.Sprintf(`[out:json][timeout:60];
%s(%d);
>>;
(
  nwr._["type"="circuit"];
  nwr._["highway"="raceway"];
);
out body;`, kind, id)

	resp, _, err := c.Query(ctx, query, c.geometryTimeout)
	if err != nil {
		return nil, err
	}
	ranked := rank(resp.Elements)
	if len(ranked) == 0 || ranked[0].score <= 0 {
		return nil, nil
	}
	best := ranked[0].element
	logging.WithContext(ctx, c.logger).Debug("resolved element inside complex",
		logging.String("container", fmt.Sprintf("%s/%d", kind, id)),
		logging.String("element", best.Ref()),
		logging.Int("score", ranked[0].score))
	return &best, nil
}

// escalate returns the element inside a complex when ranked's best entry is
// one, otherwise the best entry itself. The bool reports whether the
// returned element came from inside a container.
func (c *Client) escalate(ctx context.Context, ranked []scoredElement, label string) (Element, int, bool) {
	best := ranked[0]
	logger := logging.WithContext(ctx, c.logger)
	if count := highScoreCount(ranked); count > 1 {
		logging.WarnWithContext(logger, "multiple high-scoring elements found; using first", "ambiguous_backend_result",
			logging.String("query", label),
			logging.Int("high_score_count", count),
			logging.String(logging.FieldErrorHint, "check the mapping store comment and pin the right element if needed"),
			logging.String(logging.FieldImpact, "best-scoring element selected"))
	}
	if !IsComplex(best.element, best.score) {
		return best.element, best.score, false
	}
	logger.Info("found complex; searching inside",
		logging.String("query", label),
		logging.String("container", best.element.Ref()))
	inner, err := c.FindInComplex(ctx, best.element.ID, best.element.Type)
	if err != nil {
		logger.Debug("complex descent failed", logging.String("container", best.element.Ref()), logging.Error(err))
	}
	if inner == nil {
		return best.element, best.score, false
	}
	return *inner, Score(*inner), true
}
