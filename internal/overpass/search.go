package overpass

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"circuitmap/internal/logging"
	"circuitmap/internal/services"
)

// FindByWikidataTags looks up elements tagged wikidata=<qid> for every QID
// in a single query. Every input QID has an entry in the result; QIDs with no
// tagged element map to a zero TagMatch. On query failure the map is still
// complete and the error is returned alongside it.
func (c *Client) FindByWikidataTags(ctx context.Context, qids []string) (map[string]TagMatch, error) {
	results := make(map[string]TagMatch, len(qids))
	for _, qid := range qids {
		results[qid] = TagMatch{}
	}
	if len(qids) == 0 {
		return results, nil
	}

	var filters strings.Builder
	for _, qid := range qids {
		fmt.Fprintf(&filters, `relation["wikidata"="%[1]s"];way["wikidata"="%[1]s"];`, quoteString(qid))
	}
	query := "[out:json][timeout:60];(" + filters.String() + ");out body;"

	resp, _, err := c.Query(ctx, query, c.geometryTimeout)
	if err != nil {
		return results, err
	}

	grouped := make(map[string][]Element, len(qids))
	for _, el := range resp.Elements {
		tag := el.Tags["wikidata"]
		if _, wanted := results[tag]; wanted {
			grouped[tag] = append(grouped[tag], el)
		}
	}

	logger := logging.WithContext(ctx, c.logger)
	for _, qid := range qids {
		elements := grouped[qid]
		if len(elements) == 0 {
			continue
		}
		el, score, viaComplex := c.escalate(ctx, rank(elements), qid)
		if viaComplex {
			score = 0
			if full, _, err := c.Element(ctx, el.ID, el.Type); err == nil && full != nil {
				score = Score(*full)
			}
			logger.Info("resolved wikidata tag through complex",
				logging.String("wikidata_id", qid),
				logging.String("element", el.Ref()))
		}
		results[qid] = TagMatch{OSMID: el.ID, OSMType: el.Type, Score: score, ViaComplex: viaComplex}
	}
	return results, nil
}

// FindByName searches track-like relations and ways whose name matches name
// case-insensitively and returns the best one. Complexes are escalated. It
// returns a services.ErrNotFoundInBackend error when nothing matches.
func (c *Client) FindByName(ctx context.Context, name string) (*Element, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, "", errors.New("overpass: name must not be empty")
	}
	pattern := quoteString(regexpQuote(name))
	query := fmt.Sprintf(`[out:json][timeout:30];
(
  relation["leisure"="track"]["name"~"%[1]s",i];
  relation["sport"~"motor"]["name"~"%[1]s",i];
  relation["highway"="raceway"]["name"~"%[1]s",i];
  relation["type"="circuit"]["name"~"%[1]s",i];
  way["leisure"="track"]["name"~"%[1]s",i];
  way["sport"~"motor"]["name"~"%[1]s",i];
  way["highway"="raceway"]["name"~"%[1]s",i];
);
out body;`, pattern)

	resp, server, err := c.Query(ctx, query, 0)
	if err != nil {
		return nil, "", err
	}
	if len(resp.Elements) == 0 {
		return nil, server, services.Wrap(services.ErrNotFoundInBackend, "overpass", "find by name",
			fmt.Sprintf("no track named %q", name), nil)
	}
	el, _, _ := c.escalate(ctx, rank(resp.Elements), name)
	return &el, server, nil
}

// Element fetches an element with full geometry. Results are cached per
// (id, kind); cache hits report CacheServer as the server. A missing element
// yields a services.ErrNotFoundInBackend error.
func (c *Client) Element(ctx context.Context, id int64, kind string) (*Element, string, error) {
	if !ValidKind(kind) {
		return nil, "", fmt.Errorf("overpass: unsupported element kind %q", kind)
	}
	if el, ok := c.cache.Get(id, kind); ok {
		logging.WithContext(ctx, c.logger).Debug("geometry cache hit", logging.String("element", el.Ref()))
		return &el, CacheServer, nil
	}

	query := fmt.Sprintf("[out:json][timeout:60];%s(%d);out geom;", kind, id)
	resp, server, err := c.Query(ctx, query, c.geometryTimeout)
	if err != nil {
		return nil, "", err
	}
	if len(resp.Elements) == 0 {
		return nil, server, services.Wrap(services.ErrNotFoundInBackend, "overpass", "element",
			fmt.Sprintf("%s/%d not returned", kind, id), nil)
	}
	el := resp.Elements[0]
	c.cache.Put(id, kind, el)
	return &el, server, nil
}

// ClearCache drops every cached geometry.
func (c *Client) ClearCache() {
	c.cache.Clear()
}

// CacheLen reports how many geometries are cached.
func (c *Client) CacheLen() int {
	return c.cache.Len()
}

const regexpMeta = `\.+*?()|[]{}^$`

// regexpQuote escapes POSIX extended regular expression metacharacters.
func regexpQuote(s string) string {
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(regexpMeta, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// quoteString escapes s for use inside a double-quoted Overpass QL literal.
func quoteString(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`).Replace(s)
}
