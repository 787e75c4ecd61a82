package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"circuitmap/internal/circuit"
	"circuitmap/internal/history"
	"circuitmap/internal/logging"
	"circuitmap/internal/mappings"
	"circuitmap/internal/overpass"
	"circuitmap/internal/services"
)

// CacheMethodPrefix marks outcomes served from the mapping store.
const CacheMethodPrefix = "cache"

// report is the internal result of one resolution.
type report struct {
	outcome    *Outcome
	status     string
	candidates int
	comment    string
}

// Resolve returns the OSM element for c, or nil when none could be found.
// Backend failures are logged and treated as "not found"; the only error
// returned is context cancellation.
func (r *Resolver) Resolve(ctx context.Context, c circuit.Circuit) (*Outcome, error) {
	rep, err := r.resolve(ctx, c)
	if err != nil {
		return nil, err
	}
	return rep.outcome, nil
}

func (r *Resolver) resolve(ctx context.Context, c circuit.Circuit) (report, error) {
	ctx = ensureRunContext(ctx, c.Name)
	rep, err := r.run(ctx, c)
	if err != nil {
		return rep, err
	}
	r.journalDecision(ctx, c.Name, rep)
	return rep, nil
}

// ensureRunContext tags ctx with a run ID when the caller has not, and with
// the circuit name.
func ensureRunContext(ctx context.Context, name string) context.Context {
	if _, ok := services.RunIDFromContext(ctx); !ok {
		ctx = services.WithRunID(ctx, uuid.NewString())
	}
	if current, ok := services.CircuitFromContext(ctx); !ok || current != name {
		ctx = services.WithCircuit(ctx, name)
	}
	return ctx
}

func (r *Resolver) run(ctx context.Context, c circuit.Circuit) (report, error) {
	logger := logging.WithContext(ctx, r.logger)

	if rep, done := r.fromCache(ctx, c.Name); done {
		return rep, nil
	}
	if err := ctx.Err(); err != nil {
		return report{}, err
	}

	// Collect QIDs from every search name. The first name to produce a QID
	// owns it.
	logger.Info("collecting wikidata identifiers", logging.String(logging.FieldStep, "collect"))
	var qids []string
	owner := make(map[string]string)
	fromCircuitName := make(map[string]bool)
	for i, name := range c.SearchNames() {
		found, err := r.kb.FindIDs(ctx, name, r.searchLimit)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return report{}, ctxErr
			}
			if !errors.Is(err, services.ErrNotFoundInKnowledgeBase) {
				logging.WarnWithContext(logger, "wikidata search failed", "wikidata_search_failed",
					logging.String("search_name", name),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check network access to wikidata.org"),
					logging.String(logging.FieldImpact, "name skipped for identifier collection"))
			}
			continue
		}
		for _, qid := range found {
			if _, seen := owner[qid]; seen {
				continue
			}
			owner[qid] = name
			qids = append(qids, qid)
			if i == 0 {
				fromCircuitName[qid] = true
			}
			logger.Debug("wikidata identifier found", logging.String("wikidata_id", qid), logging.String("search_name", name))
		}
	}
	if len(qids) == 0 {
		logger.Info("no wikidata identifiers found")
	}

	var candidates []candidate
	seen := make(map[int64]bool)

	if len(qids) > 0 {
		candidates = append(candidates, r.crossReferenceCandidates(ctx, qids, owner, fromCircuitName, seen)...)
		if err := ctx.Err(); err != nil {
			return report{}, err
		}
		candidates = append(candidates, r.tagCandidates(ctx, qids, owner, fromCircuitName, seen)...)
		if err := ctx.Err(); err != nil {
			return report{}, err
		}
	}

	best, scored := bestScore(candidates)
	if !scored || (!hasCircuitNameCandidate(candidates) && best < r.nameSearchThreshold) {
		if cand, ok := r.nameCandidate(ctx, c.Name, seen); ok {
			candidates = append(candidates, cand)
		}
		if err := ctx.Err(); err != nil {
			return report{}, err
		}
	}

	if len(candidates) > 0 {
		return r.persistWinner(ctx, c.Name, candidates), nil
	}
	return r.persistAbsent(ctx, c.Name, qids), nil
}

// fromCache serves a mapping-store hit. done is false when resolution must
// continue with a fresh search.
func (r *Resolver) fromCache(ctx context.Context, name string) (report, bool) {
	logger := logging.WithContext(ctx, r.logger)
	rec, ok := r.store.Get(name)
	if !ok {
		return report{}, false
	}
	if rec.KnownAbsent() {
		logger.Info("mapping marks circuit as absent from OSM",
			logging.Args(logging.DecisionAttrs("cache", "absent", "manual record without osm_id")...)...)
		return report{status: history.OutcomeKnownAbsent, comment: rec.Comment}, true
	}
	id, kind, ok := rec.Element()
	if !ok {
		return report{}, false
	}
	if !r.verifier.Exists(ctx, id, kind) {
		logging.WarnWithContext(logger, "cached OSM element no longer exists", "cached_element_missing",
			logging.String("element", elementRef(kind, id)),
			logging.String(logging.FieldErrorHint, "the element was deleted or merged upstream"),
			logging.String(logging.FieldImpact, "circuit resolved again from scratch"))
		return report{}, false
	}
	method := rec.Method()
	if method == "" {
		method = "cached"
	}
	logger.Info("cache hit", logging.String("element", elementRef(kind, id)), logging.String("method", method))
	return report{
		outcome: &Outcome{
			OSMID:      id,
			OSMType:    kind,
			Method:     fmt.Sprintf("%s (%s)", CacheMethodPrefix, method),
			WikidataID: rec.Wikidata(),
		},
		status: history.OutcomeCached,
	}, true
}

func (r *Resolver) crossReferenceCandidates(ctx context.Context, qids []string, owner map[string]string, fromCircuitName map[string]bool, seen map[int64]bool) []candidate {
	logger := logging.WithContext(ctx, r.logger)
	logger.Info("checking P402 cross-references",
		logging.String(logging.FieldStep, "cross_reference"),
		logging.Int("identifiers", len(qids)))

	refs, err := r.kb.CrossReferenceBatch(ctx, qids)
	if err != nil && ctx.Err() == nil {
		logging.WarnWithContext(logger, "P402 batch lookup failed", "cross_reference_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check network access to query.wikidata.org"),
			logging.String(logging.FieldImpact, "falling back to one entity lookup per identifier"))
		refs = r.crossReferenceEach(ctx, qids)
	}

	var out []candidate
	for _, qid := range qids {
		ref := refs[qid]
		if ref == nil || seen[*ref] {
			continue
		}
		id := *ref
		seen[id] = true
		score := r.elementScore(ctx, id, overpass.KindRelation)
		logger.Info("P402 candidate",
			logging.String("wikidata_id", qid),
			logging.String("element", elementRef(overpass.KindRelation, id)),
			logging.Int("score", score))
		out = append(out, candidate{
			osmID:           id,
			osmType:         overpass.KindRelation,
			qid:             qid,
			method:          mappings.MethodCrossReference,
			searchName:      owner[qid],
			score:           score + r.authorityBonus,
			fromCircuitName: fromCircuitName[qid],
		})
	}
	return out
}

// crossReferenceEach looks identifiers up one at a time through entity
// data. Identifiers that fail stay nil.
func (r *Resolver) crossReferenceEach(ctx context.Context, qids []string) map[string]*int64 {
	refs := make(map[string]*int64, len(qids))
	for _, qid := range qids {
		if ctx.Err() != nil {
			break
		}
		ref, err := r.kb.CrossReference(ctx, qid)
		if err != nil {
			logging.WithContext(ctx, r.logger).Debug("P402 entity lookup failed",
				logging.String("wikidata_id", qid),
				logging.Error(err))
			continue
		}
		refs[qid] = ref
	}
	return refs
}

func (r *Resolver) tagCandidates(ctx context.Context, qids []string, owner map[string]string, fromCircuitName map[string]bool, seen map[int64]bool) []candidate {
	logger := logging.WithContext(ctx, r.logger)
	logger.Info("searching OSM for wikidata tags",
		logging.String(logging.FieldStep, "wikidata_tag"),
		logging.Int("identifiers", len(qids)))

	matches, err := r.backend.FindByWikidataTags(ctx, qids)
	if err != nil && ctx.Err() == nil {
		logging.WarnWithContext(logger, "wikidata tag search failed", "wikidata_tag_search_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "all Overpass servers failed; retry later"),
			logging.String(logging.FieldImpact, "tag candidates skipped"))
	}

	var out []candidate
	for _, qid := range qids {
		match := matches[qid]
		if !match.Found() || seen[match.OSMID] {
			continue
		}
		seen[match.OSMID] = true
		logger.Info("wikidata tag candidate",
			logging.String("wikidata_id", qid),
			logging.String("element", elementRef(match.OSMType, match.OSMID)),
			logging.Int("score", match.Score),
			logging.Bool("via_complex", match.ViaComplex))
		out = append(out, candidate{
			osmID:           match.OSMID,
			osmType:         match.OSMType,
			qid:             qid,
			method:          mappings.MethodWikidataTag,
			searchName:      owner[qid],
			score:           match.Score,
			fromCircuitName: fromCircuitName[qid],
		})
	}
	return out
}

// nameCandidate runs the fallback name search on the circuit name only.
func (r *Resolver) nameCandidate(ctx context.Context, name string, seen map[int64]bool) (candidate, bool) {
	logger := logging.WithContext(ctx, r.logger)
	logger.Info("trying OSM name search", logging.String(logging.FieldStep, "name_search"), logging.String("search_name", name))

	el, server, err := r.backend.FindByName(ctx, name)
	if err != nil {
		if ctx.Err() == nil && !errors.Is(err, services.ErrNotFoundInBackend) {
			logging.WarnWithContext(logger, "name search failed", "name_search_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "all Overpass servers failed; retry later"),
				logging.String(logging.FieldImpact, "name search candidate skipped"))
		} else {
			logger.Info("name search found nothing")
		}
		return candidate{}, false
	}
	if seen[el.ID] {
		logger.Info("name search hit already a candidate", logging.String("element", el.Ref()))
		return candidate{}, false
	}
	seen[el.ID] = true
	score := r.elementScore(ctx, el.ID, el.Type)
	logger.Info("name search candidate",
		logging.String("element", el.Ref()),
		logging.String("server", server),
		logging.Int("score", score))
	return candidate{
		osmID:           el.ID,
		osmType:         el.Type,
		method:          mappings.MethodNameSearch,
		searchName:      name,
		score:           score,
		fromCircuitName: true,
	}, true
}

// elementScore scores the element with full tags. The fetch is cached, so
// the later geometry export does not hit the backend again.
func (r *Resolver) elementScore(ctx context.Context, id int64, kind string) int {
	el, _, err := r.backend.Element(ctx, id, kind)
	if err != nil || el == nil {
		if err != nil && ctx.Err() == nil {
			logging.WithContext(ctx, r.logger).Debug("element fetch for scoring failed",
				logging.String("element", elementRef(kind, id)),
				logging.Error(err))
		}
		return 0
	}
	return overpass.Score(*el)
}

func (r *Resolver) persistWinner(ctx context.Context, name string, candidates []candidate) report {
	logger := logging.WithContext(ctx, r.logger)
	ordered := selectBest(candidates)
	best := ordered[0]
	comment := runnersUpComment(ordered)

	logger.Info("candidate selected",
		logging.Args(append(logging.DecisionAttrs("candidate_selection", elementRef(best.osmType, best.osmID), best.method),
			logging.Int("candidates", len(ordered)),
			logging.Int("score", best.score),
			logging.Bool("from_circuit_name", best.fromCircuitName))...)...)
	if comment != "" {
		logging.WarnWithContext(logger, "multiple candidates found", "ambiguous_result",
			logging.String("comment", comment),
			logging.String(logging.FieldErrorHint, fmt.Sprintf("review the %s entry and pin the right element if needed", r.mappingsName)),
			logging.String(logging.FieldImpact, "best candidate used"))
	}

	r.persist(ctx, name, mappings.Update{
		OSMID:      best.osmID,
		OSMType:    best.osmType,
		WikidataID: best.qid,
		Method:     best.method,
		SearchName: best.searchName,
		Comment:    comment,
	})
	return report{
		outcome: &Outcome{
			OSMID:      best.osmID,
			OSMType:    best.osmType,
			Method:     best.method,
			WikidataID: best.qid,
		},
		status:     history.OutcomeResolved,
		candidates: len(ordered),
		comment:    comment,
	}
}

// persistAbsent records a failed resolution. A circuit Wikidata knows about
// keeps its first QID so the operator has a starting point.
func (r *Resolver) persistAbsent(ctx context.Context, name string, qids []string) report {
	logger := logging.WithContext(ctx, r.logger)
	if len(qids) > 0 {
		logger.Info("wikidata knows this circuit but OSM does not",
			logging.Args(logging.DecisionAttrs("candidate_selection", "absent", "no OSM element for known identifiers")...)...)
		r.persist(ctx, name, mappings.Update{WikidataID: qids[0]})
		return report{status: history.OutcomeNotInBackend}
	}
	logger.Info("circuit not found in wikidata or OSM",
		logging.Args(logging.DecisionAttrs("candidate_selection", "absent", "no identifiers and no name match")...)...)
	r.persist(ctx, name, mappings.Update{})
	return report{status: history.OutcomeNotFound}
}

// persist writes update unless the record is manual. Failures are logged;
// the resolution result stands.
func (r *Resolver) persist(ctx context.Context, name string, update mappings.Update) {
	logger := logging.WithContext(ctx, r.logger)
	written, err := r.store.Set(name, update)
	if err != nil {
		logging.WarnWithContext(logger, "mapping store write failed", "store_write_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check permissions on the mapping store file"),
			logging.String(logging.FieldImpact, "decision not persisted; it will be resolved again next run"))
		return
	}
	if !written {
		logger.Info("manual mapping kept", logging.Args(logging.DecisionAttrs("persist", "skipped", "record is manual")...)...)
	}
}

func (r *Resolver) journalDecision(ctx context.Context, name string, rep report) {
	if r.journal == nil {
		return
	}
	runID, _ := services.RunIDFromContext(ctx)
	d := history.Decision{
		RunID:      runID,
		Circuit:    name,
		Candidates: rep.candidates,
		Comment:    rep.comment,
		Outcome:    rep.status,
	}
	if o := rep.outcome; o != nil {
		d.OSMID = o.OSMID
		d.OSMType = o.OSMType
		d.WikidataID = o.WikidataID
		d.Method = o.Method
	}
	if _, err := r.journal.Append(ctx, d); err != nil && ctx.Err() == nil {
		logging.WarnWithContext(logging.WithContext(ctx, r.logger), "decision journal append failed", "history_append_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the history database path and permissions"),
			logging.String(logging.FieldImpact, "decision missing from history"))
	}
}
