package resolver

import (
	"context"
	"fmt"
	"strings"

	"circuitmap/internal/circuit"
	"circuitmap/internal/export"
	"circuitmap/internal/geojson"
	"circuitmap/internal/history"
	"circuitmap/internal/logging"
	"circuitmap/internal/services"
)

// Status is the per-circuit result of Process.
type Status string

const (
	StatusSaved   Status = "saved"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// ProcessOptions configures Process.
type ProcessOptions struct {
	OutputDir string
	// CheckUpdate re-resolves circuits whose track file exists and rewrites
	// it when the upstream element version moved on.
	CheckUpdate bool
}

// ProcessResult reports what Process did. Message carries operator
// guidance for failures and may span several lines.
type ProcessResult struct {
	Status  Status
	Message string
	Outcome *Outcome
	Path    string
	// Cause is set on failures and carries a services sentinel, so callers
	// can sort failures with services.Classify.
	Cause error
}

// Process resolves c and exports its geometry. Failures are reported in the
// result; the only error returned is context cancellation.
func (r *Resolver) Process(ctx context.Context, c circuit.Circuit, opts ProcessOptions) (ProcessResult, error) {
	ctx = ensureRunContext(ctx, c.Name)
	logger := logging.WithContext(ctx, r.logger)
	writer := export.NewWriter(opts.OutputDir)
	stem := c.SafeFilename()
	exists := writer.Exists(stem)

	if exists && !opts.CheckUpdate {
		return ProcessResult{Status: StatusSkipped, Message: "Already exists", Path: writer.Path(stem)}, nil
	}

	rep, err := r.resolve(ctx, c)
	if err != nil {
		return ProcessResult{}, err
	}
	if rep.outcome == nil {
		return r.unresolved(c, rep), nil
	}
	out := rep.outcome

	remoteVersion, haveRemote := 0, false
	if exists && opts.CheckUpdate {
		localVersion := 0
		if rec, ok := r.store.Get(c.Name); ok {
			localVersion = rec.Version()
		}
		remoteVersion, haveRemote = r.verifier.Version(ctx, out.OSMID, out.OSMType)
		if localVersion > 0 && haveRemote && localVersion >= remoteVersion {
			return ProcessResult{
				Status:  StatusSkipped,
				Message: fmt.Sprintf("Up to date (v%d)", localVersion),
				Outcome: out,
				Path:    writer.Path(stem),
			}, nil
		}
		logger.Info("updating track",
			logging.Int("local_version", localVersion),
			logging.Int("remote_version", remoteVersion))
	}

	el, server, err := r.backend.Element(ctx, out.OSMID, out.OSMType)
	if err != nil || el == nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ProcessResult{}, ctxErr
		}
		logging.WarnWithContext(logger, "geometry fetch failed", "geometry_fetch_failed",
			logging.String("element", out.Ref()),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "all Overpass servers failed; retry later"),
			logging.String(logging.FieldImpact, "track not exported"))
		if err == nil {
			err = services.Wrap(services.ErrNotFoundInBackend, "resolver", "geometry", out.Ref()+" not returned", nil)
		}
		return ProcessResult{Status: StatusFailed, Outcome: out, Message: geometryFailedMessage(out), Cause: err}, nil
	}

	fc := geojson.FromElement(*el)
	if fc.Empty() {
		return ProcessResult{
			Status:  StatusFailed,
			Outcome: out,
			Message: noGeometryMessage(out),
			Cause:   services.Wrap(services.ErrNotFoundInBackend, "resolver", "geometry", out.Ref()+" has no way geometry", nil),
		}, nil
	}

	path, err := writer.Write(stem, fc)
	if err != nil {
		logging.ErrorWithContext(logger, "track export failed", "export_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check write permissions on the output directory"))
		return ProcessResult{
			Status:  StatusFailed,
			Outcome: out,
			Message: fmt.Sprintf("Failed to save file %s\n       Check write permissions for %s/", writer.Path(stem), writer.Dir()),
			Cause:   services.Wrap(services.ErrConfiguration, "export", "write", writer.Path(stem), err),
		}, nil
	}

	if !haveRemote {
		remoteVersion, haveRemote = r.verifier.Version(ctx, out.OSMID, out.OSMType)
	}
	if haveRemote && remoteVersion > 0 {
		if err := r.store.UpdateVersion(c.Name, remoteVersion); err != nil {
			logging.WarnWithContext(logger, "version update failed", "store_write_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "next update check re-exports this track"))
		}
	}

	return ProcessResult{
		Status:  StatusSaved,
		Outcome: out,
		Path:    path,
		Message: fmt.Sprintf("Saved via %s (OSM %s: %d, server: %s)", savedVia(out), out.OSMType, out.OSMID, server),
	}, nil
}

// RefreshVersion stores the current upstream version of a mapped circuit
// without resolving it again.
func (r *Resolver) RefreshVersion(ctx context.Context, name string) (int, error) {
	rec, ok := r.store.Get(name)
	if !ok {
		return 0, services.Wrap(services.ErrValidation, "resolver", "refresh version", fmt.Sprintf("no mapping for %q", name), nil)
	}
	id, kind, ok := rec.Element()
	if !ok {
		return 0, services.Wrap(services.ErrValidation, "resolver", "refresh version", fmt.Sprintf("mapping for %q has no OSM element", name), nil)
	}
	version, ok := r.verifier.Version(ctx, id, kind)
	if !ok {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		return 0, services.Wrap(services.ErrNotFoundInBackend, "resolver", "refresh version", fmt.Sprintf("no version for %s", elementRef(kind, id)), nil)
	}
	if err := r.store.UpdateVersion(name, version); err != nil {
		return 0, services.Wrap(services.ErrStoreWriteFailed, "resolver", "refresh version", "persist version", err)
	}
	return version, nil
}

func (r *Resolver) unresolved(c circuit.Circuit, rep report) ProcessResult {
	result := ProcessResult{Status: StatusFailed}
	if rep.status == history.OutcomeKnownAbsent {
		result.Message = fmt.Sprintf("The race track may no longer exist.\n Skipped (manual=true and osm_id=null in %s)", r.mappingsName)
		result.Cause = services.Wrap(services.ErrNotFoundInBackend, "resolver", "process", "marked absent in "+r.mappingsName, nil)
		return result
	}

	wikidataID := ""
	if rec, ok := r.store.Get(c.Name); ok {
		wikidataID = rec.Wikidata()
	}
	var b strings.Builder
	if wikidataID != "" {
		result.Cause = services.Wrap(services.ErrNotFoundInBackend, "resolver", "process", "no OSM element for "+wikidataID, nil)
		b.WriteString("Not found in OpenStreetMap\n")
		fmt.Fprintf(&b, "       Wikidata: %s\n", wikidataID)
		b.WriteString("       Actions:\n")
		fmt.Fprintf(&b, "          1. Check https://www.wikidata.org/wiki/%s\n", wikidataID)
		b.WriteString("          2. Find circuit at https://www.openstreetmap.org\n")
		fmt.Fprintf(&b, "          3. Add OSM ID to %s", r.mappingsName)
	} else {
		result.Cause = services.Wrap(services.ErrNotFoundInKnowledgeBase, "resolver", "process", c.Name, nil)
		b.WriteString("Not found in Wikidata or OSM\n")
		b.WriteString("       Actions:\n")
		b.WriteString("          1. Find circuit at https://www.openstreetmap.org\n")
		fmt.Fprintf(&b, "          2. Add OSM ID to %s:\n", r.mappingsName)
		fmt.Fprintf(&b, `             "%s": {"osm_id": 12345, "osm_type": "way", "manual": true}`, c.Name)
	}
	result.Message = b.String()
	return result
}

// savedVia names how the element was found: the cache label as is, the
// Wikidata path when an identifier led to it, or the bare name search.
func savedVia(o *Outcome) string {
	switch {
	case strings.HasPrefix(o.Method, CacheMethodPrefix):
		return o.Method
	case o.WikidataID != "":
		return "Wikidata " + o.Method
	default:
		return "Overpass name search"
	}
}

func geometryFailedMessage(o *Outcome) string {
	return fmt.Sprintf("Failed to get geometry from Overpass API\n"+
		"       OSM %[1]s: %[2]d\n"+
		"       Possible causes:\n"+
		"          - All Overpass servers are overloaded or unavailable\n"+
		"          - Try running the script later\n"+
		"          - Check: https://www.openstreetmap.org/%[1]s/%[2]d", o.OSMType, o.OSMID)
}

func noGeometryMessage(o *Outcome) string {
	return fmt.Sprintf("OSM %[1]s has no geometry\n"+
		"       OSM %[1]s: %[2]d\n"+
		"       Possible causes:\n"+
		"          - Element exists but has no geometry data\n"+
		"          - Check: https://www.openstreetmap.org/%[1]s/%[2]d\n"+
		"          - May need to find a different OSM ID for this circuit", o.OSMType, o.OSMID)
}
