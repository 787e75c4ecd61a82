package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"circuitmap/internal/circuit"
	"circuitmap/internal/config"
	"circuitmap/internal/preflight"
	"circuitmap/internal/ratelimit"
	"circuitmap/internal/resolver"
	"circuitmap/internal/services"
)

const rule = "============================================================"

type syncOptions struct {
	circuitsFile  string
	checkUpdate   bool
	skipPreflight bool
}

type failedCircuit struct {
	name     string
	reason   string
	severity services.Severity
}

type syncSummary struct {
	saved   int
	skipped int
	failed  []failedCircuit
}

func newSyncCommand(ctx *commandContext) *cobra.Command {
	var opts syncOptions

	cmd := &cobra.Command{
		Use:   "sync [circuit...]",
		Short: "Resolve every listed circuit and export its track as GeoJSON",
		Long: "Resolve every circuit in the circuit list (or only the named ones) and\n" +
			"write <output_dir>/<name>.geojson. Existing files are skipped unless\n" +
			"--check-update is set, in which case they are rewritten when the OSM\n" +
			"element version changed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.openApp()
			if err != nil {
				return err
			}
			defer a.Close()
			return runSync(cmd, a, args, opts)
		},
	}

	cmd.Flags().StringVar(&opts.circuitsFile, "circuits", "", "Circuit list (YAML or JSON); defaults to paths.circuits_file")
	cmd.Flags().BoolVar(&opts.checkUpdate, "check-update", false, "Re-check existing tracks and refresh them when OSM changed")
	cmd.Flags().BoolVar(&opts.skipPreflight, "skip-preflight", false, "Do not check Overpass servers before starting")
	return cmd
}

func runSync(cmd *cobra.Command, a *app, names []string, opts syncOptions) error {
	runCtx := services.WithRunID(cmd.Context(), uuid.NewString())
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	path := strings.TrimSpace(opts.circuitsFile)
	if path == "" {
		path = a.cfg.Paths.CircuitsFile
	} else if expanded, err := config.ExpandPath(path); err == nil {
		path = expanded
	}
	circuits, err := circuit.NewFileSource(path).Circuits(runCtx)
	if err != nil {
		return fmt.Errorf("load circuits: %w", err)
	}
	circuits, missing := circuit.Filter(circuits, names)
	for _, name := range missing {
		fmt.Fprintf(cmd.ErrOrStderr(), "Unknown circuit %q (not in %s)\n", name, path)
	}
	if len(circuits) == 0 {
		return errors.New("no circuits to process")
	}

	if !opts.skipPreflight {
		servers := a.overpass.Servers()
		results := preflight.CheckOverpassServers(runCtx, a.overpass, servers)
		if !preflight.OverpassHealthy(results, servers) {
			return fmt.Errorf("no Overpass server is reachable (%s); retry later or use --skip-preflight", failedDetails(results))
		}
	}

	manual, auto := a.store.Stats()
	fmt.Fprintf(out, "Cache: %d manual + %d auto-discovered mappings\n\n", manual, auto)
	fmt.Fprintln(out, rule)
	fmt.Fprintf(out, "Processing %d circuits...\n", len(circuits))
	if opts.checkUpdate {
		fmt.Fprintln(out, "   (update check mode)")
	}
	fmt.Fprintf(out, "%s\n\n", rule)

	summary, err := processAll(runCtx, out, a, circuits, opts.checkUpdate, colorize)
	printSummary(out, summary, a.store.Path())
	return err
}

func processAll(ctx context.Context, out io.Writer, a *app, circuits []circuit.Circuit, checkUpdate, colorize bool) (syncSummary, error) {
	var summary syncSummary
	delay := a.cfg.RequestDelay()
	for idx, c := range circuits {
		fmt.Fprintf(out, "[%d/%d] %s\n", idx+1, len(circuits), c.Name)
		res, err := a.resolver.Process(services.WithCircuit(ctx, c.Name), c, resolver.ProcessOptions{
			OutputDir:   a.cfg.Paths.OutputDir,
			CheckUpdate: checkUpdate,
		})
		if err != nil {
			return summary, err
		}
		switch res.Status {
		case resolver.StatusSaved:
			summary.saved++
		case resolver.StatusSkipped:
			summary.skipped++
		default:
			summary.failed = append(summary.failed, failedCircuit{
				name:     c.Name,
				reason:   res.Message,
				severity: services.Classify(res.Cause),
			})
		}
		fmt.Fprintf(out, "    %s\n", statusLine(res.Status, res.Message, colorize))
		// Geometry is only reused within one circuit.
		a.overpass.ClearCache()

		if idx < len(circuits)-1 {
			if err := ratelimit.Sleep(ctx, delay); err != nil {
				return summary, err
			}
		}
	}
	return summary, nil
}

func printSummary(out io.Writer, summary syncSummary, mappingsPath string) {
	fmt.Fprintf(out, "\n%s\n", rule)
	fmt.Fprintf(out, "Results: %d saved | %d skipped | %d failed\n", summary.saved, summary.skipped, len(summary.failed))
	fmt.Fprintln(out, rule)
	if len(summary.failed) == 0 {
		return
	}

	fmt.Fprint(out, "\nFailed circuits:\n\n")
	for _, f := range summary.failed {
		fmt.Fprintf(out, "   - %s [%s]\n", f.name, f.severity)
		for _, line := range strings.Split(f.reason, "\n") {
			fmt.Fprintf(out, "     %s\n", line)
		}
		fmt.Fprintln(out)
	}
	fmt.Fprintln(out, rule)
	fmt.Fprintln(out, "How to add a circuit manually:")
	fmt.Fprintln(out, rule)
	fmt.Fprintln(out, "   1. Find the circuit at https://www.openstreetmap.org")
	fmt.Fprintln(out, "   2. Copy the relation ID (number from URL)")
	fmt.Fprintf(out, "   3. Pin it: circuitmap mappings set \"Circuit Name\" --osm-id 12345678 --wikidata Q123456\n")
	fmt.Fprintf(out, "      or add to %s:\n", mappingsPath)
	fmt.Fprintln(out, `      "Circuit Name": {`)
	fmt.Fprintln(out, `        "osm_id": 12345678,`)
	fmt.Fprintln(out, `        "wikidata_id": "Q123456",`)
	fmt.Fprintln(out, `        "manual": true`)
	fmt.Fprintln(out, "      }")
	fmt.Fprintln(out)
}

func failedDetails(results []preflight.Result) string {
	parts := make([]string, 0, len(results))
	for _, r := range preflight.Failed(results) {
		parts = append(parts, r.Name+": "+r.Detail)
	}
	return strings.Join(parts, "; ")
}
