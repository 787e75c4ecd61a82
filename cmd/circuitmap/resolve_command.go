package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"circuitmap/internal/circuit"
	"circuitmap/internal/resolver"
	"circuitmap/internal/services"
)

type resolveOutput struct {
	Circuit    string `json:"circuit"`
	Resolved   bool   `json:"resolved"`
	OSMID      int64  `json:"osm_id,omitempty"`
	OSMType    string `json:"osm_type,omitempty"`
	Method     string `json:"method,omitempty"`
	WikidataID string `json:"wikidata_id,omitempty"`
	Comment    string `json:"comment,omitempty"`
}

func newResolveCommand(ctx *commandContext) *cobra.Command {
	var grandsPrix string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "resolve <circuit name>",
		Short: "Resolve one circuit to an OSM element and record the mapping",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			c := lookupCircuit(cmd, a, strings.TrimSpace(args[0]))
			if cmd.Flags().Changed("grand-prix") {
				c.GrandsPrix = grandsPrix
			}
			if c.Name == "" {
				return fmt.Errorf("circuit name must not be empty")
			}

			runCtx := services.WithRunID(cmd.Context(), uuid.NewString())
			outcome, err := a.resolver.Resolve(runCtx, c)
			if err != nil {
				return err
			}

			result := resolveOutput{Circuit: c.Name}
			if rec, ok := a.store.Get(c.Name); ok {
				result.Comment = rec.Comment
			}
			if outcome != nil {
				result.Resolved = true
				result.OSMID = outcome.OSMID
				result.OSMType = outcome.OSMType
				result.Method = outcome.Method
				result.WikidataID = outcome.WikidataID
			}
			if jsonOut {
				return writeJSON(cmd, result)
			}
			printOutcome(cmd, result, outcome)
			return nil
		},
	}

	cmd.Flags().StringVar(&grandsPrix, "grand-prix", "", "Comma-separated Grand Prix names used as extra search names")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

// lookupCircuit returns the listed circuit named name, or a bare circuit
// when the list is unavailable or does not contain it.
func lookupCircuit(cmd *cobra.Command, a *app, name string) circuit.Circuit {
	circuits, err := circuit.NewFileSource(a.cfg.Paths.CircuitsFile).Circuits(cmd.Context())
	if err != nil {
		return circuit.Circuit{Name: name}
	}
	if found, _ := circuit.Filter(circuits, []string{name}); len(found) == 1 {
		return found[0]
	}
	return circuit.Circuit{Name: name}
}

func printOutcome(cmd *cobra.Command, result resolveOutput, outcome *resolver.Outcome) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	fmt.Fprintf(out, "Circuit:  %s\n", result.Circuit)
	if outcome == nil {
		fmt.Fprintf(out, "Result:   %s\n", colorText("not found", ansiRed, colorize))
	} else {
		fmt.Fprintf(out, "Result:   %s\n", colorText(outcome.Ref(), ansiGreen, colorize))
		fmt.Fprintf(out, "Link:     https://www.openstreetmap.org/%s\n", outcome.Ref())
		fmt.Fprintf(out, "Method:   %s\n", outcome.Method)
	}
	if result.WikidataID != "" {
		fmt.Fprintf(out, "Wikidata: %s\n", result.WikidataID)
	}
	if result.Comment != "" {
		fmt.Fprintf(out, "Comment:  %s\n", result.Comment)
	}
}
