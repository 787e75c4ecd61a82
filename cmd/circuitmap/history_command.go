package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"circuitmap/internal/history"
)

// decisionView mirrors history.Decision field for field so it converts
// directly.
type decisionView struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	Circuit    string    `json:"circuit"`
	OSMID      int64     `json:"osm_id,omitempty"`
	OSMType    string    `json:"osm_type,omitempty"`
	WikidataID string    `json:"wikidata_id,omitempty"`
	Method     string    `json:"method,omitempty"`
	Candidates int       `json:"candidates"`
	Comment    string    `json:"comment,omitempty"`
	Outcome    string    `json:"outcome"`
	CreatedAt  time.Time `json:"created_at"`
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var circuitName string
	var runID string
	var limit int
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show journaled resolution decisions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cfg.History.Enabled {
				return fmt.Errorf("decision journal is disabled (set history.enabled = true)")
			}
			journal, err := history.Open(cfg.Paths.HistoryDB)
			if err != nil {
				return fmt.Errorf("open decision journal: %w", err)
			}
			defer journal.Close()

			var decisions []history.Decision
			switch {
			case strings.TrimSpace(runID) != "":
				decisions, err = journal.ForRun(cmd.Context(), strings.TrimSpace(runID))
			case strings.TrimSpace(circuitName) != "":
				decisions, err = journal.ForCircuit(cmd.Context(), strings.TrimSpace(circuitName), limit)
			default:
				decisions, err = journal.Recent(cmd.Context(), limit)
			}
			if err != nil {
				return err
			}

			if jsonOut {
				views := make([]decisionView, 0, len(decisions))
				for _, d := range decisions {
					views = append(views, decisionView(d))
				}
				return writeJSON(cmd, views)
			}

			out := cmd.OutOrStdout()
			if len(decisions) == 0 {
				fmt.Fprintln(out, "No decisions recorded")
				return nil
			}
			rows := make([][]string, 0, len(decisions))
			for _, d := range decisions {
				element := "-"
				if d.OSMID != 0 {
					element = d.OSMType + "/" + strconv.FormatInt(d.OSMID, 10)
				}
				rows = append(rows, []string{
					d.CreatedAt.Local().Format("2006-01-02 15:04"),
					d.Circuit,
					d.Outcome,
					element,
					dash(d.Method),
					strconv.Itoa(d.Candidates),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"When", "Circuit", "Outcome", "Element", "Method", "Candidates"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight}))
			return nil
		},
	}
	cmd.Flags().StringVar(&circuitName, "circuit", "", "Only show decisions for this circuit")
	cmd.Flags().StringVar(&runID, "run", "", "Only show decisions from this run ID")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of decisions")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}
