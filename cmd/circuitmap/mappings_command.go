package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"circuitmap/internal/mappings"
)

type mappingView struct {
	Circuit      string `json:"circuit"`
	OSMID        *int64 `json:"osm_id"`
	OSMType      string `json:"osm_type,omitempty"`
	WikidataID   string `json:"wikidata_id,omitempty"`
	SearchMethod string `json:"search_method,omitempty"`
	SearchName   string `json:"search_name,omitempty"`
	VerifiedAt   string `json:"verified_at"`
	Manual       bool   `json:"manual"`
	Comment      string `json:"comment,omitempty"`
	OSMVersion   int    `json:"osm_version,omitempty"`
}

func newMappingView(name string, rec mappings.Record) mappingView {
	view := mappingView{
		Circuit:      name,
		OSMID:        rec.OSMID,
		WikidataID:   rec.Wikidata(),
		SearchMethod: rec.Method(),
		VerifiedAt:   rec.VerifiedAt,
		Manual:       rec.Manual,
		Comment:      rec.Comment,
		OSMVersion:   rec.Version(),
	}
	if _, kind, ok := rec.Element(); ok {
		view.OSMType = kind
	}
	if rec.SearchName != nil {
		view.SearchName = *rec.SearchName
	}
	return view
}

func newMappingsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mappings",
		Short: "Inspect and edit the circuit mapping store",
	}
	cmd.AddCommand(newMappingsListCommand(ctx))
	cmd.AddCommand(newMappingsShowCommand(ctx))
	cmd.AddCommand(newMappingsStatsCommand(ctx))
	cmd.AddCommand(newMappingsSetCommand(ctx))
	cmd.AddCommand(newMappingsRemoveCommand(ctx))
	cmd.AddCommand(newMappingsRefreshCommand(ctx))
	return cmd
}

// openStore opens the mapping store without the network clients.
func (c *commandContext) openStore() (*mappings.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.newLogger()
	if err != nil {
		return nil, err
	}
	store, err := mappings.Open(cfg.Paths.MappingsFile, logger)
	if err != nil {
		return nil, fmt.Errorf("open mapping store: %w", err)
	}
	return store, nil
}

func newMappingsListCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	var manualOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored mappings",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			var views []mappingView
			for _, entry := range store.List() {
				if manualOnly && !entry.Record.Manual {
					continue
				}
				views = append(views, newMappingView(entry.Name, entry.Record))
			}
			if jsonOut {
				if views == nil {
					views = []mappingView{}
				}
				return writeJSON(cmd, views)
			}

			out := cmd.OutOrStdout()
			if len(views) == 0 {
				fmt.Fprintln(out, "No mappings stored")
				return nil
			}
			rows := make([][]string, 0, len(views))
			for _, view := range views {
				element := "-"
				if view.OSMID != nil {
					element = view.OSMType + "/" + strconv.FormatInt(*view.OSMID, 10)
				}
				rows = append(rows, []string{
					view.Circuit,
					element,
					dash(view.SearchMethod),
					dash(view.WikidataID),
					yesNo(view.Manual),
					view.VerifiedAt,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Circuit", "Element", "Method", "Wikidata", "Manual", "Verified"},
				rows, nil))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&manualOnly, "manual", false, "Only list manual records")
	return cmd
}

func newMappingsShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "show <circuit name>",
		Short: "Show the stored mapping for one circuit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			name := args[0]
			rec, ok := store.Get(name)
			if !ok {
				return fmt.Errorf("no mapping for %q", name)
			}
			view := newMappingView(name, rec)
			if jsonOut {
				return writeJSON(cmd, view)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Circuit:   %s\n", name)
			fmt.Fprintf(out, "Element:   %s\n", dash(rec.ElementRef()))
			fmt.Fprintf(out, "Wikidata:  %s\n", dash(view.WikidataID))
			fmt.Fprintf(out, "Method:    %s\n", dash(view.SearchMethod))
			fmt.Fprintf(out, "Search:    %s\n", dash(view.SearchName))
			fmt.Fprintf(out, "Verified:  %s\n", dash(view.VerifiedAt))
			fmt.Fprintf(out, "Manual:    %s\n", yesNo(view.Manual))
			if view.OSMVersion > 0 {
				fmt.Fprintf(out, "Version:   %d\n", view.OSMVersion)
			}
			if view.Comment != "" {
				fmt.Fprintf(out, "Comment:   %s\n", view.Comment)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func newMappingsStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize the mapping store",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			manual, auto := store.Stats()
			absent := 0
			for _, entry := range store.List() {
				if entry.Record.KnownAbsent() {
					absent++
				}
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Store:         %s\n", store.Path())
			fmt.Fprintf(out, "Total:         %d\n", manual+auto)
			fmt.Fprintf(out, "Automatic:     %d\n", auto)
			fmt.Fprintf(out, "Manual:        %d\n", manual)
			fmt.Fprintf(out, "Known absent:  %d\n", absent)
			if unreadable := store.Unreadable(); len(unreadable) > 0 {
				fmt.Fprintf(out, "Unreadable:    %d (%s)\n", len(unreadable), strings.Join(unreadable, ", "))
				fmt.Fprintln(out, "               fix these by hand or pin them with 'circuitmap mappings set'")
			}
			return nil
		},
	}
}

func newMappingsSetCommand(ctx *commandContext) *cobra.Command {
	var osmID int64
	var osmType string
	var wikidataID string
	var comment string
	var absent bool

	cmd := &cobra.Command{
		Use:   "set <circuit name>",
		Short: "Pin a circuit to an OSM element, or mark it as absent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			if absent == (osmID != 0) {
				return fmt.Errorf("exactly one of --osm-id or --absent is required")
			}
			kind := strings.ToLower(strings.TrimSpace(osmType))
			if kind != "relation" && kind != "way" {
				return fmt.Errorf("--osm-type must be relation or way, got %q", osmType)
			}

			store, err := ctx.openStore()
			if err != nil {
				return err
			}

			var rec mappings.Record
			if osmID != 0 {
				id := osmID
				rec.OSMID = &id
				rec.OSMType = &kind
			}
			if qid := strings.ToUpper(strings.TrimSpace(wikidataID)); qid != "" {
				rec.WikidataID = &qid
			}
			rec.Comment = strings.TrimSpace(comment)
			if err := store.Pin(name, rec); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if absent {
				fmt.Fprintf(out, "Marked %s as having no OSM element\n", name)
			} else {
				fmt.Fprintf(out, "Pinned %s to %s/%s\n", name, kind, strconv.FormatInt(osmID, 10))
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&osmID, "osm-id", 0, "OSM element ID")
	cmd.Flags().StringVar(&osmType, "osm-type", "relation", "OSM element type (relation or way)")
	cmd.Flags().StringVar(&wikidataID, "wikidata", "", "Wikidata item ID (e.g. Q12345)")
	cmd.Flags().StringVar(&comment, "comment", "", "Free-form note stored with the record")
	cmd.Flags().BoolVar(&absent, "absent", false, "Mark the circuit as having no OSM element")
	return cmd
}

func newMappingsRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <circuit name>",
		Short: "Delete the stored mapping so the next sync resolves it again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			if err := store.Remove(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
			return nil
		},
	}
}

func newMappingsRefreshCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh-version <circuit name>",
		Short: "Store the current OSM version of a mapped element",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			version, err := a.resolver.RefreshVersion(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is at version %d\n", args[0], version)
			return nil
		},
	}
}
