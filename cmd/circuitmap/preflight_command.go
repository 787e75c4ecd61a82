package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"circuitmap/internal/preflight"
)

func newPreflightCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "preflight",
		Short: "Check directories and upstream services",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.newLogger()
			if err != nil {
				return err
			}
			op, err := newOverpassClient(cfg, logger)
			if err != nil {
				return fmt.Errorf("overpass client: %w", err)
			}

			results := preflight.RunAll(cmd.Context(), cfg, preflight.Dependencies{
				Overpass:   op,
				Servers:    overpassServers(cfg),
				HTTPClient: &http.Client{Timeout: cfg.RequestTimeout()},
			})

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			rows := make([][]string, 0, len(results))
			for _, r := range results {
				status := colorText("PASS", ansiGreen, colorize)
				if !r.Passed {
					status = colorText("FAIL", ansiRed, colorize)
				}
				rows = append(rows, []string{r.Name, status, r.Detail})
			}
			fmt.Fprintln(out, renderTable([]string{"Check", "Status", "Detail"}, rows, nil))

			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d of %d checks failed", len(failed), len(results))
			}
			return nil
		},
	}
}
