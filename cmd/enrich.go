package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/diecast-crawler/internal/catalog"
)

// newEnrichCmd creates the 'enrich' subcommand.
func newEnrichCmd() *cobra.Command {
	var req catalog.EnrichRequest

	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Annotate stored items below an enrichment version",
		RunE: withApp(func(cmd *cobra.Command, appInstance App) error {
			ids, err := appInstance.Enrich(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("enrich: %w", err)
			}
			if ids == nil {
				ids = []string{}
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
				"job_id": req.JobID,
				"count":  len(ids),
				"ids":    ids,
			})
		}),
	}

	flags := cmd.Flags()
	flags.StringVar(&req.JobID, "job-id", "", "job id for the log")
	flags.IntVar(&req.Version, "version", 0, "enrichment version to bring items up to, must be > 0")
	flags.IntVar(&req.Limit, "limit", 0, "maximum items to annotate, 0 for all")
	_ = cmd.MarkFlagRequired("job-id")
	_ = cmd.MarkFlagRequired("version")

	return cmd
}
