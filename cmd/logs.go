package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

// terminalLines end a crawl or enrichment job log.
var terminalLines = map[string]struct{}{
	"State Done":   {},
	"State Failed": {},
	"DONE":         {},
	"END":          {},
}

const followInterval = time.Second

// newLogsCmd creates the 'logs' subcommand.
func newLogsCmd() *cobra.Command {
	var (
		jobID  string
		after  int64
		limit  int
		follow bool
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print job log lines",
		RunE: withApp(func(cmd *cobra.Command, appInstance App) error {
			return printLogs(cmd.Context(), appInstance, cmd.OutOrStdout(), jobID, after, limit, follow)
		}),
	}

	flags := cmd.Flags()
	flags.StringVar(&jobID, "job-id", "", "job to print")
	flags.Int64Var(&after, "after", 0, "print lines with a timestamp (unix ms) after this cursor")
	flags.IntVar(&limit, "limit", 0, "lines per poll, 0 for the server default")
	flags.BoolVar(&follow, "follow", false, "keep polling until the job ends")
	_ = cmd.MarkFlagRequired("job-id")

	return cmd
}

func printLogs(ctx context.Context, a App, out io.Writer, jobID string, after int64, limit int, follow bool) error {
	for {
		page, err := a.Logs(ctx, jobID, after, limit)
		if err != nil {
			return fmt.Errorf("poll logs: %w", err)
		}
		finished := false
		for _, e := range page.Logs {
			fmt.Fprintf(out, "%s %s\n", time.UnixMilli(e.TS).UTC().Format(time.RFC3339Nano), e.Message)
			after = e.TS
			if _, ok := terminalLines[e.Message]; ok {
				finished = true
			}
		}
		if page.HasMore && len(page.Logs) > 0 {
			continue
		}
		if !follow || finished {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(followInterval):
		}
	}
}
