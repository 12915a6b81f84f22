package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/taskgraph/internal/persistence"
	"github.com/aristath/taskgraph/internal/report"
)

func newHistoryCmd() *cobra.Command {
	var (
		dbPath string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "history [RUN_ID]",
		Short: "List recorded runs, or the tasks of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := persistence.NewSQLiteStore(ctx, dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				runs, err := store.ListRuns(ctx, limit)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, report.StyleHeader.Render(fmt.Sprintf("%-36s  %-8s  %5s  %10s  %s", "RUN", "STATUS", "TASKS", "DURATION", "PIPELINE")))
				for _, r := range runs {
					fmt.Fprintf(out, "%-36s  %-8s  %5d  %10s  %s\n", r.ID, r.Status, r.Tasks, r.Duration().Round(time.Millisecond), r.Pipeline)
				}
				return nil
			}

			run, err := store.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			recs, err := store.ListTasks(ctx, run.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s  %s  %s\n", run.ID, run.Status, run.Pipeline)
			if run.Error != "" {
				fmt.Fprintf(out, "error: %s\n", run.Error)
			}
			for _, rec := range recs {
				handled := ""
				if rec.Handled {
					handled = " (handled)"
				}
				fmt.Fprintf(out, "  %-20s  %-9s  %10s  %s%s\n", rec.TaskID, rec.Status, rec.Elapsed.Round(time.Millisecond), rec.Error, handled)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "taskgraph-history.db", "SQLite history database")
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to list (0 for all)")
	return cmd
}
