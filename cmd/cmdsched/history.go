package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/doughall/cmdsched/internal/config"
	"github.com/doughall/cmdsched/internal/history"
)

var errHistoryDisabled = errors.New("history is disabled (set history_path in the configuration)")

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent command executions",
		Long: `History prints the most recent executions from the journal, newest first.

The journal is locked while the scheduler runs; stop the service or wait for
the lock timeout if this command reports a timeout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if !cfg.HistoryEnabled() {
				return errHistoryDisabled
			}

			journal, err := history.OpenReadOnly(cfg.HistoryPath)
			if err != nil {
				return fmt.Errorf("failed to open history journal %s: %w", cfg.HistoryPath, err)
			}
			defer journal.Close()

			records, err := journal.Recent(limit)
			if err != nil {
				return err
			}
			printHistory(cmd.OutOrStdout(), records)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of executions to show")
	return cmd
}

func printHistory(w io.Writer, records []*history.Record) {
	if len(records) == 0 {
		fmt.Fprintln(w, "no executions recorded")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tKIND\tEXIT\tDURATION\tSTATUS\tCOMMAND")
	for _, r := range records {
		status := "ok"
		switch {
		case r.TimedOut:
			status = "timed out"
		case r.Error != "":
			status = r.Error
		case r.ExitCode != 0:
			status = "failed"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			r.StartedAt.Local().Format(time.DateTime),
			r.Kind,
			r.ExitCode,
			time.Duration(r.DurationMs)*time.Millisecond,
			status,
			r.Command,
		)
	}
	tw.Flush()
}
