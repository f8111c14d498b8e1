package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/doughall/cmdsched/internal/config"
	"github.com/doughall/cmdsched/internal/logging"
	"github.com/doughall/cmdsched/internal/runner"
)

// errRejectedLines makes `check` exit non-zero.
var errRejectedLines = errors.New("commands file has rejected lines")

func newCheckCmd(opts *rootOptions) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "check [file]",
		Short: "Parse and plan a commands file without running anything",
		Long: `Check reads a commands file, reports every rejected line, and prints when
each accepted command would run if the scheduler started now.

The file defaults to commands_file from the configuration.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			path := cfg.CommandsFile
			if len(args) == 1 {
				path = args[0]
			}

			level := "error"
			if verbose {
				level = "debug"
			}
			logger := logging.NewLogger(cmd.ErrOrStderr(), level, logging.FormatText)

			r := runner.New(afero.NewOsFs(), nil, runner.Options{CommandsFile: path}, logger)
			report, err := r.Load()
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), report)
			if report.Invalid() > 0 {
				return errRejectedLines
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log every parse and planning decision")
	return cmd
}

func printReport(w io.Writer, report *runner.Report) {
	s := report.Schedule
	fmt.Fprintf(w, "%s: %d lines, planned at %s\n", report.Path, report.Lines, s.Now.Format(time.DateTime))

	for _, le := range report.Rejected {
		fmt.Fprintf(w, "  line %d: rejected (%s): %s\n", le.Line, le.Err.Reason(), le.Err.Line)
	}
	for _, sk := range s.Skipped {
		if sk.Err != nil {
			fmt.Fprintf(w, "  line %d: rejected (%s): %s\n", sk.Entry.Line, sk.Err.Reason(), sk.Entry.Command)
			continue
		}
		fmt.Fprintf(w, "  line %d: skipped, %s is in the past: %s\n", sk.Entry.Line, sk.At.Format(time.DateTime), sk.Entry.Command.CommandText())
	}
	for _, o := range s.OneShots {
		fmt.Fprintf(w, "  line %d: once at %s (in %s): %s\n", o.Entry.Line, o.At.Format(time.DateTime), o.Delay, o.Command.Text)
	}
	for _, p := range s.Periodics {
		fmt.Fprintf(w, "  line %d: every %s, first in %s: %s\n", p.Entry.Line, p.Period, p.InitialDelay, p.Command.Text)
	}

	sum := s.Summary()
	fmt.Fprintf(w, "%d one-time, %d recurring, %d past, %d rejected\n",
		sum.OneShots, sum.Periodics, sum.Past, report.Invalid())
}
