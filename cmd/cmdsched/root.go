package main

import (
	"github.com/spf13/cobra"

	"github.com/doughall/cmdsched/internal/config"
)

// rootOptions holds flags shared by every command.
type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	runCmd := newRunCmd(opts)
	root := &cobra.Command{
		Use:   "cmdsched",
		Short: "Run shell commands on a schedule read from a file",
		Long: `cmdsched reads a commands file and runs every entry at its scheduled time.

Recurring entries look like "*/N command" where N divides an hour evenly.
One-time entries look like "minute hour day month year command".
Past one-time entries are skipped; malformed lines are logged and ignored.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE:         runCmd.RunE,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultConfigPath, "path to configuration file")

	root.AddCommand(
		runCmd,
		newCheckCmd(opts),
		newHistoryCmd(opts),
		newConfigCmd(opts),
		newVersionCmd(),
	)
	return root
}
