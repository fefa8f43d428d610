package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "secopd",
	Short:         "Run and inspect SECoP nodes",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command named on os.Args, the way every cmd/secopd
// subcommand's init() registers itself onto rootCmd before this is called.
func Execute() error {
	return rootCmd.Execute()
}
