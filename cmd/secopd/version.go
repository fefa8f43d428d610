package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/secop-sine2020/secopd/internal/buildinfo"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print secopd's build identifier",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), buildinfo.String())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
