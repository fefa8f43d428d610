package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/secop-sine2020/secopd/internal/nodedef"
	"github.com/secop-sine2020/secopd/internal/registry"
)

var checkCmd = &cobra.Command{
	Use:   "check <nodedef.toml>",
	Short: "Validate a node definition without starting a listener",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	reg := registry.New(time.Minute)
	node, closeNodeDef, err := nodedef.Load(cmd.Context(), args[0], reg)
	if err != nil {
		return fmt.Errorf("secopd check: %w", err)
	}
	defer closeNodeDef()

	errs := node.Validate()
	hasError := false
	for _, e := range errs {
		severity := "error"
		if e.Warning() {
			severity = "warning"
		} else {
			hasError = true
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s: %s\n", severity, e.Kind, e.Message)
	}
	if hasError {
		return fmt.Errorf("secopd check: %s failed node_complete validation", node.ID())
	}
	if len(errs) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: OK\n", node.ID())
	}
	return nil
}
