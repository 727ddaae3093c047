package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCmd(_ *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the triage graph for structural problems",
		Long:  `Reports dangling edges, unreachable nodes and bad conditional targets. Warnings do not fail validation.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			g, err := triageGraph("")
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			report := g.ValidateIntegrity()
			for _, w := range report.Warnings {
				fmt.Fprintf(out, "warning: %s\n", w)
			}
			for _, e := range report.Errors {
				fmt.Fprintf(out, "error: %s\n", e)
			}
			if !report.Valid() {
				return fmt.Errorf("graph %s is invalid (%d error(s))", g.Name(), len(report.Errors))
			}
			fmt.Fprintf(out, "graph %s is valid: %d node(s), %d edge(s)\n", g.Name(), len(g.Nodes()), len(g.Edges()))
			return nil
		},
	}
}
