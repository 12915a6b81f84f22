package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Check a pipeline file and print its execution order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := load(cmd.Context(), args[0], nil)
			if err != nil {
				return err
			}
			order, err := p.Runner.Validate()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for i, gt := range order {
				fmt.Fprintf(out, "%d. %s\n", i+1, gt.ID())
			}
			fmt.Fprintf(out, "%s: %d tasks, ok\n", args[0], len(order))
			return nil
		},
	}
}
