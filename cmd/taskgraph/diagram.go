package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aristath/taskgraph/internal/diagram"
)

func newDiagramCmd() *cobra.Command {
	var (
		asURL  bool
		server string
	)

	cmd := &cobra.Command{
		Use:   "diagram FILE",
		Short: "Print a PlantUML diagram of a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := load(cmd.Context(), args[0], nil)
			if err != nil {
				return err
			}

			if !asURL {
				fmt.Fprint(cmd.OutOrStdout(), diagram.PlantUML(p.Runner.Tasks()))
				return nil
			}
			u, err := diagram.URL(p.Runner.Tasks(), server)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), u)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asURL, "url", false, "print a PlantUML server URL instead of the source")
	cmd.Flags().StringVar(&server, "server", diagram.DefaultServer, "PlantUML server prefix for --url")
	return cmd
}
