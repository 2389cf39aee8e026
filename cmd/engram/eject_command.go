package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"engram/internal/monitor"
)

func newEjectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "eject <drive>",
		Short: "Eject the disc in an optical drive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := monitor.Eject(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Ejected %s\n", args[0])
			return nil
		},
	}
}
