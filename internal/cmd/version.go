package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"devtoolsbridge/internal/build"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "devtoolsbridge %s\n", build.Version)
		},
	}
}
