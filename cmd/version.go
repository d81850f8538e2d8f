package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newVersionCmd prints the version injected by main, or "dev" for local builds.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dynamic-kubernetes",
		Long: `Print the version of this dynamic-kubernetes binary. Release builds carry
the tag they were built from; local builds report "dev".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "dynamic-kubernetes version %s\n", versionOrDev())
			return err
		},
	}
}
