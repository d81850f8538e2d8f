package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the dynamic-kubernetes application.
var rootCmd *cobra.Command

func init() {
	rootCmd = newRootCmd()
}

// newRootCmd builds the command tree. Every call returns fresh flag state.
func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "dynamic-kubernetes",
		Short: "Generic client for any Kubernetes resource kind",
		Long: `dynamic-kubernetes talks to any Kubernetes API server without compiled-in
knowledge of resource kinds. Kinds are resolved through API discovery, so
built-in resources and custom resources are handled the same way.

Objects are addressed by apiVersion and kind (--api-version/--kind) or by a
built-in alias such as "deploy", "svc" or "cm".`,
		// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
		SilenceUsage: true,
	}

	opts.addFlags(cmd)

	cmd.AddCommand(newGetCmd(opts))
	cmd.AddCommand(newListCmd(opts))
	cmd.AddCommand(newCreateCmd(opts))
	cmd.AddCommand(newReplaceCmd(opts))
	cmd.AddCommand(newApplyCmd(opts))
	cmd.AddCommand(newPatchCmd(opts))
	cmd.AddCommand(newDeleteCmd(opts))
	cmd.AddCommand(newWatchCmd(opts))
	cmd.AddCommand(newAPIResourcesCmd(opts))
	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newSelfUpdateCmd())

	return cmd
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application.
// This function is called by main.main().
func Execute() {
	// SetVersionTemplate defines a custom template for displaying the version.
	// This is used when the --version flag is invoked.
	rootCmd.SetVersionTemplate(`{{printf "dynamic-kubernetes version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		// Cobra itself usually prints the error. Exiting with a non-zero status code
		// indicates that an error occurred during execution.
		os.Exit(1)
	}
}
