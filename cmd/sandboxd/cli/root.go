// Package cli implements the sandboxd command-line interface using Cobra:
// a "serve" command that runs the daemon, and a "oneshot" command that
// runs a single command in an ephemeral sandbox and prints the result.
package cli

import (
	"github.com/spf13/cobra"
)

var (
	verbose    bool
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "sandboxd",
	Short: "sandboxd - multi-tenant sandbox execution daemon",
	Long: `sandboxd runs isolated sandbox sessions on a single host: each
session gets its own filesystem root and rlimit-capped process tree,
reachable over an HTTP API and, for background dev servers, a
Host-header preview proxy.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (env: SANDBOXD_CONFIG)")
}
