// Package cli provides the command-line interface for the orchestrator.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/client"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/config"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose bool

	// apiClient talks to the orchestrator server. Initialized before every
	// command from environment settings.
	apiClient *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "orchestrator",
	Short: "Media task orchestration client",
	Long: `Orchestrator submits media-processing tasks (downloads, transcription,
subtitle rendering, thread renders) to the orchestration server, tracks
their progress, and manages the outbound proxy pool.

Server address and credentials come from VGO_SERVER_URL, VGO_API_TOKEN
and VGO_OWNER_ID, or from the config file at VGO_CONFIG_FILE.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Version, help and login work without a reachable server.
		if cmd.Name() == "version" || cmd.Name() == "help" || cmd.Name() == "login" {
			return nil
		}

		// The config file supplies the API token saved by 'login';
		// environment variables still override it.
		cfg := config.Load()
		apiClient = client.New("", cfg.APIToken)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// exitWithError prints an error message and exits with code 1.
func exitWithError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
