// Package cli defines the simulant command-line interface.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "simulant",
	Short: "AI persona agents that test your website",
	Long: `Simulant runs a team of AI testing personas against a target website.
Each persona drives a real browser, reasons about what it sees through a
vision model, and reports the bugs it finds. Start the API server with
'simulant serve' and point it at any URL.`,
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
func SetVersion(v string) {
	rootCmd.Version = v
	rootCmd.SetVersionTemplate(`{{printf "simulant version %s\n" .Version}}`)
}

// Execute runs the CLI. Called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
