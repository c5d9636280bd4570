package cli

import (
	"github.com/spf13/cobra"

	"github.com/simulant-labs/simulant/internal/demoserver"
)

var demoPort int

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Start the demo site with planted defects",
	Long: `Serves a small store site with deliberate problems (missing alt text,
unlabeled form fields, broken links, a slow page) so persona agents have
something real to find. Point a test run at http://localhost:<port>.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := demoserver.DefaultConfig()
		if demoPort != 0 {
			cfg.Port = demoPort
		}
		return demoserver.NewDemoServer(cfg).Start()
	},
}

func init() {
	demoCmd.Flags().IntVarP(&demoPort, "port", "p", 0, "Port to listen on (default 9999)")
	rootCmd.AddCommand(demoCmd)
}
