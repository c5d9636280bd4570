package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/simulant-labs/simulant/internal/app"
	"github.com/simulant-labs/simulant/internal/logging"
	"github.com/simulant-labs/simulant/internal/server"
)

var (
	serveConfigPath string
	serveListenAddr string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Simulant API server",
	Long: `Starts the HTTP + WebSocket API server. Runs are admitted over REST,
progress streams over WebSocket, and results persist in SQLite under the
storage root.

Set SIMULANT_ORACLE_API_KEY to authenticate against the vision model API;
the key is never read from the config file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := app.LoadConfig(serveConfigPath)
		if err != nil {
			return err
		}
		if serveListenAddr != "" {
			cfg.ListenAddr = serveListenAddr
		}

		logger := logging.NewStdoutLogger("simulant")
		srv, err := server.NewServer(server.Config{
			AppConfig: cfg,
			Logger:    logger,
		})
		if err != nil {
			return fmt.Errorf("initializing server: %w", err)
		}
		defer srv.Close()

		logger.Info("listening", logging.Field{Key: "addr", Value: cfg.ListenAddr})
		return srv.HTTPServer().ListenAndServe()
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "Path to YAML config file")
	serveCmd.Flags().StringVar(&serveListenAddr, "listen", "", "Listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}
