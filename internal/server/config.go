package server

import (
	"github.com/simulant-labs/simulant/internal/agent"
	"github.com/simulant-labs/simulant/internal/app"
	"github.com/simulant-labs/simulant/internal/browser"
	"github.com/simulant-labs/simulant/internal/logging"
)

// Config wires the API server. Only AppConfig is required; the rest default
// to production implementations.
type Config struct {
	// ListenAddr overrides AppConfig.ListenAddr when set.
	ListenAddr string

	AppConfig *app.Config
	Logger    logging.Logger

	// Launcher and Oracle replace the real browser and LLM clients when
	// set. Used by tests; nil means Chrome and the configured oracle API.
	Launcher browser.Launcher
	Oracle   agent.Oracle
}
