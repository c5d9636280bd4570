package app

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/simulant-labs/simulant/internal/agent"
	"github.com/simulant-labs/simulant/internal/browser"
	"github.com/simulant-labs/simulant/internal/oracle"
)

// Config is the runtime configuration for the whole service.
type Config struct {
	// ListenAddr is the HTTP listen address for the API server.
	ListenAddr string `yaml:"listen_addr"`

	// StorageRoot is the base path where the run database lives.
	StorageRoot string `yaml:"storage_root"`

	// MaxConcurrentAgents caps how many persona workers execute their
	// testing body at once, process-wide across all runs.
	MaxConcurrentAgents int `yaml:"max_concurrent_agents"`

	// FreeRunLimit is the per-user run quota. 0 disables the check.
	FreeRunLimit int `yaml:"free_run_limit"`

	// BetaEnd rejects new runs after this instant. Zero disables the check.
	BetaEnd time.Time `yaml:"beta_end"`

	// RunRetention prunes finished runs older than this from storage.
	// 0 keeps everything.
	RunRetention time.Duration `yaml:"run_retention"`

	AgentCfg   agent.Config   `yaml:"agent"`
	OracleCfg  oracle.Config  `yaml:"oracle"`
	BrowserCfg browser.Config `yaml:"browser"`
}

// DefaultConfig returns a Config populated with sensible development defaults.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:          ":8000",
		StorageRoot:         "~/.config/simulant",
		MaxConcurrentAgents: 3,
		FreeRunLimit:        5,
		AgentCfg:            agent.DefaultConfig(),
		OracleCfg:           oracle.DefaultConfig(),
		BrowserCfg:          browser.DefaultConfig(),
	}
}

// LoadConfig reads a YAML config file over the defaults. An empty path
// returns the defaults untouched. SIMULANT_ORACLE_API_KEY overrides the
// oracle key either way, so secrets stay out of config files.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if key := os.Getenv("SIMULANT_ORACLE_API_KEY"); key != "" {
		cfg.OracleCfg.APIKey = key
	}

	if cfg.MaxConcurrentAgents <= 0 {
		cfg.MaxConcurrentAgents = 3
	}
	return cfg, nil
}
