package bootstrap

import (
	"fmt"

	"executioncore/internal/config"
)

// Config is an alias for the project's main configuration struct, mirroring
// the teacher's bootstrap.Config = config.Config pattern so callers outside
// internal/config never need to import it directly.
type Config = config.Config

// LoadConfig delegates to the project's config loader and runs pre-flight
// checks that schema validation alone can't express.
func LoadConfig(path string) (*Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := checkPreFlight(cfg); err != nil {
		return nil, fmt.Errorf("pre-flight checks failed: %w", err)
	}
	return cfg, nil
}

// checkPreFlight performs environment checks beyond schema validation: the
// durable workflow engine needs a real Postgres DSN to hand DBOS (it manages
// its own workflow-state tables there), which config.Validate can't know on
// its own since a sqlite-backed Store is legitimate for local/test use.
func checkPreFlight(cfg *Config) error {
	if cfg.Store.Driver != "postgres" {
		return fmt.Errorf("store.driver must be postgres for the durable workflow engine (got %q)", cfg.Store.Driver)
	}
	if cfg.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required")
	}
	if cfg.Exchange.APIKey == "" || cfg.Exchange.SecretKey == "" {
		return fmt.Errorf("exchange.api_key and exchange.secret_key are required")
	}
	return nil
}
