package bootstrap

import (
	"executioncore/internal/core"
	"executioncore/pkg/logging"
)

// InitLogger builds the process-wide ZapLogger at the configured level.
func InitLogger(cfg *Config) (core.ILogger, error) {
	logger, err := logging.New(cfg.App.LogLevel)
	if err != nil {
		return nil, err
	}
	return logger, nil
}
