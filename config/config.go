/*
Package config loads service configuration from the environment.

PURPOSE:
  One place for everything tunable at deploy time: listen port, database
  path, log level, allowed CORS origins. Values come from LEDGER_*
  environment variables with sensible development defaults.

USAGE:
  cnf, err := config.Load()
  log := config.NewLogger(cnf.LogLevel)
*/
package config

import (
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

// Configuration holds all runtime settings. Every field maps to a
// LEDGER_-prefixed environment variable (e.g. LEDGER_PORT).
type Configuration struct {
	Port        int      `envconfig:"PORT" default:"8080"`
	DatabaseDSN string   `envconfig:"DATABASE_DSN" default:"./data/ledger.db"`
	LogLevel    string   `envconfig:"LOG_LEVEL" default:"info"`
	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"http://localhost:5173,http://localhost:8080"`

	ShutdownTimeoutSec int `envconfig:"SHUTDOWN_TIMEOUT_SEC" default:"30"`
}

// Load reads configuration from the environment.
func Load() (*Configuration, error) {
	var cnf Configuration
	if err := envconfig.Process("ledger", &cnf); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return &cnf, nil
}

// NewLogger builds the service-wide structured logger. Unknown levels
// fall back to info rather than failing startup.
func NewLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	return log
}
