/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the outstanding-balance ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration from LEDGER_* environment variables
  2. Initialize the structured logger
  3. Initialize SQLite store
  4. Create API handler with dependencies
  5. Start server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (configurable timeout)
  3. Close database connection
  4. Exit

ENVIRONMENT:
  LEDGER_PORT                  HTTP server port (default: 8080)
  LEDGER_DATABASE_DSN          SQLite database path (":memory:" works)
  LEDGER_LOG_LEVEL             logrus level (default: info)
  LEDGER_CORS_ORIGINS          comma-separated allowed origins
  LEDGER_SHUTDOWN_TIMEOUT_SEC  drain timeout on shutdown

SEE ALSO:
  - config/config.go: Configuration loading
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pharmalink/ledger-engine/api"
	"github.com/pharmalink/ledger-engine/config"
	"github.com/pharmalink/ledger-engine/store/sqlite"
)

func main() {
	cnf, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := config.NewLogger(cnf.LogLevel)

	store, err := sqlite.New(cnf.DatabaseDSN)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize store")
	}
	defer store.Close()

	handler := api.NewHandler(store, log)
	router := api.NewRouter(handler, cnf.CORSOrigins)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cnf.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithFields(logrus.Fields{
			"port": cnf.Port,
			"db":   cnf.DatabaseDSN,
		}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cnf.ShutdownTimeoutSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Fatal("server forced to shutdown")
	}

	log.Info("server stopped")
}
