/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the replenishment engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (viper: file, env, defaults)
  2. Configure structured logging
  3. Initialize SQLite store
  4. Load the engine policy (file or compiled-in defaults)
  5. Wire the needs-list service with the store as every collaborator
  6. Start server with graceful shutdown

CONFIGURATION:
  Keys (file: replenish.yaml in . or /etc/replenish, env prefix REPLENISH_):
    port          HTTP server port          (default: 8080)
    db            SQLite database path      (default: replenish.db)
    policy_file   JSON policy overrides     (default: none, compiled defaults)
    log_level     debug|info|warn|error     (default: info)
    log_format    text|json                 (default: text)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server

  # In-memory database on another port
  REPLENISH_DB=":memory:" REPLENISH_PORT=3000 ./server

  # With tuned policy thresholds
  REPLENISH_POLICY_FILE=./policy.json ./server

SEE ALSO:
  - api/server.go: Router configuration
  - factory/policy.go: Policy configuration format
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/reliefops/replenish-engine/api"
	"github.com/reliefops/replenish-engine/factory"
	"github.com/reliefops/replenish-engine/needslist"
	"github.com/reliefops/replenish-engine/store/sqlite"
)

func main() {
	// Configuration
	v := viper.New()
	v.SetDefault("port", 8080)
	v.SetDefault("db", "replenish.db")
	v.SetDefault("policy_file", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetConfigName("replenish")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/replenish")
	v.SetEnvPrefix("replenish")
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			logrus.Fatalf("Failed to read config file: %v", err)
		}
	}

	// Logging
	log := logrus.New()
	if level, err := logrus.ParseLevel(v.GetString("log_level")); err == nil {
		log.SetLevel(level)
	}
	if strings.EqualFold(v.GetString("log_format"), "json") {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	// Store
	store, err := sqlite.New(v.GetString("db"))
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Policy
	policyFactory := factory.NewPolicyFactory()
	policy := policyFactory.DefaultPolicy()
	phases := policyFactory.DefaultPhaseTable()
	if path := v.GetString("policy_file"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			log.Fatalf("Failed to read policy file: %v", err)
		}
		policy, phases, err = policyFactory.ParsePolicy(string(raw))
		if err != nil {
			log.Fatalf("Failed to parse policy file: %v", err)
		}
		log.WithField("policy_file", path).Info("loaded policy overrides")
	}

	// Service: the sqlite store backs every collaborator interface.
	service := needslist.NewService(store, needslist.Providers{
		Inventory:    store,
		Catalog:      store,
		Phases:       phases,
		Costs:        store,
		Scopes:       store,
		Restrictions: store,
		Availability: store,
		Perms:        store,
	}, policy, log)

	// HTTP
	handler := api.NewHandler(service, store, log)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", v.GetInt("port")),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infof("Server starting on http://localhost:%d", v.GetInt("port"))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Info("Server stopped")
}
