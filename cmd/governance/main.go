// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command governance starts the AleutianCommons governance HTTP server.
//
// This is the main entry point for the containerized governance service.
// It reads configuration from environment variables and starts the server.
//
// # Environment Variables
//
//   - GOVERNANCE_PORT: HTTP server port (default: 12310)
//   - GOVERNANCE_DATA_DIR: BadgerDB directory (default: data/governance)
//   - GOVERNANCE_PRINCIPLES_PATH: constitutional principles YAML override (optional)
//   - GOVERNANCE_SWEEP_INTERVAL_MINUTES: deadline sweep cadence (default: 60)
//   - GOVERNANCE_TRACING_ENABLED: emit OpenTelemetry spans (default: false)
//
// # Usage
//
//	# Build
//	go build -o governance ./cmd/governance
//
//	# Run
//	./governance
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/AleutianAI/AleutianCommons/pkg/logging"
	"github.com/AleutianAI/AleutianCommons/services/governance"
	"github.com/AleutianAI/AleutianCommons/services/governance/routes"
)

func main() {
	logger := logging.New(logging.Config{
		Level:   logging.LevelInfo,
		Service: "governance",
		JSON:    true,
	})
	logger.SetAsDefault()

	cfg := governance.DefaultConfig()
	cfg.DataDir = getEnvString("GOVERNANCE_DATA_DIR", cfg.DataDir)
	cfg.PrinciplesPath = os.Getenv("GOVERNANCE_PRINCIPLES_PATH")
	cfg.SweepInterval = time.Duration(getEnvInt("GOVERNANCE_SWEEP_INTERVAL_MINUTES", 60)) * time.Minute
	cfg.TracingEnabled = os.Getenv("GOVERNANCE_TRACING_ENABLED") == "true"
	port := getEnvInt("GOVERNANCE_PORT", 12310)

	logger.Info("Starting governance service",
		"port", port,
		"data_dir", cfg.DataDir,
		"sweep_interval", cfg.SweepInterval,
	)

	svc, err := governance.NewService(cfg, logger.Slog(), prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatalf("Failed to create governance service: %v", err)
	}
	defer svc.Close()

	router := gin.Default()
	routes.SetupRoutes(router, svc, prometheus.DefaultGatherer)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	go svc.RunSweeper(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Governance server error: %v", err)
	}
	logger.Info("governance service stopped")
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable parsed as int, or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
