// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/AleutianAI/AleutianCommons/pkg/logging"
	"github.com/AleutianAI/AleutianCommons/services/governance"
	"github.com/AleutianAI/AleutianCommons/services/governance/routes"
)

// --- Global Command Variables ---
var (
	configPath  string
	dataDir     string
	appointedBy string
	confirmedBy string
	activeOnly  bool
	reportDays  int
	servePort   int
	quiet       bool

	rootCmd = &cobra.Command{
		Use:   "commons",
		Short: "A cli to manage a local AleutianCommons governance instance",
		Long: `Commons manages a local governance instance: it can serve the
HTTP API in the foreground, or operate on the store directly with
deadline sweeps, guardian administration, and audit reports.`,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the governance HTTP service in the foreground",
		Run:   runServe,
	}

	sweepCmd = &cobra.Command{
		Use:   "sweep",
		Short: "Settle expired proposal and amendment deadlines once",
		Run:   runSweep,
	}

	reportCmd = &cobra.Command{
		Use:   "report",
		Short: "Print the governance compliance report as JSON",
		Run:   runReport,
	}

	// --- Guardian Administration ---
	guardianCmd = &cobra.Command{
		Use:   "guardian",
		Short: "Administer constitutional guardians",
	}
	guardianAddCmd = &cobra.Command{
		Use:   "add [guardian-id]",
		Short: "Appoint a guardian (the first appointment bootstraps the registry)",
		Args:  cobra.ExactArgs(1),
		Run:   runGuardianAdd,
	}
	guardianConfirmCmd = &cobra.Command{
		Use:   "confirm [guardian-id]",
		Short: "Confirm a pending guardian appointment",
		Args:  cobra.ExactArgs(1),
		Run:   runGuardianConfirm,
	}
	guardianListCmd = &cobra.Command{
		Use:   "list",
		Short: "List guardians",
		Run:   runGuardianList,
	}

	constitutionCmd = &cobra.Command{
		Use:   "constitution",
		Short: "Print the active constitution revision",
		Run:   runConstitution,
	}

	freezeCmd = &cobra.Command{
		Use:   "freeze",
		Short: "Show the evolution subsystem freeze state",
		Run:   runFreeze,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"config file (default ~/.aleutian/commons.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "",
		"governance store directory (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false,
		"suppress log output")

	serveCmd.Flags().IntVar(&servePort, "port", 12310, "listen port")
	reportCmd.Flags().IntVar(&reportDays, "days", 30, "report period in days")
	guardianAddCmd.Flags().StringVar(&appointedBy, "appointed-by", "",
		"appointing guardian (omit only for the bootstrap guardian)")
	guardianConfirmCmd.Flags().StringVar(&confirmedBy, "confirmed-by", "",
		"confirming guardian (required)")
	guardianListCmd.Flags().BoolVar(&activeOnly, "active", false,
		"list only active guardians")

	guardianCmd.AddCommand(guardianAddCmd)
	guardianCmd.AddCommand(guardianConfirmCmd)
	guardianCmd.AddCommand(guardianListCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(guardianCmd)
	rootCmd.AddCommand(constitutionCmd)
	rootCmd.AddCommand(freezeCmd)
}

// loadConfig merges, in precedence order: flags, environment variables
// (COMMONS_ prefix), and the YAML config file.
func loadConfig() governance.Config {
	v := viper.New()
	v.SetDefault("data_dir", governance.DefaultConfig().DataDir)
	v.SetEnvPrefix("COMMONS")
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(home + "/.aleutian")
			v.SetConfigName("commons")
			v.SetConfigType("yaml")
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			log.Fatalf("Error reading config file: %v", err)
		}
	}

	cfg := governance.DefaultConfig()
	cfg.DataDir = v.GetString("data_dir")
	cfg.PrinciplesPath = v.GetString("principles_path")
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	// The CLI runs one-shot commands; the background sweeper is the
	// server's job.
	cfg.SweepInterval = 0
	return cfg
}

func openService() *governance.Service {
	level := logging.LevelInfo
	if quiet {
		level = logging.LevelError
	}
	logger := logging.New(logging.Config{Level: level, Service: "commons"})
	logger.SetAsDefault()

	svc, err := governance.NewService(loadConfig(), logger.Slog(), prometheus.NewRegistry())
	if err != nil {
		log.Fatalf("Failed to open governance store: %v", err)
	}
	return svc
}

func printJSON(value any) {
	out, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		log.Fatalf("Failed to encode output: %v", err)
	}
	fmt.Println(string(out))
}

func runServe(cmd *cobra.Command, args []string) {
	logger := logging.New(logging.Config{Level: logging.LevelInfo, Service: "commons"})
	logger.SetAsDefault()

	cfg := loadConfig()
	// Serving restores the background sweeper the one-shot commands
	// leave off.
	cfg.SweepInterval = governance.DefaultConfig().SweepInterval

	svc, err := governance.NewService(cfg, logger.Slog(), prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatalf("Failed to create governance service: %v", err)
	}
	defer svc.Close()

	router := gin.Default()
	routes.SetupRoutes(router, svc, prometheus.DefaultGatherer)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", servePort),
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

	logger.Info("Serving governance API", "port", servePort, "data_dir", cfg.DataDir)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Governance server error: %v", err)
	}
}

func runSweep(cmd *cobra.Command, args []string) {
	svc := openService()
	defer svc.Close()

	if err := svc.Pipeline.Sweep(context.Background()); err != nil {
		log.Fatalf("Sweep failed: %v", err)
	}
	fmt.Println("sweep complete")
}

func runReport(cmd *cobra.Command, args []string) {
	svc := openService()
	defer svc.Close()

	end := time.Now().UTC()
	start := end.Add(-time.Duration(reportDays) * 24 * time.Hour)
	report, err := svc.Log.Compliance(start, end)
	if err != nil {
		log.Fatalf("Failed to build compliance report: %v", err)
	}
	printJSON(report)
}

func runGuardianAdd(cmd *cobra.Command, args []string) {
	svc := openService()
	defer svc.Close()

	g, err := svc.Protocol.AppointGuardian(args[0], appointedBy)
	if err != nil {
		log.Fatalf("Failed to appoint guardian: %v", err)
	}
	printJSON(g)
}

func runGuardianConfirm(cmd *cobra.Command, args []string) {
	if confirmedBy == "" {
		log.Fatal("--confirmed-by is required")
	}
	svc := openService()
	defer svc.Close()

	g, err := svc.Protocol.ConfirmGuardian(args[0], confirmedBy)
	if err != nil {
		log.Fatalf("Failed to confirm guardian: %v", err)
	}
	printJSON(g)
}

func runGuardianList(cmd *cobra.Command, args []string) {
	svc := openService()
	defer svc.Close()

	list, err := svc.Protocol.Guardians(activeOnly)
	if err != nil {
		log.Fatalf("Failed to list guardians: %v", err)
	}
	printJSON(list)
}

func runConstitution(cmd *cobra.Command, args []string) {
	svc := openService()
	defer svc.Close()

	cv, err := svc.Protocol.Constitution()
	if err != nil {
		log.Fatalf("Failed to load the constitution: %v", err)
	}
	printJSON(cv)
}

func runFreeze(cmd *cobra.Command, args []string) {
	svc := openService()
	defer svc.Close()

	fs, err := svc.Pipeline.Freeze()
	if err != nil {
		log.Fatalf("Failed to read freeze state: %v", err)
	}
	printJSON(fs)
}
