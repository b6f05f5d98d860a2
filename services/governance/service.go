// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package governance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AleutianAI/AleutianCommons/services/governance/amendment"
	"github.com/AleutianAI/AleutianCommons/services/governance/changelog"
	"github.com/AleutianAI/AleutianCommons/services/governance/conflict"
	"github.com/AleutianAI/AleutianCommons/services/governance/constitution"
	"github.com/AleutianAI/AleutianCommons/services/governance/evolution"
	"github.com/AleutianAI/AleutianCommons/services/governance/integrity"
	badgerstore "github.com/AleutianAI/AleutianCommons/services/governance/storage/badger"
)

// Config collects the tunables for a full governance service instance.
type Config struct {
	// DataDir is the BadgerDB directory. Ignored when InMemory is true.
	DataDir string

	// InMemory runs the store without disk persistence (tests, demos).
	InMemory bool

	// PrinciplesPath overrides the embedded constitutional principles
	// file. Empty means use the embedded copy.
	PrinciplesPath string

	// ConsensusThreshold is the weighted approval ratio a proposal needs.
	ConsensusThreshold float64

	// VotingPeriod is the proposal voting window.
	VotingPeriod time.Duration

	// SweepInterval is how often deadline sweeps run in Run. Zero
	// disables the background sweeper.
	SweepInterval time.Duration

	// TracingEnabled turns on OpenTelemetry spans for engine operations.
	TracingEnabled bool

	// Amendment carries the constitutional-amendment thresholds.
	Amendment amendment.Config

	// Integrity carries the voting-integrity detection thresholds.
	Integrity integrity.Config
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		DataDir:            "data/governance",
		ConsensusThreshold: evolution.DefaultConfig().ConsensusThreshold,
		VotingPeriod:       evolution.DefaultConfig().VotingPeriod,
		SweepInterval:      time.Hour,
		Amendment:          amendment.DefaultConfig(),
		Integrity:          integrity.DefaultConfig(),
	}
}

// Service owns every governance component and the store beneath them.
// Build one per process with NewService and route HTTP or CLI calls
// through its fields; Close releases the store.
type Service struct {
	Store    *badgerstore.Store
	Monitor  *constitution.Monitor
	Checker  *integrity.Checker
	Resolver *conflict.Resolver
	Engine   *evolution.Engine
	Protocol *amendment.Protocol
	Log      *changelog.Log
	Pipeline *Pipeline

	cfg    Config
	logger *slog.Logger
}

// NewService opens the store and wires the full component graph.
// Metrics register against reg; pass prometheus.DefaultRegisterer in
// production and a private registry in tests.
func NewService(cfg Config, logger *slog.Logger, reg prometheus.Registerer) (*Service, error) {
	if logger == nil {
		logger = slog.Default().With("component", "governance")
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	storeCfg := badgerstore.DefaultConfig()
	storeCfg.Path = cfg.DataDir
	storeCfg.InMemory = cfg.InMemory
	storeCfg.Logger = logger.With("component", "governance.store")
	store, err := badgerstore.OpenStore(storeCfg)
	if err != nil {
		return nil, fmt.Errorf("open governance store: %w", err)
	}

	monitorOpts := []constitution.Option{constitution.WithLogger(logger)}
	if cfg.PrinciplesPath != "" {
		monitorOpts = append(monitorOpts, constitution.WithConfigPath(cfg.PrinciplesPath))
	}
	monitor, err := constitution.New(monitorOpts...)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("load constitutional principles: %w", err)
	}

	engineCfg := evolution.DefaultConfig()
	if cfg.ConsensusThreshold > 0 {
		engineCfg.ConsensusThreshold = cfg.ConsensusThreshold
	}
	if cfg.VotingPeriod > 0 {
		engineCfg.VotingPeriod = cfg.VotingPeriod
	}
	engineCfg.TracingEnabled = cfg.TracingEnabled

	log := changelog.NewLog(store, logger)
	engine := evolution.NewEngine(store, engineCfg, logger, evolution.NewMetrics(reg))
	protocol := amendment.NewProtocol(store, cfg.Amendment, logger)
	checker := integrity.NewChecker(store, cfg.Integrity, logger)
	resolver := conflict.NewResolver(store, logger)
	pipeline := NewPipeline(store, monitor, checker, resolver, engine, protocol, log, logger)

	return &Service{
		Store:    store,
		Monitor:  monitor,
		Checker:  checker,
		Resolver: resolver,
		Engine:   engine,
		Protocol: protocol,
		Log:      log,
		Pipeline: pipeline,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// RunSweeper drives deadline sweeps until ctx is canceled. Returns
// immediately when SweepInterval is zero.
func (s *Service) RunSweeper(ctx context.Context) {
	if s.cfg.SweepInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Pipeline.Sweep(ctx); err != nil {
				s.logger.Error("deadline sweep failed", "error", err)
			}
		}
	}
}

// Close releases the underlying store.
func (s *Service) Close() error {
	return s.Store.Close()
}
