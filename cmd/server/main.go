// BinRelay - Campus E-Waste Tracking Device Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/binrelay

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/binrelay/internal/api"
	"github.com/tomtom215/binrelay/internal/config"
	"github.com/tomtom215/binrelay/internal/correlator"
	"github.com/tomtom215/binrelay/internal/database"
	"github.com/tomtom215/binrelay/internal/devices"
	"github.com/tomtom215/binrelay/internal/dispatch"
	"github.com/tomtom215/binrelay/internal/frames"
	"github.com/tomtom215/binrelay/internal/logging"
	"github.com/tomtom215/binrelay/internal/modelclient"
	"github.com/tomtom215/binrelay/internal/relay"
	"github.com/tomtom215/binrelay/internal/supervisor"
	"github.com/tomtom215/binrelay/internal/supervisor/services"
	"github.com/tomtom215/binrelay/internal/tokenstore"
	ws "github.com/tomtom215/binrelay/internal/websocket"
)

//nolint:gocyclo // sequential setup
func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	allowed := cfg.IoT.AllowedTokens()
	logging.Info().
		Int("port", cfg.Server.Port).
		Bool("simulate", cfg.IoT.SkipDeviceForwarding).
		Int("static_device_tokens", len(allowed)).
		Bool("model_service", cfg.Model.ServiceURL != "").
		Msg("Starting BinRelay")

	// Deposit log. The relay keeps working without it.
	var deposits *database.DB
	if !cfg.Database.Disabled {
		deposits, err = database.New(&cfg.Database)
		if err != nil {
			logging.Warn().Err(err).Str("path", cfg.Database.Path).Msg("Deposit log unavailable, deposits will not be recorded")
			deposits = nil
		} else {
			defer func() {
				if err := deposits.Close(); err != nil {
					logging.Error().Err(err).Msg("Error closing deposit log")
				}
			}()
		}
	}

	// Device token allow-list: static tokens plus the managed store.
	allowlist := devices.NewAllowlist(allowed...)
	var tokens *tokenstore.Store
	if cfg.Tokens.Enabled {
		tokens, err = tokenstore.Open(cfg.Tokens.Path)
		if err != nil {
			logging.Fatal().Err(err).Str("path", cfg.Tokens.Path).Msg("Failed to open device token store")
		}
		defer func() {
			if err := tokens.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing device token store")
			}
		}()
		allowlist.AddSource(tokens)
	}

	registry := devices.NewRegistry(cfg.IoT.PreferredDevice, allowlist)
	corr := correlator.New(cfg.IoT.RequestTimeout())
	hub := ws.NewHub(ws.HubConfig{
		MaxMessageSize: cfg.IoT.MaxMessageBytes,
		MessageRate:    cfg.IoT.MessageRate,
		MessageBurst:   cfg.IoT.MessageBurst,
	})
	frameStore := frames.NewStore()

	var recorder relay.DepositRecorder
	if deposits != nil {
		recorder = deposits
	}
	rel := relay.New(corr, hub, frameStore, recorder)
	relay.Bind(hub, registry, rel)

	model := modelclient.New(modelclient.ConfigFrom(cfg.Model))

	var capturer dispatch.LocalCapturer
	if cfg.IoT.SimulateCaptureCommand != "" {
		capturer = dispatch.CommandCapturer{
			Command: cfg.IoT.SimulateCaptureCommand,
			Timeout: cfg.IoT.SimulateCaptureTimeout(),
		}
	}
	dispatcher := dispatch.New(
		dispatch.Config{
			Simulate:       cfg.IoT.SkipDeviceForwarding,
			RequestTimeout: cfg.IoT.RequestTimeout(),
		},
		dispatch.Deps{
			Devices: registry,
			Targets: dispatch.TargetResolverFunc(func(socketID string) (correlator.Target, bool) {
				c, ok := hub.Lookup(socketID)
				if !ok {
					return nil, false
				}
				return c, true
			}),
			Correlator: corr,
			Model:      model,
			Capturer:   capturer,
		},
	)

	deps := api.Deps{
		Config:     cfg,
		Dispatcher: dispatcher,
		Registry:   registry,
		Hub:        hub,
		Frames:     frameStore,
		Relay:      rel,
		Model:      model,
	}
	if deposits != nil {
		deps.Deposits = deposits
	}
	if tokens != nil {
		deps.Tokens = tokens
	}
	handler := api.NewHandler(deps)
	chiMw := api.NewChiMiddlewareFromSecurity(
		cfg.Security.CORSOrigins,
		cfg.Security.RateLimitReqs,
		cfg.Security.RateLimitWindow,
		cfg.Security.RateLimitDisabled,
	)
	router := api.NewRouter(handler, chiMw)

	// No WriteTimeout: frame streams and waited captures outlive it.
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router.SetupChi(),
		ReadTimeout:       cfg.Server.Timeout,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	// Waiting handlers are released as soon as shutdown begins.
	server.RegisterOnShutdown(corr.Shutdown)

	tree, err := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	if tokens != nil && cfg.Tokens.Path != "" {
		tree.AddStorageService(services.NewIntervalService("token-store-gc", cfg.Tokens.GCInterval,
			func(context.Context) error { return tokens.RunGC() }))
	}
	tree.AddRelayService(services.NewWebSocketHubService(hub))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Str("addr", server.Addr).Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
	}

	// Fail anything still pending, then let background deposit writes
	// finish before the stores close.
	corr.Shutdown()
	rel.Wait()

	logging.Info().Msg("BinRelay stopped")
}
