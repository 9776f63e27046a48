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
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianCRM/services/assistant/config"
	"github.com/AleutianAI/AleutianCRM/services/assistant/dispatch"
	"github.com/AleutianAI/AleutianCRM/services/assistant/engine"
	"github.com/AleutianAI/AleutianCRM/services/assistant/gateway"
	"github.com/AleutianAI/AleutianCRM/services/assistant/session"
	"github.com/AleutianAI/AleutianCRM/services/assistant/tools"
	"github.com/AleutianAI/AleutianCRM/services/crm"
	"github.com/AleutianAI/AleutianCRM/services/telemetry"
)

// app is the wired assistant shared by serve and chat.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *tools.Registry
	store    *crm.Store
	library  *crm.Library
	sessions *session.Manager

	shutdownTracing telemetry.ShutdownFunc
}

// newApp builds every component from cfg.
//
// Description:
//
//	Order matters: logging and tracing first so later steps can report,
//	then the record store and document library, then the model gateway,
//	the dispatcher with CRM handlers bound, and finally the session
//	manager. A missing or unreadable docs directory is logged and the
//	assistant runs without document search.
//
// Inputs:
//
//	ctx - Bounds client construction and the docs watcher.
//	cfg - Validated configuration; the API key must be set.
//	logOut - Destination of the structured log.
//
// Outputs:
//
//	*app - Call Close when done.
//	error - Non-nil if any required component failed.
func newApp(ctx context.Context, cfg *config.Config, logOut io.Writer) (_ *app, err error) {
	if err := cfg.RequireAPIKey(); err != nil {
		return nil, err
	}

	logger, err := telemetry.NewLogger(logOut, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.shutdownTracing, err = telemetry.InitTracing(ctx, telemetry.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Exporter:    cfg.Telemetry.Exporter,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		SampleRatio: cfg.Telemetry.SampleRatio,
		Writer:      logOut,
	})
	if err != nil {
		return nil, err
	}

	a.registry, err = tools.NewCRMRegistry()
	if err != nil {
		return nil, err
	}

	a.store, err = crm.OpenStore(cfg.CRM.DataDir, logger)
	if err != nil {
		return nil, err
	}

	if cfg.CRM.DocsDir != "" {
		lib, libErr := crm.NewLibrary(cfg.CRM.DocsDir, logger)
		if libErr != nil {
			logger.Warn("Document library unavailable, searchDocuments will fail",
				slog.String("dir", cfg.CRM.DocsDir),
				slog.String("error", libErr.Error()))
		} else {
			a.library = lib
			logger.Info("Document library indexed",
				slog.String("dir", lib.Dir()),
				slog.Int("passages", lib.Len()))
			if cfg.CRM.WatchDocs {
				if watchErr := lib.Watch(ctx); watchErr != nil {
					logger.Warn("Document watcher not started", slog.String("error", watchErr.Error()))
				}
			}
		}
	}

	apiKey, err := cfg.Model.APIKey.Reveal()
	if err != nil {
		return nil, fmt.Errorf("reading API key: %w", err)
	}
	gw, err := gateway.NewGenAIGateway(ctx, gateway.GenAIConfig{
		APIKey:            apiKey,
		Model:             cfg.Model.Name,
		SystemPrompt:      cfg.Model.SystemPrompt,
		Temperature:       cfg.Model.Temperature,
		MaxOutputTokens:   cfg.Model.MaxOutputTokens,
		Timeout:           cfg.Model.Timeout,
		RequestsPerMinute: cfg.Model.RequestsPerMinute,
		Burst:             cfg.Model.Burst,
	}, a.registry, logger)
	if err != nil {
		return nil, err
	}

	disp := dispatch.NewDispatcher(a.registry,
		dispatch.WithHandlerTimeout(cfg.Engine.HandlerTimeout),
		dispatch.WithLogger(logger))
	if err := crm.NewHandlers(a.store, a.library, logger).Bind(disp); err != nil {
		return nil, err
	}
	if unbound := disp.Unbound(); len(unbound) > 0 {
		logger.Warn("Tools without handlers", slog.Any("tools", unbound))
	}
	a.registry.Freeze()

	a.sessions, err = session.NewManager(gw, disp, session.Config{
		MaxSessions: cfg.Sessions.MaxSessions,
		IdleTTL:     cfg.Sessions.IdleTTL,
		Engine: engine.Config{
			QueueSize:        cfg.Engine.QueueSize,
			MaxParallelTools: cfg.Engine.MaxParallelTools,
			GatewayTimeout:   cfg.Engine.GatewayTimeout,
			// The dispatcher's own timeout reports first; this is the backstop.
			ToolTimeout:      cfg.Engine.HandlerTimeout + time.Second,
			FallbackMessage:  cfg.Engine.FallbackMessage,
			Logger:           logger,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Close shuts sessions down, then the store, then tracing.
func (a *app) Close() {
	if a.sessions != nil {
		a.sessions.Shutdown()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("Failed to close record store", slog.String("error", err.Error()))
		}
	}
	if a.shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.shutdownTracing(ctx); err != nil {
			a.logger.Warn("Failed to flush traces", slog.String("error", err.Error()))
		}
	}
}
