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
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianCRM/services/assistant"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var debug bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the assistant HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts, debug)
		},
	}
	cmd.Flags().BoolVar(&debug, "debug", false, "enable gin debug mode and request logging")
	return cmd
}

func runServe(parent context.Context, opts *rootOptions, debug bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := opts.load()
	if err != nil {
		return err
	}

	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	a, err := newApp(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	go a.sessions.Run(ctx, cfg.Sessions.SweepInterval)

	handlers := assistant.NewHandlers(a.sessions, a.registry,
		assistant.WithAllowedOrigins(cfg.Server.CORSOrigins),
		assistant.WithWaitTimeout(2*cfg.Engine.GatewayTimeout+cfg.Engine.HandlerTimeout),
		assistant.WithHandlersLogger(a.logger))
	router := assistant.NewRouter(handlers, assistant.RouterConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		CORSOrigins: cfg.Server.CORSOrigins,
		Debug:       debug,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Starting CRM assistant server",
			slog.String("address", cfg.Server.Addr),
			slog.String("model", cfg.Model.Name),
			slog.Int("tools", a.registry.Len()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serving on %s: %w", cfg.Server.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down CRM assistant server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	// Open streams never finish on their own; closing sessions first ends them.
	a.sessions.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("Graceful shutdown incomplete", slog.String("error", err.Error()))
	}
	return nil
}
