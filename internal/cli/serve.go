// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hariommodi123/drag-and-drop-offline-sub000/internal/remotesrv"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/remote"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen          string
	AllowTokenIssue bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reference remote service",
		Long: `Run the remote service devices sync against.

Records and plan orders live in Postgres when database_url is set and in memory
otherwise. With redis_address set, order de-duplication is coordinated across
server instances through Redis locks.

Example:
  bizsync serve --listen :8080
  BIZSYNC_DATABASE_URL=postgres://... bizsync serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides listen_addr)")
	cmd.Flags().BoolVar(&opts.AllowTokenIssue, "issue-tokens", true, "serve POST /auth/token for development sign-in")
	return cmd
}

func runServe(parent context.Context, opts *ServeOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, logger := opts.Config, opts.Logger
	if cfg.JWTSecret == "your-secret-key-change-in-production" {
		logger.Warn("Using default JWT secret - change in production!")
	}

	var backend remotesrv.Backend
	if cfg.DatabaseURL != "" {
		pg, err := remotesrv.OpenPG(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		backend = pg
	} else {
		logger.Warn("database_url not set, keeping data in memory")
		backend = remotesrv.NewMemoryBackend()
	}
	defer backend.Close()

	var gate remotesrv.OrderGate
	if cfg.RedisAddress != "" {
		rdb, err := remotesrv.ConnectRedis(ctx, cfg.RedisAddress, cfg.RedisPassword)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to connect redis", err)
		}
		defer rdb.Close()
		gate = remotesrv.NewRedisGate(rdb, 30*time.Second, 5*time.Second)
	}

	srv, err := remotesrv.New(remotesrv.Deps{
		Backend: backend,
		Auth:    remote.NewJWTAuth(cfg.JWTSecret),
		Gate:    gate,
		Logger:  logger,
	}, &remotesrv.Config{
		TokenExpiry:     cfg.TokenExpiry,
		AllowTokenIssue: opts.AllowTokenIssue,
		LogRequests:     true,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create server", err)
	}

	addr := cfg.ListenAddr
	if opts.Listen != "" {
		addr = opts.Listen
	}
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Handler(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", addr).Info("remote service listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return WrapExitError(ExitFailure, "server failed", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "server forced to shutdown", err)
	}
	logger.Info("Server exited")
	return nil
}
