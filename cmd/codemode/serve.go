package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"codemode/internal/deps"
	"codemode/internal/execution"
	"codemode/internal/logging"
	"codemode/internal/namespace"
	"codemode/internal/server"
)

// newServeCmd runs the HTTP session server over an in-process executor.
// This is the container entrypoint; everything is configurable through
// CODEMODE_ environment variables.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the session server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := setupLogging(cfg)
			embedder, err := buildEmbedder(cfg)
			if err != nil {
				return err
			}

			exec := execution.NewInProcess(namespace.Config{
				Access:    cfg.Access,
				ToolsPath: cfg.ToolsPath,
				Policy:    deps.Policy{AllowRuntimeInstalls: cfg.AllowRuntimeInstalls},
				Embedder:  embedder,
				Logger:    logging.NewComponentLogger("executor"),
			}, cfg.DefaultTimeout, logger)
			if err := exec.Start(ctx); err != nil {
				return err
			}
			defer func() { _ = exec.Close() }()

			if cfg.SyncDepsOnStart {
				syncCtx, syncCancel := context.WithTimeout(ctx, 5*time.Minute)
				result, err := exec.Namespaces().Deps.Sync(syncCtx)
				syncCancel()
				if err != nil {
					return err
				}
				for spec, reason := range result.Failed {
					logger.Warn("Startup dep sync: %s failed: %s", spec, reason)
				}
			}

			srv, err := server.New(server.Config{
				Listen:      cfg.Listen,
				Token:       cfg.AuthToken,
				DisableAuth: cfg.DisableAuth,
			}, exec, exec.Namespaces(), logging.NewComponentLogger("server"))
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}
}
