package main

import (
	"os"

	"github.com/spf13/cobra"

	"codemode/internal/logging"
	"codemode/internal/session"
)

// newMCPServeCmd exposes the session as an MCP tool server on stdio, so MCP
// clients can drive code execution and skill discovery directly. All logging
// goes to stderr; stdout is reserved for the JSON-RPC channel.
func newMCPServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp-serve",
		Short: "Serve the session as an MCP tool server on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logging.SetOutput(os.Stderr)
			if flagVerbose || cfg.LogLevel == "debug" {
				logging.SetLevel(logging.LevelDebug)
			}
			logger := logging.NewComponentLogger("mcp-serve")

			sess, err := openSession(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = sess.Close() }()

			return session.NewMCPServer(sess, logger).Serve(ctx, os.Stdin, os.Stdout)
		},
	}
}
