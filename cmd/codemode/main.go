// Command codemode runs code-execution sessions for agents: a one-shot
// exec mode, management subcommands for skills, artifacts and deps, the
// HTTP session server and the subprocess kernel.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"codemode/internal/config"
	"codemode/internal/logging"
	"codemode/internal/session"
	"codemode/internal/skills"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
)

var (
	flagConfig   string
	flagBackend  string
	flagStore    string
	flagTools    string
	flagImage    string
	flagTimeout  time.Duration
	flagInstalls bool
	flagSyncDeps bool
	flagVerbose  bool
)

func main() {
	root := &cobra.Command{
		Use:           "codemode",
		Short:         "Code-execution sessions for agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (YAML)")
	root.PersistentFlags().StringVar(&flagBackend, "backend", "", "executor backend: in_process, subprocess or container")
	root.PersistentFlags().StringVar(&flagStore, "store", "", "file storage directory")
	root.PersistentFlags().StringVar(&flagTools, "tools", "", "tool definitions directory")
	root.PersistentFlags().StringVar(&flagImage, "image", "", "container image (container backend)")
	root.PersistentFlags().DurationVar(&flagTimeout, "timeout", 0, "default execution timeout")
	root.PersistentFlags().BoolVar(&flagInstalls, "allow-runtime-installs", false, "allow deps.add and deps.remove at runtime")
	root.PersistentFlags().BoolVar(&flagSyncDeps, "sync-deps", false, "install declared deps on session start")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newExecCmd(),
		newSkillsCmd(),
		newArtifactsCmd(),
		newDepsCmd(),
		newToolsCmd(),
		newServeCmd(),
		newMCPServeCmd(),
		newKernelCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, red("Error: ")+err.Error())
		os.Exit(1)
	}
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// loadConfig merges the config file and environment with the command-line
// flags, flags winning.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagBackend != "" {
		cfg.Backend = flagBackend
	}
	if flagStore != "" {
		cfg.Access.Type = "file"
		cfg.Access.BasePath = flagStore
	}
	if flagTools != "" {
		cfg.ToolsPath = flagTools
	}
	if flagImage != "" {
		cfg.ContainerImage = flagImage
	}
	if flagTimeout > 0 {
		cfg.DefaultTimeout = flagTimeout
	}
	if flagInstalls {
		cfg.AllowRuntimeInstalls = true
	}
	if flagSyncDeps {
		cfg.SyncDepsOnStart = true
	}
	return cfg, nil
}

func setupLogging(cfg *config.Config) logging.Logger {
	logging.SetOutput(os.Stderr)
	if flagVerbose || cfg.LogLevel == "debug" {
		logging.SetLevel(logging.LevelDebug)
	}
	return logging.NewComponentLogger("codemode")
}

// buildEmbedder returns the configured embedder, or nil when no API key is
// set (skill search then degrades to substring match).
func buildEmbedder(cfg *config.Config) (skills.Embedder, error) {
	if cfg.EmbeddingAPIKey == "" {
		return nil, nil
	}
	return skills.NewEmbedder(skills.EmbedderConfig{
		Model:   cfg.EmbeddingModel,
		APIKey:  cfg.EmbeddingAPIKey,
		BaseURL: cfg.EmbeddingBaseURL,
	})
}

// openSession builds a session from the resolved config.
func openSession(ctx context.Context, cfg *config.Config, logger logging.Logger) (*session.Session, error) {
	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	return session.Open(ctx, session.Config{
		Backend:              session.Backend(cfg.Backend),
		Access:               cfg.Access,
		ToolsPath:            cfg.ToolsPath,
		AllowRuntimeInstalls: cfg.AllowRuntimeInstalls,
		SyncDepsOnStart:      cfg.SyncDepsOnStart,
		DefaultTimeout:       cfg.DefaultTimeout,
		Embedder:             embedder,
		Container:            session.ContainerConfig{Image: cfg.ContainerImage},
		Logger:               logger,
	})
}

// withSession runs fn against a freshly opened session and always closes it.
func withSession(fn func(ctx context.Context, sess *session.Session) error) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sess, err := openSession(ctx, cfg, setupLogging(cfg))
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()
	return fn(ctx, sess)
}
