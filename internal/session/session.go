// Package session composes a storage backend, an executor and the agent
// namespaces into a single handle. One session owns one executor; the
// facade methods cover tools, skills, artifacts and deps regardless of
// which backend runs the code.
package session

import (
	"context"
	"time"

	"codemode/internal/deps"
	"codemode/internal/errors"
	"codemode/internal/execution"
	"codemode/internal/logging"
	"codemode/internal/namespace"
	"codemode/internal/skills"
	"codemode/internal/store"
)

// Backend selects where session code runs.
type Backend string

const (
	// BackendInProcess runs code on an interpreter in this process.
	BackendInProcess Backend = "in_process"
	// BackendSubprocess runs code in a kernel child process over stdio.
	BackendSubprocess Backend = "subprocess"
	// BackendContainer runs code in a container hosting the session server.
	BackendContainer Backend = "container"
)

// KernelConfig overrides how the subprocess kernel is spawned. Zero values
// fall back to re-executing the current binary.
type KernelConfig struct {
	Command string
	Args    []string
	Env     map[string]string
}

// ContainerConfig carries the container-backend knobs.
type ContainerConfig struct {
	Image          string
	Binary         string
	Memory         string
	CPUs           string
	DisableNetwork bool
}

// Config describes one session. Access and ToolsPath are shared by every
// backend; Embedder and Installer only apply where the namespaces are built
// in this process (the container builds its own from the environment).
type Config struct {
	Backend Backend

	Access    store.Access
	ToolsPath string

	AllowRuntimeInstalls bool
	SyncDepsOnStart      bool
	DefaultTimeout       time.Duration

	Embedder  skills.Embedder
	Installer deps.Installer

	Kernel    KernelConfig
	Container ContainerConfig

	Logger logging.Logger
}

// Session is a live code-execution session. Methods are safe for concurrent
// use; execute and reset serialize on the executor.
type Session struct {
	cfg    Config
	logger logging.Logger

	exec execution.Executor
	// ns is the host-side view of the namespaces. Nil for the container
	// backend, where facade calls forward to the in-container server.
	ns     *namespace.Namespaces
	ownsNS bool
	remote *execution.Container
}

// Open builds storage and executor for the configured backend and starts
// it. Every resource acquired before a failure is released before Open
// returns the error.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	logger := logging.OrNop(cfg.Logger)
	if cfg.Backend == "" {
		cfg.Backend = BackendInProcess
	}

	s := &Session{cfg: cfg, logger: logger}
	var err error
	switch cfg.Backend {
	case BackendInProcess:
		err = s.openInProcess(ctx)
	case BackendSubprocess:
		err = s.openSubprocess(ctx)
	case BackendContainer:
		err = s.openContainer(ctx)
	default:
		return nil, errors.New(errors.KindInvalidRequest, "unknown backend %q", cfg.Backend)
	}
	if err != nil {
		s.release()
		return nil, err
	}

	if cfg.SyncDepsOnStart && cfg.Backend == BackendInProcess {
		// Subprocess and container backends sync inside their bootstrap.
		result, serr := s.ns.Deps.Sync(ctx)
		if serr != nil {
			s.release()
			return nil, serr
		}
		for spec, reason := range result.Failed {
			logger.Warn("Startup dep sync: %s failed: %s", spec, reason)
		}
	}
	return s, nil
}

func (s *Session) openInProcess(ctx context.Context) error {
	exec := execution.NewInProcess(namespace.Config{
		Access:    s.cfg.Access,
		ToolsPath: s.cfg.ToolsPath,
		Policy:    deps.Policy{AllowRuntimeInstalls: s.cfg.AllowRuntimeInstalls},
		Installer: s.cfg.Installer,
		Embedder:  s.cfg.Embedder,
		Logger:    s.logger,
	}, s.cfg.DefaultTimeout, s.logger)
	s.exec = exec
	if err := exec.Start(ctx); err != nil {
		return err
	}
	s.ns = exec.Namespaces()
	return nil
}

func (s *Session) openSubprocess(ctx context.Context) error {
	s.exec = execution.NewSubprocess(execution.SubprocessConfig{
		Command:              s.cfg.Kernel.Command,
		Args:                 s.cfg.Kernel.Args,
		Env:                  s.cfg.Kernel.Env,
		Access:               s.cfg.Access,
		ToolsPath:            s.cfg.ToolsPath,
		AllowRuntimeInstalls: s.cfg.AllowRuntimeInstalls,
		SyncDepsOnStart:      s.cfg.SyncDepsOnStart,
		DefaultTimeout:       s.cfg.DefaultTimeout,
	}, s.logger)
	if err := s.exec.Start(ctx); err != nil {
		return err
	}

	// The kernel has its own namespaces; this bootstrap gives the facade a
	// host-side view over the same storage and tool definitions.
	ns, err := namespace.Bootstrap(ctx, namespace.Config{
		Access:    s.cfg.Access,
		ToolsPath: s.cfg.ToolsPath,
		Policy:    deps.Policy{AllowRuntimeInstalls: s.cfg.AllowRuntimeInstalls},
		Installer: s.cfg.Installer,
		Embedder:  s.cfg.Embedder,
		Logger:    s.logger,
	})
	if err != nil {
		return err
	}
	s.ns = ns
	s.ownsNS = true
	return nil
}

func (s *Session) openContainer(ctx context.Context) error {
	container := execution.NewContainer(execution.ContainerConfig{
		Image:                s.cfg.Container.Image,
		Binary:               s.cfg.Container.Binary,
		Access:               s.cfg.Access,
		ToolsPath:            s.cfg.ToolsPath,
		AllowRuntimeInstalls: s.cfg.AllowRuntimeInstalls,
		SyncDepsOnStart:      s.cfg.SyncDepsOnStart,
		Memory:               s.cfg.Container.Memory,
		CPUs:                 s.cfg.Container.CPUs,
		DisableNetwork:       s.cfg.Container.DisableNetwork,
		DefaultTimeout:       s.cfg.DefaultTimeout,
	}, s.logger)
	s.exec = container
	s.remote = container
	return container.Start(ctx)
}

// release tears down whatever Open acquired so far.
func (s *Session) release() {
	if s.ownsNS && s.ns != nil {
		_ = s.ns.Close()
		s.ns = nil
	}
	if s.exec != nil {
		_ = s.exec.Close()
	}
}

// Run executes code with an optional timeout (zero uses the configured
// default) and returns the structured result. User-code failures come back
// inside the result; an error return means the session itself failed.
func (s *Session) Run(ctx context.Context, code string, timeout time.Duration) (*execution.Result, error) {
	return s.exec.Execute(ctx, code, timeout)
}

// Reset clears interpreter state while keeping tools, skills and artifacts.
func (s *Session) Reset(ctx context.Context) error {
	return s.exec.Reset(ctx)
}

// Supports reports whether the executor provides a capability.
func (s *Session) Supports(capability string) bool {
	return execution.HasCapability(s.exec.Capabilities(), capability)
}

// SupportedCapabilities returns the executor's capability set.
func (s *Session) SupportedCapabilities() []string {
	return s.exec.Capabilities()
}

// Close releases the executor and any host-side namespaces. It is safe to
// call more than once.
func (s *Session) Close() error {
	var err error
	if s.exec != nil {
		err = s.exec.Close()
	}
	if s.ownsNS && s.ns != nil {
		if cerr := s.ns.Close(); cerr != nil && err == nil {
			err = cerr
		}
		s.ns = nil
	}
	return err
}
