// Package mcp implements the stdio JSON-RPC tool adapter: a managed child
// process speaking the MCP protocol, exposed to the registry as ordinary
// tools.
package mcp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"codemode/internal/errors"
	"codemode/internal/logging"
)

// ProcessConfig configures the MCP server child process.
type ProcessConfig struct {
	Command string
	Args    []string
	Env     map[string]string
}

// ProcessManager owns one MCP server process: lifecycle, stderr draining,
// and unexpected-exit detection.
type ProcessManager struct {
	command string
	args    []string
	env     []string

	process *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	stderr  io.ReadCloser

	logger   logging.Logger
	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	waitDone chan error
	exited   chan struct{}
}

// NewProcessManager creates a manager for the given command. Nothing is
// spawned until Start.
func NewProcessManager(config ProcessConfig) *ProcessManager {
	pm := &ProcessManager{
		command: config.Command,
		args:    config.Args,
		logger:  logging.NewComponentLogger(fmt.Sprintf("MCPProcess[%s]", config.Command)),
	}
	if config.Env != nil {
		pm.env = os.Environ()
		for k, v := range config.Env {
			pm.env = append(pm.env, fmt.Sprintf("%s=%s", k, v))
		}
	}
	return pm
}

// Start spawns the server process and begins monitoring it.
func (pm *ProcessManager) Start(ctx context.Context) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.running {
		return errors.New(errors.KindInvalidRequest, "process already running")
	}

	resolved, err := resolveExecutable(pm.command)
	if err != nil {
		return err
	}

	pm.logger.Info("Starting MCP server: %s %v", pm.command, pm.args)

	pm.stopChan = make(chan struct{})
	pm.waitDone = make(chan error, 1)
	pm.exited = make(chan struct{})

	cmd := exec.CommandContext(ctx, resolved, pm.args...)
	cmd.Env = pm.env

	if pm.stdin, err = cmd.StdinPipe(); err != nil {
		return errors.Wrap(errors.KindTransport, err, "create stdin pipe")
	}
	if pm.stdout, err = cmd.StdoutPipe(); err != nil {
		return errors.Wrap(errors.KindTransport, err, "create stdout pipe")
	}
	if pm.stderr, err = cmd.StderrPipe(); err != nil {
		return errors.Wrap(errors.KindTransport, err, "create stderr pipe")
	}

	if err := cmd.Start(); err != nil {
		return errors.Wrap(errors.KindExecutorUnavailable, err, "start %s", pm.command)
	}
	pm.process = cmd
	pm.running = true
	pm.logger.Info("MCP server started with PID: %d", cmd.Process.Pid)

	go pm.monitorStderr(pm.stderr, pm.stopChan)
	go pm.monitorExit(cmd)

	return nil
}

func resolveExecutable(command string) (string, error) {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return "", errors.New(errors.KindInvalidRequest, "command is required")
	}
	resolved, err := exec.LookPath(trimmed)
	if err != nil {
		return "", errors.Wrap(errors.KindExecutorUnavailable, err, "command not found")
	}
	return resolved, nil
}

// Stop closes stdin for a graceful shutdown and kills after timeout.
func (pm *ProcessManager) Stop(timeout time.Duration) error {
	pm.mu.Lock()
	if !pm.running {
		pm.mu.Unlock()
		return nil
	}
	pm.logger.Info("Stopping MCP server (timeout: %v)", timeout)
	pm.running = false
	stopChan := pm.stopChan
	waitDone := pm.waitDone
	process := pm.process
	stdin := pm.stdin
	pm.mu.Unlock()

	if stopChan != nil {
		close(stopChan)
	}
	if stdin != nil {
		_ = stdin.Close()
	}

	select {
	case err := <-waitDone:
		pm.logger.Info("Process exited gracefully: %v", err)
		return nil
	case <-time.After(timeout):
		pm.logger.Warn("Graceful shutdown timeout, killing process")
		if process != nil && process.Process != nil {
			if err := process.Process.Kill(); err != nil {
				return errors.Wrap(errors.KindTransport, err, "kill process")
			}
		}
		return nil
	}
}

// IsRunning reports whether the process is alive.
func (pm *ProcessManager) IsRunning() bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.running
}

// Stdio returns the child's stdout reader and stdin writer for the RPC
// connection.
func (pm *ProcessManager) Stdio() (io.Reader, io.Writer) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.stdout, pm.stdin
}

// Exited is closed when the current process terminates.
func (pm *ProcessManager) Exited() <-chan struct{} {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.exited
}

func (pm *ProcessManager) monitorStderr(stderr io.Reader, stop <-chan struct{}) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		select {
		case <-stop:
			return
		default:
			pm.logger.Debug("[STDERR] %s", scanner.Text())
		}
	}
}

func (pm *ProcessManager) monitorExit(cmd *exec.Cmd) {
	err := cmd.Wait()

	pm.mu.Lock()
	wasRunning := pm.running
	pm.running = false
	exited := pm.exited
	waitDone := pm.waitDone
	pm.mu.Unlock()

	select {
	case waitDone <- err:
	default:
	}
	close(exited)

	if wasRunning {
		if err != nil {
			pm.logger.Error("Process exited unexpectedly: %v", err)
		} else {
			pm.logger.Warn("Process exited unexpectedly (no error)")
		}
	}
}
