package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"codemode/internal/errors"
	"codemode/internal/logging"
	"codemode/internal/store"
)

const (
	defaultContainerStartup = 60 * time.Second
	containerToolsMount     = "/codemode/tools"
	containerDataMount      = "/codemode/data"
	containerPort           = 8443
)

// ContainerConfig configures the container executor. The image runs the
// session server; the executor reaches it over forwarded localhost.
type ContainerConfig struct {
	Image  string
	Binary string // docker-compatible CLI, default "docker"

	Access               store.Access
	ToolsPath            string
	AllowRuntimeInstalls bool
	SyncDepsOnStart      bool

	Memory         string // e.g. "512m"
	CPUs           string // e.g. "1.5"
	DisableNetwork bool

	StartupTimeout time.Duration
	DefaultTimeout time.Duration
}

// Container launches the session server image and forwards execute, reset
// and facade calls over HTTP with a per-start bearer token.
type Container struct {
	cfg    ContainerConfig
	logger logging.Logger
	client *http.Client

	mu          sync.Mutex
	containerID string
	baseURL     string
	token       string
	started     bool
	closed      bool
}

// NewContainer creates the executor; the container starts on Start.
func NewContainer(cfg ContainerConfig, logger logging.Logger) *Container {
	if cfg.Binary == "" {
		cfg.Binary = "docker"
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = defaultContainerStartup
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultExecTimeout
	}
	return &Container{
		cfg:    cfg,
		logger: logging.OrNop(logger),
		client: &http.Client{},
	}
}

func (e *Container) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.New(errors.KindExecutorClosed, "executor is closed")
	}
	if e.started {
		return nil
	}
	if e.cfg.Image == "" {
		return errors.New(errors.KindInvalidRequest, "container image is required")
	}

	port, err := freePort()
	if err != nil {
		return errors.Wrap(errors.KindExecutorUnavailable, err, "allocate host port")
	}
	e.token = uuid.NewString()

	args, err := e.runArgs(port)
	if err != nil {
		return err
	}
	out, runErr := runDocker(ctx, e.cfg.Binary, args...)
	if runErr != nil {
		return errors.Wrap(errors.KindExecutorUnavailable, runErr, "start container")
	}
	e.containerID = strings.TrimSpace(out)
	e.baseURL = fmt.Sprintf("http://127.0.0.1:%d", port)
	e.logger.Info("Container %.12s started on %s", e.containerID, e.baseURL)

	if err := e.awaitHealthy(ctx); err != nil {
		_, _ = runDocker(context.Background(), e.cfg.Binary, "rm", "-f", e.containerID)
		e.containerID = ""
		return err
	}
	e.started = true
	return nil
}

// runArgs builds the docker run argv. A file storage backend is bind-mounted
// and its descriptor rewritten to the in-container path, so the server
// reopens the same stores.
func (e *Container) runArgs(port int) ([]string, error) {
	access := e.cfg.Access

	args := []string{
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("127.0.0.1:%d:%d", port, containerPort),
		"-e", "CODEMODE_AUTH_TOKEN=" + e.token,
		"-e", fmt.Sprintf("CODEMODE_ALLOW_RUNTIME_INSTALLS=%t", e.cfg.AllowRuntimeInstalls),
		"-e", fmt.Sprintf("CODEMODE_SYNC_DEPS_ON_START=%t", e.cfg.SyncDepsOnStart),
		"-e", fmt.Sprintf("CODEMODE_LISTEN=:%d", containerPort),
	}
	if access.Type == store.TypeFile {
		args = append(args, "-v", access.BasePath+":"+containerDataMount)
		access.BasePath = containerDataMount
	}
	descriptor, err := json.Marshal(access)
	if err != nil {
		return nil, errors.Wrap(errors.KindInvalidRequest, err, "marshal storage descriptor")
	}
	args = append(args, "-e", "CODEMODE_STORE_ACCESS="+string(descriptor))

	if e.cfg.ToolsPath != "" {
		args = append(args,
			"-v", e.cfg.ToolsPath+":"+containerToolsMount+":ro",
			"-e", "CODEMODE_TOOLS_PATH="+containerToolsMount,
		)
	}
	if e.cfg.Memory != "" {
		args = append(args, "--memory", e.cfg.Memory)
	}
	if e.cfg.CPUs != "" {
		args = append(args, "--cpus", e.cfg.CPUs)
	}
	if e.cfg.DisableNetwork {
		args = append(args, "--network", "none")
	}
	return append(args, e.cfg.Image), nil
}

func (e *Container) awaitHealthy(ctx context.Context) error {
	deadline := time.Now().Add(e.cfg.StartupTimeout)
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return errors.Wrap(errors.KindExecutorUnavailable, ctx.Err(), "startup cancelled")
		}
		var health struct {
			Status string `json:"status"`
		}
		if err := e.doLocked(ctx, http.MethodGet, "/health", nil, &health); err == nil && health.Status == "healthy" {
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	return errors.New(errors.KindExecutorUnavailable, "container did not become healthy within %s", e.cfg.StartupTimeout)
}

func (e *Container) Execute(ctx context.Context, code string, timeout time.Duration) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout
	}

	body := map[string]any{"code": code, "timeout_ms": timeout.Milliseconds()}
	var result Result
	if err := e.doLocked(ctx, http.MethodPost, "/execute", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (e *Container) Reset(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return err
	}
	return e.doLocked(ctx, http.MethodPost, "/reset", nil, nil)
}

func (e *Container) Capabilities() []string {
	caps := []string{CapTimeout, CapProcessIsolation, CapContainerIsolation, CapReset, CapDepsInstall}
	if e.cfg.DisableNetwork {
		caps = append(caps, CapNetworkIsolation)
	}
	return caps
}

func (e *Container) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.containerID == "" {
		return nil
	}
	_, err := runDocker(context.Background(), e.cfg.Binary, "rm", "-f", e.containerID)
	e.containerID = ""
	if err != nil {
		return errors.Wrap(errors.KindExecutorUnavailable, err, "remove container")
	}
	return nil
}

// Forward issues an authenticated request against the session server, for
// facade operations (skills, artifacts, deps CRUD) that must run inside the
// container's environment.
func (e *Container) Forward(ctx context.Context, method, path string, body, out any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return err
	}
	return e.doLocked(ctx, method, path, body, out)
}

// ready checks lifecycle state. Caller holds e.mu.
func (e *Container) ready() error {
	if e.closed {
		return errors.New(errors.KindExecutorClosed, "executor is closed")
	}
	if !e.started {
		return errors.New(errors.KindExecutorUnavailable, "executor is not started")
	}
	return nil
}

// doLocked performs one HTTP round trip. Caller holds e.mu.
func (e *Container) doLocked(ctx context.Context, method, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(errors.KindInvalidRequest, err, "marshal body")
		}
		payload = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, e.baseURL+path, payload)
	if err != nil {
		return errors.Wrap(errors.KindTransport, err, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+e.token)

	resp, err := e.client.Do(req)
	if err != nil {
		return errors.Wrap(errors.KindTransport, err, "%s %s", method, path)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32*1024*1024))
	if err != nil {
		return errors.Wrap(errors.KindTransport, err, "read response")
	}

	// Timeout results come back as 408 with a full ExecutionResult body, so
	// decode before rejecting on status.
	if resp.StatusCode < 400 || resp.StatusCode == http.StatusRequestTimeout {
		if out != nil && len(data) > 0 {
			if err := json.Unmarshal(data, out); err != nil {
				return errors.Wrap(errors.KindTransport, err, "decode response for %s", path)
			}
		}
		return nil
	}

	var wire struct {
		Error *WireError `json:"error"`
	}
	if err := json.Unmarshal(data, &wire); err == nil && wire.Error != nil {
		return errors.New(errors.Kind(wire.Error.Kind), "%s", wire.Error.Message)
	}
	return errors.New(errors.KindTransport, "%s %s returned %d", method, path, resp.StatusCode)
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	port := l.Addr().(*net.TCPAddr).Port
	_ = l.Close()
	return port, nil
}

func runDocker(ctx context.Context, binary string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("%s %s: %s", binary, args[0], msg)
	}
	return stdout.String(), nil
}
