package deps

import (
	"bytes"
	"context"
	"os/exec"

	"codemode/internal/logging"
)

// InstallResult reports the outcome of one installer run.
type InstallResult struct {
	Installed      []string          `json:"installed,omitempty"`
	AlreadyPresent []string          `json:"already_present,omitempty"`
	Failed         map[string]string `json:"failed,omitempty"`
}

// OK reports whether nothing failed.
func (r *InstallResult) OK() bool { return len(r.Failed) == 0 }

// Installer makes packages importable in the execution environment. The
// contract is "package importable after success"; how is up to the
// implementation.
type Installer interface {
	Install(ctx context.Context, specs []string) (*InstallResult, error)
}

// ExecInstaller shells out to an installer command: an argv prefix with the
// specs appended. It prefers `uv pip install` and falls back to plain
// `pip install` when uv is not on PATH. A failed batch is retried spec by
// spec so failures are attributed to individual packages.
type ExecInstaller struct {
	argv   []string
	logger logging.Logger
}

// NewExecInstaller picks the installer command from PATH.
func NewExecInstaller(logger logging.Logger) *ExecInstaller {
	logger = logging.OrNop(logger)
	argv := []string{"pip", "install"}
	if _, err := exec.LookPath("uv"); err == nil {
		argv = []string{"uv", "pip", "install"}
	}
	logger.Debug("Using installer command: %v", argv)
	return &ExecInstaller{argv: argv, logger: logger}
}

// NewExecInstallerCommand uses an explicit argv prefix, for configurations
// that pin the environment (virtualenv pip, container interpreter).
func NewExecInstallerCommand(argv []string, logger logging.Logger) *ExecInstaller {
	return &ExecInstaller{argv: argv, logger: logging.OrNop(logger)}
}

func (i *ExecInstaller) Install(ctx context.Context, specs []string) (*InstallResult, error) {
	result := &InstallResult{Failed: map[string]string{}}
	if len(specs) == 0 {
		return result, nil
	}

	if stderr, err := i.run(ctx, specs); err == nil {
		result.Installed = append(result.Installed, specs...)
		return result, nil
	} else {
		i.logger.Warn("Batch install of %d specs failed, retrying individually: %s", len(specs), stderr)
	}

	for _, spec := range specs {
		stderr, err := i.run(ctx, []string{spec})
		if err != nil {
			result.Failed[spec] = stderr
			continue
		}
		result.Installed = append(result.Installed, spec)
	}
	return result, nil
}

func (i *ExecInstaller) run(ctx context.Context, specs []string) (string, error) {
	argv := append(append([]string{}, i.argv...), specs...)
	i.logger.Debug("Running installer: %v", argv)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	return tail(stderr.Bytes()), err
}

const stderrTailLimit = 2048

func tail(data []byte) string {
	if len(data) > stderrTailLimit {
		data = data[len(data)-stderrTailLimit:]
	}
	return string(bytes.TrimSpace(data))
}
