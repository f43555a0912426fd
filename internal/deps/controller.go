package deps

import (
	"context"
	"sync"

	"codemode/internal/errors"
	"codemode/internal/logging"
	"codemode/internal/store"
)

// Add outcomes.
const (
	StatusInstalled      = "installed"
	StatusAlreadyPresent = "already_present"
)

// Policy gates runtime mutation of the declared dependency set. List and
// Sync are always permitted; pre-declared intent is not a runtime change.
type Policy struct {
	AllowRuntimeInstalls bool
}

// Controller owns the declared dependency list: validation, persistence,
// installation and the policy gate.
type Controller struct {
	store     store.DepStore
	installer Installer
	policy    Policy
	logger    logging.Logger

	mu        sync.Mutex
	installed map[string]bool // specs confirmed importable this session
}

// NewController creates a controller over depStore.
func NewController(depStore store.DepStore, installer Installer, policy Policy, logger logging.Logger) *Controller {
	return &Controller{
		store:     depStore,
		installer: installer,
		policy:    policy,
		logger:    logging.OrNop(logger),
		installed: make(map[string]bool),
	}
}

// List returns the declared specs. Always permitted.
func (c *Controller) List(ctx context.Context) ([]string, error) {
	return c.store.List(ctx)
}

// Add validates spec, persists it (replacing a prior constraint for the same
// package), and installs it. A failed install rolls the store back.
func (c *Controller) Add(ctx context.Context, spec string) (string, error) {
	parsed, err := Parse(spec)
	if err != nil {
		return "", err
	}
	if !c.policy.AllowRuntimeInstalls {
		return "", errors.New(errors.KindRuntimeDepsDisabled, "runtime dependency installs are disabled")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	before, err := c.store.List(ctx)
	if err != nil {
		return "", err
	}

	canonical := parsed.String()
	if c.installed[canonical] && containsSpec(before, canonical) {
		return StatusAlreadyPresent, nil
	}

	after := replaceByName(before, parsed)
	if err := c.store.Save(ctx, after); err != nil {
		return "", err
	}

	result, err := c.installer.Install(ctx, []string{canonical})
	if err != nil || !result.OK() {
		// Roll back: an install failure must not leave the store modified.
		if rbErr := c.store.Save(ctx, before); rbErr != nil {
			c.logger.Error("Rollback after failed install of %q failed: %v", canonical, rbErr)
		}
		if err != nil {
			return "", errors.Wrap(errors.KindInstallFailed, err, "install %q", canonical)
		}
		return "", errors.New(errors.KindInstallFailed, "install %q: %s", canonical, result.Failed[canonical])
	}

	c.installed[canonical] = true
	c.logger.Info("Installed dep %q", canonical)
	return StatusInstalled, nil
}

// Remove drops spec from the declared list. The environment is not
// uninstalled; the store reflects declared intent only.
func (c *Controller) Remove(ctx context.Context, spec string) (bool, error) {
	parsed, err := Parse(spec)
	if err != nil {
		return false, err
	}
	if !c.policy.AllowRuntimeInstalls {
		return false, errors.New(errors.KindRuntimeDepsDisabled, "runtime dependency removal is disabled")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	before, err := c.store.List(ctx)
	if err != nil {
		return false, err
	}
	var after []string
	removed := false
	for _, existing := range before {
		if p, err := Parse(existing); err == nil && p.Name == parsed.Name {
			removed = true
			continue
		}
		after = append(after, existing)
	}
	if !removed {
		return false, nil
	}
	if err := c.store.Save(ctx, after); err != nil {
		return false, err
	}
	return true, nil
}

// Sync installs every declared dep not yet confirmed importable. Idempotent:
// a second call with nothing new is a no-op. Always permitted regardless of
// policy.
func (c *Controller) Sync(ctx context.Context) (*InstallResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	declared, err := c.store.List(ctx)
	if err != nil {
		return nil, err
	}

	var pending []string
	for _, spec := range declared {
		if !c.installed[spec] {
			pending = append(pending, spec)
		}
	}
	if len(pending) == 0 {
		return &InstallResult{AlreadyPresent: declared}, nil
	}

	result, err := c.installer.Install(ctx, pending)
	if err != nil {
		return nil, errors.Wrap(errors.KindInstallFailed, err, "sync deps")
	}
	for _, spec := range result.Installed {
		c.installed[spec] = true
	}
	for _, spec := range result.AlreadyPresent {
		c.installed[spec] = true
	}
	c.logger.Info("Synced deps: %d installed, %d failed", len(result.Installed), len(result.Failed))
	return result, nil
}

func containsSpec(specs []string, spec string) bool {
	for _, s := range specs {
		if s == spec {
			return true
		}
	}
	return false
}

// replaceByName appends parsed, dropping any earlier spec with the same
// package name so a later add replaces the prior constraint.
func replaceByName(specs []string, parsed ParsedSpec) []string {
	var out []string
	for _, existing := range specs {
		if p, err := Parse(existing); err == nil && p.Name == parsed.Name {
			continue
		}
		out = append(out, existing)
	}
	return append(out, parsed.String())
}
