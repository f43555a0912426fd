package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"codemode/internal/deps"
	"codemode/internal/errors"
	"codemode/internal/execution"
	"codemode/internal/logging"
	"codemode/internal/store"
)

type recordingInstaller struct {
	installs [][]string
}

func (r *recordingInstaller) Install(ctx context.Context, specs []string) (*deps.InstallResult, error) {
	r.installs = append(r.installs, specs)
	return &deps.InstallResult{Installed: specs}, nil
}

func openTest(t *testing.T, cfg Config) *Session {
	t.Helper()
	if cfg.Access.Type == "" {
		cfg.Access = store.Access{Type: store.TypeFile, BasePath: t.TempDir()}
	}
	if cfg.Installer == nil {
		cfg.Installer = &recordingInstaller{}
	}
	cfg.Logger = logging.Nop()
	sess, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), Config{Backend: "warp"})
	require.True(t, errors.HasKind(err, errors.KindInvalidRequest), "got %v", err)
}

func TestRunAndResetInProcess(t *testing.T) {
	sess := openTest(t, Config{})
	ctx := context.Background()

	result, err := sess.Run(ctx, "x = 40\nx + 2", 0)
	require.NoError(t, err)
	require.Nil(t, result.Error)
	require.Equal(t, int64(42), result.Value)

	result, err = sess.Run(ctx, "x", 0)
	require.NoError(t, err)
	require.Equal(t, int64(40), result.Value)

	require.NoError(t, sess.Reset(ctx))

	result, err = sess.Run(ctx, "x", 0)
	require.NoError(t, err)
	require.NotNil(t, result.Error)
}

func TestSkillFacadeRoundTrip(t *testing.T) {
	sess := openTest(t, Config{})
	ctx := context.Background()

	created, err := sess.AddSkill(ctx, "double", "def run(x):\n    return x * 2\n", "double a number", false)
	require.NoError(t, err)
	require.Equal(t, "double", created.Name)
	require.Empty(t, created.Source)

	listed, err := sess.ListSkills(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 1)

	got, err := sess.GetSkill(ctx, "double")
	require.NoError(t, err)
	require.Contains(t, got.Source, "def run")

	// The stored skill is callable from session code.
	result, err := sess.Run(ctx, "skills.double(x=21)", 0)
	require.NoError(t, err)
	require.Equal(t, int64(42), result.Value)

	hits, err := sess.SearchSkills(ctx, "double", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)

	removed, err := sess.RemoveSkill(ctx, "double")
	require.NoError(t, err)
	require.True(t, removed)

	removed, err = sess.RemoveSkill(ctx, "double")
	require.NoError(t, err)
	require.False(t, removed)
}

func TestArtifactFacadeRoundTrip(t *testing.T) {
	sess := openTest(t, Config{})
	ctx := context.Background()

	require.NoError(t, sess.SaveArtifact(ctx, "report", []byte("contents"), "a report", map[string]any{"kind": "text"}))

	loaded, err := sess.LoadArtifact(ctx, "report")
	require.NoError(t, err)
	require.Equal(t, []byte("contents"), loaded.Data)
	require.Equal(t, "a report", loaded.Description)

	records, err := sess.ListArtifacts(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)

	// Code-side writes are visible through the facade.
	_, err = sess.Run(ctx, "artifacts.save(name=\"from_code\", data=\"payload\")", 0)
	require.NoError(t, err)
	loaded, err = sess.LoadArtifact(ctx, "from_code")
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), loaded.Data)

	removed, err := sess.DeleteArtifact(ctx, "report")
	require.NoError(t, err)
	require.True(t, removed)
}

func TestDepsPolicyAcrossFacadeAndCode(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	// Pre-declare a dep before the session opens.
	backing, err := store.OpenFile(dir, logging.Nop())
	require.NoError(t, err)
	require.NoError(t, backing.Deps().Save(ctx, []string{"pkg-a==1.0"}))
	require.NoError(t, backing.Close())

	installer := &recordingInstaller{}
	sess := openTest(t, Config{
		Access:               store.Access{Type: store.TypeFile, BasePath: dir},
		AllowRuntimeInstalls: false,
		SyncDepsOnStart:      true,
		Installer:            installer,
	})

	// Startup sync installed the declared dep.
	require.NotEmpty(t, installer.installs)
	require.Equal(t, []string{"pkg-a==1.0"}, installer.installs[0])

	specs, err := sess.ListDeps(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"pkg-a==1.0"}, specs)

	_, err = sess.AddDep(ctx, "pkg-b")
	require.True(t, errors.HasKind(err, errors.KindRuntimeDepsDisabled), "got %v", err)

	// Sync stays allowed under the gate.
	result, err := sess.SyncDeps(ctx)
	require.NoError(t, err)
	require.True(t, result.OK())

	// The gate holds inside executed code too.
	run, err := sess.Run(ctx, "deps.add(spec=\"pkg-c\")", 0)
	require.NoError(t, err)
	require.NotNil(t, run.Error)
	require.Equal(t, "RuntimeDepsDisabled", run.Error.Kind)

	specs, err = sess.ListDeps(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"pkg-a==1.0"}, specs)
}

func TestDepsAddWhenAllowed(t *testing.T) {
	sess := openTest(t, Config{AllowRuntimeInstalls: true})
	ctx := context.Background()

	status, err := sess.AddDep(ctx, "pkg-a==1.0")
	require.NoError(t, err)
	require.Equal(t, deps.StatusInstalled, status)

	removed, err := sess.RemoveDep(ctx, "pkg-a")
	require.NoError(t, err)
	require.True(t, removed)
}

func TestCapabilities(t *testing.T) {
	sess := openTest(t, Config{})
	require.True(t, sess.Supports(execution.CapReset))
	require.True(t, sess.Supports(execution.CapTimeout))
	require.False(t, sess.Supports(execution.CapContainerIsolation))
	require.Contains(t, sess.SupportedCapabilities(), execution.CapDepsInstall)
}

func TestCloseIsIdempotent(t *testing.T) {
	sess := openTest(t, Config{})
	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())

	_, err := sess.Run(context.Background(), "1", 0)
	require.True(t, errors.HasKind(err, errors.KindExecutorClosed), "got %v", err)
}

func TestRunHonorsTimeout(t *testing.T) {
	sess := openTest(t, Config{DefaultTimeout: 5 * time.Second})
	result, err := sess.Run(context.Background(), "while True:\n    pass\n", 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, result.Error)
	require.Equal(t, "Timeout", result.Error.Kind)
}
