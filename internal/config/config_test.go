package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"codemode/internal/store"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":8443", cfg.Listen)
	require.Equal(t, "in_process", cfg.Backend)
	require.Equal(t, 30*time.Second, cfg.DefaultTimeout)
	require.Equal(t, store.TypeFile, cfg.Access.Type)
	require.False(t, cfg.AllowRuntimeInstalls)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("CODEMODE_LISTEN", ":9000")
	t.Setenv("CODEMODE_AUTH_TOKEN", "sekrit")
	t.Setenv("CODEMODE_ALLOW_RUNTIME_INSTALLS", "true")
	t.Setenv("CODEMODE_SYNC_DEPS_ON_START", "true")
	t.Setenv("CODEMODE_TOOLS_PATH", "/srv/tools")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.Listen)
	require.Equal(t, "sekrit", cfg.AuthToken)
	require.True(t, cfg.AllowRuntimeInstalls)
	require.True(t, cfg.SyncDepsOnStart)
	require.Equal(t, "/srv/tools", cfg.ToolsPath)
}

func TestStoreAccessDescriptorFromEnv(t *testing.T) {
	t.Setenv("CODEMODE_STORE_ACCESS", `{"type":"redis","connection_url":"redis://localhost:6379","prefix":"cm:"}`)

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, store.TypeRedis, cfg.Access.Type)
	require.Equal(t, "redis://localhost:6379", cfg.Access.ConnectionURL)
	require.Equal(t, "cm:", cfg.Access.Prefix)
}

func TestStoreAccessRejectsBadJSON(t *testing.T) {
	t.Setenv("CODEMODE_STORE_ACCESS", "{not json")
	_, err := Load("")
	require.Error(t, err)
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "codemode.yaml")
	data := "listen: \":7000\"\nbackend: subprocess\nstore_path: " + dir + "\ndefault_timeout: 10s\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":7000", cfg.Listen)
	require.Equal(t, "subprocess", cfg.Backend)
	require.Equal(t, dir, cfg.Access.BasePath)
	require.Equal(t, 10*time.Second, cfg.DefaultTimeout)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

func TestEnvironmentBeatsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "codemode.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: \":7000\"\n"), 0o644))
	t.Setenv("CODEMODE_LISTEN", ":7100")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":7100", cfg.Listen)
}
