// Package config loads service configuration from an optional YAML file
// with CODEMODE_-prefixed environment overrides. The container entrypoint
// is configured entirely through the environment.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"codemode/internal/errors"
	"codemode/internal/store"
)

const envPrefix = "CODEMODE"

// Config is the resolved service configuration.
type Config struct {
	Listen      string
	AuthToken   string
	DisableAuth bool

	Access    store.Access
	ToolsPath string

	Backend              string
	ContainerImage       string
	AllowRuntimeInstalls bool
	SyncDepsOnStart      bool
	DefaultTimeout       time.Duration

	EmbeddingAPIKey  string
	EmbeddingModel   string
	EmbeddingBaseURL string

	LogLevel string
}

// Load resolves configuration from defaults, an optional config file and
// the environment, in that precedence order. path may be empty.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen", ":8443")
	v.SetDefault("backend", "in_process")
	v.SetDefault("store_path", "~/.codemode")
	v.SetDefault("default_timeout", "30s")
	v.SetDefault("log_level", "info")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(errors.KindInvalidRequest, err, "read config %s", path)
		}
	}

	cfg := &Config{
		Listen:               v.GetString("listen"),
		AuthToken:            v.GetString("auth_token"),
		DisableAuth:          v.GetBool("disable_auth"),
		ToolsPath:            v.GetString("tools_path"),
		Backend:              v.GetString("backend"),
		ContainerImage:       v.GetString("container_image"),
		AllowRuntimeInstalls: v.GetBool("allow_runtime_installs"),
		SyncDepsOnStart:      v.GetBool("sync_deps_on_start"),
		DefaultTimeout:       v.GetDuration("default_timeout"),
		EmbeddingAPIKey:      v.GetString("embedding_api_key"),
		EmbeddingModel:       v.GetString("embedding_model"),
		EmbeddingBaseURL:     v.GetString("embedding_base_url"),
		LogLevel:             v.GetString("log_level"),
	}

	access, err := resolveAccess(v)
	if err != nil {
		return nil, err
	}
	cfg.Access = access
	return cfg, nil
}

// resolveAccess prefers a full JSON storage descriptor (the form the
// container receives) and falls back to a file backend at store_path.
func resolveAccess(v *viper.Viper) (store.Access, error) {
	if raw := v.GetString("store_access"); raw != "" {
		var access store.Access
		if err := json.Unmarshal([]byte(raw), &access); err != nil {
			return store.Access{}, errors.Wrap(errors.KindInvalidRequest, err, "parse storage descriptor")
		}
		return access, nil
	}

	base, err := expandHome(v.GetString("store_path"))
	if err != nil {
		return store.Access{}, err
	}
	return store.Access{Type: store.TypeFile, BasePath: base}, nil
}

func expandHome(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", errors.Wrap(errors.KindInvalidRequest, err, "resolve home directory")
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}
