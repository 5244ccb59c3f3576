// Package config loads todosync settings from defaults, a config file,
// TODOSYNC_* environment variables and command-line flags, in increasing
// order of precedence.
//
// Config files are named todosync.yaml, todosync.toml or todosync.json and
// are searched for in $XDG_CONFIG_HOME/todosync and ~/.todosync unless a
// path is given explicitly.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, so remote.url is
// read from TODOSYNC_REMOTE_URL.
const EnvPrefix = "TODOSYNC"

// ConfigName is the config file base name.
const ConfigName = "todosync"

// Config is the effective configuration.
type Config struct {
	Local     LocalConfig     `mapstructure:"local"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Serve     ServeConfig     `mapstructure:"serve"`
	Log       LogConfig       `mapstructure:"log"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

// LocalConfig locates the local store.
type LocalConfig struct {
	// Path to the SQLite file, or ":memory:".
	Path string `mapstructure:"path"`
}

// RemoteConfig describes the remote document store.
type RemoteConfig struct {
	URL     string        `mapstructure:"url"`
	Token   string        `mapstructure:"token"`
	Method  string        `mapstructure:"method"`
	Timeout time.Duration `mapstructure:"timeout"`
	Retries int           `mapstructure:"retries"`
	Backoff time.Duration `mapstructure:"backoff"`
}

// SyncConfig tunes reconciliation.
type SyncConfig struct {
	CacheRemote bool          `mapstructure:"cache_remote"`
	Interval    time.Duration `mapstructure:"interval"`
	Debounce    time.Duration `mapstructure:"debounce"`
}

// DashboardConfig controls the daemon's WebSocket dashboard.
type DashboardConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// ServeConfig configures the self-hosted document server.
type ServeConfig struct {
	Addr  string `mapstructure:"addr"`
	Token string `mapstructure:"token"`
	Path  string `mapstructure:"path"`
}

// LogConfig configures component logs.
type LogConfig struct {
	Verbose    bool   `mapstructure:"verbose"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// FlagKeys maps persistent flag names to config keys.
var FlagKeys = map[string]string{
	"local":    "local.path",
	"remote":   "remote.url",
	"token":    "remote.token",
	"timeout":  "remote.timeout",
	"verbose":  "log.verbose",
	"log-file": "log.file",
}

// New returns a viper instance with defaults and environment binding set up.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// setDefaults registers every key. Durations are strings so WriteDefault
// produces readable files.
func setDefaults(v *viper.Viper) {
	v.SetDefault("local.path", filepath.Join("~", ".todosync", "todos.db"))

	v.SetDefault("remote.url", "")
	v.SetDefault("remote.token", "")
	v.SetDefault("remote.method", "PUT")
	v.SetDefault("remote.timeout", "15s")
	v.SetDefault("remote.retries", 2)
	v.SetDefault("remote.backoff", "500ms")

	v.SetDefault("sync.cache_remote", true)
	v.SetDefault("sync.interval", "30s")
	v.SetDefault("sync.debounce", "200ms")

	v.SetDefault("dashboard.enabled", false)
	v.SetDefault("dashboard.host", "127.0.0.1")
	v.SetDefault("dashboard.port", 8080)

	v.SetDefault("serve.addr", "127.0.0.1:8787")
	v.SetDefault("serve.token", "")
	v.SetDefault("serve.path", filepath.Join("~", ".todosync", "docstore.db"))

	v.SetDefault("log.verbose", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", false)
}

// BindFlags binds the flags named in FlagKeys that exist in fs.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range FlagKeys {
		flag := fs.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// SearchPaths returns the directories searched for a config file.
func SearchPaths() []string {
	var dirs []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		dirs = append(dirs, filepath.Join(xdg, ConfigName))
	} else if dir, err := os.UserConfigDir(); err == nil {
		dirs = append(dirs, filepath.Join(dir, ConfigName))
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".todosync"))
	}
	return dirs
}

// Load reads the config file (path, or the first todosync.* found in
// SearchPaths) into v and decodes the result. A missing file found by
// searching is not an error; a missing explicit path is.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(expandPath(path))
	} else {
		v.SetConfigName(ConfigName)
		for _, dir := range SearchPaths() {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	cfg.Local.Path = expandPath(cfg.Local.Path)
	cfg.Serve.Path = expandPath(cfg.Serve.Path)
	cfg.Log.File = expandPath(cfg.Log.File)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Local.Path == "" {
		return fmt.Errorf("local.path is required")
	}
	switch strings.ToUpper(c.Remote.Method) {
	case "", "PUT", "POST":
	default:
		return fmt.Errorf("remote.method must be PUT or POST (got %q)", c.Remote.Method)
	}
	if c.Remote.Timeout < 0 {
		return fmt.Errorf("remote.timeout must not be negative")
	}
	if c.Remote.Retries < 0 {
		return fmt.Errorf("remote.retries must not be negative")
	}
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync.interval must be positive")
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard.port out of range: %d", c.Dashboard.Port)
	}
	return nil
}

// HasRemote reports whether a remote store is configured.
func (c *Config) HasRemote() bool {
	return strings.TrimSpace(c.Remote.URL) != ""
}

// WriteDefault writes the default configuration to path. It refuses to
// overwrite an existing file.
func WriteDefault(path string) error {
	path = expandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	v := viper.New()
	setDefaults(v)
	if err := v.SafeWriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath expands a leading ~ and environment variables.
func expandPath(p string) string {
	if p == "" {
		return p
	}
	expanded := os.ExpandEnv(p)
	if expanded == "~" || strings.HasPrefix(expanded, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return expanded
		}
		return filepath.Join(home, strings.TrimPrefix(expanded[1:], "/"))
	}
	return expanded
}
