// Package config loads keg's settings from defaults, a TOML file and the
// environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/blackwell-systems/keg/internal/cellar"
)

// EnvPrefix is the prefix for environment overrides (KEG_PREFIX, KEG_API_URL, ...).
const EnvPrefix = "KEG_"

// DefaultAPIURL is the formula metadata endpoint.
const DefaultAPIURL = "https://formulae.brew.sh/api"

// Config holds every tunable keg reads at startup.
type Config struct {
	Prefix            string        `koanf:"prefix"`
	APIURL            string        `koanf:"api_url"`
	BrewPath          string        `koanf:"brew_path"`
	CacheDir          string        `koanf:"cache_dir"`
	StateDir          string        `koanf:"state_dir"`
	Parallel          int           `koanf:"parallel"`
	Timeout           time.Duration `koanf:"timeout"`
	Platform          string        `koanf:"platform"`
	BuildDependencies bool          `koanf:"build_dependencies"`
	LinkSkip          []string      `koanf:"link_skip"`
	NoColor           bool          `koanf:"no_color"`
	Verbosity         int           `koanf:"verbosity"`
	History           bool          `koanf:"history"`

	// Path is the config file that was read, empty when none existed.
	Path string `koanf:"-"`
}

// Dir returns keg's config directory under XDG_CONFIG_HOME.
func Dir() string {
	return filepath.Join(xdg.ConfigHome, "keg")
}

// StateDir is the default home of the history database, snapshots and log.
func StateDir() string {
	return filepath.Join(xdg.StateHome, "keg")
}

// CacheDir is the default bottle download cache.
func CacheDir() string {
	return filepath.Join(xdg.CacheHome, "keg")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.toml")
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"prefix":             cellar.DetectPrefix(),
		"api_url":            DefaultAPIURL,
		"brew_path":          "brew",
		"cache_dir":          CacheDir(),
		"state_dir":          StateDir(),
		"parallel":           4,
		"timeout":            "2m",
		"platform":           "",
		"build_dependencies": true,
		"link_skip":          []string{},
		"no_color":           false,
		"verbosity":          0,
		"history":            true,
	}
}

// Load reads configuration. An empty path means DefaultPath; a missing file
// is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	loaded := ""
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
		loaded = path
	}

	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	unmarshalConf := koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           &cfg,
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
		},
	}
	if err := k.UnmarshalWithConf("", &cfg, unmarshalConf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	cfg.Path = loaded

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the rest of keg cannot work with.
func (c *Config) Validate() error {
	if c.Prefix == "" {
		return fmt.Errorf("invalid config: prefix must not be empty")
	}
	if !filepath.IsAbs(c.Prefix) {
		return fmt.Errorf("invalid config: prefix %q must be an absolute path", c.Prefix)
	}
	if c.Parallel < 1 {
		c.Parallel = 1
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("invalid config: timeout must be positive")
	}
	return nil
}

// DBPath is the history database location.
func (c *Config) DBPath() string {
	return filepath.Join(c.StateDir, "keg.db")
}

// SnapshotDir is where removal snapshots are written.
func (c *Config) SnapshotDir() string {
	return filepath.Join(c.StateDir, "snapshots")
}

// LogPath is the append-only log file.
func (c *Config) LogPath() string {
	return filepath.Join(c.StateDir, "keg.log")
}

// Settings returns the effective values in key order for display.
func (c *Config) Settings() [][2]string {
	return [][2]string{
		{"prefix", c.Prefix},
		{"api_url", c.APIURL},
		{"brew_path", c.BrewPath},
		{"cache_dir", c.CacheDir},
		{"state_dir", c.StateDir},
		{"parallel", fmt.Sprintf("%d", c.Parallel)},
		{"timeout", c.Timeout.String()},
		{"platform", c.Platform},
		{"build_dependencies", fmt.Sprintf("%t", c.BuildDependencies)},
		{"link_skip", strings.Join(c.LinkSkip, ",")},
		{"no_color", fmt.Sprintf("%t", c.NoColor)},
		{"history", fmt.Sprintf("%t", c.History)},
	}
}
