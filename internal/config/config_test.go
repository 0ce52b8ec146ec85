package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultAPIURL, cfg.APIURL)
	assert.Equal(t, "brew", cfg.BrewPath)
	assert.Equal(t, 4, cfg.Parallel)
	assert.Equal(t, 2*time.Minute, cfg.Timeout)
	assert.True(t, cfg.BuildDependencies)
	assert.True(t, cfg.History)
	assert.NotEmpty(t, cfg.Prefix)
	assert.Empty(t, cfg.Path)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
prefix = "/tmp/kegtest"
parallel = 8
timeout = "30s"
link_skip = ["*.la", "share/doc/**"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/kegtest", cfg.Prefix)
	assert.Equal(t, 8, cfg.Parallel)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, []string{"*.la", "share/doc/**"}, cfg.LinkSkip)
	assert.Equal(t, path, cfg.Path)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("parallel = 8\n"), 0644))

	t.Setenv("KEG_PARALLEL", "2")
	t.Setenv("KEG_API_URL", "http://localhost:9999/api")
	t.Setenv("KEG_LINK_SKIP", "a,b")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Parallel)
	assert.Equal(t, "http://localhost:9999/api", cfg.APIURL)
	assert.Equal(t, []string{"a", "b"}, cfg.LinkSkip)
}

func TestLoad_InvalidPrefix(t *testing.T) {
	t.Setenv("KEG_PREFIX", "relative/path")
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "absolute")
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("parallel = [unclosed"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestConfigPaths(t *testing.T) {
	cfg := &Config{StateDir: "/state"}
	assert.Equal(t, "/state/keg.db", cfg.DBPath())
	assert.Equal(t, "/state/snapshots", cfg.SnapshotDir())
	assert.Equal(t, "/state/keg.log", cfg.LogPath())

	assert.Equal(t, "keg", filepath.Base(StateDir()))
	assert.Equal(t, "keg", filepath.Base(CacheDir()))
	assert.Equal(t, "config.toml", filepath.Base(DefaultPath()))
}

func TestLoadAliases(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		cfg, err := LoadAliases(t.TempDir())
		require.NoError(t, err)
		assert.Empty(t, cfg.Aliases)
	})

	t.Run("parses valid lines and skips junk", func(t *testing.T) {
		dir := t.TempDir()
		content := "# comment\n\npy=python@3.12\n =nope\nbad line\nnode = node@22\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, "aliases"), []byte(content), 0644))

		cfg, err := LoadAliases(dir)
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"py": "python@3.12", "node": "node@22"}, cfg.Aliases)
	})
}

func TestAliasConfig_Resolve(t *testing.T) {
	cfg := &AliasConfig{Aliases: map[string]string{"py": "python@3.12"}}
	assert.Equal(t, []string{"python@3.12", "jq"}, cfg.Resolve([]string{"py", "jq"}))

	var nilCfg *AliasConfig
	assert.Equal(t, []string{"jq"}, nilCfg.Resolve([]string{"jq"}))
}
