package inspect

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/grafana/dskit/flagext"
	"github.com/stretchr/testify/require"
)

func defaultConfig() Config {
	var cfg Config
	flagext.DefaultValues(&cfg)
	return cfg
}

func TestConfigDefaults(t *testing.T) {
	cfg := defaultConfig()
	require.Equal(t, "simplified", cfg.Demangle)
	require.True(t, cfg.DWARF)
	require.Equal(t, uint(256), cfg.MaxEntries)
	require.Equal(t, 64, cfg.CacheSize)
	require.Equal(t, flagext.StringSliceCSV{"/usr/lib/debug"}, cfg.DebugDirs)
	require.ErrorContains(t, cfg.Validate(), "is required")
}

func TestConfigValidate(t *testing.T) {
	testcases := []struct {
		name   string
		modify func(*Config)
		err    string
	}{
		{"core", func(c *Config) { c.CoreFile = "core" }, ""},
		{"core and executable", func(c *Config) { c.CoreFile = "core"; c.Executable = "a.out" }, ""},
		{"pid", func(c *Config) { c.PID = 42 }, ""},
		{"executable", func(c *Config) { c.Executable = "a.out" }, ""},
		{"core and pid", func(c *Config) { c.CoreFile = "core"; c.PID = 42 }, "mutually exclusive"},
		{"pid and executable", func(c *Config) { c.PID = 42; c.Executable = "a.out" }, "mutually exclusive"},
		{"negative pid", func(c *Config) { c.PID = -1 }, "invalid pid"},
		{"demangle style", func(c *Config) { c.Executable = "a.out"; c.Demangle = "pretty" }, "unknown demangle style"},
		{"max entries", func(c *Config) { c.Executable = "a.out"; c.MaxEntries = 0 }, "max entries"},
		{"cache size", func(c *Config) { c.Executable = "a.out"; c.CacheSize = 0 }, "cache size"},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig()
			tc.modify(&cfg)
			err := cfg.Validate()
			if tc.err == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tc.err)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
core_file: /var/crash/core.1234
sysroot: /srv/root
debug_dirs: /usr/lib/debug,/opt/debug
demangle: full
max_entries: 16
`), 0o644))

	cfg := defaultConfig()
	require.NoError(t, LoadConfig(path, false, &cfg))
	require.NoError(t, cfg.Validate())
	require.Equal(t, "/var/crash/core.1234", cfg.CoreFile)
	require.Equal(t, "/srv/root", cfg.Sysroot)
	require.Equal(t, flagext.StringSliceCSV{"/usr/lib/debug", "/opt/debug"}, cfg.DebugDirs)
	require.Equal(t, "full", cfg.Demangle)
	require.Equal(t, uint(16), cfg.MaxEntries)
	// Fields absent from the file keep their defaults.
	require.True(t, cfg.DWARF)
	require.Equal(t, 64, cfg.CacheSize)

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	require.NoError(t, LoadConfig(empty, false, &cfg))

	unknown := filepath.Join(dir, "unknown.yaml")
	require.NoError(t, os.WriteFile(unknown, []byte("max_entrys: 3\n"), 0o644))
	require.ErrorContains(t, LoadConfig(unknown, false, &cfg), "max_entrys")

	require.ErrorIs(t, LoadConfig(filepath.Join(dir, "missing.yaml"), false, &cfg), os.ErrNotExist)
}

func TestLoadConfigExpandEnv(t *testing.T) {
	t.Setenv("VTINSPECT_TEST_CORE", "/var/crash/core.42")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("core_file: ${VTINSPECT_TEST_CORE}\n"), 0o644))

	cfg := defaultConfig()
	require.NoError(t, LoadConfig(path, false, &cfg))
	require.Equal(t, "${VTINSPECT_TEST_CORE}", cfg.CoreFile)

	require.NoError(t, LoadConfig(path, true, &cfg))
	require.Equal(t, "/var/crash/core.42", cfg.CoreFile)
}
