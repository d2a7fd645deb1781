package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileGivesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regtoh5.yaml")
	data := `
logging:
  level: debug
  format: json
registration:
  ignoreDeformableGrid: true
output:
  format: itk-text
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.True(t, cfg.Registration.IgnoreDeformableGrid)
	// unset keys keep their defaults
	assert.True(t, cfg.Registration.CacheParsed)
	assert.Equal(t, "itk-text", cfg.Output.Format)
	assert.Equal(t, "regtoh5", cfg.Tracing.ServiceName)
}

func TestLoadConfigTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regtoh5.toml")
	data := `
[tracing]
enabled = true
exporter = "file"
filePath = "spans.json"

[registration]
cacheParsed = false
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, "file", cfg.Tracing.Exporter)
	assert.Equal(t, "spans.json", cfg.Tracing.FilePath)
	assert.False(t, cfg.Registration.CacheParsed)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadConfigInvalid(t *testing.T) {
	cases := map[string]string{
		"bad.yaml":     "logging: [",
		"level.yaml":   "logging:\n  level: loud\n",
		"format.yaml":  "logging:\n  format: xml\n",
		"exporter.yml": "tracing:\n  enabled: true\n  exporter: zipkin\n",
		"bad.toml":     "[logging\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, os.WriteFile(path, []byte(data), 0644))
			_, err := LoadConfig(path)
			assert.Error(t, err)
		})
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	for _, name := range []string{"nested/dir/regtoh5.yaml", "regtoh5.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			cfg := DefaultConfig()
			cfg.Logging.Level = "info"
			cfg.Output.Format = "h5"

			require.NoError(t, SaveConfig(cfg, path))
			loaded, err := LoadConfig(path)
			require.NoError(t, err)
			assert.Equal(t, cfg, loaded)
		})
	}
}

func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "default.yaml")
	require.NoError(t, CreateDefaultConfigFile(path))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}
