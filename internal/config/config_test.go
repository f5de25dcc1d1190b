package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Research.MaxIterations)
	assert.Equal(t, 2, cfg.Research.MaxDepthPerTopic)
	assert.Equal(t, 4, cfg.Research.MaxActiveSubTopics)
	assert.Equal(t, 3, cfg.Research.MaxWriterRounds)
	assert.Equal(t, 2112, cfg.MetricsPort())
	assert.Equal(t, 8081, cfg.APIPort())
	assert.True(t, cfg.API.Enabled)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fathom.yaml")
	content := []byte(`
research:
  max_iterations: 3
  max_depth_per_topic: 4
agent_service:
  base_url: http://localhost:9000
  timeout_seconds: 120
api:
  port: 9090
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Research.MaxIterations)
	assert.Equal(t, 4, cfg.Research.MaxDepthPerTopic)
	assert.Equal(t, "http://localhost:9000", cfg.AgentService.BaseURL)
	assert.Equal(t, 120, cfg.AgentService.TimeoutSec)
	assert.Equal(t, 9090, cfg.APIPort())
	// Untouched keys keep their defaults.
	assert.Equal(t, 4, cfg.Research.MaxActiveSubTopics)
}

func TestLoadClampsBudgets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fathom.yaml")
	content := []byte(`
research:
  max_iterations: 50
  max_active_subtopics: 1
  max_writer_rounds: 0
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Research.MaxIterations)
	assert.Equal(t, 3, cfg.Research.MaxActiveSubTopics)
	assert.Equal(t, 1, cfg.Research.MaxWriterRounds)
}

func TestPortEnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("METRICS_PORT", "3000")
	t.Setenv("API_PORT", "3001")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.MetricsPort())
	assert.Equal(t, 3001, cfg.APIPort())
}
