package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenFileAbsent(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "simulated", cfg.Executor.Kind)
	assert.Equal(t, 10.0, cfg.Cost.JobThresholdUSD)
	assert.Equal(t, 0.7, cfg.Safety.AlertThreshold)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	content := `project:
  name: report-pipeline
cost:
  job_threshold_usd: 25
storage:
  driver: postgres
  database_url: postgres://localhost/crewd
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "report-pipeline", cfg.Project.Name)
	assert.Equal(t, 25.0, cfg.Cost.JobThresholdUSD)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	// Untouched sections keep their defaults.
	assert.Equal(t, 100.0, cfg.Cost.DailyThresholdUSD)
	assert.Equal(t, "simulated", cfg.Executor.Kind)
}

func TestLoadDatabaseURLFromEnvironment(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env-host/crewd")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "postgres://env-host/crewd", cfg.Storage.DatabaseURL)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad driver", "storage:\n  driver: cassandra\n"},
		{"bad executor", "executor:\n  kind: warp\n"},
		{"negative threshold", "cost:\n  daily_threshold_usd: -5\n"},
		{"alert threshold out of range", "safety:\n  alert_threshold: 1.5\n"},
		{"malformed yaml", ":\n  broken: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(tt.content), 0644))
			_, err := Load(dir)
			assert.Error(t, err)
		})
	}
}
