package daemon

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewops/crewd/internal/model"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LogLevelDebug},
		{"info", LogLevelInfo},
		{"warn", LogLevelWarn},
		{"warning", LogLevelWarn},
		{"ERROR", LogLevelError},
		{"", LogLevelInfo},
		{"verbose", LogLevelInfo},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewDaemonBuildsStack(t *testing.T) {
	dir := t.TempDir()
	cfg := model.DefaultConfig()

	var buf bytes.Buffer
	d, err := newDaemon(dir, cfg, &buf, nil)
	require.NoError(t, err)

	require.NotNil(t, d.handler)
	assert.Equal(t, filepath.Join(dir, "spool", "jobs"), d.handler.JobsDir())

	// The audit log was created under the crewd dir.
	_, err = os.Stat(filepath.Join(dir, cfg.Storage.AuditLog))
	assert.NoError(t, err)

	d.Shutdown()
}

func TestNewDaemonRejectsBadPatternsFile(t *testing.T) {
	dir := t.TempDir()
	cfg := model.DefaultConfig()
	cfg.Safety.PatternsFile = "safety.yaml"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "safety.yaml"), []byte("disabled_pii: [telepathy]\n"), 0644))

	var buf bytes.Buffer
	_, err := newDaemon(dir, cfg, &buf, nil)
	assert.Error(t, err)
}

func TestNewDaemonLoadsRatesFile(t *testing.T) {
	dir := t.TempDir()
	cfg := model.DefaultConfig()
	cfg.Cost.RatesFile = "rates.yaml"
	rates := `schema_version: 1
file_type: cost_rates
models:
  local-llm:
    input_per_1k: 0.0001
    output_per_1k: 0.0002
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rates.yaml"), []byte(rates), 0644))

	var buf bytes.Buffer
	d, err := newDaemon(dir, cfg, &buf, nil)
	require.NoError(t, err)
	d.Shutdown()
}
