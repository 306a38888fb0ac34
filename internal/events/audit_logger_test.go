package events

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditLoggerRecord(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.jsonl")
	logger, err := NewAuditLogger(logPath, 0)
	require.NoError(t, err)
	defer logger.Close()

	err = logger.Record(TypeTokenUsage, map[string]any{
		"task_id":    "task_1",
		"agent_name": "Researcher",
		"cost_usd":   0.05,
	}, "job_1234567890_abcd1234")
	require.NoError(t, err)

	entries, err := ReadEntries(logPath)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	entry := entries[0]
	assert.Equal(t, TypeTokenUsage, entry.EventType)
	assert.Equal(t, "job_1234567890_abcd1234", entry.JobID)
	assert.Equal(t, "task_1", entry.TaskID)
	assert.Equal(t, "Researcher", entry.AgentName)
	assert.NotEmpty(t, entry.EventID)
	assert.False(t, entry.Timestamp.IsZero())
}

func TestAuditLoggerAppends(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.jsonl")
	logger, err := NewAuditLogger(logPath, 0)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, logger.Record(TypeSafetyCheck, map[string]any{"n": i}, "job_x"))
	}
	require.NoError(t, logger.Close())

	// Reopen and keep appending.
	logger, err = NewAuditLogger(logPath, 0)
	require.NoError(t, err)
	require.NoError(t, logger.Record(TypeSafetyCheck, nil, "job_x"))
	require.NoError(t, logger.Close())

	entries, err := ReadEntries(logPath)
	require.NoError(t, err)
	assert.Len(t, entries, 6)
}

func TestAuditLoggerRotation(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "audit.jsonl")

	// Tiny max size forces rotation after every couple of entries.
	logger, err := NewAuditLogger(logPath, 256)
	require.NoError(t, err)
	defer logger.Close()

	for i := 0; i < 10; i++ {
		require.NoError(t, logger.Record(TypeCostAlert, map[string]any{
			"alert_type": "job_threshold_exceeded",
			"message":    "job over budget",
		}, "job_y"))
	}

	archived, err := os.ReadDir(filepath.Join(dir, ArchiveDir))
	require.NoError(t, err)
	assert.NotEmpty(t, archived, "rotation should move full logs to archive/")

	// Active log stays under the cap.
	assert.LessOrEqual(t, logger.CurrentSize(), int64(256))
}

func TestReadEntriesSkipsMalformedLines(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.jsonl")
	content := `{"event_type":"token_usage","event_id":"a","timestamp":"2026-01-02T03:04:05Z"}
not json at all
{"event_type":"cost_alert","event_id":"b","timestamp":"2026-01-02T03:04:06Z"}
`
	require.NoError(t, os.WriteFile(logPath, []byte(content), 0644))

	entries, err := ReadEntries(logPath)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "token_usage", entries[0].EventType)
	assert.Equal(t, "cost_alert", entries[1].EventType)
}
