package daemon

import (
	"bytes"
	"context"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/crewops/crewd/internal/model"
	"github.com/crewops/crewd/internal/orchestrator"
	"github.com/crewops/crewd/internal/store"
)

const testCrewYAML = `schema_version: 1
file_type: crew_definition
crew:
  name: report-crew
roles:
  researcher:
    name: Researcher
  writer:
    name: Writer
workflow:
  tasks:
    task_1:
      description: gather sources
      agent: researcher
    task_2:
      description: write report
      agent: writer
      context: [task_1]
  dependencies:
    task_2: [task_1]
`

func newTestHandler(t *testing.T) (*SpoolHandler, string) {
	t.Helper()
	crewdDir := t.TempDir()

	jobs := store.NewMemoryStore()
	orch := orchestrator.New(orchestrator.Options{
		Jobs:     jobs,
		Executor: &orchestrator.SimulatedExecutor{},
	})

	cfg := model.DefaultConfig()
	logger := log.New(&bytes.Buffer{}, "", 0)
	h := NewSpoolHandler(context.Background(), crewdDir, cfg, jobs, orch, logger, LogLevelError)

	require.NoError(t, os.MkdirAll(h.JobsDir(), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(crewdDir, "crews"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(crewdDir, "crews", "report.yaml"), []byte(testCrewYAML), 0644))

	return h, crewdDir
}

func writeRequest(t *testing.T, h *SpoolHandler, name, content string) string {
	t.Helper()
	path := filepath.Join(h.JobsDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestSpoolHandlerProcessesRequest(t *testing.T) {
	h, _ := newTestHandler(t)

	request := `schema_version: 1
file_type: job_request
crew_file: crews/report.yaml
input_data:
  topic: quarterly numbers
`
	path := writeRequest(t, h, "req1.yaml", request)

	h.PeriodicScan()
	h.Wait()

	// Request consumed, result written.
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "request file should be removed")

	entries, err := os.ReadDir(h.ResultsDir())
	require.NoError(t, err)
	require.Len(t, entries, 1)

	content, err := os.ReadFile(filepath.Join(h.ResultsDir(), entries[0].Name()))
	require.NoError(t, err)

	var result JobResult
	require.NoError(t, yamlv3.Unmarshal(content, &result))
	assert.Equal(t, "job_result", result.FileType)
	require.NotNil(t, result.Job)
	assert.Equal(t, model.StatusCompleted, result.Job.Status)
	assert.Equal(t, "report-crew", result.Job.CrewID)
	require.NotNil(t, result.Job.Output)
	assert.Equal(t, []string{"task_1", "task_2"}, result.Job.Output.ExecutionOrder)
	assert.Positive(t, result.Job.CostUSD)
}

func TestSpoolHandlerQuarantinesMalformedRequest(t *testing.T) {
	h, crewdDir := newTestHandler(t)

	path := writeRequest(t, h, "bad.yaml", ":\n  broken: [\n")
	h.PeriodicScan()
	h.Wait()

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "malformed request should be quarantined")

	entries, err := os.ReadDir(filepath.Join(crewdDir, "quarantine"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSpoolHandlerQuarantinesRequestWithMissingCrew(t *testing.T) {
	h, crewdDir := newTestHandler(t)

	request := `schema_version: 1
file_type: job_request
crew_file: crews/absent.yaml
`
	writeRequest(t, h, "req.yaml", request)
	h.PeriodicScan()
	h.Wait()

	entries, err := os.ReadDir(filepath.Join(crewdDir, "quarantine"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// No result was produced.
	results, _ := os.ReadDir(h.ResultsDir())
	assert.Empty(t, results)
}

func TestSpoolHandlerIgnoresNonRequestFiles(t *testing.T) {
	h, _ := newTestHandler(t)

	writeRequest(t, h, ".crewd-tmp-123.yaml", "partial")
	writeRequest(t, h, "notes.txt", "not yaml")

	h.PeriodicScan()
	h.Wait()

	// Both files untouched.
	for _, name := range []string{".crewd-tmp-123.yaml", "notes.txt"} {
		_, err := os.Stat(filepath.Join(h.JobsDir(), name))
		assert.NoError(t, err, name)
	}
}

func TestSpoolHandlerFailedJobStillWritesResult(t *testing.T) {
	h, crewdDir := newTestHandler(t)

	// A crew whose dependency graph has a cycle fails before any task.
	cyclic := `schema_version: 1
file_type: crew_definition
crew:
  name: cyclic-crew
roles:
  worker:
    name: Worker
workflow:
  tasks:
    task_1:
      description: step one
      agent: worker
    task_2:
      description: step two
      agent: worker
  dependencies:
    task_1: [task_2]
    task_2: [task_1]
`
	require.NoError(t, os.WriteFile(filepath.Join(crewdDir, "crews", "cyclic.yaml"), []byte(cyclic), 0644))

	request := `schema_version: 1
file_type: job_request
crew_file: crews/cyclic.yaml
`
	writeRequest(t, h, "req.yaml", request)
	h.PeriodicScan()
	h.Wait()

	entries, err := os.ReadDir(h.ResultsDir())
	require.NoError(t, err)
	require.Len(t, entries, 1)

	content, err := os.ReadFile(filepath.Join(h.ResultsDir(), entries[0].Name()))
	require.NoError(t, err)

	var result JobResult
	require.NoError(t, yamlv3.Unmarshal(content, &result))
	assert.Equal(t, model.StatusFailed, result.Job.Status)
	assert.NotEmpty(t, result.Job.ErrorMessage)
}

func TestSpoolHandlerEventDedup(t *testing.T) {
	h, _ := newTestHandler(t)

	request := `schema_version: 1
file_type: job_request
crew_file: crews/report.yaml
`
	path := writeRequest(t, h, "req.yaml", request)

	// fsnotify and the periodic scan race on the same file; it still
	// runs once.
	h.HandleFileEvent(path)
	h.PeriodicScan()
	h.Wait()

	entries, err := os.ReadDir(h.ResultsDir())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
