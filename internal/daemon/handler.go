package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/crewops/crewd/internal/model"
	"github.com/crewops/crewd/internal/orchestrator"
	"github.com/crewops/crewd/internal/store"
	"github.com/crewops/crewd/internal/yaml"
)

// JobRequest is one spool file dropped into spool/jobs. CrewFile is
// resolved relative to the crewd dir unless absolute.
type JobRequest struct {
	SchemaVersion int            `yaml:"schema_version"`
	FileType      string         `yaml:"file_type"`
	CrewFile      string         `yaml:"crew_file"`
	InputData     map[string]any `yaml:"input_data,omitempty"`
}

// JobResult is what crewd writes back into spool/results once the job
// reaches a terminal state.
type JobResult struct {
	SchemaVersion int        `yaml:"schema_version"`
	FileType      string     `yaml:"file_type"`
	Job           *model.Job `yaml:"job"`
}

// SpoolHandler picks up job request files and runs them through the
// orchestrator, at most MaxConcurrentJobs at a time. A file enters
// processing once even when fsnotify and the periodic scan both see it.
type SpoolHandler struct {
	crewdDir string
	config   model.Config
	jobs     store.JobStore
	orch     *orchestrator.Orchestrator
	logger   *log.Logger
	logLevel LogLevel

	ctx   context.Context
	group *errgroup.Group

	mu       sync.Mutex
	inFlight map[string]bool
}

func NewSpoolHandler(ctx context.Context, crewdDir string, cfg model.Config, jobs store.JobStore, orch *orchestrator.Orchestrator, logger *log.Logger, logLevel LogLevel) *SpoolHandler {
	group := &errgroup.Group{}
	limit := cfg.Executor.MaxConcurrentJobs
	if limit <= 0 {
		limit = 4
	}
	group.SetLimit(limit)

	return &SpoolHandler{
		crewdDir: crewdDir,
		config:   cfg,
		jobs:     jobs,
		orch:     orch,
		logger:   logger,
		logLevel: logLevel,
		ctx:      ctx,
		group:    group,
		inFlight: make(map[string]bool),
	}
}

func (h *SpoolHandler) JobsDir() string    { return filepath.Join(h.crewdDir, "spool", "jobs") }
func (h *SpoolHandler) ResultsDir() string { return filepath.Join(h.crewdDir, "spool", "results") }

// HandleFileEvent reacts to one fsnotify event. Only YAML files inside
// the jobs spool count; dotfiles are in-progress atomic writes.
func (h *SpoolHandler) HandleFileEvent(path string) {
	if filepath.Dir(path) != h.JobsDir() {
		return
	}
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || !strings.HasSuffix(base, ".yaml") {
		return
	}
	h.enqueue(path)
}

// PeriodicScan sweeps the jobs spool for requests fsnotify missed,
// including anything that predates daemon startup.
func (h *SpoolHandler) PeriodicScan() {
	entries, err := os.ReadDir(h.JobsDir())
	if err != nil {
		h.log(LogLevelError, "scan jobs spool: %v", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".yaml") {
			continue
		}
		h.enqueue(filepath.Join(h.JobsDir(), name))
	}
}

// Wait blocks until all in-flight jobs finish. Called during shutdown
// after the producers stop.
func (h *SpoolHandler) Wait() {
	_ = h.group.Wait()
}

func (h *SpoolHandler) enqueue(path string) {
	h.mu.Lock()
	if h.inFlight[path] {
		h.mu.Unlock()
		return
	}
	h.inFlight[path] = true
	h.mu.Unlock()

	h.group.Go(func() error {
		defer func() {
			h.mu.Lock()
			delete(h.inFlight, path)
			h.mu.Unlock()
		}()
		h.process(path)
		return nil
	})
}

func (h *SpoolHandler) process(path string) {
	if h.ctx.Err() != nil {
		return
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return
	}

	request, err := h.readRequest(path)
	if err != nil {
		h.log(LogLevelError, "bad job request %s: %v", filepath.Base(path), err)
		if qerr := yaml.RecoverCorruptedFile(h.crewdDir, path); qerr != nil {
			h.log(LogLevelError, "quarantine %s: %v", filepath.Base(path), qerr)
		}
		return
	}

	crew, err := h.loadCrew(request.CrewFile)
	if err != nil {
		h.log(LogLevelError, "request %s: %v", filepath.Base(path), err)
		if qerr := yaml.RecoverCorruptedFile(h.crewdDir, path); qerr != nil {
			h.log(LogLevelError, "quarantine %s: %v", filepath.Base(path), qerr)
		}
		return
	}

	jobID, err := model.GenerateID(model.IDTypeJob)
	if err != nil {
		h.log(LogLevelError, "generate job id: %v", err)
		return
	}
	job := model.NewJob(jobID, crew.Crew.Name, request.InputData)
	if err := h.jobs.Create(h.ctx, job); err != nil {
		h.log(LogLevelError, "create job %s: %v", jobID, err)
		return
	}

	h.log(LogLevelInfo, "job=%s crew=%s started (request=%s)", jobID, crew.Crew.Name, filepath.Base(path))
	if err := h.orch.Execute(h.ctx, job, crew); err != nil {
		// Execute already drove the job to failed and persisted the
		// error; the log line is for operators tailing the daemon.
		h.log(LogLevelWarn, "job=%s failed: %v", jobID, err)
	} else {
		h.log(LogLevelInfo, "job=%s completed cost_usd=%.4f tokens=%d", jobID, job.CostUSD, job.TokensUsed)
	}

	if err := h.writeResult(job); err != nil {
		h.log(LogLevelError, "write result for job=%s: %v", jobID, err)
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		h.log(LogLevelWarn, "remove processed request %s: %v", filepath.Base(path), err)
	}
}

func (h *SpoolHandler) readRequest(path string) (*JobRequest, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read request: %w", err)
	}
	if err := yaml.ValidateSchemaHeaderFromBytes(content, "job_request"); err != nil {
		return nil, err
	}

	var request JobRequest
	if err := yamlv3.Unmarshal(content, &request); err != nil {
		return nil, fmt.Errorf("parse request: %w", err)
	}
	if request.CrewFile == "" {
		return nil, fmt.Errorf("request missing crew_file")
	}
	return &request, nil
}

// loadCrew reads and validates a crew definition file.
func (h *SpoolHandler) loadCrew(crewFile string) (*model.CrewDefinition, error) {
	path := crewFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(h.crewdDir, crewFile)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read crew file: %w", err)
	}
	if err := yaml.ValidateSchemaHeaderFromBytes(content, "crew_definition"); err != nil {
		return nil, fmt.Errorf("crew file %s: %w", crewFile, err)
	}

	var crew model.CrewDefinition
	if err := yamlv3.Unmarshal(content, &crew); err != nil {
		return nil, fmt.Errorf("parse crew file %s: %w", crewFile, err)
	}
	crew.ApplyDefaults()
	if err := crew.Validate(); err != nil {
		return nil, fmt.Errorf("crew file %s: %w", crewFile, err)
	}
	return &crew, nil
}

func (h *SpoolHandler) writeResult(job *model.Job) error {
	if err := os.MkdirAll(h.ResultsDir(), 0755); err != nil {
		return fmt.Errorf("ensure results dir: %w", err)
	}
	resultPath := filepath.Join(h.ResultsDir(), job.ID+".yaml")
	return yaml.AtomicWrite(resultPath, &JobResult{
		SchemaVersion: yaml.CurrentSchemaVersion,
		FileType:      "job_result",
		Job:           job,
	})
}

func (h *SpoolHandler) log(level LogLevel, format string, args ...any) {
	logAt(h.logger, h.logLevel, level, format, args...)
}
