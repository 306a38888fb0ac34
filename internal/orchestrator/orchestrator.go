// Package orchestrator drives the job lifecycle state machine: it
// orders a crew's tasks, runs them through the pluggable executor, and
// funnels every output through safety scanning and cost tracking
// before recording it. pending → running → {completed|failed}; running
// is entered exactly once and terminal states are final.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/crewops/crewd/internal/cost"
	"github.com/crewops/crewd/internal/events"
	"github.com/crewops/crewd/internal/graph"
	"github.com/crewops/crewd/internal/model"
	"github.com/crewops/crewd/internal/safety"
	"github.com/crewops/crewd/internal/store"
)

// taskError classifies a task executor failure as an execution error
// while preserving the underlying cause.
type taskError struct {
	taskID string
	err    error
}

func (e *taskError) Error() string {
	return fmt.Sprintf("task %s: %v", e.taskID, e.err)
}

func (e *taskError) Unwrap() []error {
	return []error{model.ErrExecution, e.err}
}

// Options wires an Orchestrator. Jobs and Executor are required; nil
// Safety/Costs/Audit fall back to inert defaults so unit tests can
// exercise the lifecycle alone.
type Options struct {
	Jobs              store.JobStore
	Safety            *safety.Enforcer
	Costs             *cost.Tracker
	Executor          TaskExecutor
	Audit             events.Sink
	Bus               *events.Bus
	Logger            *log.Logger
	ParallelTaskLimit int
}

type Orchestrator struct {
	jobs          store.JobStore
	safety        *safety.Enforcer
	costs         *cost.Tracker
	executor      TaskExecutor
	audit         events.Sink
	bus           *events.Bus
	logger        *log.Logger
	parallelLimit int
}

func New(opts Options) *Orchestrator {
	if opts.Audit == nil {
		opts.Audit = events.NopSink{}
	}
	if opts.Safety == nil {
		opts.Safety = safety.NewEnforcer(nil, opts.Audit, opts.Bus, 0)
	}
	if opts.Costs == nil {
		opts.Costs = cost.NewTracker(nil, cost.Thresholds{}, opts.Audit, opts.Bus, nil)
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	if opts.ParallelTaskLimit <= 0 {
		opts.ParallelTaskLimit = 4
	}
	return &Orchestrator{
		jobs:          opts.Jobs,
		safety:        opts.Safety,
		costs:         opts.Costs,
		executor:      opts.Executor,
		audit:         opts.Audit,
		bus:           opts.Bus,
		logger:        opts.Logger,
		parallelLimit: opts.ParallelTaskLimit,
	}
}

// Execute runs one job to a terminal state. Configuration and
// execution errors are persisted to the job record and also returned;
// safety and cost alerts are side effects only and never surface here.
// The passed job is updated in place to mirror the persisted record.
func (o *Orchestrator) Execute(ctx context.Context, job *model.Job, crew *model.CrewDefinition) error {
	startedAt := time.Now().UTC()
	if err := o.jobs.UpdateStatus(ctx, job.ID, model.StatusRunning, store.JobUpdate{StartedAt: &startedAt}); err != nil {
		return fmt.Errorf("transition job %s to running: %w", job.ID, err)
	}
	job.Status = model.StatusRunning
	job.StartedAt = &startedAt

	_ = o.audit.Record(events.TypeJobStarted, map[string]any{
		"crew_id":    job.CrewID,
		"crew_name":  crew.Crew.Name,
		"task_count": len(crew.Workflow.Tasks),
	}, job.ID)

	order, err := graph.Order(crew.TaskIDs(), crew.Workflow.Dependencies)
	if err != nil {
		return o.fail(ctx, job, nil, err)
	}
	if unknown := graph.UnknownDependencies(crew.TaskIDs(), crew.Workflow.Dependencies); len(unknown) > 0 {
		o.logger.Printf("[WARN] job=%s ignoring dependencies on undefined tasks: %v", job.ID, unknown)
	}

	input, err := o.safety.ValidateInput(job.InputData, job.ID)
	if err != nil {
		return o.fail(ctx, job, nil, err)
	}

	output := &model.JobOutput{
		Tasks:          make(map[string]model.TaskResult, len(order)),
		ExecutionOrder: order,
	}

	if crew.Crew.ExecutionMode == model.ExecutionModeParallel {
		err = o.runParallel(ctx, job, crew, order, input, output)
	} else {
		err = o.runSequential(ctx, job, crew, order, input, output)
	}
	if err != nil {
		return o.fail(ctx, job, output, err)
	}

	if len(order) > 0 {
		final := output.Tasks[order[len(order)-1]]
		output.FinalOutput = &final
	}

	totals := o.costs.Flush(job.ID)
	completedAt := time.Now().UTC()
	if err := o.jobs.UpdateStatus(ctx, job.ID, model.StatusCompleted, store.JobUpdate{
		Output:      output,
		CostUSD:     &totals.CostUSD,
		TokensUsed:  &totals.Tokens,
		CompletedAt: &completedAt,
	}); err != nil {
		return fmt.Errorf("transition job %s to completed: %w", job.ID, err)
	}
	job.Status = model.StatusCompleted
	job.Output = output
	job.CostUSD = totals.CostUSD
	job.TokensUsed = totals.Tokens
	job.CompletedAt = &completedAt

	_ = o.audit.Record(events.TypeJobCompleted, map[string]any{
		"cost_usd":        totals.CostUSD,
		"tokens_used":     totals.Tokens,
		"execution_order": order,
	}, job.ID)
	if o.bus != nil {
		o.bus.Publish(events.EventJobFinished, map[string]any{
			"job_id": job.ID,
			"status": string(model.StatusCompleted),
		})
	}
	return nil
}

func (o *Orchestrator) runSequential(ctx context.Context, job *model.Job, crew *model.CrewDefinition, order []string, input map[string]any, output *model.JobOutput) error {
	for _, taskID := range order {
		result, err := o.runTask(ctx, job, crew, crew.Workflow.Tasks[taskID], input, output.Tasks)
		if err != nil {
			return &taskError{taskID: taskID, err: err}
		}
		output.Tasks[taskID] = result
	}
	return nil
}

// runTask executes one task and returns its immutable result. The
// produced map is read-only here: context assembly picks out results
// of the task's declared context tasks, silently skipping ids not yet
// produced.
func (o *Orchestrator) runTask(ctx context.Context, job *model.Job, crew *model.CrewDefinition, task model.TaskSpec, input map[string]any, produced map[string]model.TaskResult) (model.TaskResult, error) {
	agentName := crew.ResolveAgentName(task.Agent)
	role := crew.Roles[task.Agent]

	taskContext := make([]model.TaskResult, 0, len(task.Context))
	for _, contextID := range task.Context {
		if prior, ok := produced[contextID]; ok {
			taskContext = append(taskContext, prior)
		}
	}

	outcome, err := o.executor.Run(ctx, TaskRequest{
		TaskID:           task.ID,
		Description:      task.Description,
		ExpectedOutput:   task.ExpectedOutput,
		AgentName:        agentName,
		Role:             role,
		Context:          taskContext,
		InputData:        input,
		MaxExecutionTime: crew.Crew.MaxExecutionTime,
	})
	if err != nil {
		return model.TaskResult{}, err
	}

	cleaned, _ := o.safety.Enforce(outcome.Output, job.ID, map[string]any{
		"output_field": "task_output",
		"task_id":      task.ID,
	})

	costUSD := o.costs.Track(ctx, job.ID, roleModel(role), outcome.InputTokens, outcome.OutputTokens, task.ID, agentName)

	return model.TaskResult{
		TaskID:           task.ID,
		Description:      task.Description,
		ExpectedOutput:   task.ExpectedOutput,
		Output:           cleaned,
		AgentName:        agentName,
		TokensUsed:       outcome.InputTokens + outcome.OutputTokens,
		CostUSD:          costUSD,
		ExecutionSeconds: outcome.Duration.Seconds(),
		Timestamp:        time.Now().UTC(),
	}, nil
}

// fail drives the job to the failed terminal state. Partial task
// results and cost already recorded stay recorded; nothing rolls back.
func (o *Orchestrator) fail(ctx context.Context, job *model.Job, output *model.JobOutput, cause error) error {
	totals := o.costs.Flush(job.ID)
	completedAt := time.Now().UTC()
	message := cause.Error()

	if output != nil && len(output.Tasks) == 0 {
		output = nil
	}

	update := store.JobUpdate{
		Output:       output,
		ErrorMessage: &message,
		CostUSD:      &totals.CostUSD,
		TokensUsed:   &totals.Tokens,
		CompletedAt:  &completedAt,
	}
	if err := o.jobs.UpdateStatus(ctx, job.ID, model.StatusFailed, update); err != nil {
		o.logger.Printf("[ERROR] job=%s failed (%v) and the failed transition could not be persisted: %v", job.ID, cause, err)
	}
	job.Status = model.StatusFailed
	job.Output = output
	job.ErrorMessage = message
	job.CostUSD = totals.CostUSD
	job.TokensUsed = totals.Tokens
	job.CompletedAt = &completedAt

	_ = o.audit.Record(events.TypeJobFailed, map[string]any{
		"error":    message,
		"cost_usd": totals.CostUSD,
	}, job.ID)
	if o.bus != nil {
		o.bus.Publish(events.EventJobFinished, map[string]any{
			"job_id": job.ID,
			"status": string(model.StatusFailed),
			"error":  message,
		})
	}
	return cause
}

// roleModel picks the LLM model a role is configured for, falling back
// to the fleet default.
func roleModel(role model.RoleSpec) string {
	if name, ok := role.LLMConfig["model"].(string); ok && name != "" {
		return name
	}
	return model.DefaultLLMModel
}
