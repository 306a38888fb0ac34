package orchestrator

import (
	"context"
	"time"

	"github.com/crewops/crewd/internal/model"
)

// TaskRequest is everything the executor needs to run one task. Context
// carries the results of the task's declared context tasks that have
// already been produced, in declaration order.
type TaskRequest struct {
	TaskID           string
	Description      string
	ExpectedOutput   string
	AgentName        string
	Role             model.RoleSpec
	Context          []model.TaskResult
	InputData        map[string]any
	MaxExecutionTime int
}

// TaskOutcome is the raw executor result before safety scanning and
// cost tracking.
type TaskOutcome struct {
	Output       string
	InputTokens  int
	OutputTokens int
	Duration     time.Duration
}

// TaskExecutor runs one task. It is the only blocking collaborator in
// the execution loop; implementations represent a model call and own
// whatever retry policy they want. The orchestrator never retries.
type TaskExecutor interface {
	Run(ctx context.Context, req TaskRequest) (TaskOutcome, error)
}

// SimulatedExecutor stands in for a real model call: it sleeps for a
// fixed delay and produces a canned completion with a fixed token
// count. The default executor until a real backend is wired.
type SimulatedExecutor struct {
	Delay time.Duration
}

func (e *SimulatedExecutor) Run(ctx context.Context, req TaskRequest) (TaskOutcome, error) {
	start := time.Now()

	if e.Delay > 0 {
		select {
		case <-ctx.Done():
			return TaskOutcome{}, ctx.Err()
		case <-time.After(e.Delay):
		}
	}

	return TaskOutcome{
		Output:       "Completed: " + req.Description,
		InputTokens:  500,
		OutputTokens: 500,
		Duration:     time.Since(start),
	}, nil
}
