package model

import "time"

// Job is one execution instance of a crew against specific input data.
// The orchestrator owns the Job exclusively for the duration of one
// execution; a JobStore persists it between lifecycle transitions.
type Job struct {
	ID           string         `yaml:"id" json:"id" db:"id"`
	CrewID       string         `yaml:"crew_id" json:"crew_id" db:"crew_id"`
	Status       Status         `yaml:"status" json:"status" db:"status"`
	InputData    map[string]any `yaml:"input_data" json:"input_data"`
	Output       *JobOutput     `yaml:"output_data,omitempty" json:"output_data,omitempty"`
	ErrorMessage string         `yaml:"error_message,omitempty" json:"error_message,omitempty" db:"error_message"`
	CostUSD      float64        `yaml:"cost_usd" json:"cost_usd" db:"cost_usd"`
	TokensUsed   int            `yaml:"tokens_used" json:"tokens_used" db:"tokens_used"`
	StartedAt    *time.Time     `yaml:"started_at,omitempty" json:"started_at,omitempty" db:"started_at"`
	CompletedAt  *time.Time     `yaml:"completed_at,omitempty" json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt    time.Time      `yaml:"created_at" json:"created_at" db:"created_at"`
}

// JobOutput aggregates per-task results. Tasks keys are exactly the task
// ids visited in execution order up to the point of failure; ExecutionOrder
// is the topological order the orchestrator computed.
type JobOutput struct {
	Tasks          map[string]TaskResult `yaml:"tasks" json:"tasks"`
	FinalOutput    *TaskResult           `yaml:"final_output,omitempty" json:"final_output,omitempty"`
	ExecutionOrder []string              `yaml:"execution_order" json:"execution_order"`
}

// TaskResult records one task execution. Created once per task per job
// run and immutable after creation.
type TaskResult struct {
	TaskID           string    `yaml:"task_id" json:"task_id"`
	Description      string    `yaml:"description" json:"description"`
	ExpectedOutput   string    `yaml:"expected_output" json:"expected_output"`
	Output           string    `yaml:"output" json:"output"`
	AgentName        string    `yaml:"agent" json:"agent"`
	TokensUsed       int       `yaml:"tokens_used" json:"tokens_used"`
	CostUSD          float64   `yaml:"cost_usd" json:"cost_usd"`
	ExecutionSeconds float64   `yaml:"execution_time" json:"execution_time"`
	Timestamp        time.Time `yaml:"timestamp" json:"timestamp"`
}

// NewJob creates a pending job for a crew.
func NewJob(id, crewID string, input map[string]any) *Job {
	return &Job{
		ID:        id,
		CrewID:    crewID,
		Status:    StatusPending,
		InputData: input,
		CreatedAt: time.Now().UTC(),
	}
}
