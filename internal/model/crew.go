package model

import (
	"fmt"
	"sort"
)

// Defaults applied to crew definitions, matching the builder that
// generates them.
// Workflow execution modes. Parallel mode runs independent dependency
// batches concurrently; sequential mode is the default.
const (
	ExecutionModeSequential = "sequential"
	ExecutionModeParallel   = "parallel"
)

const (
	DefaultExecutionMode    = ExecutionModeSequential
	DefaultMaxExecutionTime = 3600
	DefaultMaxRPM           = 10

	DefaultLLMModel       = "gpt-4"
	DefaultLLMTemperature = 0.7
	DefaultLLMMaxTokens   = 2000
)

// CrewDefinition is a named workflow definition: agent roles plus a task
// graph. It is the unit the orchestrator executes.
type CrewDefinition struct {
	Crew     CrewConfig          `yaml:"crew" json:"crew"`
	Roles    map[string]RoleSpec `yaml:"roles" json:"roles"`
	Workflow WorkflowConfig      `yaml:"workflow" json:"workflow"`
}

type CrewConfig struct {
	Name             string `yaml:"name" json:"name"`
	Description      string `yaml:"description,omitempty" json:"description,omitempty"`
	Version          string `yaml:"version,omitempty" json:"version,omitempty"`
	ExecutionMode    string `yaml:"execution_mode,omitempty" json:"execution_mode,omitempty"`
	MaxExecutionTime int    `yaml:"max_execution_time,omitempty" json:"max_execution_time,omitempty"`
	Verbose          bool   `yaml:"verbose,omitempty" json:"verbose,omitempty"`
	Memory           bool   `yaml:"memory,omitempty" json:"memory,omitempty"`
	Cache            bool   `yaml:"cache,omitempty" json:"cache,omitempty"`
	MaxRPM           int    `yaml:"max_rpm,omitempty" json:"max_rpm,omitempty"`
}

// RoleSpec describes one agent role. The execution core only reads Name
// (to attribute task results); everything else is passed through to the
// task executor.
type RoleSpec struct {
	Name             string         `yaml:"name" json:"name"`
	Role             string         `yaml:"role,omitempty" json:"role,omitempty"`
	Goal             string         `yaml:"goal,omitempty" json:"goal,omitempty"`
	Backstory        string         `yaml:"backstory,omitempty" json:"backstory,omitempty"`
	Tools            []string       `yaml:"tools,omitempty" json:"tools,omitempty"`
	LLMConfig        map[string]any `yaml:"llm_config,omitempty" json:"llm_config,omitempty"`
	MaxIter          int            `yaml:"max_iter,omitempty" json:"max_iter,omitempty"`
	MaxExecutionTime int            `yaml:"max_execution_time,omitempty" json:"max_execution_time,omitempty"`
	AllowDelegation  bool           `yaml:"allow_delegation,omitempty" json:"allow_delegation,omitempty"`
}

type WorkflowConfig struct {
	Tasks        map[string]TaskSpec `yaml:"tasks" json:"tasks"`
	Dependencies map[string][]string `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
}

// TaskSpec is one unit of work. Tools and AsyncExecution are pass-through
// fields the core does not interpret.
type TaskSpec struct {
	ID             string   `yaml:"-" json:"-"`
	Description    string   `yaml:"description" json:"description"`
	ExpectedOutput string   `yaml:"expected_output,omitempty" json:"expected_output,omitempty"`
	Agent          string   `yaml:"agent" json:"agent"`
	Context        []string `yaml:"context,omitempty" json:"context,omitempty"`
	Tools          []string `yaml:"tools,omitempty" json:"tools,omitempty"`
	AsyncExecution bool     `yaml:"async_execution,omitempty" json:"async_execution,omitempty"`
	OutputFile     string   `yaml:"output_file,omitempty" json:"output_file,omitempty"`
}

// ApplyDefaults fills zero-valued crew fields and stamps task IDs from
// their map keys. Tasks with no declared dependency entry get an empty
// one so the dependency map covers the full task set.
func (c *CrewDefinition) ApplyDefaults() {
	if c.Crew.ExecutionMode == "" {
		c.Crew.ExecutionMode = DefaultExecutionMode
	}
	if c.Crew.MaxExecutionTime == 0 {
		c.Crew.MaxExecutionTime = DefaultMaxExecutionTime
	}
	if c.Crew.MaxRPM == 0 {
		c.Crew.MaxRPM = DefaultMaxRPM
	}
	if c.Crew.Version == "" {
		c.Crew.Version = "1.0.0"
	}

	for id, role := range c.Roles {
		if role.Name == "" {
			role.Name = id
		}
		if role.LLMConfig == nil {
			role.LLMConfig = map[string]any{
				"model":       DefaultLLMModel,
				"temperature": DefaultLLMTemperature,
				"max_tokens":  DefaultLLMMaxTokens,
			}
		}
		c.Roles[id] = role
	}

	if c.Workflow.Dependencies == nil {
		c.Workflow.Dependencies = make(map[string][]string)
	}
	for id, task := range c.Workflow.Tasks {
		task.ID = id
		c.Workflow.Tasks[id] = task
		if _, ok := c.Workflow.Dependencies[id]; !ok {
			c.Workflow.Dependencies[id] = []string{}
		}
	}
}

// Validate checks the crew definition for structural problems that would
// make execution meaningless. Cycle detection is the dependency graph's
// job, not Validate's.
func (c *CrewDefinition) Validate() error {
	if c.Crew.Name == "" {
		return fmt.Errorf("crew definition missing name")
	}
	if len(c.Workflow.Tasks) == 0 {
		return fmt.Errorf("crew %q has no tasks", c.Crew.Name)
	}
	for id, task := range c.Workflow.Tasks {
		if task.Description == "" {
			return fmt.Errorf("task %q missing description", id)
		}
	}
	return nil
}

// TaskIDs returns the workflow's task ids sorted for deterministic
// traversal order.
func (c *CrewDefinition) TaskIDs() []string {
	ids := make([]string, 0, len(c.Workflow.Tasks))
	for id := range c.Workflow.Tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ResolveAgentName returns the display name for a task's assigned role,
// or "Unknown Agent" when the role id is not in the role table.
func (c *CrewDefinition) ResolveAgentName(roleID string) string {
	if role, ok := c.Roles[roleID]; ok && role.Name != "" {
		return role.Name
	}
	return "Unknown Agent"
}
