package model

import "fmt"

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var terminalStatuses = map[Status]bool{
	StatusCompleted: true,
	StatusFailed:    true,
}

// Job lifecycle transitions: pending → running → completed|failed.
// pending → failed covers jobs rejected before any task runs (cycle in the
// dependency graph, malformed crew definition). Terminal states have no
// outgoing transitions.
var validJobTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusRunning: true,
		StatusFailed:  true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
	},
}

func IsTerminal(s Status) bool {
	return terminalStatuses[s]
}

func ValidateTransition(from, to Status) error {
	if validJobTransitions[from][to] {
		return nil
	}
	return fmt.Errorf("invalid job status transition: %s -> %s", from, to)
}
