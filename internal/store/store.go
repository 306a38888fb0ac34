// Package store holds the persistence capabilities the execution core
// consumes: job state updates and the durable cost history used for
// daily/monthly threshold checks.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/crewops/crewd/internal/model"
)

// ErrJobNotFound is returned when a job id has no record.
var ErrJobNotFound = errors.New("job not found")

// JobUpdate carries the optional fields of a status update. Nil fields
// are left untouched.
type JobUpdate struct {
	Output       *model.JobOutput
	ErrorMessage *string
	CostUSD      *float64
	TokensUsed   *int
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// JobStore is the orchestrator's only mechanism for making lifecycle
// transitions visible outside the core.
type JobStore interface {
	Create(ctx context.Context, job *model.Job) error
	Get(ctx context.Context, jobID string) (*model.Job, error)
	UpdateStatus(ctx context.Context, jobID string, status model.Status, update JobUpdate) error
}

// CostHistoryStore reports durably persisted job spend over a window.
// The in-memory cost ledger never backs this; threshold checks need the
// cross-job history.
type CostHistoryStore interface {
	SumCost(ctx context.Context, since, until time.Time) (float64, error)
}
