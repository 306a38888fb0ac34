package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/crewops/crewd/internal/model"
)

// MemoryStore is the in-process JobStore/CostHistoryStore used by tests
// and by daemons running without Postgres. Reads are non-blocking for
// concurrent jobs; writes copy, never alias.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*model.Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*model.Job),
	}
}

func (s *MemoryStore) Create(ctx context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	copied := *job
	s.jobs[job.ID] = &copied
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, jobID string) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	copied := *job
	return &copied, nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, jobID string, status model.Status, update JobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err := model.ValidateTransition(job.Status, status); err != nil {
		return err
	}

	job.Status = status
	if update.Output != nil {
		job.Output = update.Output
	}
	if update.ErrorMessage != nil {
		job.ErrorMessage = *update.ErrorMessage
	}
	if update.CostUSD != nil {
		job.CostUSD = *update.CostUSD
	}
	if update.TokensUsed != nil {
		job.TokensUsed = *update.TokensUsed
	}
	if update.StartedAt != nil {
		job.StartedAt = update.StartedAt
	}
	if update.CompletedAt != nil {
		job.CompletedAt = update.CompletedAt
	}
	return nil
}

// SumCost totals the recorded cost of jobs created inside the window.
func (s *MemoryStore) SumCost(ctx context.Context, since, until time.Time) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0.0
	for _, job := range s.jobs {
		if !job.CreatedAt.Before(since) && job.CreatedAt.Before(until) {
			total += job.CostUSD
		}
	}
	return total, nil
}
