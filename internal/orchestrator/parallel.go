package orchestrator

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/crewops/crewd/internal/model"
)

// runParallel executes dependency batches concurrently: a batch is the
// set of tasks whose dependencies all completed in earlier batches.
// Concurrency within a batch is bounded by the configured task limit.
// The recorded ExecutionOrder stays the topological order; only wall
// clock behavior differs from sequential mode.
func (o *Orchestrator) runParallel(ctx context.Context, job *model.Job, crew *model.CrewDefinition, order []string, input map[string]any, output *model.JobOutput) error {
	for _, batch := range dependencyBatches(order, crew.Workflow.Dependencies) {
		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(o.parallelLimit)

		var mu sync.Mutex
		batchResults := make(map[string]model.TaskResult, len(batch))

		for _, taskID := range batch {
			taskID := taskID
			group.Go(func() error {
				result, err := o.runTask(groupCtx, job, crew, crew.Workflow.Tasks[taskID], input, output.Tasks)
				if err != nil {
					return &taskError{taskID: taskID, err: err}
				}
				mu.Lock()
				batchResults[taskID] = result
				mu.Unlock()
				return nil
			})
		}

		err := group.Wait()
		// Results from tasks that finished before a sibling failed are
		// kept: partial output survives a failed batch.
		for taskID, result := range batchResults {
			output.Tasks[taskID] = result
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// dependencyBatches groups a topological order into levels: each task
// lands one level after the deepest of its dependencies. Dependencies
// outside the order (undefined tasks) are ignored, matching the
// ordering pass.
func dependencyBatches(order []string, deps map[string][]string) [][]string {
	level := make(map[string]int, len(order))
	maxLevel := 0
	for _, taskID := range order {
		l := 0
		for _, dep := range deps[taskID] {
			if depLevel, ok := level[dep]; ok && depLevel+1 > l {
				l = depLevel + 1
			}
		}
		level[taskID] = l
		if l > maxLevel {
			maxLevel = l
		}
	}

	batches := make([][]string, maxLevel+1)
	for _, taskID := range order {
		batches[level[taskID]] = append(batches[level[taskID]], taskID)
	}
	return batches
}
