// Package graph resolves task execution order from a dependency map.
//
// The traversal is depth-first with three-color marking (white unvisited,
// gray in-progress, black done). Each task's dependencies are visited
// before the task itself is appended, so the result is a topological
// order: every dependency precedes its dependents. A gray task reached
// on the current path closes a cycle.
//
// The package is stateless and side-effect free.
package graph

import (
	"fmt"

	"github.com/crewops/crewd/internal/model"
)

// CycleError reports the task at which a dependency cycle was closed.
type CycleError struct {
	Task string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("circular dependency detected involving task %s", e.Task)
}

func (e *CycleError) Unwrap() error { return model.ErrConfiguration }

const (
	white = iota // unvisited
	gray         // on the current DFS path
	black        // done
)

// Order returns a topological ordering of taskIDs under deps. For a fixed
// taskIDs order the result is stable; callers needing reproducibility
// supply taskIDs in a stable order. Dependencies referencing an id outside
// taskIDs are ignored by traversal (see UnknownDependencies). Tasks with
// no deps entry have zero dependencies.
func Order(taskIDs []string, deps map[string][]string) ([]string, error) {
	inSet := make(map[string]bool, len(taskIDs))
	for _, id := range taskIDs {
		inSet[id] = true
	}

	colors := make(map[string]int, len(taskIDs))
	result := make([]string, 0, len(taskIDs))

	var visit func(id string) error
	visit = func(id string) error {
		switch colors[id] {
		case gray:
			return &CycleError{Task: id}
		case black:
			return nil
		}
		colors[id] = gray
		for _, dep := range deps[id] {
			if !inSet[dep] {
				continue
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		colors[id] = black
		result = append(result, id)
		return nil
	}

	for _, id := range taskIDs {
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// UnknownDependencies returns dependency ids referenced in deps that are
// not in taskIDs, in first-seen order. Order skips these silently; the
// caller decides whether to warn.
func UnknownDependencies(taskIDs []string, deps map[string][]string) []string {
	inSet := make(map[string]bool, len(taskIDs))
	for _, id := range taskIDs {
		inSet[id] = true
	}

	seen := make(map[string]bool)
	var unknown []string
	for _, id := range taskIDs {
		for _, dep := range deps[id] {
			if !inSet[dep] && !seen[dep] {
				seen[dep] = true
				unknown = append(unknown, dep)
			}
		}
	}
	return unknown
}
