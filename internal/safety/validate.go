package safety

import (
	"fmt"

	"github.com/crewops/crewd/internal/model"
)

// MaxDepth bounds the recursive walk over structured data. Inputs deeper
// than this (or self-referential structures) are rejected instead of
// recursed into.
const MaxDepth = 32

// ErrDepthExceeded reports structured data nested beyond MaxDepth.
var ErrDepthExceeded = fmt.Errorf("structured data exceeds max nesting depth %d: %w", MaxDepth, model.ErrConfiguration)

// ValidateInput cleans job input data before any task runs. Every
// string-valued leaf is scanned and replaced with its redacted form;
// non-string leaves pass through unchanged.
func (e *Enforcer) ValidateInput(data map[string]any, jobID string) (map[string]any, error) {
	return e.cleanMap(data, jobID, "input", 0)
}

// ValidateOutput cleans structured task output before it is recorded.
func (e *Enforcer) ValidateOutput(data map[string]any, jobID string) (map[string]any, error) {
	return e.cleanMap(data, jobID, "output", 0)
}

func (e *Enforcer) cleanMap(data map[string]any, jobID, direction string, depth int) (map[string]any, error) {
	if data == nil {
		return nil, nil
	}
	if depth >= MaxDepth {
		return nil, ErrDepthExceeded
	}

	cleaned := make(map[string]any, len(data))
	for key, value := range data {
		cleanedValue, err := e.cleanValue(value, jobID, direction, key, depth+1)
		if err != nil {
			return nil, err
		}
		cleaned[key] = cleanedValue
	}
	return cleaned, nil
}

func (e *Enforcer) cleanValue(value any, jobID, direction, field string, depth int) (any, error) {
	if depth >= MaxDepth {
		return nil, ErrDepthExceeded
	}

	switch v := value.(type) {
	case string:
		cleaned, _ := e.Enforce(v, jobID, map[string]any{direction + "_field": field})
		return cleaned, nil
	case map[string]any:
		return e.cleanMap(v, jobID, direction, depth)
	case []any:
		cleaned := make([]any, len(v))
		for i, item := range v {
			cleanedItem, err := e.cleanValue(item, jobID, direction, field, depth+1)
			if err != nil {
				return nil, err
			}
			cleaned[i] = cleanedItem
		}
		return cleaned, nil
	case []string:
		cleaned := make([]string, len(v))
		for i, item := range v {
			cleanedItem, _ := e.Enforce(item, jobID, map[string]any{direction + "_field": field})
			cleaned[i] = cleanedItem
		}
		return cleaned, nil
	default:
		// Numbers, booleans, nil, and anything else pass through.
		return value, nil
	}
}
