package model

import "errors"

// Error kinds distinguish configuration-time failures (bad dependency
// graph, malformed crew) from runtime task failures. Both end a job in
// the failed state; callers tell them apart with errors.Is.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrExecution     = errors.New("task execution error")

	// Alert-class sentinels. The core itself never returns these across
	// the orchestrator boundary; they exist for callers that choose to
	// promote safety or cost alerts to hard failures.
	ErrSafetyBlocked         = errors.New("content blocked by safety policy")
	ErrCostThresholdExceeded = errors.New("cost threshold exceeded")
)
