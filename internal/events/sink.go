// Package events provides the append-only audit sink and the in-process
// alert bus. Every token_usage, safety_check, and lifecycle event the
// execution core emits flows through a Sink; alert-class events
// additionally fan out on the Bus.
package events

// Standard audit event types emitted by the execution core.
const (
	TypeJobStarted   = "job_started"
	TypeJobCompleted = "job_completed"
	TypeJobFailed    = "job_failed"
	TypeTokenUsage   = "token_usage"
	TypeSafetyCheck  = "safety_check"
	TypeSafetyAlert  = "safety_alert"
	TypeCostAlert    = "cost_alert"
)

// Sink is the audit append capability the core consumes. Record is
// fire-and-forget from the orchestration loop's perspective: failures
// must be surfaced to operators by the caller but never abort a job.
type Sink interface {
	Record(eventType string, data map[string]any, jobID string) error
}

// NopSink discards every event. Used in tests and as the fallback when
// no audit log is configured.
type NopSink struct{}

func (NopSink) Record(string, map[string]any, string) error { return nil }

// MultiSink fans one Record out to several sinks, e.g. the JSONL audit
// log plus the database audit table. All sinks are attempted; the
// first error wins.
type MultiSink []Sink

func (m MultiSink) Record(eventType string, data map[string]any, jobID string) error {
	var firstErr error
	for _, sink := range m {
		if err := sink.Record(eventType, data, jobID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
