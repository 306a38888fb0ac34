package cost

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/crewops/crewd/internal/events"
	"github.com/crewops/crewd/internal/lock"
	"github.com/crewops/crewd/internal/model"
	"github.com/crewops/crewd/internal/store"
)

// TaskSpend is the recorded cost of one task within a job's ledger.
type TaskSpend struct {
	CostUSD   float64 `json:"cost_usd" yaml:"cost_usd"`
	Tokens    int     `json:"tokens" yaml:"tokens"`
	Model     string  `json:"model" yaml:"model"`
	AgentName string  `json:"agent_name" yaml:"agent_name"`
}

// Totals is what Flush returns: the job's accumulated spend.
type Totals struct {
	CostUSD float64
	Tokens  int
}

// Breakdown is a read-only snapshot of a job's ledger.
type Breakdown struct {
	TotalCostUSD float64              `json:"total_cost_usd" yaml:"total_cost_usd"`
	TotalTokens  int                  `json:"total_tokens" yaml:"total_tokens"`
	Tasks        map[string]TaskSpend `json:"tasks" yaml:"tasks"`
}

type ledgerEntry struct {
	totalCost   float64
	totalTokens int
	tasks       map[string]TaskSpend
}

// Thresholds are the alert trip points in USD. A zero value disables
// that check.
type Thresholds struct {
	JobUSD     float64
	DailyUSD   float64
	MonthlyUSD float64
}

// ThresholdsFromConfig extracts the trip points from the cost section.
func ThresholdsFromConfig(cfg model.CostConfig) Thresholds {
	return Thresholds{
		JobUSD:     cfg.JobThresholdUSD,
		DailyUSD:   cfg.DailyThresholdUSD,
		MonthlyUSD: cfg.MonthlyThresholdUSD,
	}
}

// Tracker accumulates per-job spend in an in-memory ledger. Ledger
// entries live from the first Track call until Flush; daily and monthly
// sums come from the history store, not the ledger, so they survive
// restarts. Safe for concurrent use; updates for one job are
// serialized, different jobs proceed independently.
type Tracker struct {
	rates      *RateTable
	thresholds Thresholds
	audit      events.Sink
	bus        *events.Bus
	history    store.CostHistoryStore

	jobLocks *lock.MutexMap

	mu      sync.RWMutex
	ledgers map[string]*ledgerEntry

	// clock source for the daily/monthly windows and alert timestamps
	now func() time.Time
}

// NewTracker wires a tracker. history may be nil when no persistent
// store backs the daemon; daily and monthly checks are then skipped.
func NewTracker(rates *RateTable, thresholds Thresholds, sink events.Sink, bus *events.Bus, history store.CostHistoryStore) *Tracker {
	if rates == nil {
		rates = DefaultRateTable()
	}
	if sink == nil {
		sink = events.NopSink{}
	}
	return &Tracker{
		rates:      rates,
		thresholds: thresholds,
		audit:      sink,
		bus:        bus,
		history:    history,
		jobLocks:   lock.NewMutexMap(),
		ledgers:    make(map[string]*ledgerEntry),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Calculate prices a token count against the rate table, rounded to
// four decimals. Pure.
func (t *Tracker) Calculate(modelName string, inputTokens, outputTokens int) float64 {
	rate := t.rates.Lookup(modelName)
	cost := float64(inputTokens)/1000*rate.InputPer1K + float64(outputTokens)/1000*rate.OutputPer1K
	return math.Round(cost*10000) / 10000
}

// Track prices the usage, folds it into the job's ledger, records a
// token_usage audit event, and runs the threshold checks. Returns the
// cost of this call alone.
func (t *Tracker) Track(ctx context.Context, jobID, modelName string, inputTokens, outputTokens int, taskID, agentName string) float64 {
	cost := t.Calculate(modelName, inputTokens, outputTokens)
	tokens := inputTokens + outputTokens

	t.jobLocks.Lock(jobID)
	entry := t.ledger(jobID)
	entry.totalCost += cost
	entry.totalTokens += tokens
	if taskID != "" {
		entry.tasks[taskID] = TaskSpend{
			CostUSD:   cost,
			Tokens:    tokens,
			Model:     modelName,
			AgentName: agentName,
		}
	}
	jobTotal := entry.totalCost
	t.jobLocks.Unlock(jobID)

	_ = t.audit.Record(events.TypeTokenUsage, map[string]any{
		"model":         modelName,
		"input_tokens":  inputTokens,
		"output_tokens": outputTokens,
		"total_tokens":  tokens,
		"cost_usd":      cost,
		"task_id":       taskID,
		"agent_name":    agentName,
	}, jobID)

	t.checkThresholds(ctx, jobID, jobTotal)

	return cost
}

// Breakdown snapshots a job's ledger. Unknown jobs get an empty
// breakdown rather than an error.
func (t *Tracker) Breakdown(jobID string) Breakdown {
	t.jobLocks.Lock(jobID)
	defer t.jobLocks.Unlock(jobID)

	t.mu.RLock()
	entry, ok := t.ledgers[jobID]
	t.mu.RUnlock()
	if !ok {
		return Breakdown{Tasks: map[string]TaskSpend{}}
	}

	tasks := make(map[string]TaskSpend, len(entry.tasks))
	for id, spend := range entry.tasks {
		tasks[id] = spend
	}
	return Breakdown{
		TotalCostUSD: entry.totalCost,
		TotalTokens:  entry.totalTokens,
		Tasks:        tasks,
	}
}

// Flush reads and deletes the job's ledger entry. A second Flush for
// the same job returns zero Totals; spend already flushed belongs in
// the job record, not the ledger.
func (t *Tracker) Flush(jobID string) Totals {
	t.jobLocks.Lock(jobID)
	defer t.jobLocks.Unlock(jobID)

	t.mu.Lock()
	entry, ok := t.ledgers[jobID]
	if ok {
		delete(t.ledgers, jobID)
	}
	t.mu.Unlock()

	if !ok {
		return Totals{}
	}
	return Totals{CostUSD: entry.totalCost, Tokens: entry.totalTokens}
}

// ledger returns (creating if needed) the entry for a job. Callers hold
// the job's keyed mutex.
func (t *Tracker) ledger(jobID string) *ledgerEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.ledgers[jobID]
	if !ok {
		entry = &ledgerEntry{tasks: make(map[string]TaskSpend)}
		t.ledgers[jobID] = entry
	}
	return entry
}

func (t *Tracker) checkThresholds(ctx context.Context, jobID string, jobTotal float64) {
	if t.thresholds.JobUSD > 0 && jobTotal > t.thresholds.JobUSD {
		t.alert(jobID, "job_threshold_exceeded",
			fmt.Sprintf("job %s exceeded $%.2f threshold, current cost $%.2f", jobID, t.thresholds.JobUSD, jobTotal))
	}

	if t.history == nil {
		return
	}

	if t.thresholds.DailyUSD > 0 {
		day := t.now().Truncate(24 * time.Hour)
		if total, err := t.history.SumCost(ctx, day, day.AddDate(0, 0, 1)); err == nil && total > t.thresholds.DailyUSD {
			t.alert(jobID, "daily_threshold_exceeded",
				fmt.Sprintf("daily cost threshold exceeded: $%.2f", total))
		}
	}

	if t.thresholds.MonthlyUSD > 0 {
		now := t.now()
		month := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		if total, err := t.history.SumCost(ctx, month, month.AddDate(0, 1, 0)); err == nil && total > t.thresholds.MonthlyUSD {
			t.alert(jobID, "monthly_threshold_exceeded",
				fmt.Sprintf("monthly cost threshold exceeded: $%.2f", total))
		}
	}
}

// alert records a cost_alert audit event and fans it out on the bus.
// Alerts carry no dedup state: every Track call past a threshold
// re-alerts.
func (t *Tracker) alert(jobID, alertType, message string) {
	data := map[string]any{
		"alert_type": alertType,
		"message":    message,
		"timestamp":  t.now().Format(time.RFC3339),
	}
	_ = t.audit.Record(events.TypeCostAlert, data, jobID)
	if t.bus != nil {
		t.bus.Publish(events.EventCostAlert, data)
	}
}
