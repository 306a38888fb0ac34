// Package model defines the data structures for crewd's configuration,
// jobs, crews, and task results.
package model

type Config struct {
	Project  ProjectConfig  `yaml:"project"`
	Cost     CostConfig     `yaml:"cost"`
	Safety   SafetyConfig   `yaml:"safety"`
	Executor ExecutorConfig `yaml:"executor"`
	Storage  StorageConfig  `yaml:"storage"`
	Daemon   DaemonConfig   `yaml:"daemon"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ProjectConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type CostConfig struct {
	RatesFile           string  `yaml:"rates_file"`
	DefaultModel        string  `yaml:"default_model"`
	JobThresholdUSD     float64 `yaml:"job_threshold_usd"`
	DailyThresholdUSD   float64 `yaml:"daily_threshold_usd"`
	MonthlyThresholdUSD float64 `yaml:"monthly_threshold_usd"`
}

type SafetyConfig struct {
	PatternsFile   string   `yaml:"patterns_file"`
	DisabledPII    []string `yaml:"disabled_pii,omitempty"`
	AlertThreshold float64  `yaml:"alert_threshold"`
}

type ExecutorConfig struct {
	Kind              string `yaml:"kind"` // "simulated" is the only built-in
	SimulatedDelayMs  int    `yaml:"simulated_delay_ms"`
	MaxConcurrentJobs int    `yaml:"max_concurrent_jobs"`
	ParallelTaskLimit int    `yaml:"parallel_task_limit"`
}

type StorageConfig struct {
	Driver      string `yaml:"driver"` // "memory" or "postgres"
	DatabaseURL string `yaml:"database_url"`
	AuditLog    string `yaml:"audit_log"`
	AuditMaxMB  int    `yaml:"audit_max_mb"`
}

type DaemonConfig struct {
	SpoolDir           string `yaml:"spool_dir"`
	ScanIntervalSec    int    `yaml:"scan_interval_sec"`
	ShutdownTimeoutSec int    `yaml:"shutdown_timeout_sec"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the configuration used when crewd.yaml is absent
// or leaves sections empty. Threshold defaults mirror the operators'
// alerting baseline: $10 per job, $100 per day, $1000 per month.
func DefaultConfig() Config {
	return Config{
		Cost: CostConfig{
			DefaultModel:        DefaultLLMModel,
			JobThresholdUSD:     10.0,
			DailyThresholdUSD:   100.0,
			MonthlyThresholdUSD: 1000.0,
		},
		Safety: SafetyConfig{
			AlertThreshold: 0.7,
		},
		Executor: ExecutorConfig{
			Kind:              "simulated",
			SimulatedDelayMs:  2000,
			MaxConcurrentJobs: 4,
			ParallelTaskLimit: 4,
		},
		Storage: StorageConfig{
			Driver:     "memory",
			AuditLog:   "crewd/audit.jsonl",
			AuditMaxMB: 100,
		},
		Daemon: DaemonConfig{
			SpoolDir:           "crewd/spool",
			ScanIntervalSec:    5,
			ShutdownTimeoutSec: 30,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
