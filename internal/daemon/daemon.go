// Package daemon runs crewd's spool loop: it watches spool/jobs for
// job request files, executes each through the orchestrator with a
// bounded worker pool, and writes terminal job records to
// spool/results.
package daemon

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/crewops/crewd/internal/cost"
	"github.com/crewops/crewd/internal/events"
	"github.com/crewops/crewd/internal/lock"
	"github.com/crewops/crewd/internal/model"
	"github.com/crewops/crewd/internal/orchestrator"
	"github.com/crewops/crewd/internal/safety"
	"github.com/crewops/crewd/internal/store"
)

type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func parseLogLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

func logAt(logger *log.Logger, configured, level LogLevel, format string, args ...any) {
	if level < configured {
		return
	}
	levelStr := "INFO"
	switch level {
	case LogLevelDebug:
		levelStr = "DEBUG"
	case LogLevelWarn:
		levelStr = "WARN"
	case LogLevelError:
		levelStr = "ERROR"
	}
	logger.Printf("%s %s crewd: %s", time.Now().Format(time.RFC3339), levelStr, fmt.Sprintf(format, args...))
}

// Daemon is the crewd spool-runner process.
type Daemon struct {
	crewdDir string
	config   model.Config
	logLevel LogLevel
	logger   *log.Logger
	logFile  io.Closer

	fileLock *lock.FileLock
	watcher  *fsnotify.Watcher
	ticker   *time.Ticker

	handler *SpoolHandler
	audit   *events.AuditLogger
	bus     *events.Bus

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutdown sync.Once

	forceExit atomic.Bool
}

// New builds the daemon and its whole execution stack from the config:
// storage driver, audit log, alert bus, safety enforcer, cost tracker,
// and orchestrator.
func New(crewdDir string, cfg model.Config) (*Daemon, error) {
	logPath := filepath.Join(crewdDir, "logs", "daemon.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open daemon log: %w", err)
	}

	return newDaemon(crewdDir, cfg, logFile, logFile)
}

// newDaemon is the internal constructor for testing.
func newDaemon(crewdDir string, cfg model.Config, w io.Writer, closer io.Closer) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	scanInterval := cfg.Daemon.ScanIntervalSec
	if scanInterval <= 0 {
		scanInterval = 5
	}

	d := &Daemon{
		crewdDir: crewdDir,
		config:   cfg,
		logLevel: parseLogLevel(cfg.Logging.Level),
		logger:   log.New(w, "", 0),
		logFile:  closer,
		fileLock: lock.NewFileLock(filepath.Join(crewdDir, "locks", "daemon.lock")),
		ticker:   time.NewTicker(time.Duration(scanInterval) * time.Second),
		bus:      events.NewBus(0),
		ctx:      ctx,
		cancel:   cancel,
	}

	if err := d.buildStack(); err != nil {
		cancel()
		if d.audit != nil {
			d.audit.Close()
		}
		return nil, err
	}
	return d, nil
}

// buildStack wires storage, audit, safety, cost, and the orchestrator
// into the spool handler.
func (d *Daemon) buildStack() error {
	cfg := d.config

	auditPath := cfg.Storage.AuditLog
	if auditPath == "" {
		auditPath = "audit.jsonl"
	}
	if !filepath.IsAbs(auditPath) {
		auditPath = filepath.Join(d.crewdDir, auditPath)
	}
	audit, err := events.NewAuditLogger(auditPath, int64(cfg.Storage.AuditMaxMB)*1024*1024)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	d.audit = audit

	var sink events.Sink = audit
	var jobs store.JobStore
	var history store.CostHistoryStore

	switch cfg.Storage.Driver {
	case "postgres":
		pg, err := store.NewPostgresStore(cfg.Storage.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		jobs = pg
		history = pg
		sink = events.MultiSink{audit, pg}
	default:
		mem := store.NewMemoryStore()
		jobs = mem
		history = mem
	}

	patterns, err := d.loadPatterns()
	if err != nil {
		return err
	}
	enforcer := safety.NewEnforcer(patterns, sink, d.bus, cfg.Safety.AlertThreshold)

	rates, err := d.loadRates()
	if err != nil {
		return err
	}
	tracker := cost.NewTracker(rates, cost.ThresholdsFromConfig(cfg.Cost), sink, d.bus, history)

	executor := &orchestrator.SimulatedExecutor{
		Delay: time.Duration(cfg.Executor.SimulatedDelayMs) * time.Millisecond,
	}

	orch := orchestrator.New(orchestrator.Options{
		Jobs:              jobs,
		Safety:            enforcer,
		Costs:             tracker,
		Executor:          executor,
		Audit:             sink,
		Bus:               d.bus,
		Logger:            d.logger,
		ParallelTaskLimit: cfg.Executor.ParallelTaskLimit,
	})

	d.handler = NewSpoolHandler(d.ctx, d.crewdDir, cfg, jobs, orch, d.logger, d.logLevel)
	return nil
}

func (d *Daemon) loadPatterns() (*safety.PatternSet, error) {
	var patterns *safety.PatternSet
	if file := d.config.Safety.PatternsFile; file != "" {
		if !filepath.IsAbs(file) {
			file = filepath.Join(d.crewdDir, file)
		}
		loaded, err := safety.LoadPatternsFile(file)
		if err != nil {
			return nil, fmt.Errorf("load safety patterns: %w", err)
		}
		patterns = loaded
	} else {
		patterns = safety.DefaultPatterns()
	}
	patterns.Disable(d.config.Safety.DisabledPII...)
	return patterns, nil
}

func (d *Daemon) loadRates() (*cost.RateTable, error) {
	if file := d.config.Cost.RatesFile; file != "" {
		if !filepath.IsAbs(file) {
			file = filepath.Join(d.crewdDir, file)
		}
		rates, err := cost.LoadRateTable(file)
		if err != nil {
			return nil, fmt.Errorf("load cost rates: %w", err)
		}
		return rates, nil
	}
	return cost.DefaultRateTable(), nil
}

// Run starts the daemon and blocks until shutdown completes.
func (d *Daemon) Run() error {
	// Step 1: Acquire file lock
	if err := os.MkdirAll(filepath.Join(d.crewdDir, "locks"), 0755); err != nil {
		return fmt.Errorf("create locks dir: %w", err)
	}
	if err := d.fileLock.TryLock(); err != nil {
		return fmt.Errorf("daemon lock: %w", err)
	}
	d.log(LogLevelInfo, "daemon starting pid=%d", os.Getpid())

	// Step 2: Init fsnotify watcher over the spool
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.cleanup()
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	d.watcher = watcher

	for _, dir := range []string{d.handler.JobsDir(), d.handler.ResultsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			d.cleanup()
			return fmt.Errorf("ensure dir %s: %w", dir, err)
		}
	}
	if err := watcher.Add(d.handler.JobsDir()); err != nil {
		d.cleanup()
		return fmt.Errorf("watch %s: %w", d.handler.JobsDir(), err)
	}

	// Step 3: Surface alerts for operators tailing the log
	d.subscribeAlerts()

	// Step 4: Start background loops
	d.wg.Add(2)
	go d.fsnotifyLoop()
	go d.tickerLoop()

	// Step 5: Pick up requests that predate startup
	d.handler.PeriodicScan()
	d.log(LogLevelInfo, "daemon ready, watching %s", d.handler.JobsDir())

	// Step 6: Wait for signals
	d.waitSignals()

	return nil
}

func (d *Daemon) subscribeAlerts() {
	d.bus.Subscribe(events.EventSafetyAlert, func(e events.Event) {
		d.log(LogLevelWarn, "safety alert: score=%v", e.Data["safety_score"])
	})
	d.bus.Subscribe(events.EventCostAlert, func(e events.Event) {
		d.log(LogLevelWarn, "cost alert: %v", e.Data["message"])
	})
}

// fsnotifyLoop processes filesystem change events.
func (d *Daemon) fsnotifyLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				d.log(LogLevelDebug, "fsnotify event=%s file=%s", event.Op, event.Name)
				d.handler.HandleFileEvent(event.Name)
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.log(LogLevelError, "fsnotify error=%v", err)
		}
	}
}

// tickerLoop triggers periodic scans at configured intervals.
func (d *Daemon) tickerLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-d.ticker.C:
			d.log(LogLevelDebug, "periodic scan triggered")
			d.handler.PeriodicScan()
		}
	}
}

// waitSignals blocks until a shutdown signal is received.
func (d *Daemon) waitSignals() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	d.log(LogLevelInfo, "received signal=%s, initiating graceful shutdown", sig)

	// Second signal → force exit
	go func() {
		<-sigCh
		d.log(LogLevelWarn, "received second signal, forcing exit")
		d.forceExit.Store(true)
		os.Exit(1)
	}()

	d.Shutdown()
}

// Shutdown performs graceful shutdown (idempotent via sync.Once).
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		d.log(LogLevelInfo, "shutdown started")

		// 1. Stop producers
		d.ticker.Stop()
		if d.watcher != nil {
			d.watcher.Close()
		}

		// 2. Cancel context (in-flight jobs observe it, loops exit)
		d.cancel()

		// 3. Drain loops and in-flight jobs with timeout
		timeout := d.config.Daemon.ShutdownTimeoutSec
		if timeout <= 0 {
			timeout = 30
		}

		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			d.handler.Wait()
			close(done)
		}()

		select {
		case <-done:
			d.log(LogLevelInfo, "all jobs drained")
		case <-time.After(time.Duration(timeout) * time.Second):
			d.log(LogLevelWarn, "shutdown timeout after %ds, some jobs may be incomplete", timeout)
		}

		// 4. Cleanup
		d.bus.Close()
		d.cleanup()
		d.log(LogLevelInfo, "daemon stopped")
	})
}

// cleanup releases resources.
func (d *Daemon) cleanup() {
	d.fileLock.Unlock()
	if d.audit != nil {
		d.audit.Close()
	}
	if d.logFile != nil {
		d.logFile.Close()
	}
}

func (d *Daemon) log(level LogLevel, format string, args ...any) {
	logAt(d.logger, d.logLevel, level, format, args...)
}
