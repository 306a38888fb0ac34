package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/crewops/crewd/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id            TEXT PRIMARY KEY,
	crew_id       TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'pending',
	input_data    JSONB,
	output_data   JSONB,
	error_message TEXT NOT NULL DEFAULT '',
	cost_usd      NUMERIC(10,4) NOT NULL DEFAULT 0,
	tokens_used   INTEGER NOT NULL DEFAULT 0,
	started_at    TIMESTAMPTZ,
	completed_at  TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs (created_at);

CREATE TABLE IF NOT EXISTS audit_logs (
	id         TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	event_data JSONB,
	job_id     TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_audit_logs_job_id ON audit_logs (job_id);
`

// PostgresStore persists jobs and audit events. It implements JobStore,
// CostHistoryStore, and events.Sink (audit rows double as the durable
// audit trail the JSONL sink provides on disk).
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore connects using dsn, falling back to DATABASE_URL.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		return nil, fmt.Errorf("postgres store requires a DSN (set storage.database_url or DATABASE_URL)")
	}
	if !strings.Contains(dsn, "connect_timeout") {
		if strings.Contains(dsn, "?") {
			dsn += "&connect_timeout=10"
		} else {
			dsn += "?connect_timeout=10"
		}
	}

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, job *model.Job) error {
	inputJSON, err := json.Marshal(job.InputData)
	if err != nil {
		return fmt.Errorf("marshal input data: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, crew_id, status, input_data, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		job.ID, job.CrewID, job.Status, inputJSON, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

// jobRow maps the jobs table; JSONB columns unmarshal separately.
type jobRow struct {
	ID           string       `db:"id"`
	CrewID       string       `db:"crew_id"`
	Status       string       `db:"status"`
	InputData    []byte       `db:"input_data"`
	OutputData   []byte       `db:"output_data"`
	ErrorMessage string       `db:"error_message"`
	CostUSD      float64      `db:"cost_usd"`
	TokensUsed   int          `db:"tokens_used"`
	StartedAt    sql.NullTime `db:"started_at"`
	CompletedAt  sql.NullTime `db:"completed_at"`
	CreatedAt    time.Time    `db:"created_at"`
}

func (s *PostgresStore) Get(ctx context.Context, jobID string) (*model.Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM jobs WHERE id = $1`, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("select job %s: %w", jobID, err)
	}

	job := &model.Job{
		ID:           row.ID,
		CrewID:       row.CrewID,
		Status:       model.Status(row.Status),
		ErrorMessage: row.ErrorMessage,
		CostUSD:      row.CostUSD,
		TokensUsed:   row.TokensUsed,
		CreatedAt:    row.CreatedAt,
	}
	if len(row.InputData) > 0 {
		if err := json.Unmarshal(row.InputData, &job.InputData); err != nil {
			return nil, fmt.Errorf("unmarshal input data for %s: %w", jobID, err)
		}
	}
	if len(row.OutputData) > 0 {
		if err := json.Unmarshal(row.OutputData, &job.Output); err != nil {
			return nil, fmt.Errorf("unmarshal output data for %s: %w", jobID, err)
		}
	}
	if row.StartedAt.Valid {
		t := row.StartedAt.Time
		job.StartedAt = &t
	}
	if row.CompletedAt.Valid {
		t := row.CompletedAt.Time
		job.CompletedAt = &t
	}
	return job, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, jobID string, status model.Status, update JobUpdate) error {
	current, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if err := model.ValidateTransition(current.Status, status); err != nil {
		return err
	}

	set := []string{"status = $2"}
	args := []any{jobID, status}
	next := 3

	add := func(column string, value any) {
		set = append(set, fmt.Sprintf("%s = $%d", column, next))
		args = append(args, value)
		next++
	}

	if update.Output != nil {
		outputJSON, err := json.Marshal(update.Output)
		if err != nil {
			return fmt.Errorf("marshal output data: %w", err)
		}
		add("output_data", outputJSON)
	}
	if update.ErrorMessage != nil {
		add("error_message", *update.ErrorMessage)
	}
	if update.CostUSD != nil {
		add("cost_usd", *update.CostUSD)
	}
	if update.TokensUsed != nil {
		add("tokens_used", *update.TokensUsed)
	}
	if update.StartedAt != nil {
		add("started_at", *update.StartedAt)
	}
	if update.CompletedAt != nil {
		add("completed_at", *update.CompletedAt)
	}

	query := "UPDATE jobs SET " + strings.Join(set, ", ") + " WHERE id = $1"
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job %s: %w", jobID, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return nil
}

// SumCost totals cost_usd across jobs created in [since, until).
func (s *PostgresStore) SumCost(ctx context.Context, since, until time.Time) (float64, error) {
	var total sql.NullFloat64
	err := s.db.GetContext(ctx, &total, `
		SELECT SUM(cost_usd) FROM jobs
		WHERE created_at >= $1 AND created_at < $2`,
		since, until)
	if err != nil {
		return 0, fmt.Errorf("sum job costs: %w", err)
	}
	if !total.Valid {
		return 0, nil
	}
	return total.Float64, nil
}

// Record implements events.Sink against the audit_logs table.
func (s *PostgresStore) Record(eventType string, data map[string]any, jobID string) error {
	eventJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var jobRef any
	if jobID != "" {
		jobRef = jobID
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, event_type, event_data, job_id)
		VALUES ($1, $2, $3, $4)`,
		uuid.NewString(), eventType, eventJSON, jobRef)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
