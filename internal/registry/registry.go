// Package registry persists runs and per-persona results in SQLite. It is
// the durable side of the run lifecycle; the in-memory side lives in the
// orchestrator.
package registry

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/simulant-labs/simulant/internal/agent"
	"github.com/simulant-labs/simulant/internal/app"
	"github.com/simulant-labs/simulant/internal/logging"
)

//go:embed schema.sql
var schemaFS embed.FS

var (
	ErrRunNotFound    = errors.New("run not found")
	ErrResultNotFound = errors.New("result not found")
)

// terminal run statuses; completed_at is stamped when one is written.
var terminalStatuses = map[string]bool{
	"completed": true,
	"cancelled": true,
	"failed":    true,
}

// Run is the durable record of one test request.
type Run struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	URL         string     `json:"url"`
	Status      string     `json:"status"`
	Personas    []string   `json:"personas"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Result is the durable record of one persona worker's outcome.
type Result struct {
	ID           string          `json:"id"`
	RunID        string          `json:"run_id"`
	Persona      string          `json:"persona"`
	Status       string          `json:"status"`
	Findings     []agent.Finding `json:"bugs_found"`
	QualityScore float64         `json:"quality_score"`
	Summary      string          `json:"summary"`
	ActionsTaken int             `json:"actions_taken"`
	Duration     float64         `json:"duration"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Registry stores runs and results. Safe for concurrent use; all mutation
// goes through database/sql.
type Registry struct {
	db     *sql.DB
	logger logging.Logger
	cron   *cron.Cron
}

// NewRegistry runs migrations from schema.sql and returns a Registry.
func NewRegistry(db *sql.DB, logger logging.Logger) (*Registry, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	if logger == nil {
		logger = logging.NewStdoutLogger("registry")
	}

	schemaSQL, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return nil, fmt.Errorf("read schema.sql: %w", err)
	}
	if _, err := db.Exec(string(schemaSQL)); err != nil {
		return nil, fmt.Errorf("execute schema: %w", err)
	}

	return &Registry{db: db, logger: logger}, nil
}

// CreateRun inserts a pending run and returns it.
func (r *Registry) CreateRun(ctx context.Context, userID, url string, personas []string) (*Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	personasJSON, err := json.Marshal(personas)
	if err != nil {
		return nil, fmt.Errorf("marshal personas: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO runs (id, user_id, url, status, personas, created_at)
         VALUES (?, ?, ?, 'pending', ?, ?)`,
		id, userID, url, string(personasJSON), now.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}

	return &Run{
		ID:        id,
		UserID:    userID,
		URL:       url,
		Status:    "pending",
		Personas:  personas,
		CreatedAt: now,
	}, nil
}

// UpdateRunStatus transitions a run's durable status and stamps completion
// time on terminal states.
func (r *Registry) UpdateRunStatus(ctx context.Context, runID string, status string) error {
	var res sql.Result
	var err error
	if terminalStatuses[status] {
		res, err = r.db.ExecContext(ctx,
			`UPDATE runs SET status = ?, completed_at = ? WHERE id = ?`,
			status, time.Now().UTC().Unix(), runID)
	} else {
		res, err = r.db.ExecContext(ctx,
			`UPDATE runs SET status = ? WHERE id = ?`, status, runID)
	}
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRunNotFound
	}
	return nil
}

// GetRun returns one run by id.
func (r *Registry) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, url, status, personas, created_at, completed_at
         FROM runs WHERE id = ? LIMIT 1`, runID)
	return scanRun(row)
}

// ListRuns returns a user's runs, newest first.
func (r *Registry) ListRuns(ctx context.Context, userID string, limit int) ([]Run, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, url, status, personas, created_at, completed_at
         FROM runs WHERE user_id = ?
         ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

// CountRuns returns how many runs a user has created, for quota checks.
func (r *Registry) CountRuns(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(id) FROM runs WHERE user_id = ?`, userID).Scan(&n)
	return n, err
}

// CreateWorkerRecord inserts a running result row for one persona and
// returns its id.
func (r *Registry) CreateWorkerRecord(ctx context.Context, runID, personaID string) (string, error) {
	id := uuid.New().String()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO run_results (id, run_id, persona, status, created_at)
         VALUES (?, ?, ?, 'running', ?)`,
		id, runID, personaID, time.Now().UTC().Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("insert result: %w", err)
	}
	return id, nil
}

// UpdateWorkerRecord writes a worker's final state onto its result row.
func (r *Registry) UpdateWorkerRecord(ctx context.Context, recordID string, rec app.WorkerRecordUpdate) error {
	findings := rec.Findings
	if findings == nil {
		findings = []agent.Finding{}
	}
	bugsJSON, err := json.Marshal(findings)
	if err != nil {
		return fmt.Errorf("marshal findings: %w", err)
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE run_results
         SET status = ?, bugs_found = ?, quality_score = ?, summary = ?, actions_taken = ?, duration = ?
         WHERE id = ?`,
		rec.Status, string(bugsJSON), rec.QualityScore, rec.Summary, rec.ActionsTaken, rec.Duration, recordID,
	)
	if err != nil {
		return fmt.Errorf("update result: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrResultNotFound
	}
	return nil
}

// ListResults returns all persona results for a run in insertion order.
func (r *Registry) ListResults(ctx context.Context, runID string) ([]Result, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, run_id, persona, status, bugs_found, quality_score, summary, actions_taken, duration, created_at
         FROM run_results WHERE run_id = ?
         ORDER BY created_at ASC, id ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var res Result
		var bugsJSON string
		var score, duration sql.NullFloat64
		var summary sql.NullString
		var createdAt int64
		if err := rows.Scan(&res.ID, &res.RunID, &res.Persona, &res.Status, &bugsJSON,
			&score, &summary, &res.ActionsTaken, &duration, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(bugsJSON), &res.Findings); err != nil {
			res.Findings = nil
		}
		res.QualityScore = score.Float64
		res.Summary = summary.String
		res.Duration = duration.Float64
		res.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, res)
	}
	return out, rows.Err()
}

// PruneFinished deletes terminal runs older than retention, cascading to
// their results. Returns the number of runs removed.
func (r *Registry) PruneFinished(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention).Unix()
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM runs
         WHERE status IN ('completed', 'cancelled', 'failed') AND created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// StartRetentionSweep schedules an hourly prune of finished runs older than
// retention. A retention of 0 disables the sweep.
func (r *Registry) StartRetentionSweep(retention time.Duration) error {
	if retention <= 0 {
		return nil
	}
	c := cron.New()
	_, err := c.AddFunc("@hourly", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		n, err := r.PruneFinished(ctx, retention)
		if err != nil {
			r.logger.Warn("retention sweep failed", logging.Field{Key: "error", Value: err.Error()})
			return
		}
		if n > 0 {
			r.logger.Info("pruned finished runs", logging.Field{Key: "count", Value: n})
		}
	})
	if err != nil {
		return fmt.Errorf("schedule retention sweep: %w", err)
	}
	c.Start()
	r.cron = c
	return nil
}

// Close stops background work. The *sql.DB is owned by the caller.
func (r *Registry) Close() {
	if r.cron != nil {
		r.cron.Stop()
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var personasJSON string
	var createdAt int64
	var completedAt sql.NullInt64
	if err := row.Scan(&run.ID, &run.UserID, &run.URL, &run.Status, &personasJSON, &createdAt, &completedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(personasJSON), &run.Personas); err != nil {
		run.Personas = nil
	}
	run.CreatedAt = time.Unix(createdAt, 0).UTC()
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0).UTC()
		run.CompletedAt = &t
	}
	return &run, nil
}
