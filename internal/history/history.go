// Package history keeps finished pipeline runs in SQLite.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BartekS5/elt/pkg/database"
	"github.com/BartekS5/elt/pkg/models"
	"github.com/BartekS5/elt/pkg/utils"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id       TEXT PRIMARY KEY,
	pipeline_id  TEXT NOT NULL,
	run_date     TEXT NOT NULL,
	window_start TEXT,
	window_end   TEXT,
	status       TEXT NOT NULL,
	failed_steps TEXT,
	error        TEXT,
	error_code   TEXT,
	steps        TEXT,
	advanced     INTEGER NOT NULL DEFAULT 0,
	started_at   TEXT NOT NULL,
	finished_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_pipeline_started ON runs (pipeline_id, started_at);
`

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store appends run results to a SQLite database.
type Store struct {
	db *sql.DB
}

// Open creates the database at path when needed.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	db, _, err := database.ConnectSQL(ctx, "sqlite:"+path)
	if err != nil {
		return nil, err
	}
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to create history schema: %w", err)
		}
	}
	if err := addColumn(ctx, db, "error_code", "TEXT"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// addColumn upgrades a runs table created before column existed.
func addColumn(ctx context.Context, db *sql.DB, column, typ string) error {
	var n int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pragma_table_info('runs') WHERE name = ?`, column).Scan(&n); err != nil {
		return fmt.Errorf("failed to inspect history schema: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := db.ExecContext(ctx, "ALTER TABLE runs ADD COLUMN "+column+" "+typ); err != nil {
		return fmt.Errorf("failed to add history column %s: %w", column, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores r, replacing an earlier record with the same run id. A
// missing run id is generated.
func (s *Store) Record(ctx context.Context, r *models.RunResult) error {
	if r.RunID == "" {
		r.RunID = uuid.NewString()
	}
	failed, err := json.Marshal(r.FailedSteps)
	if err != nil {
		return fmt.Errorf("failed to encode failed steps: %w", err)
	}
	steps, err := json.Marshal(r.Steps)
	if err != nil {
		return fmt.Errorf("failed to encode steps: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT OR REPLACE INTO runs
	(run_id, pipeline_id, run_date, window_start, window_end, status, failed_steps, error, error_code, steps, advanced, started_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.PipelineID, utils.FormatDate(r.RunDate),
		formatDate(r.WindowStart), formatDate(r.WindowEnd),
		string(r.Status), string(failed), r.Error, string(r.ErrorCode), string(steps), r.Advanced,
		r.StartedAt.UTC().Format(timeLayout), r.FinishedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", r.RunID, err)
	}
	return nil
}

// List returns up to limit runs of pipelineID, newest first. An empty
// pipelineID lists every pipeline.
func (s *Store) List(ctx context.Context, pipelineID string, limit int) ([]models.RunResult, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT run_id, pipeline_id, run_date, window_start, window_end, status, failed_steps, error, error_code, steps, advanced, started_at, finished_at FROM runs`
	args := []any{}
	if pipelineID != "" {
		query += ` WHERE pipeline_id = ?`
		args = append(args, pipelineID)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.RunResult
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRun(rows *sql.Rows) (models.RunResult, error) {
	var (
		r                                  models.RunResult
		runDate, started, finished, status string
		windowStart, windowEnd             sql.NullString
		failed, errMsg, errCode, steps     sql.NullString
	)
	if err := rows.Scan(&r.RunID, &r.PipelineID, &runDate, &windowStart, &windowEnd,
		&status, &failed, &errMsg, &errCode, &steps, &r.Advanced, &started, &finished); err != nil {
		return r, fmt.Errorf("failed to scan run: %w", err)
	}
	r.Status = models.RunStatus(status)
	r.Error = errMsg.String
	r.ErrorCode = models.ErrorCode(errCode.String)
	r.RunDate, _ = utils.ParseDate(runDate, time.UTC)
	r.WindowStart = parseDate(windowStart)
	r.WindowEnd = parseDate(windowEnd)
	r.StartedAt, _ = time.Parse(timeLayout, started)
	r.FinishedAt, _ = time.Parse(timeLayout, finished)

	if failed.Valid && failed.String != "" {
		if err := json.Unmarshal([]byte(failed.String), &r.FailedSteps); err != nil {
			return r, fmt.Errorf("failed to decode failed steps of run %s: %w", r.RunID, err)
		}
	}
	if steps.Valid && steps.String != "" {
		if err := json.Unmarshal([]byte(steps.String), &r.Steps); err != nil {
			return r, fmt.Errorf("failed to decode steps of run %s: %w", r.RunID, err)
		}
	}
	return r, nil
}

func formatDate(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return utils.FormatDate(t)
}

func parseDate(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	t, _ := utils.ParseDate(s.String, time.UTC)
	return t
}
