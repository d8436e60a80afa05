package cron

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteExecutionStore is a durable ExecutionStore backed by
// modernc.org/sqlite, for operators who want cron run history to survive a
// restart. MemoryExecutionStore remains the default; this is opt-in.
type SQLiteExecutionStore struct {
	db *sql.DB
}

// NewSQLiteExecutionStore opens (creating if necessary) the execution
// history database at path and ensures its schema exists.
func NewSQLiteExecutionStore(path string) (*SQLiteExecutionStore, error) {
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(4)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS cron_executions (
			id TEXT PRIMARY KEY,
			job_name TEXT NOT NULL,
			ran_at TIMESTAMP NOT NULL,
			duration_ns INTEGER NOT NULL,
			error_message TEXT
		)
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_cron_executions_job_name ON cron_executions (job_name)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteExecutionStore{db: db}, nil
}

// Close releases database resources.
func (s *SQLiteExecutionStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create records one job run.
func (s *SQLiteExecutionStore) Create(ctx context.Context, exec *JobExecution) error {
	if exec == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cron_executions (id, job_name, ran_at, duration_ns, error_message)
		VALUES (?, ?, ?, ?, ?)
	`, exec.ID, exec.JobName, exec.RanAt, exec.Duration.Nanoseconds(), nullableString(exec.Error))
	if err != nil {
		return fmt.Errorf("create execution: %w", err)
	}
	return nil
}

// List returns executions, most recent first, optionally filtered by job name.
func (s *SQLiteExecutionStore) List(ctx context.Context, jobName string, limit, offset int) ([]*JobExecution, error) {
	query := `SELECT id, job_name, ran_at, duration_ns, error_message FROM cron_executions`
	args := []any{}
	if jobName != "" {
		query += ` WHERE job_name = ?`
		args = append(args, jobName)
	}
	query += ` ORDER BY ran_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	if offset > 0 {
		query += ` OFFSET ?`
		args = append(args, offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var results []*JobExecution
	for rows.Next() {
		var (
			exec       JobExecution
			durationNs int64
			errMsg     sql.NullString
		)
		if err := rows.Scan(&exec.ID, &exec.JobName, &exec.RanAt, &durationNs, &errMsg); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		exec.Duration = time.Duration(durationNs)
		if errMsg.Valid {
			exec.Error = errMsg.String
		}
		results = append(results, &exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	return results, nil
}

// Prune removes executions older than olderThan.
func (s *SQLiteExecutionStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cron_executions WHERE ran_at < ?`, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("prune executions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune executions: %w", err)
	}
	return n, nil
}

func nullableString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
