package stores

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/openfroyo/stardrive/pkg/engine"
)

// RecordRun stores a finished run and its failed tasks.
func (s *SQLiteStore) RecordRun(ctx context.Context, report *engine.RunReport) error {
	if report == nil {
		return fmt.Errorf("run report is nil")
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		query := `
			INSERT INTO runs (id, status, started_at, completed_at, executed, cached, failed, written)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err := tx.ExecContext(ctx, query,
			report.RunID,
			string(report.Status),
			report.StartedAt.UTC(),
			report.CompletedAt.UTC(),
			report.Executed,
			report.Cached,
			report.Failed,
			len(report.Written),
		)
		if err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}

		for _, f := range report.Failures() {
			msg := ""
			if f.Err != nil {
				msg = f.Err.Error()
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO run_failures (run_id, task, code, message) VALUES (?, ?, ?, ?)",
				report.RunID, f.Identity.String(), engine.ErrorCode(f.Err), msg,
			)
			if err != nil {
				return fmt.Errorf("failed to insert run failure: %w", err)
			}
		}
		return nil
	})
}

// ListRuns returns up to limit runs, newest first. A limit of zero or less
// returns every run.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	query := `
		SELECT id, status, started_at, completed_at, executed, cached, failed, written
		FROM runs
		ORDER BY started_at DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*RunRecord
	for rows.Next() {
		r := &RunRecord{}
		if err := rows.Scan(&r.ID, &r.Status, &r.StartedAt, &r.CompletedAt,
			&r.Executed, &r.Cached, &r.Failed, &r.Written); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

// ListRunFailures returns the failed tasks of a run.
func (s *SQLiteStore) ListRunFailures(ctx context.Context, runID string) ([]*RunFailure, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT run_id, task, code, message FROM run_failures WHERE run_id = ? ORDER BY id",
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list run failures: %w", err)
	}
	defer rows.Close()

	var failures []*RunFailure
	for rows.Next() {
		f := &RunFailure{}
		if err := rows.Scan(&f.RunID, &f.Task, &f.Code, &f.Message); err != nil {
			return nil, fmt.Errorf("failed to scan run failure: %w", err)
		}
		failures = append(failures, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate run failures: %w", err)
	}
	return failures, nil
}
