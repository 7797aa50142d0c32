package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const runColumns = `id, started_at, finished_at, override, status, batches, records,
	final_loss, final_accuracy, failure_kind, error_message`

// BeginRun inserts a running training run.
func (s *Store) BeginRun(ctx context.Context, id string, override bool) error {
	_, err := s.execWithRetry(ctx,
		`INSERT INTO training_runs (id, started_at, override, status) VALUES (?, ?, ?, ?)`,
		id, now(), override, RunRunning,
	)
	if err != nil {
		return fmt.Errorf("begin run %s: %w", id, err)
	}
	return nil
}

// FinishRun stores the final state of a run.
func (s *Store) FinishRun(ctx context.Context, id string, result RunResult) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE training_runs
		 SET finished_at = ?, status = ?, batches = ?, records = ?,
		     final_loss = ?, final_accuracy = ?, failure_kind = ?, error_message = ?
		 WHERE id = ?`,
		now(), result.Status, result.Batches, result.Records,
		nullFloat(result.FinalLoss), nullFloat(result.FinalAccuracy),
		nullString(result.FailureKind), nullString(result.ErrorMessage),
		id,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: not found", id)
	}
	return nil
}

// GetRun returns one run, or nil when the id is unknown.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+runColumns+` FROM training_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all runs.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM training_runs ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// AbandonStaleRuns marks runs still "running" as abandoned. Call it while
// holding the workspace lock, when no other process can be training.
func (s *Store) AbandonStaleRuns(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE training_runs SET status = ?, finished_at = ?, error_message = ?
		 WHERE status = ?`,
		RunAbandoned, now(), "process exited before the run finished", RunRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("abandon stale runs: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(scanner rowScanner) (*Run, error) {
	var (
		run         Run
		started     sql.NullString
		finished    sql.NullString
		loss        sql.NullFloat64
		accuracy    sql.NullFloat64
		failureKind sql.NullString
		message     sql.NullString
	)
	if err := scanner.Scan(
		&run.ID, &started, &finished, &run.Override, &run.Status, &run.Batches, &run.Records,
		&loss, &accuracy, &failureKind, &message,
	); err != nil {
		return nil, err
	}
	run.StartedAt = parseTime(started)
	run.FinishedAt = parseTime(finished)
	run.FinalLoss = floatPtr(loss)
	run.FinalAccuracy = floatPtr(accuracy)
	run.FailureKind = failureKind.String
	run.ErrorMessage = message.String
	return &run, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
