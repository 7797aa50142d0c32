package ledger

import (
	"context"
	"database/sql"
	"fmt"
)

// RecordClaim inserts a claimed batch for run and returns its id.
func (s *Store) RecordClaim(ctx context.Context, runID string, realCount, fakeCount int) (int64, error) {
	ts := now()
	res, err := s.execWithRetry(ctx,
		`INSERT INTO batches (run_id, status, real_count, fake_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		runID, BatchClaimed, realCount, fakeCount, ts, ts,
	)
	if err != nil {
		return 0, fmt.Errorf("record claim: %w", err)
	}
	return res.LastInsertId()
}

// MarkCommitted stores the diagnostic metrics of a batch whose files were archived.
func (s *Store) MarkCommitted(ctx context.Context, id int64, loss, accuracy float64) error {
	return s.transition(ctx, id, BatchCommitted, &loss, &accuracy)
}

// MarkReleased records that a batch's files went back to the pending pool.
func (s *Store) MarkReleased(ctx context.Context, id int64) error {
	return s.transition(ctx, id, BatchReleased, nil, nil)
}

func (s *Store) transition(ctx context.Context, id int64, status BatchStatus, loss, accuracy *float64) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE batches SET status = ?, loss = COALESCE(?, loss), accuracy = COALESCE(?, accuracy), updated_at = ?
		 WHERE id = ? AND status = ?`,
		status, nullFloat(loss), nullFloat(accuracy), now(), id, BatchClaimed,
	)
	if err != nil {
		return fmt.Errorf("mark batch %d %s: %w", id, status, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mark batch %d %s: batch is not claimed", id, status)
	}
	return nil
}

// ReleaseStaleClaims marks batches left claimed by earlier runs as released
// and returns how many were updated. The matching files are restored by
// dataset.Pool.RecoverClaims.
func (s *Store) ReleaseStaleClaims(ctx context.Context, currentRunID string) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE batches SET status = ?, updated_at = ? WHERE status = ? AND run_id != ?`,
		BatchReleased, now(), BatchClaimed, currentRunID,
	)
	if err != nil {
		return 0, fmt.Errorf("release stale claims: %w", err)
	}
	return res.RowsAffected()
}

// ListBatches returns the batches of a run in claim order.
func (s *Store) ListBatches(ctx context.Context, runID string) ([]Batch, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT id, run_id, status, real_count, fake_count, loss, accuracy, created_at, updated_at
		 FROM batches WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var batches []Batch
	for rows.Next() {
		var (
			b        Batch
			loss     sql.NullFloat64
			accuracy sql.NullFloat64
			created  sql.NullString
			updated  sql.NullString
		)
		if err := rows.Scan(&b.ID, &b.RunID, &b.Status, &b.RealCount, &b.FakeCount,
			&loss, &accuracy, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		b.Loss = floatPtr(loss)
		b.Accuracy = floatPtr(accuracy)
		b.CreatedAt = parseTime(created)
		b.UpdatedAt = parseTime(updated)
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// Totals sums committed records per label across all runs.
func (s *Store) Totals(ctx context.Context) (realCount, fakeCount int, err error) {
	err = s.db.QueryRowContext(ensureContext(ctx),
		`SELECT COALESCE(SUM(real_count), 0), COALESCE(SUM(fake_count), 0) FROM batches WHERE status = ?`,
		BatchCommitted,
	).Scan(&realCount, &fakeCount)
	if err != nil {
		return 0, 0, fmt.Errorf("ledger totals: %w", err)
	}
	return realCount, fakeCount, nil
}
