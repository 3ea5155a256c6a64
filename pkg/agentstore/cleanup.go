package agentstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// FailStalePendingBefore marks pending jobs created before cutoff as failed.
//
// A pending row normally lives for milliseconds between admission and
// promotion; one that is hours old belongs to a supervisor that crashed
// before launching the worker, and it holds a concurrency-cap slot until it
// is ended. Returns the number of jobs failed.
func FailStalePendingBefore(ctx context.Context, db *sql.DB, parentID string, cutoff, now time.Time) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var failed int64
	err := withBusyRetry(ctx, func() error {
		res, err := db.ExecContext(ctx,
			`UPDATE jobs
			 SET status = 'failed', error = 'job stalled in pending status', completed_at = ?
			 WHERE parent_id = ? AND status = 'pending' AND created_at < ?`,
			now.UTC(), parentID, cutoff.UTC())
		if err != nil {
			return fmt.Errorf("fail stale pending jobs: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		failed = n
		return nil
	})
	return failed, err
}

// DeleteTerminalBefore deletes terminal jobs whose completed_at is older than
// cutoff, along with their delivery records. Non-terminal jobs are never
// deleted regardless of age. Returns the number of jobs removed.
//
// Delivery rows are deleted explicitly in the same transaction rather than
// left to ON DELETE CASCADE: the foreign_keys pragma is per-connection, and
// database/sql may hand the DELETE a fresh connection that never saw it.
func DeleteTerminalBefore(ctx context.Context, db *sql.DB, cutoff time.Time) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	const terminalBefore = `status IN ('completed','failed','timeout','orphaned')
		   AND completed_at IS NOT NULL
		   AND completed_at < ?`

	var deleted int64
	err := withBusyRetry(ctx, func() error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin cleanup tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(ctx,
			`DELETE FROM deliveries
			 WHERE job_id IN (SELECT id FROM jobs WHERE `+terminalBefore+`)`,
			cutoff.UTC())
		if err != nil {
			return fmt.Errorf("delete delivery records: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`DELETE FROM jobs WHERE `+terminalBefore, cutoff.UTC())
		if err != nil {
			return fmt.Errorf("delete terminal jobs: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit cleanup tx: %w", err)
		}
		deleted = n
		return nil
	})
	return deleted, err
}
