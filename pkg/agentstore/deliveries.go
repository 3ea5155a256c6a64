package agentstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// UnreportedCompleted returns completed jobs with no delivery record, across
// all parents. This is the exactly-once handoff for a reporting consumer
// that may itself crash between reading results and acknowledging them.
func UnreportedCompleted(ctx context.Context, db *sql.DB) ([]Job, error) {
	return listWhere(ctx, db,
		`LEFT JOIN deliveries ON deliveries.job_id = jobs.id
		 WHERE jobs.status = 'completed' AND deliveries.job_id IS NULL
		 ORDER BY jobs.created_at, jobs.id`)
}

// MarkReported records delivery acknowledgments for the given job ids.
//
// The insert is idempotent: acknowledging an already-reported job is a no-op.
// An empty id list is a successful no-op; a blank id in a non-empty list is
// rejected before any row is written.
func MarkReported(ctx context.Context, db *sql.DB, jobIDs []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(jobIDs) == 0 {
		return nil
	}
	for _, id := range jobIDs {
		if strings.TrimSpace(id) == "" {
			return errors.New("job id list contains a blank id")
		}
	}

	return withBusyRetry(ctx, func() error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		for _, id := range jobIDs {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO deliveries (job_id) VALUES (?)`, id); err != nil {
				return fmt.Errorf("insert delivery record: %w", err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit delivery tx: %w", err)
		}
		return nil
	})
}
