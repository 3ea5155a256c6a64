package agentstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoverThenMarkReported_ExactlyOnce(t *testing.T) {
	ctx, db := openTestStore(t)

	completed := newJob("thread-1")
	require.NoError(t, CreateJob(ctx, db, completed, Limits{}))
	_, err := Finalize(ctx, db, completed.ID, JobStatusCompleted, "answer", "", intPtr(0), time.Now().UTC())
	require.NoError(t, err)

	failed := newJob("thread-1")
	require.NoError(t, CreateJob(ctx, db, failed, Limits{}))
	_, err = Finalize(ctx, db, failed.ID, JobStatusFailed, "", "exit status 1", intPtr(1), time.Now().UTC())
	require.NoError(t, err)

	// Failed jobs are not candidates for delivery; only completed ones.
	pending, err := UnreportedCompleted(ctx, db)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, completed.ID, pending[0].ID)

	// A consumer that crashes before acknowledging sees the same job again.
	again, err := UnreportedCompleted(ctx, db)
	require.NoError(t, err)
	require.Len(t, again, 1)

	require.NoError(t, MarkReported(ctx, db, []string{completed.ID}))

	after, err := UnreportedCompleted(ctx, db)
	require.NoError(t, err)
	assert.Empty(t, after)

	// Re-acknowledging is idempotent.
	require.NoError(t, MarkReported(ctx, db, []string{completed.ID}))
}

func TestMarkReported_EmptyListIsNoOp(t *testing.T) {
	ctx, db := openTestStore(t)
	require.NoError(t, MarkReported(ctx, db, nil))
	require.NoError(t, MarkReported(ctx, db, []string{}))
}

func TestMarkReported_RejectsBlankID(t *testing.T) {
	ctx, db := openTestStore(t)
	require.Error(t, MarkReported(ctx, db, []string{"  "}))
}

func TestCleanup_DeletesOldTerminalCascadingDeliveries(t *testing.T) {
	ctx, db := openTestStore(t)

	old := newJob("thread-1")
	require.NoError(t, CreateJob(ctx, db, old, Limits{}))
	longAgo := time.Now().UTC().Add(-48 * time.Hour)
	_, err := Finalize(ctx, db, old.ID, JobStatusCompleted, "stale", "", intPtr(0), longAgo)
	require.NoError(t, err)
	require.NoError(t, MarkReported(ctx, db, []string{old.ID}))

	fresh := newJob("thread-1")
	require.NoError(t, CreateJob(ctx, db, fresh, Limits{}))
	_, err = Finalize(ctx, db, fresh.ID, JobStatusCompleted, "recent", "", intPtr(0), time.Now().UTC())
	require.NoError(t, err)

	ancientRunning := newJob("thread-1")
	ancientRunning.CreatedAt = time.Now().UTC().Add(-240 * time.Hour)
	require.NoError(t, CreateJob(ctx, db, ancientRunning, Limits{}))
	_, err = MarkRunning(ctx, db, ancientRunning.ID, 77, 88, ancientRunning.CreatedAt)
	require.NoError(t, err)

	deleted, err := DeleteTerminalBefore(ctx, db, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = GetJob(ctx, db, old.ID)
	require.ErrorIs(t, err, ErrNotFound)

	// Delivery record went with the job.
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM deliveries WHERE job_id = ?`, old.ID).Scan(&n))
	assert.Zero(t, n)

	// Non-terminal jobs survive regardless of age.
	got, err := GetJob(ctx, db, ancientRunning.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusRunning, got.Status)

	_, err = GetJob(ctx, db, fresh.ID)
	require.NoError(t, err)
}

func TestCleanup_DeletesDeliveriesWithoutForeignKeyPragma(t *testing.T) {
	ctx, db := openTestStore(t)

	job := newJob("thread-1")
	require.NoError(t, CreateJob(ctx, db, job, Limits{}))
	_, err := Finalize(ctx, db, job.ID, JobStatusCompleted, "done", "", intPtr(0),
		time.Now().UTC().Add(-48*time.Hour))
	require.NoError(t, err)
	require.NoError(t, MarkReported(ctx, db, []string{job.ID}))

	// database/sql can recycle the connection that had foreign_keys enabled.
	// Delivery removal must not lean on the cascade.
	_, err = db.ExecContext(ctx, "PRAGMA foreign_keys=OFF")
	require.NoError(t, err)

	deleted, err := DeleteTerminalBefore(ctx, db, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM deliveries WHERE job_id = ?`, job.ID).Scan(&n))
	assert.Zero(t, n)
}
