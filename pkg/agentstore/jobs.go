package agentstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

// JobStatus is the lifecycle state of a supervised agent job.
//
// NOTE: These values are persisted in the jobs table and are part of the
// stable on-disk contract.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusTimeout   JobStatus = "timeout"
	JobStatusOrphaned  JobStatus = "orphaned"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusTimeout, JobStatusOrphaned:
		return true
	}
	return false
}

// Valid reports whether s is one of the persisted status values.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted,
		JobStatusFailed, JobStatusTimeout, JobStatusOrphaned:
		return true
	}
	return false
}

var (
	// ErrNotFound is returned when a job id has no row.
	ErrNotFound = errors.New("job not found")
	// ErrCapReached is the base admission rejection; the parent and global
	// variants wrap it so callers can match either level.
	ErrCapReached = errors.New("concurrency cap reached")
	// ErrParentCapReached rejects a spawn that would exceed the per-parent cap.
	ErrParentCapReached = fmt.Errorf("per-parent %w", ErrCapReached)
	// ErrGlobalCapReached rejects a spawn that would exceed the global cap.
	ErrGlobalCapReached = fmt.Errorf("global %w", ErrCapReached)
)

// Job is one row of the job table.
//
// Output, Error, and ExitCode are write-once: they are populated at the
// terminal transition and never touched again.
type Job struct {
	ID             string
	ParentID       string
	Prompt         string
	Model          string
	TimeoutSeconds int
	Status         JobStatus

	PID          int
	PIDStartTime int64

	Output   string
	Error    string
	ExitCode *int

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Limits are the admission caps enforced by CreateJob. Zero means unlimited.
type Limits struct {
	PerParent int
	Global    int
}

const jobColumns = `id, parent_id, prompt, model, timeout_seconds, status,
	pid, pid_start_time, output, error, exit_code,
	created_at, started_at, completed_at`

// CreateJob inserts a pending job after checking the admission caps.
//
// The non-terminal counts and the insert happen inside one transaction so two
// racing spawns for the same parent cannot both pass the check. Contention
// from writers in other processes is retried with jittered backoff rather
// than surfaced as a job failure.
func CreateJob(ctx context.Context, db *sql.DB, job Job, limits Limits) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(job.ID) == "" {
		return errors.New("job id is required")
	}
	if strings.TrimSpace(job.ParentID) == "" {
		return errors.New("parent_id is required")
	}
	if job.Prompt == "" {
		return errors.New("prompt is required")
	}

	return withBusyRetry(ctx, func() error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var parentActive, globalActive int
		err = tx.QueryRowContext(ctx,
			`SELECT
				COUNT(*) FILTER (WHERE parent_id = ?),
				COUNT(*)
			 FROM jobs
			 WHERE status IN ('pending','running')`,
			job.ParentID).Scan(&parentActive, &globalActive)
		if err != nil {
			return fmt.Errorf("count active jobs: %w", err)
		}

		if limits.PerParent > 0 && parentActive >= limits.PerParent {
			return fmt.Errorf("parent %s has %d active jobs: %w",
				job.ParentID, parentActive, ErrParentCapReached)
		}
		if limits.Global > 0 && globalActive >= limits.Global {
			return fmt.Errorf("%d active jobs across all parents: %w",
				globalActive, ErrGlobalCapReached)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO jobs
			 (id, parent_id, prompt, model, timeout_seconds, status, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			job.ID, job.ParentID, job.Prompt, job.Model, job.TimeoutSeconds,
			string(JobStatusPending), job.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("insert job: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit spawn tx: %w", err)
		}
		return nil
	})
}

// MarkRunning promotes a pending job to running, recording pid and its
// start-time fingerprint atomically with started_at.
//
// Returns false without error if the job was no longer pending (a concurrent
// sweep already ended it).
func MarkRunning(ctx context.Context, db *sql.DB, jobID string, pid int, pidStartTime int64, at time.Time) (bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var applied bool
	err := withBusyRetry(ctx, func() error {
		res, err := db.ExecContext(ctx,
			`UPDATE jobs
			 SET status = ?, pid = ?, pid_start_time = ?, started_at = ?
			 WHERE id = ? AND status = ?`,
			string(JobStatusRunning), pid, pidStartTime, at.UTC(),
			jobID, string(JobStatusPending))
		if err != nil {
			return fmt.Errorf("mark job running: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		applied = n > 0
		return nil
	})
	return applied, err
}

// Finalize moves a job to a terminal status, populating output, error, and
// exit code exactly once.
//
// The UPDATE is guarded on the current status being non-terminal, so a lost
// race against another finalizer is a 0-row no-op (returned as false), never
// an overwrite of a terminal row.
func Finalize(ctx context.Context, db *sql.DB, jobID string, status JobStatus, output, errText string, exitCode *int, at time.Time) (bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !status.Terminal() {
		return false, fmt.Errorf("finalize requires a terminal status, got %q", status)
	}

	var applied bool
	err := withBusyRetry(ctx, func() error {
		res, err := db.ExecContext(ctx,
			`UPDATE jobs
			 SET status = ?, output = ?, error = ?, exit_code = ?, completed_at = ?
			 WHERE id = ? AND status IN ('pending','running')`,
			string(status), output, errText, exitCode, at.UTC(), jobID)
		if err != nil {
			return fmt.Errorf("finalize job: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		applied = n > 0
		return nil
	})
	return applied, err
}

// GetJob retrieves one job by id.
func GetJob(ctx context.Context, db *sql.DB, jobID string) (*Job, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(jobID) == "" {
		return nil, errors.New("job id is required")
	}

	row := db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns all jobs for a parent in creation order.
func ListJobs(ctx context.Context, db *sql.DB, parentID string) ([]Job, error) {
	if strings.TrimSpace(parentID) == "" {
		return nil, errors.New("parent_id is required")
	}
	return listWhere(ctx, db,
		`WHERE parent_id = ? ORDER BY created_at, id`, parentID)
}

// ListRunning returns the running jobs for a parent, the working set for the
// orphan detector and the timeout enforcer.
func ListRunning(ctx context.Context, db *sql.DB, parentID string) ([]Job, error) {
	if strings.TrimSpace(parentID) == "" {
		return nil, errors.New("parent_id is required")
	}
	return listWhere(ctx, db,
		`WHERE parent_id = ? AND status = 'running' ORDER BY created_at, id`, parentID)
}

// ListTerminal returns the terminal jobs for a parent in creation order.
func ListTerminal(ctx context.Context, db *sql.DB, parentID string) ([]Job, error) {
	if strings.TrimSpace(parentID) == "" {
		return nil, errors.New("parent_id is required")
	}
	return listWhere(ctx, db,
		`WHERE parent_id = ? AND status IN ('completed','failed','timeout','orphaned')
		 ORDER BY created_at, id`, parentID)
}

// ListActiveParents returns the distinct parent ids that still have
// non-terminal jobs, for callers sweeping every parent.
func ListActiveParents(ctx context.Context, db *sql.DB) ([]string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := db.QueryContext(ctx,
		`SELECT DISTINCT parent_id FROM jobs WHERE status IN ('pending','running') ORDER BY parent_id`)
	if err != nil {
		return nil, fmt.Errorf("list active parents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var parents []string
	for rows.Next() {
		var parent string
		if err := rows.Scan(&parent); err != nil {
			return nil, fmt.Errorf("scan parent: %w", err)
		}
		parents = append(parents, parent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate parents: %w", err)
	}
	return parents, nil
}

// ResolveJobID expands a job id prefix to the full id. Exact matches win;
// a prefix matching more than one job is an error.
func ResolveJobID(ctx context.Context, db *sql.DB, input string) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return "", errors.New("job id is required")
	}

	if _, err := GetJob(ctx, db, input); err == nil {
		return input, nil
	}

	rows, err := db.QueryContext(ctx,
		`SELECT id FROM jobs WHERE id LIKE ? || '%' ORDER BY id LIMIT 2`, input)
	if err != nil {
		return "", fmt.Errorf("resolve job id: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", fmt.Errorf("scan job id: %w", err)
		}
		matches = append(matches, id)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterate job ids: %w", err)
	}

	switch len(matches) {
	case 0:
		return "", ErrNotFound
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("job id prefix %q is ambiguous; use the full id", input)
	}
}

// CountActive returns the number of non-terminal jobs for a parent.
func CountActive(ctx context.Context, db *sql.DB, parentID string) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE parent_id = ? AND status IN ('pending','running')`,
		parentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active jobs: %w", err)
	}
	return n, nil
}

func listWhere(ctx context.Context, db *sql.DB, clause string, args ...any) ([]Job, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job          Job
		status       string
		pid          sql.NullInt64
		pidStartTime sql.NullInt64
		output       sql.NullString
		errText      sql.NullString
		exitCode     sql.NullInt64
		startedAt    sql.NullTime
		completedAt  sql.NullTime
	)

	err := row.Scan(
		&job.ID, &job.ParentID, &job.Prompt, &job.Model, &job.TimeoutSeconds,
		&status, &pid, &pidStartTime, &output, &errText, &exitCode,
		&job.CreatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	job.Status = JobStatus(status)
	if pid.Valid {
		job.PID = int(pid.Int64)
	}
	if pidStartTime.Valid {
		job.PIDStartTime = pidStartTime.Int64
	}
	if output.Valid {
		job.Output = output.String
	}
	if errText.Valid {
		job.Error = errText.String
	}
	if exitCode.Valid {
		ec := int(exitCode.Int64)
		job.ExitCode = &ec
	}
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return &job, nil
}

const (
	busyRetryAttempts = 5
	busyRetryBase     = 25 * time.Millisecond
)

// withBusyRetry retries fn while SQLite reports lock contention from another
// writer. Contention is transient by design and must never fail open.
func withBusyRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		err = fn()
		if err == nil || !isBusy(err) {
			return err
		}

		delay := busyRetryBase << attempt
		delay += time.Duration(rand.Int64N(int64(busyRetryBase)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("store contention not resolved after %d attempts: %w", busyRetryAttempts, err)
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database table is locked")
}
