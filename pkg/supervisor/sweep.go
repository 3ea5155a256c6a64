package supervisor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/warden/pkg/agentstore"
	"github.com/3leaps/warden/pkg/sanitize"
)

// DetectOrphans finds running jobs whose process is confirmed not alive and
// ends them: with recovered spool output as completed, otherwise as orphaned.
//
// Aliveness is decided from pid and start-time fingerprint together and is
// fail-closed: a pid that exists with a mismatched fingerprint is a recycled
// pid, not our worker. Spool files may survive a supervisor crash even though
// the row was never finalized, so non-empty recovered output counts as a
// completed run.
//
// Safe to run redundantly: re-evaluating a terminal job is a no-op.
func (s *Supervisor) DetectOrphans(ctx context.Context, parentID string) error {
	if err := validParentID(parentID); err != nil {
		return err
	}

	running, err := agentstore.ListRunning(ctx, s.db, parentID)
	if err != nil {
		return fmt.Errorf("list running jobs: %w", err)
	}

	for _, job := range running {
		if s.probe.Alive(job.PID, job.PIDStartTime) {
			continue
		}

		stdout, stderr := s.consumeSpool(job.ID)
		output := sanitize.Truncate(sanitize.Clean(stdout), s.cfg.OutputByteCap)
		errText := sanitize.Truncate(sanitize.Clean(stderr), s.cfg.OutputByteCap)

		status := agentstore.JobStatusOrphaned
		if strings.TrimSpace(output) != "" {
			status = agentstore.JobStatusCompleted
		} else {
			errText = "worker process not alive and no recoverable output"
		}

		applied, err := agentstore.Finalize(ctx, s.db, job.ID, status, output, errText, nil, s.now())
		if err != nil {
			return fmt.Errorf("finalize orphan %s: %w", job.ID, err)
		}
		if applied {
			s.logger.Warn("orphan detected",
				zap.String("job_id", job.ID),
				zap.Int("pid", job.PID),
				zap.String("status", string(status)))
		}
	}
	return nil
}

// EnforceTimeouts kills the process tree of every overdue running job and
// marks it timed out. Pending rows stranded by a crashed supervisor are
// failed once they outlive the maximum timeout. Safe to run redundantly.
func (s *Supervisor) EnforceTimeouts(ctx context.Context, parentID string) error {
	if err := validParentID(parentID); err != nil {
		return err
	}

	now := s.now()

	stale, err := agentstore.FailStalePendingBefore(ctx, s.db, parentID, now.Add(-s.cfg.MaxTimeout), now)
	if err != nil {
		return fmt.Errorf("fail stale pending jobs: %w", err)
	}
	if stale > 0 {
		s.logger.Warn("failed stale pending jobs",
			zap.String("parent_id", parentID), zap.Int64("count", stale))
	}

	running, err := agentstore.ListRunning(ctx, s.db, parentID)
	if err != nil {
		return fmt.Errorf("list running jobs: %w", err)
	}
	for _, job := range running {
		if job.StartedAt == nil {
			continue
		}
		allowed := time.Duration(job.TimeoutSeconds) * time.Second
		if now.Sub(*job.StartedAt) <= allowed {
			continue
		}

		// Record the timeout before signaling: once the group dies the
		// reaper races to finalize, and the guarded update must already
		// hold the terminal state.
		errText := fmt.Sprintf("timed out after %d seconds", job.TimeoutSeconds)
		applied, err := agentstore.Finalize(ctx, s.db, job.ID,
			agentstore.JobStatusTimeout, "", errText, nil, s.now())
		if err != nil {
			return fmt.Errorf("finalize timeout %s: %w", job.ID, err)
		}

		// The worker may have forked; target the whole group.
		if err := s.launcher.TerminateGroup(ctx, job.PID, s.cfg.KillGrace); err != nil {
			s.logger.Warn("terminate timed-out process group",
				zap.String("job_id", job.ID), zap.Int("pid", job.PID), zap.Error(err))
		}

		if applied {
			s.removeSpool(job.ID)
			s.logger.Warn("job timed out",
				zap.String("job_id", job.ID),
				zap.Int("pid", job.PID),
				zap.Int("timeout_seconds", job.TimeoutSeconds))
		}
	}
	return nil
}

// sweep opportunistically runs orphan detection and timeout enforcement for
// a parent, rate-limited so hot pollers don't rescan on every call.
func (s *Supervisor) sweep(ctx context.Context, parentID string) {
	if !s.sweepLimiter.Allow() {
		return
	}
	if err := s.DetectOrphans(ctx, parentID); err != nil {
		s.logger.Error("orphan sweep", zap.String("parent_id", parentID), zap.Error(err))
	}
	if err := s.EnforceTimeouts(ctx, parentID); err != nil {
		s.logger.Error("timeout sweep", zap.String("parent_id", parentID), zap.Error(err))
	}
}
