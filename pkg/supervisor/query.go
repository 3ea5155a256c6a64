package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/3leaps/warden/pkg/agentstore"
)

// Poll returns every job for a parent in creation order. As a side effect it
// opportunistically runs orphan detection and timeout enforcement, so a
// caller that only polls still converges crashed or overdue jobs.
func (s *Supervisor) Poll(ctx context.Context, parentID string) ([]agentstore.Job, error) {
	if err := validParentID(parentID); err != nil {
		return nil, err
	}

	s.sweep(ctx, parentID)

	return agentstore.ListJobs(ctx, s.db, parentID)
}

// Wait polls until every job for the parent is terminal. There is no change
// notification in the store, so this is a bounded sleep/poll loop; the
// caller bounds it with the context deadline.
func (s *Supervisor) Wait(ctx context.Context, parentID string, interval time.Duration) error {
	if err := validParentID(parentID); err != nil {
		return err
	}
	if interval <= 0 {
		interval = time.Second
	}

	for {
		jobs, err := s.Poll(ctx, parentID)
		if err != nil {
			return err
		}

		settled := true
		for _, job := range jobs {
			if !job.Status.Terminal() {
				settled = false
				break
			}
		}
		if settled {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for parent %s: %w", parentID, ctx.Err())
		case <-time.After(interval):
		}
	}
}

// GetJob returns a single job by id.
func (s *Supervisor) GetJob(ctx context.Context, jobID string) (*agentstore.Job, error) {
	return agentstore.GetJob(ctx, s.db, jobID)
}

// GetResults returns only the terminal jobs for a parent. Like Poll, it runs
// the opportunistic sweep first so orphaned or overdue jobs settle into the
// result set instead of staying invisible to a results-only caller.
func (s *Supervisor) GetResults(ctx context.Context, parentID string) ([]agentstore.Job, error) {
	if err := validParentID(parentID); err != nil {
		return nil, err
	}

	s.sweep(ctx, parentID)

	return agentstore.ListTerminal(ctx, s.db, parentID)
}

// Recover returns completed jobs that have not been acknowledged by the
// reporting consumer, across all parents. Pairing Recover with MarkReported
// gives the consumer exactly-once delivery even when it crashes between the
// two calls.
func (s *Supervisor) Recover(ctx context.Context) ([]agentstore.Job, error) {
	return agentstore.UnreportedCompleted(ctx, s.db)
}

// MarkReported records delivery acknowledgments. Idempotent; an empty id
// list is a successful no-op.
func (s *Supervisor) MarkReported(ctx context.Context, jobIDs []string) error {
	return agentstore.MarkReported(ctx, s.db, jobIDs)
}
