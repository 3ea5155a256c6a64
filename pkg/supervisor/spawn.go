package supervisor

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/warden/pkg/agentstore"
	"github.com/3leaps/warden/pkg/proclaunch"
	"github.com/3leaps/warden/pkg/sanitize"
)

// Spawn admits, records, and launches one agent job, returning its id.
//
// Admission failures (caps, invalid model, empty parent/prompt) are rejected
// before any record exists. Failures after the pending row is inserted — an
// unstartable worker or an uncapturable start-time fingerprint — mark the job
// failed and return the error alongside the id; the job is never left in an
// unverifiable running state.
//
// Spawn returns as soon as the worker is running; a reaper goroutine
// finalizes the job when the worker exits.
func (s *Supervisor) Spawn(ctx context.Context, parentID, prompt, model string, timeoutSeconds int) (string, error) {
	if err := validParentID(parentID); err != nil {
		return "", err
	}
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("prompt is required")
	}

	if model == "" {
		model = s.cfg.DefaultModel
	}
	if len(s.cfg.AllowedModels) > 0 && !slices.Contains(s.cfg.AllowedModels, model) {
		return "", fmt.Errorf("model %q is not in the allow-list", model)
	}

	maxSeconds := int(s.cfg.MaxTimeout / time.Second)
	if timeoutSeconds < 1 {
		timeoutSeconds = 1
	}
	if timeoutSeconds > maxSeconds {
		timeoutSeconds = maxSeconds
	}

	jobID := uuid.New().String()
	job := agentstore.Job{
		ID:             jobID,
		ParentID:       parentID,
		Prompt:         prompt,
		Model:          model,
		TimeoutSeconds: timeoutSeconds,
		CreatedAt:      s.now(),
	}
	limits := agentstore.Limits{PerParent: s.cfg.PerParentCap, Global: s.cfg.GlobalCap}
	if err := agentstore.CreateJob(ctx, s.db, job, limits); err != nil {
		return "", err
	}

	pid, err := s.launch(jobID, prompt, model)
	if err != nil {
		s.failSpawn(ctx, jobID, err)
		return jobID, err
	}

	startTime, err := s.probe.StartTime(pid)
	if err != nil {
		// An unverifiable running row is worse than a dead job: without the
		// fingerprint, liveness checks could confuse a recycled pid with
		// this worker. Kill what we started and record the failure.
		_ = s.launcher.Kill(pid)
		err = fmt.Errorf("capture start-time fingerprint for pid %d: %w", pid, err)
		s.failSpawn(ctx, jobID, err)
		return jobID, err
	}

	applied, err := agentstore.MarkRunning(ctx, s.db, jobID, pid, startTime, s.now())
	if err != nil {
		_ = s.launcher.Kill(pid)
		s.failSpawn(ctx, jobID, fmt.Errorf("promote job to running: %w", err))
		return jobID, err
	}
	if !applied {
		s.logger.Warn("job no longer pending at promotion", zap.String("job_id", jobID))
	}

	s.logger.Info("spawned agent job",
		zap.String("job_id", jobID),
		zap.String("parent_id", parentID),
		zap.String("model", model),
		zap.Int("pid", pid),
		zap.Int("timeout_seconds", timeoutSeconds))

	return jobID, nil
}

// launch opens the spool files and starts the worker in its own session.
func (s *Supervisor) launch(jobID, prompt, model string) (int, error) {
	stdout, err := os.Create(s.outPath(jobID))
	if err != nil {
		return 0, fmt.Errorf("create stdout spool: %w", err)
	}
	stderr, err := os.Create(s.errPath(jobID))
	if err != nil {
		_ = stdout.Close()
		return 0, fmt.Errorf("create stderr spool: %w", err)
	}

	proc, err := s.launcher.Launch(proclaunch.Spec{
		Command: s.cfg.WorkerCommand,
		Args:    expandWorkerArgs(s.cfg.WorkerArgs, model, prompt),
		Env:     os.Environ(),
		Stdout:  stdout,
		Stderr:  stderr,
	})

	// The child holds its own descriptors after launch.
	_ = stdout.Close()
	_ = stderr.Close()

	if err != nil {
		return 0, fmt.Errorf("start worker: %w", err)
	}

	pid := proc.PID()
	s.reapers.Add(1)
	go s.reap(jobID, proc)

	return pid, nil
}

// reap waits for the worker and records its terminal transition.
func (s *Supervisor) reap(jobID string, proc proclaunch.Process) {
	defer s.reapers.Done()

	code, waitErr := proc.Wait()

	stdout, stderr := s.consumeSpool(jobID)
	output := sanitize.Truncate(sanitize.Clean(stdout), s.cfg.OutputByteCap)
	errText := sanitize.Truncate(sanitize.Clean(stderr), s.cfg.OutputByteCap)

	status := agentstore.JobStatusCompleted
	if code != 0 {
		status = agentstore.JobStatusFailed
	}
	if waitErr != nil && errText == "" {
		errText = waitErr.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	applied, err := agentstore.Finalize(ctx, s.db, jobID, status, output, errText, &code, s.now())
	if err != nil {
		s.logger.Error("finalize reaped job", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	if !applied {
		// Timeout enforcement or orphan detection got there first; the
		// terminal row they wrote stands.
		s.logger.Debug("reap lost terminal race", zap.String("job_id", jobID))
		return
	}

	s.logger.Info("reaped agent job",
		zap.String("job_id", jobID),
		zap.String("status", string(status)),
		zap.Int("exit_code", code))
}

// failSpawn records a post-insert spawn failure.
func (s *Supervisor) failSpawn(ctx context.Context, jobID string, cause error) {
	s.removeSpool(jobID)
	applied, err := agentstore.Finalize(ctx, s.db, jobID,
		agentstore.JobStatusFailed, "", cause.Error(), nil, s.now())
	if err != nil {
		s.logger.Error("record spawn failure", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	if applied {
		s.logger.Warn("spawn failed after admission", zap.String("job_id", jobID), zap.Error(cause))
	}
}

// expandWorkerArgs substitutes {model} and {prompt} placeholders. When no
// argument references {prompt}, the prompt is appended as the last argument.
func expandWorkerArgs(args []string, model, prompt string) []string {
	out := make([]string, 0, len(args)+1)
	promptPlaced := false
	for _, arg := range args {
		if strings.Contains(arg, "{prompt}") {
			promptPlaced = true
			arg = strings.ReplaceAll(arg, "{prompt}", prompt)
		}
		arg = strings.ReplaceAll(arg, "{model}", model)
		out = append(out, arg)
	}
	if !promptPlaced {
		out = append(out, prompt)
	}
	return out
}
