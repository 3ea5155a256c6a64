// Package supervisor spawns, watches, and reaps agent worker processes on
// behalf of parent conversation threads.
//
// All shared state lives in the agent job store, never in process memory, so
// the supervisor may be invoked concurrently from racing callers (or from
// several processes sharing one database) without additional coordination.
package supervisor

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/warden/pkg/proclaunch"
	"github.com/3leaps/warden/pkg/procprobe"
)

const (
	defaultMaxTimeout      = 3600 * time.Second
	defaultKillGrace       = 5 * time.Second
	defaultOutputByteCap   = 64 * 1024
	defaultSweepInterval   = 2 * time.Second
	defaultCleanupInterval = 15 * time.Minute
)

// Config controls one Supervisor instance.
type Config struct {
	// SpoolDir holds per-job <id>.out / <id>.err files plus the cleanup
	// throttle marker.
	SpoolDir string

	// WorkerCommand is the external reasoning tool executable.
	// WorkerArgs may reference {model} and {prompt}; when no {prompt}
	// placeholder is present the prompt is appended as the final argument.
	WorkerCommand string
	WorkerArgs    []string

	// AllowedModels is the spawn-time allow-list. Empty means any model.
	AllowedModels []string
	DefaultModel  string

	// MaxTimeout caps the per-job timeout. Requested timeouts are clamped
	// into [1s, MaxTimeout].
	MaxTimeout time.Duration

	// PerParentCap / GlobalCap bound concurrently non-terminal jobs.
	// Zero means unlimited.
	PerParentCap int
	GlobalCap    int

	// OutputByteCap truncates captured output/error streams.
	OutputByteCap int

	// KillGrace is the window between SIGTERM and SIGKILL on timeout.
	KillGrace time.Duration

	// SweepInterval rate-limits the opportunistic orphan/timeout sweep that
	// Poll triggers, so hot pollers do not rescan on every call.
	SweepInterval time.Duration

	// CleanupInterval throttles Cleanup via the marker file, so periodic
	// health checks can call it freely.
	CleanupInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxTimeout <= 0 {
		c.MaxTimeout = defaultMaxTimeout
	}
	if c.KillGrace <= 0 {
		c.KillGrace = defaultKillGrace
	}
	if c.OutputByteCap <= 0 {
		c.OutputByteCap = defaultOutputByteCap
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaultSweepInterval
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = defaultCleanupInterval
	}
}

// Supervisor owns the spawn/sweep/report lifecycle over one job store.
type Supervisor struct {
	db       *sql.DB
	cfg      Config
	probe    procprobe.Probe
	launcher proclaunch.Launcher
	logger   *zap.Logger
	now      func() time.Time

	sweepLimiter *rate.Limiter

	// reapers tracks per-job wait goroutines for orderly shutdown.
	reapers sync.WaitGroup
}

// Option customizes a Supervisor; used by tests to swap OS-backed
// capabilities for deterministic fakes.
type Option func(*Supervisor)

func WithProbe(p procprobe.Probe) Option {
	return func(s *Supervisor) { s.probe = p }
}

func WithLauncher(l proclaunch.Launcher) Option {
	return func(s *Supervisor) { s.launcher = l }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Supervisor) { s.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(s *Supervisor) { s.now = now }
}

// New builds a Supervisor over an opened, migrated job store.
func New(db *sql.DB, cfg Config, opts ...Option) (*Supervisor, error) {
	if db == nil {
		return nil, fmt.Errorf("job store is required")
	}
	if strings.TrimSpace(cfg.SpoolDir) == "" {
		return nil, fmt.Errorf("spool dir is required")
	}
	cfg.applyDefaults()

	if err := os.MkdirAll(cfg.SpoolDir, 0755); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}

	s := &Supervisor{
		db:           db,
		cfg:          cfg,
		probe:        procprobe.OS(),
		launcher:     proclaunch.OS(),
		logger:       zap.NewNop(),
		now:          func() time.Time { return time.Now().UTC() },
		sweepLimiter: rate.NewLimiter(rate.Every(cfg.SweepInterval), 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close waits for outstanding reaper goroutines. The job store connection is
// owned by the caller.
func (s *Supervisor) Close() {
	s.reapers.Wait()
}

func (s *Supervisor) outPath(jobID string) string {
	return filepath.Join(s.cfg.SpoolDir, jobID+".out")
}

func (s *Supervisor) errPath(jobID string) string {
	return filepath.Join(s.cfg.SpoolDir, jobID+".err")
}

// consumeSpool reads and deletes the per-job output files. Missing files
// read as empty; the caller gets whatever could be recovered.
func (s *Supervisor) consumeSpool(jobID string) (stdout, stderr string) {
	outB, err := os.ReadFile(s.outPath(jobID))
	if err != nil && !os.IsNotExist(err) {
		s.logger.Warn("read job stdout spool", zap.String("job_id", jobID), zap.Error(err))
	}
	errB, err := os.ReadFile(s.errPath(jobID))
	if err != nil && !os.IsNotExist(err) {
		s.logger.Warn("read job stderr spool", zap.String("job_id", jobID), zap.Error(err))
	}
	s.removeSpool(jobID)
	return string(outB), string(errB)
}

func (s *Supervisor) removeSpool(jobID string) {
	for _, path := range []string{s.outPath(jobID), s.errPath(jobID)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("remove job spool file", zap.String("path", path), zap.Error(err))
		}
	}
}

func validParentID(parentID string) error {
	if strings.TrimSpace(parentID) == "" {
		return fmt.Errorf("parent_id is required")
	}
	return nil
}
