package supervisor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/3leaps/warden/pkg/agentstore"
)

const (
	cleanupMarkerName = "cleanup.marker"
	spoolFilePattern  = "*.{out,err}"
)

// CleanupResult summarizes one retention pass.
type CleanupResult struct {
	Throttled    bool  `json:"throttled"`
	JobsDeleted  int64 `json:"jobs_deleted"`
	FilesDeleted int   `json:"files_deleted"`
}

// Cleanup deletes terminal jobs older than maxAge (their delivery records
// cascade) and spool files older than maxAge that no longer belong to any
// supervisor. Non-terminal jobs are never deleted regardless of age.
//
// Repeated invocations — say, from a periodic health check — are throttled
// through the marker file's mtime, so only one pass runs per
// CleanupInterval.
func (s *Supervisor) Cleanup(ctx context.Context, maxAge time.Duration) (CleanupResult, error) {
	var res CleanupResult
	if maxAge <= 0 {
		return res, fmt.Errorf("max age must be positive, got %s", maxAge)
	}

	throttled, err := s.touchCleanupMarker()
	if err != nil {
		return res, err
	}
	if throttled {
		res.Throttled = true
		return res, nil
	}

	cutoff := s.now().Add(-maxAge)

	deleted, err := agentstore.DeleteTerminalBefore(ctx, s.db, cutoff)
	if err != nil {
		return res, err
	}
	res.JobsDeleted = deleted

	removed, err := s.cleanSpoolFiles(cutoff)
	if err != nil {
		return res, err
	}
	res.FilesDeleted = removed

	s.logger.Info("retention cleanup",
		zap.Int64("jobs_deleted", res.JobsDeleted),
		zap.Int("files_deleted", res.FilesDeleted),
		zap.Duration("max_age", maxAge))

	return res, nil
}

// ResetCleanupThrottle removes the marker so the next Cleanup call runs
// regardless of when the last pass happened.
func (s *Supervisor) ResetCleanupThrottle() {
	marker := filepath.Join(s.cfg.SpoolDir, cleanupMarkerName)
	if err := os.Remove(marker); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("remove cleanup marker", zap.String("path", marker), zap.Error(err))
	}
}

// touchCleanupMarker reports whether a pass ran recently, and stamps the
// marker when it is this caller's turn.
func (s *Supervisor) touchCleanupMarker() (throttled bool, err error) {
	marker := filepath.Join(s.cfg.SpoolDir, cleanupMarkerName)

	if info, err := os.Stat(marker); err == nil {
		if s.now().Sub(info.ModTime()) < s.cfg.CleanupInterval {
			return true, nil
		}
	}

	f, err := os.Create(marker)
	if err != nil {
		return false, fmt.Errorf("stamp cleanup marker: %w", err)
	}
	return false, f.Close()
}

// cleanSpoolFiles removes spool files older than cutoff. Files are matched
// by pattern, not by job row: a file this old either belongs to a job that
// was already deleted or to a supervisor that crashed before consuming it.
func (s *Supervisor) cleanSpoolFiles(cutoff time.Time) (int, error) {
	if !doublestar.ValidatePattern(spoolFilePattern) {
		return 0, fmt.Errorf("invalid spool file pattern %q", spoolFilePattern)
	}

	entries, err := os.ReadDir(s.cfg.SpoolDir)
	if err != nil {
		return 0, fmt.Errorf("read spool dir: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matched, err := doublestar.Match(spoolFilePattern, entry.Name())
		if err != nil || !matched {
			continue
		}

		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}

		path := filepath.Join(s.cfg.SpoolDir, entry.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("remove stale spool file", zap.String("path", path), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}
