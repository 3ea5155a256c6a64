package cmd

import (
	"context"
	"database/sql"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/3leaps/warden/internal/observability"
	"github.com/3leaps/warden/internal/server"
	"github.com/3leaps/warden/internal/server/handlers"
	"github.com/3leaps/warden/pkg/agentstore"
	"github.com/3leaps/warden/pkg/supervisor"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the warden HTTP server",
	Long: `Run the warden HTTP server with background maintenance.

Alongside the /v1 job API the server periodically sweeps every active parent
for orphaned and timed-out jobs and runs the retention cleanup, so jobs
converge even when no client is polling.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sup, db, closer, err := openSupervisor(ctx)
	if err != nil {
		return err
	}
	defer closer()

	cfg := loadedConfig
	srv := server.New(
		server.Config{
			Host:            cfg.Server.Host,
			Port:            cfg.Server.Port,
			ReadTimeout:     cfg.Server.ReadTimeout,
			WriteTimeout:    cfg.Server.WriteTimeout,
			IdleTimeout:     cfg.Server.IdleTimeout,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		},
		handlers.VersionInfo{
			Version:   versionInfo.Version,
			Commit:    versionInfo.Commit,
			BuildDate: versionInfo.BuildDate,
		},
		server.WithJobsAPI(handlers.NewJobsAPI(sup)),
		server.WithHealthChecker("store", storeChecker{db: db}),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Run(ctx)
	})

	g.Go(func() error {
		return runSweepLoop(ctx, sup, db, cfg.Limits.SweepInterval)
	})

	g.Go(func() error {
		return runCleanupLoop(ctx, sup, cfg.Limits.CleanupInterval, cfg.Limits.CleanupMaxAge)
	})

	return g.Wait()
}

type storeChecker struct {
	db *sql.DB
}

func (c storeChecker) CheckHealth(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// runSweepLoop converges orphaned and overdue jobs for every active parent
// on a fixed cadence, independent of client polling.
func runSweepLoop(ctx context.Context, sup *supervisor.Supervisor, db *sql.DB, interval time.Duration) error {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		parents, err := agentstore.ListActiveParents(ctx, db)
		if err != nil {
			observability.CLILogger.Error("list active parents", zap.Error(err))
			continue
		}
		for _, parent := range parents {
			if err := sup.DetectOrphans(ctx, parent); err != nil {
				observability.CLILogger.Error("orphan sweep",
					zap.String("parent_id", parent), zap.Error(err))
			}
			if err := sup.EnforceTimeouts(ctx, parent); err != nil {
				observability.CLILogger.Error("timeout sweep",
					zap.String("parent_id", parent), zap.Error(err))
			}
		}
	}
}

// runCleanupLoop triggers retention cleanup on the configured cadence; the
// supervisor's marker throttle keeps overlapping instances from doubling up.
func runCleanupLoop(ctx context.Context, sup *supervisor.Supervisor, interval, maxAge time.Duration) error {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		res, err := sup.Cleanup(ctx, maxAge)
		if err != nil {
			observability.CLILogger.Error("retention cleanup", zap.Error(err))
			continue
		}
		if !res.Throttled {
			observability.CLILogger.Info("retention cleanup pass",
				zap.Int64("jobs_deleted", res.JobsDeleted),
				zap.Int("files_deleted", res.FilesDeleted))
		}
	}
}
