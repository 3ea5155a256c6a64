// Package cmd implements the warden command line interface.
package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/3leaps/warden/internal/config"
	"github.com/3leaps/warden/internal/observability"
	"github.com/3leaps/warden/pkg/agentstore"
	"github.com/3leaps/warden/pkg/supervisor"
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "HEAD",
	BuildDate: "unknown",
}

// SetVersionInfo records build identity injected via ldflags.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var (
	flagConfigFile string
	flagLogLevel   string
	flagLogProfile string

	loadedConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "Supervise agent worker processes",
	Long: `warden spawns agent worker processes on behalf of parent conversation
threads and tracks them in a persistent job table.

Jobs survive warden restarts: liveness is decided from the recorded pid and
its start-time fingerprint, crashed workers are detected and marked, and
completed output is delivered to the reporting consumer exactly once.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(flagConfigFile)
		if err != nil {
			return err
		}
		if flagLogLevel != "" {
			cfg.Logging.Level = flagLogLevel
		}
		if flagLogProfile != "" {
			cfg.Logging.Profile = flagLogProfile
		}
		if err := observability.Init(cfg.Logging.Level, cfg.Logging.Profile); err != nil {
			return err
		}
		loadedConfig = cfg
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigFile, "config", "", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&flagLogProfile, "log-profile", "", "Log profile (structured or console)")
}

// Execute runs the root command.
func Execute() error {
	defer observability.Sync()
	return rootCmd.Execute()
}

// openStore opens and migrates the job store from the loaded config.
func openStore(ctx context.Context) (*sql.DB, error) {
	cfg := loadedConfig
	db, err := agentstore.Open(ctx, agentstore.Config{
		Path:      cfg.Store.Path,
		URL:       cfg.Store.URL,
		AuthToken: cfg.Store.AuthToken,
	})
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	if err := agentstore.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate job store: %w", err)
	}
	return db, nil
}

// openSupervisor builds a supervisor over a freshly opened store. The caller
// must invoke the returned closer, which also closes the store handle.
func openSupervisor(ctx context.Context) (*supervisor.Supervisor, *sql.DB, func(), error) {
	db, err := openStore(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	sup, err := supervisor.New(db, supervisorConfig(loadedConfig),
		supervisor.WithLogger(observability.CLILogger))
	if err != nil {
		_ = db.Close()
		return nil, nil, nil, err
	}

	closer := func() {
		sup.Close()
		_ = db.Close()
	}
	return sup, db, closer, nil
}

func supervisorConfig(cfg *config.Config) supervisor.Config {
	return supervisor.Config{
		SpoolDir:        cfg.Spool.Dir,
		WorkerCommand:   cfg.Worker.Command,
		WorkerArgs:      cfg.Worker.Args,
		AllowedModels:   cfg.Models.Allowed,
		DefaultModel:    cfg.Models.Default,
		MaxTimeout:      cfg.Limits.MaxTimeout,
		PerParentCap:    cfg.Limits.PerParent,
		GlobalCap:       cfg.Limits.Global,
		OutputByteCap:   cfg.Limits.OutputByteCap,
		KillGrace:       cfg.Limits.KillGrace,
		SweepInterval:   cfg.Limits.SweepInterval,
		CleanupInterval: cfg.Limits.CleanupInterval,
	}
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func shortJobID(jobID string) string {
	if len(jobID) <= 12 {
		return jobID
	}
	return jobID[:12]
}
