package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete old terminal jobs and stale spool files",
	Long: `Delete terminal jobs older than --max-age together with their delivery
records, and remove stale spool files. Non-terminal jobs are never touched.

Repeated invocations are throttled; pass --force to bypass the throttle.`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)

	cleanupCmd.Flags().String("max-age", "", "Delete terminal jobs older than this duration (default from config)")
	cleanupCmd.Flags().Bool("force", false, "Bypass the cleanup throttle")
	cleanupCmd.Flags().Bool("json", false, "Output as JSON")
}

func runCleanup(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	jsonOutput, _ := cmd.Flags().GetBool("json")
	force, _ := cmd.Flags().GetBool("force")

	maxAge := loadedConfig.Limits.CleanupMaxAge
	if s, _ := cmd.Flags().GetString("max-age"); strings.TrimSpace(s) != "" {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid --max-age: %w", err)
		}
		maxAge = parsed
	}

	sup, _, closer, err := openSupervisor(ctx)
	if err != nil {
		return err
	}
	defer closer()

	if force {
		sup.ResetCleanupThrottle()
	}

	res, err := sup.Cleanup(ctx, maxAge)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	if res.Throttled {
		_, _ = fmt.Fprintln(os.Stdout, "throttled=true")
		return nil
	}
	_, _ = fmt.Fprintf(os.Stdout, "jobs_deleted=%d files_deleted=%d\n", res.JobsDeleted, res.FilesDeleted)
	return nil
}
