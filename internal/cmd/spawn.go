package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var spawnCmd = &cobra.Command{
	Use:   "spawn",
	Short: "Spawn an agent job",
	Long: `Spawn a worker process for a parent thread.

The job is admitted against the per-parent and global concurrency caps,
recorded as pending, and promoted to running once the worker starts. The
command returns immediately with the job id; use 'warden jobs wait' or
'warden jobs list' to follow progress.

Example:
  warden spawn --parent thread-42 --prompt "summarize the build log"
  warden spawn --parent thread-42 --prompt "triage flaky tests" --model haiku --timeout 600`,
	RunE: runSpawn,
}

var (
	spawnParent  string
	spawnPrompt  string
	spawnModel   string
	spawnTimeout int
	spawnWait    bool
)

func init() {
	rootCmd.AddCommand(spawnCmd)

	spawnCmd.Flags().StringVar(&spawnParent, "parent", "", "Parent thread id (required)")
	spawnCmd.Flags().StringVar(&spawnPrompt, "prompt", "", "Prompt for the worker (required)")
	spawnCmd.Flags().StringVar(&spawnModel, "model", "", "Model override (default from config)")
	spawnCmd.Flags().IntVar(&spawnTimeout, "timeout", 300, "Job timeout in seconds")
	spawnCmd.Flags().BoolVar(&spawnWait, "wait", false, "Block until the job reaches a terminal state")
	spawnCmd.Flags().Bool("json", false, "Output as JSON")

	_ = spawnCmd.MarkFlagRequired("parent")
	_ = spawnCmd.MarkFlagRequired("prompt")
}

func runSpawn(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	jsonOutput, _ := cmd.Flags().GetBool("json")

	sup, _, closer, err := openSupervisor(ctx)
	if err != nil {
		return err
	}
	defer closer()

	jobID, err := sup.Spawn(ctx, spawnParent, spawnPrompt, spawnModel, spawnTimeout)
	if err != nil {
		if jobID != "" {
			return fmt.Errorf("job %s failed to start: %w", jobID, err)
		}
		return err
	}

	if spawnWait {
		if err := sup.Wait(ctx, spawnParent, 0); err != nil {
			return err
		}
		job, err := sup.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		return printJob(job, jsonOutput)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]string{"job_id": jobID})
	}
	_, _ = fmt.Fprintf(os.Stdout, "job_id=%s\n", jobID)
	return nil
}
