package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/3leaps/warden/pkg/agentstore"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and wait on agent jobs",
	Long: `Inspect job records for a parent thread.

This command group is designed to be agent-friendly:

- stable job ids (short prefixes accepted)
- creation-order listings
- optional JSON output for machine parsing`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs for a parent",
	RunE:  runJobsList,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job_id>",
	Short: "Show one job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStatus,
}

var jobsResultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Show terminal jobs for a parent",
	RunE:  runJobsResults,
}

var jobsWaitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Block until every job for a parent is terminal",
	RunE:  runJobsWait,
}

var jobsLogsCmd = &cobra.Command{
	Use:   "logs <job_id>",
	Short: "Show spool output of a running job",
	Long: `Show the spooled stdout or stderr of a job that is still running.

Spool files are consumed when a job reaches a terminal state; for finished
jobs read the recorded output via 'warden jobs status' instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runJobsLogs,
}

var jobsParent string

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsStatusCmd)
	jobsCmd.AddCommand(jobsResultsCmd)
	jobsCmd.AddCommand(jobsWaitCmd)
	jobsCmd.AddCommand(jobsLogsCmd)

	jobsCmd.PersistentFlags().StringVar(&jobsParent, "parent", "", "Parent thread id")

	jobsListCmd.Flags().Bool("json", false, "Output as JSON")
	jobsStatusCmd.Flags().Bool("json", false, "Output as JSON")
	jobsResultsCmd.Flags().Bool("json", false, "Output as JSON")
	jobsWaitCmd.Flags().Duration("interval", time.Second, "Poll interval")
	jobsWaitCmd.Flags().Duration("timeout", 0, "Give up after this duration (0 = no limit)")
	jobsLogsCmd.Flags().String("stream", "stdout", "Log stream: stdout or stderr")
	jobsLogsCmd.Flags().Int("tail", 200, "Show last N lines (0 = full file)")
}

func requireParent() error {
	if strings.TrimSpace(jobsParent) == "" {
		return fmt.Errorf("--parent is required")
	}
	return nil
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	if err := requireParent(); err != nil {
		return err
	}
	ctx := cmd.Context()
	jsonOutput, _ := cmd.Flags().GetBool("json")

	sup, _, closer, err := openSupervisor(ctx)
	if err != nil {
		return err
	}
	defer closer()

	jobs, err := sup.Poll(ctx, jobsParent)
	if err != nil {
		return err
	}
	return printJobTable(jobs, jsonOutput)
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	jsonOutput, _ := cmd.Flags().GetBool("json")

	db, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	jobID, err := agentstore.ResolveJobID(ctx, db, args[0])
	if err != nil {
		return err
	}
	job, err := agentstore.GetJob(ctx, db, jobID)
	if err != nil {
		return err
	}
	return printJob(job, jsonOutput)
}

func runJobsResults(cmd *cobra.Command, _ []string) error {
	if err := requireParent(); err != nil {
		return err
	}
	ctx := cmd.Context()
	jsonOutput, _ := cmd.Flags().GetBool("json")

	sup, _, closer, err := openSupervisor(ctx)
	if err != nil {
		return err
	}
	defer closer()

	jobs, err := sup.GetResults(ctx, jobsParent)
	if err != nil {
		return err
	}
	return printJobTable(jobs, jsonOutput)
}

func runJobsWait(cmd *cobra.Command, _ []string) error {
	if err := requireParent(); err != nil {
		return err
	}
	ctx := cmd.Context()
	interval, _ := cmd.Flags().GetDuration("interval")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	sup, _, closer, err := openSupervisor(ctx)
	if err != nil {
		return err
	}
	defer closer()

	return sup.Wait(ctx, jobsParent, interval)
}

func runJobsLogs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	stream, _ := cmd.Flags().GetString("stream")
	tailN, _ := cmd.Flags().GetInt("tail")

	stream = strings.TrimSpace(strings.ToLower(stream))
	var ext string
	switch stream {
	case "", "stdout":
		ext = ".out"
	case "stderr":
		ext = ".err"
	default:
		return fmt.Errorf("invalid --stream %q (expected stdout or stderr)", stream)
	}

	db, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	jobID, err := agentstore.ResolveJobID(ctx, db, args[0])
	if err != nil {
		return err
	}
	job, err := agentstore.GetJob(ctx, db, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return fmt.Errorf("job is %s; spool consumed, use 'warden jobs status %s'",
			job.Status, shortJobID(jobID))
	}

	path := spoolPath(jobID, ext)
	return printLogTail(path, tailN)
}

func spoolPath(jobID, ext string) string {
	return strings.TrimSuffix(loadedConfig.Spool.Dir, "/") + "/" + jobID + ext
}

func printJob(job *agentstore.Job, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	}

	_, _ = fmt.Fprintf(os.Stdout, "job_id=%s\n", job.ID)
	_, _ = fmt.Fprintf(os.Stdout, "parent_id=%s\n", job.ParentID)
	_, _ = fmt.Fprintf(os.Stdout, "model=%s\n", job.Model)
	_, _ = fmt.Fprintf(os.Stdout, "status=%s\n", job.Status)
	_, _ = fmt.Fprintf(os.Stdout, "timeout_seconds=%d\n", job.TimeoutSeconds)
	if job.PID > 0 {
		_, _ = fmt.Fprintf(os.Stdout, "pid=%d\n", job.PID)
	}
	if job.ExitCode != nil {
		_, _ = fmt.Fprintf(os.Stdout, "exit_code=%d\n", *job.ExitCode)
	}
	_, _ = fmt.Fprintf(os.Stdout, "created_at=%s\n", job.CreatedAt.UTC().Format(time.RFC3339))
	if job.StartedAt != nil {
		_, _ = fmt.Fprintf(os.Stdout, "started_at=%s\n", job.StartedAt.UTC().Format(time.RFC3339))
	}
	if job.CompletedAt != nil {
		_, _ = fmt.Fprintf(os.Stdout, "completed_at=%s\n", job.CompletedAt.UTC().Format(time.RFC3339))
	}
	if job.Error != "" {
		_, _ = fmt.Fprintf(os.Stdout, "error=%s\n", job.Error)
	}
	if job.Output != "" {
		_, _ = fmt.Fprintf(os.Stdout, "---\n%s", job.Output)
		if !strings.HasSuffix(job.Output, "\n") {
			_, _ = fmt.Fprintln(os.Stdout)
		}
	}
	return nil
}

func printJobTable(jobs []agentstore.Job, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(jobs)
	}

	if len(jobs) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "No jobs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "JOB ID\tMODEL\tSTATUS\tCREATED\tSTARTED\tCOMPLETED\tEXIT")
	for _, j := range jobs {
		exit := "-"
		if j.ExitCode != nil {
			exit = fmt.Sprintf("%d", *j.ExitCode)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			shortJobID(j.ID),
			j.Model,
			j.Status,
			j.CreatedAt.UTC().Format(time.RFC3339),
			formatOptionalTime(j.StartedAt),
			formatOptionalTime(j.CompletedAt),
			exit,
		)
	}
	return nil
}
