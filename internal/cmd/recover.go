package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/3leaps/warden/pkg/agentstore"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "List completed jobs not yet delivered",
	Long: `List completed jobs whose results have not been acknowledged.

Run after a consumer restart to pick up results produced while it was down.
Acknowledge delivered jobs with 'warden report' so they are not surfaced
again.`,
	RunE: runRecover,
}

var reportCmd = &cobra.Command{
	Use:   "report <job_id> [job_id...]",
	Short: "Acknowledge delivery of completed jobs",
	Long: `Record that the listed completed jobs have been delivered to their
consumer. Reported jobs no longer appear in 'warden recover'. Reporting a
job twice is a no-op.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(reportCmd)

	recoverCmd.Flags().Bool("json", false, "Output as JSON")
}

func runRecover(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	jsonOutput, _ := cmd.Flags().GetBool("json")

	sup, _, closer, err := openSupervisor(ctx)
	if err != nil {
		return err
	}
	defer closer()

	jobs, err := sup.Recover(ctx)
	if err != nil {
		return err
	}
	return printJobTable(jobs, jsonOutput)
}

func runReport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	db, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	jobIDs := make([]string, 0, len(args))
	for _, arg := range args {
		jobID, err := agentstore.ResolveJobID(ctx, db, arg)
		if err != nil {
			return err
		}
		jobIDs = append(jobIDs, jobID)
	}

	if err := agentstore.MarkReported(ctx, db, jobIDs); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(os.Stdout, "reported=%d\n", len(jobIDs))
	return nil
}
