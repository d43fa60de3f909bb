package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/contact-match/internal/model"
	"github.com/sells-group/contact-match/internal/scanjob"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a cross-tenant matching scan",
	Long:  "Groups contacts shared by several organizations into matching candidates. In development mode companies and publications are only looked up, never created, and no conflicts are raised.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		dev, _ := cmd.Flags().GetBool("dev")

		env, err := initEnv(ctx, cfg, "scan")
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := env.Scans.Run(ctx, scanjob.Options{DevelopmentMode: dev})
		if job != nil {
			formatScanJob(os.Stdout, job)
		}
		if err != nil {
			return eris.Wrap(err, "scan")
		}
		return nil
	},
}

// -- scan status --

var scanStatusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Show the last scan job, or one job by id",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, cfg, "scan")
		if err != nil {
			return err
		}
		defer env.Close()

		var job *model.ScanJob
		if len(args) == 1 {
			job, err = env.Scans.Get(ctx, args[0])
		} else {
			job, err = env.Scans.Last(ctx)
		}
		if err != nil {
			return eris.Wrap(err, "scan status")
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(job)
		}
		formatScanJob(os.Stdout, job)
		return nil
	},
}

// -- scan cancel --

var scanCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Request cancellation of a running scan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, cfg, "scan")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Scans.Cancel(ctx, args[0]); err != nil {
			return eris.Wrap(err, "scan cancel")
		}
		zap.L().Info("cancellation requested; the scan stops before its next batch", zap.String("job_id", args[0]))
		return nil
	},
}

func init() {
	scanCmd.Flags().Bool("dev", false, "development mode: look up companies and publications without creating them")
	scanStatusCmd.Flags().Bool("json", false, "print the job as JSON")

	scanCmd.AddCommand(scanStatusCmd)
	scanCmd.AddCommand(scanCancelCmd)
	rootCmd.AddCommand(scanCmd)
}

// formatScanJob writes a job summary to w.
func formatScanJob(out io.Writer, job *model.ScanJob) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Job:\t%s\n", job.ID)
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", job.Status)
	if job.DevelopmentMode {
		_, _ = fmt.Fprintf(w, "Mode:\tdevelopment\n")
	}
	_, _ = fmt.Fprintf(w, "Started:\t%s\n", job.StartedAt.Format("2006-01-02 15:04:05"))
	if job.CompletedAt != nil {
		_, _ = fmt.Fprintf(w, "Duration:\t%s\n", job.CompletedAt.Sub(job.StartedAt).Round(time.Second))
	}
	if job.CancelRequested && job.Status == model.ScanRunning {
		_, _ = fmt.Fprintf(w, "Cancel:\trequested\n")
	}
	s := job.Stats
	_, _ = fmt.Fprintf(w, "Organizations:\t%d\n", s.OrganizationsScanned)
	_, _ = fmt.Fprintf(w, "Contacts:\t%d\n", s.ContactsScanned)
	_, _ = fmt.Fprintf(w, "Groups:\t%d\n", s.GroupsEvaluated)
	_, _ = fmt.Fprintf(w, "Candidates:\t%d created, %d updated\n", s.CandidatesCreated, s.CandidatesUpdated)
	_, _ = fmt.Fprintf(w, "Conflicts:\t%d\n", s.ConflictsRaised)
	if s.GroupErrors > 0 || s.InvalidVariants > 0 {
		_, _ = fmt.Fprintf(w, "Errors:\t%d groups, %d invalid variants\n", s.GroupErrors, s.InvalidVariants)
	}
	if job.Error != "" {
		_, _ = fmt.Fprintf(w, "Error:\t%s\n", job.Error)
	}
	_ = w.Flush()
}
