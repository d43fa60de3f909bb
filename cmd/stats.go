package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/contact-match/internal/model"
	"github.com/sells-group/contact-match/internal/monitoring"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show scan and review health",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, cfg, "scan")
		if err != nil {
			return err
		}
		defer env.Close()

		hours, _ := cmd.Flags().GetInt("hours")
		if hours <= 0 {
			hours = cfg.Monitoring.LookbackHours
		}

		snap, err := monitoring.NewCollector(env.Store).Collect(ctx, hours)
		if err != nil {
			return eris.Wrap(err, "stats")
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		}
		formatSnapshot(os.Stdout, snap)

		if check, _ := cmd.Flags().GetBool("check"); check {
			alerts := newAlerter(cfg).Evaluate(snap)
			if len(alerts) == 0 {
				fmt.Fprintln(os.Stdout, "\nNo alerts.")
				return nil
			}
			fmt.Fprintln(os.Stdout, "\nAlerts:")
			for _, a := range alerts {
				fmt.Fprintf(os.Stdout, "  [%s] %s\n", a.Severity, a.Message)
			}
		}
		return nil
	},
}

func init() {
	statsCmd.Flags().Int("hours", 0, "lookback window in hours (default from config)")
	statsCmd.Flags().Bool("json", false, "output as JSON")
	statsCmd.Flags().Bool("check", false, "evaluate alert thresholds")
	rootCmd.AddCommand(statsCmd)
}

// formatSnapshot writes a health summary to w.
func formatSnapshot(out io.Writer, snap *monitoring.Snapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Window:\tlast %dh\n", snap.LookbackHours)
	_, _ = fmt.Fprintf(w, "Scans:\t%d total, %d completed, %d failed, %d cancelled, %d running\n",
		snap.ScansTotal, snap.ScansCompleted, snap.ScansFailed, snap.ScansCancelled, snap.ScansRunning)
	_, _ = fmt.Fprintf(w, "Failure rate:\t%.1f%%\n", snap.ScanFailRate*100)
	if last := snap.LastScan; last != nil {
		_, _ = fmt.Fprintf(w, "Last scan:\t%s (%s, started %s)\n",
			last.ID, last.Status, last.StartedAt.Format("2006-01-02 15:04"))
	} else {
		_, _ = fmt.Fprintln(w, "Last scan:\tnever")
	}
	_, _ = fmt.Fprintf(w, "Open candidates:\t%d\n", snap.CandidatesOpen)
	_, _ = fmt.Fprintf(w, "Open conflicts:\t%d\n", snap.ConflictsOpen)

	priorities := make([]string, 0, len(snap.ConflictsByPriority))
	for p := range snap.ConflictsByPriority {
		priorities = append(priorities, string(p))
	}
	sort.Strings(priorities)
	for _, p := range priorities {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", p, snap.ConflictsByPriority[model.Priority(p)])
	}
	_ = w.Flush()
}
