package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/contact-match/internal/export"
	"github.com/sells-group/contact-match/internal/model"
	"github.com/sells-group/contact-match/internal/store"
)

var candidatesCmd = &cobra.Command{
	Use:   "candidates",
	Short: "Inspect matching candidates",
}

// -- candidates list --

var candidatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List matching candidates",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, cfg, "scan")
		if err != nil {
			return err
		}
		defer env.Close()

		status, _ := cmd.Flags().GetString("status")
		entityType, _ := cmd.Flags().GetString("entity-type")
		limit, _ := cmd.Flags().GetInt("limit")

		cands, err := env.Store.ListCandidates(ctx, store.CandidateFilter{
			Status:     model.CandidateStatus(status),
			EntityType: model.EntityType(entityType),
			Limit:      limit,
		})
		if err != nil {
			return eris.Wrap(err, "candidates list")
		}
		if path, _ := cmd.Flags().GetString("xlsx"); path != "" {
			if err := export.Candidates(path, cands); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Exported %d candidates to %s\n", len(cands), path)
			return nil
		}
		if len(cands) == 0 {
			fmt.Fprintln(os.Stderr, "No candidates found.")
			return nil
		}
		formatCandidates(os.Stdout, cands)
		return nil
	},
}

func init() {
	candidatesListCmd.Flags().String("status", "open", "filter by status (open, approved, rejected); empty for all")
	candidatesListCmd.Flags().String("entity-type", "", "filter by entity type (contact)")
	candidatesListCmd.Flags().Int("limit", 50, "max number of candidates to display")
	candidatesListCmd.Flags().String("xlsx", "", "write candidates and their variants to an XLSX file instead of stdout")

	candidatesCmd.AddCommand(candidatesListCmd)
	rootCmd.AddCommand(candidatesCmd)
}

// formatCandidates writes a tabular list of candidates to w.
func formatCandidates(out io.Writer, cands []model.MatchingCandidate) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tSCORE\tSTATUS\tORGANIZATIONS\tUPDATED")
	_, _ = fmt.Fprintln(w, "--\t----\t-----\t------\t-------------\t-------")
	for i := range cands {
		c := &cands[i]
		name := c.DisplayName
		if name == "" {
			name = c.MatchKey
		}
		orgs := c.Organizations()
		sort.Strings(orgs)
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			c.ID,
			truncate(name, 30),
			c.Score,
			c.Status,
			strings.Join(orgs, ","),
			c.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}
