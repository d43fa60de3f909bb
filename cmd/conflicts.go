package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/contact-match/internal/conflict"
	"github.com/sells-group/contact-match/internal/export"
	"github.com/sells-group/contact-match/internal/model"
)

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Review conflicting field values",
	Long:  "Lists open conflict review items and records approve or reject decisions. Approving writes the suggested value to the entity.",
}

// -- conflicts list --

var conflictsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List open conflict reviews, highest priority first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, cfg, "scan")
		if err != nil {
			return err
		}
		defer env.Close()

		reviews, err := env.Conflicts.Open(ctx)
		if err != nil {
			return eris.Wrap(err, "conflicts list")
		}
		if path, _ := cmd.Flags().GetString("xlsx"); path != "" {
			if err := export.Conflicts(path, reviews, env.Conflicts); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Exported %d conflicts to %s\n", len(reviews), path)
			return nil
		}
		if len(reviews) == 0 {
			fmt.Fprintln(os.Stderr, "No open conflicts.")
			return nil
		}
		formatConflicts(os.Stdout, reviews, env.Conflicts)
		return nil
	},
}

// decisionFunc is a Resolver decision method expression.
type decisionFunc func(r *conflict.Resolver, ctx context.Context, id, userID, notes string) error

func decisionCmd(use, short string, decide decisionFunc) *cobra.Command {
	c := &cobra.Command{
		Use:   use + " <review-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			user, _ := cmd.Flags().GetString("user")
			notes, _ := cmd.Flags().GetString("notes")

			env, err := initEnv(ctx, cfg, "scan")
			if err != nil {
				return err
			}
			defer env.Close()

			if err := decide(env.Conflicts, ctx, args[0], user, notes); err != nil {
				return eris.Wrapf(err, "conflicts %s", use)
			}
			zap.L().Info("conflict decided", zap.String("review_id", args[0]), zap.String("decision", use), zap.String("user", user))
			return nil
		},
	}
	c.Flags().String("user", "", "id of the reviewing user (required)")
	c.Flags().String("notes", "", "review notes")
	_ = c.MarkFlagRequired("user")
	return c
}

var (
	conflictsApproveCmd = decisionCmd("approve", "Approve a review and apply the suggested value", (*conflict.Resolver).Approve)
	conflictsRejectCmd  = decisionCmd("reject", "Reject a review and keep the current value", (*conflict.Resolver).Reject)
)

func init() {
	conflictsListCmd.Flags().String("xlsx", "", "write the list to an XLSX file instead of stdout")

	conflictsCmd.AddCommand(conflictsListCmd)
	conflictsCmd.AddCommand(conflictsApproveCmd)
	conflictsCmd.AddCommand(conflictsRejectCmd)
	rootCmd.AddCommand(conflictsCmd)
}

// recommender derives the advisory recommendation for a review.
type recommender interface {
	Recommendation(review *model.ConflictReview) model.Recommendation
}

// formatConflicts writes a tabular list of reviews to w.
func formatConflicts(out io.Writer, reviews []model.ConflictReview, rec recommender) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tPRIORITY\tENTITY\tFIELD\tCURRENT\tSUGGESTED\tCONFIDENCE\tRECOMMENDATION")
	_, _ = fmt.Fprintln(w, "--\t--------\t------\t-----\t-------\t---------\t----------\t--------------")
	for i := range reviews {
		r := &reviews[i]
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s %s\t%s\t%s\t%s\t%.2f\t%s\n",
			r.ID,
			r.Priority,
			r.EntityType,
			truncate(r.EntityName, 30),
			r.Field,
			truncate(r.CurrentValue, 30),
			truncate(r.SuggestedValue, 30),
			r.Confidence,
			rec.Recommendation(r),
		)
	}
	_ = w.Flush()
}

// truncate shortens s to n runes for compact display.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
