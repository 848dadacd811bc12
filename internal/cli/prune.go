package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"dexarb/internal/app"
)

var (
	pruneBefore    string
	pruneOlderThan time.Duration
	pruneDryRun    bool
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete stored opportunities and alerts older than a cutoff",
	RunE: func(cmd *cobra.Command, args []string) error {
		var before time.Time
		switch {
		case pruneBefore != "" && pruneOlderThan > 0:
			return fmt.Errorf("use only one of --before and --older-than")
		case pruneBefore != "":
			t, err := time.Parse(time.RFC3339, pruneBefore)
			if err != nil {
				return fmt.Errorf("invalid --before value: %w", err)
			}
			before = t
		case pruneOlderThan > 0:
			before = time.Now().UTC().Add(-pruneOlderThan)
		default:
			return fmt.Errorf("--before or --older-than must be provided")
		}

		return getApp().Prune(cmd.Context(), app.PruneOptions{Before: before, DryRun: pruneDryRun})
	},
}

func init() {
	pruneCmd.Flags().StringVar(&pruneBefore, "before", "", "Cutoff timestamp (RFC3339, exclusive)")
	pruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 0, "Delete rows older than this age, e.g. 720h")
	pruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "Report what would be deleted without deleting")
}
