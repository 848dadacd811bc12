package cli

import (
	"github.com/spf13/cobra"

	"dexarb/internal/app"
)

var scanTopN int

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one full evaluation and print the best opportunities",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Scan(cmd.Context(), app.ScanOptions{TopN: scanTopN})
	},
}

func init() {
	scanCmd.Flags().IntVar(&scanTopN, "top", 0, "Number of opportunities to print (defaults to config)")
}
