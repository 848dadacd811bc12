package cli

import (
	"github.com/spf13/cobra"
)

var tokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "List the token universe and report invalid addresses",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Tokens()
	},
}
