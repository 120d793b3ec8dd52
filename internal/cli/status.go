package cli

import (
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [producer...]",
	Short: "Show which cache tier serves each producer and domain",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Status(cmd.Context(), args, asJSON)
	},
}
