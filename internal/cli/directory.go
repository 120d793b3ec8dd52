package cli

import (
	"github.com/spf13/cobra"
)

var directoryCmd = &cobra.Command{
	Use:   "directory",
	Short: "List producer directory records",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Directory(cmd.Context(), asJSON)
	},
}
