package cli

import (
	"github.com/spf13/cobra"

	"producer-risk/internal/app"
)

var (
	exportProducer string
	exportPNGPath  string
	exportCSVPath  string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a producer's revenue series as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			ProducerID: exportProducer,
			PNGPath:    exportPNGPath,
			CSVPath:    exportCSVPath,
		}
		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportProducer, "producer", "", "Producer id")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
}
