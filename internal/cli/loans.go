package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"producer-risk/internal/app"
)

var loansOpts app.LoansOptions
var loansAsOf string

var loansCmd = &cobra.Command{
	Use:   "loans",
	Short: "Drill down into a producer's loans",
	RunE: func(cmd *cobra.Command, args []string) error {
		if loansOpts.Page < 1 {
			return fmt.Errorf("--page must be at least 1")
		}
		asOf, err := parseDate("--as-of", loansAsOf)
		if err != nil {
			return err
		}
		opts := loansOpts
		opts.AsOf = asOf
		return getApp().Loans(cmd.Context(), opts, asJSON)
	},
}

func init() {
	loansCmd.Flags().StringVar(&loansOpts.ProducerID, "producer", "", "Producer id")
	loansCmd.Flags().StringVar(&loansAsOf, "as-of", "", "Snapshot date (YYYY-MM-DD); defaults to the latest")
	loansCmd.Flags().StringVar(&loansOpts.Bucket, "bucket", "", "DPD bucket (M0..M6+)")
	loansCmd.Flags().StringVar(&loansOpts.DisbursementMonth, "disbursement-month", "", "Disbursement month (YYYY-MM)")
	loansCmd.Flags().StringVar(&loansOpts.MaturityMonth, "maturity-month", "", "Maturity month (YYYY-MM)")
	loansCmd.Flags().IntVar(&loansOpts.Page, "page", 1, "Page number")
	loansCmd.Flags().IntVar(&loansOpts.PerPage, "per-page", 50, "Loans per page")
}
