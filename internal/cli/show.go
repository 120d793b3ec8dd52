package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"producer-risk/internal/app"
)

var (
	showProducer string
	showAsOf     string
	showCohort   string
	showMonths   int
	showRate     float64
)

var showCmd = &cobra.Command{
	Use:       "show <" + strings.Join(app.ShowKinds, "|") + ">",
	Short:     "Display a producer view served through the cache",
	Args:      cobra.ExactArgs(1),
	ValidArgs: app.ShowKinds,
	RunE: func(cmd *cobra.Command, args []string) error {
		if showMonths < 0 {
			return fmt.Errorf("--months must not be negative")
		}

		opts := app.ShowOptions{
			Kind:        args[0],
			ProducerID:  showProducer,
			Cohort:      showCohort,
			MonthsAhead: showMonths,
			Rate:        showRate,
			JSON:        asJSON,
		}
		asOf, err := parseDate("--as-of", showAsOf)
		if err != nil {
			return err
		}
		opts.AsOf = asOf

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showProducer, "producer", "", "Producer id")
	showCmd.Flags().StringVar(&showAsOf, "as-of", "", "Snapshot date (YYYY-MM-DD); defaults to the latest")
	showCmd.Flags().StringVar(&showCohort, "cohort", "", "Disbursement month for vintage (YYYY-MM)")
	showCmd.Flags().IntVar(&showMonths, "months", 0, "Cashflow horizon in months (defaults to config)")
	showCmd.Flags().Float64Var(&showRate, "rate", 0, "Cashflow collection rate in (0,1] (defaults to the derived rate)")
}

func parseDate(flag, v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value: %w", flag, err)
	}
	return &t, nil
}
