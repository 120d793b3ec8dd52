package cli

import (
	"github.com/spf13/cobra"

	"producer-risk/internal/app"
)

var (
	refreshProducer string
	refreshDomain   string
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Recompute the cache once",
	Long: "Without --producer, recompute every producer and rewrite the unified bundle.\n" +
		"With --producer, rewrite that producer's per-domain documents only.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Refresh(cmd.Context(), app.RefreshOptions{
			ProducerID: refreshProducer,
			Domain:     refreshDomain,
		})
	},
}

func init() {
	refreshCmd.Flags().StringVar(&refreshProducer, "producer", "", "Producer id to refresh")
	refreshCmd.Flags().StringVar(&refreshDomain, "domain", "", "Domain to refresh (risk, revenue or cashflow); requires --producer")
}
