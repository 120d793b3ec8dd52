package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"producer-risk/internal/engine"
)

// Export renders a producer's monthly revenue series as CSV and/or PNG,
// amounts in the reporting currency.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.ProducerID == "" {
		return errors.New("export requires --producer")
	}

	svc, closer, err := a.newService(ctx)
	if err != nil {
		return err
	}
	defer closer()

	res := svc.GetRevenue(ctx, opts.ProducerID)
	if !res.OK() {
		return fmt.Errorf("revenue for %s: %s %s", opts.ProducerID, res.Status, res.Error)
	}
	if len(res.Reporting) == 0 {
		a.Logger.Info().Str("producer_id", opts.ProducerID).Msg("no revenue months to export")
		return nil
	}
	a.Logger.Info().Str("producer_id", opts.ProducerID).Str("source", string(res.Source)).
		Int("months", len(res.Reporting)).Msg("exporting revenue series")

	if opts.CSVPath != "" {
		if err := writeRevenueCSV(opts.CSVPath, res.Reporting); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		title := fmt.Sprintf("%s revenue (%s)", opts.ProducerID, res.ReportingCurrency)
		if err := writeRevenuePNG(opts.PNGPath, title, res.Reporting); err != nil {
			return err
		}
	}

	return nil
}

func writeRevenueCSV(path string, rows []engine.RevenuePeriodRow) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"month", "disbursement", "cumulative_disbursement", "begin_balance", "outstanding_balance",
		"principal_collected", "interest_collected", "fee_collected", "collection", "expected_due",
		"net_revenue", "annualized_yield", "collection_rate", "proxy_collection_rate",
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, r := range rows {
		record := []string{
			r.Month,
			r.Disbursement.String(),
			r.CumulativeDisbursement.String(),
			r.BeginBalance.String(),
			r.OutstandingBalance.String(),
			r.PrincipalCollected.String(),
			r.InterestCollected.String(),
			r.FeeCollected.String(),
			r.Collection.String(),
			r.ExpectedDue.String(),
			r.NetRevenue.String(),
			strconv.FormatFloat(r.AnnualizedYield, 'f', -1, 64),
			strconv.FormatFloat(r.CollectionRate, 'f', -1, 64),
			strconv.FormatBool(r.ProxyCollectionRate),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeRevenuePNG(path, title string, rows []engine.RevenuePeriodRow) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	// go-chart needs two points to draw a line.
	if len(rows) < 2 {
		return errors.New("png export needs at least two revenue months")
	}

	x := make([]time.Time, 0, len(rows))
	collection := make([]float64, 0, len(rows))
	net := make([]float64, 0, len(rows))
	disbursed := make([]float64, 0, len(rows))
	rate := make([]float64, 0, len(rows))

	for _, r := range rows {
		month, err := engine.ParseMonth(r.Month)
		if err != nil {
			return err
		}
		x = append(x, month)
		collection = append(collection, r.Collection.InexactFloat64())
		net = append(net, r.NetRevenue.InexactFloat64())
		disbursed = append(disbursed, r.Disbursement.InexactFloat64())
		rate = append(rate, r.CollectionRate*100)
	}

	amountFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Title:  title,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatterWithFormat("2006-01"),
		},
		YAxis: chart.YAxis{
			Name:           "Amount",
			ValueFormatter: amountFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name: "Collection rate (%)",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.1f")
			},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Disbursement",
				XValues: x,
				YValues: disbursed,
			},
			chart.TimeSeries{
				Name:    "Collection",
				XValues: x,
				YValues: collection,
			},
			chart.TimeSeries{
				Name:    "Net revenue",
				XValues: x,
				YValues: net,
			},
			chart.TimeSeries{
				Name:    "Collection rate %",
				XValues: x,
				YValues: rate,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
