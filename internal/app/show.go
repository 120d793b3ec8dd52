package app

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"producer-risk/internal/engine"
	"producer-risk/internal/service"
)

// ShowKinds lists the views accepted by Show.
var ShowKinds = []string{"risk", "revenue", "cashflow", "priority", "vintage", "totals"}

// Show prints one read view of a producer, served through the cache tiers.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	kind := strings.ToLower(strings.TrimSpace(opts.Kind))
	if kind != "totals" && strings.TrimSpace(opts.ProducerID) == "" {
		return fmt.Errorf("show %s requires --producer", kind)
	}

	svc, closer, err := a.newService(ctx)
	if err != nil {
		return err
	}
	defer closer()

	var (
		meta   service.Meta
		result any
		render func(io.Writer)
	)
	switch kind {
	case "risk":
		res := svc.GetRiskSnapshot(ctx, opts.ProducerID, opts.AsOf)
		meta, result = res.Meta, res
		render = func(w io.Writer) { renderRisk(w, res) }
	case "revenue":
		res := svc.GetRevenue(ctx, opts.ProducerID)
		meta, result = res.Meta, res
		render = func(w io.Writer) { renderRevenue(w, res) }
	case "cashflow":
		res := svc.GetCashflow(ctx, opts.ProducerID, opts.MonthsAhead, opts.Rate)
		meta, result = res.Meta, res
		render = func(w io.Writer) { renderCashflow(w, res) }
	case "priority":
		res := svc.GetPriorityIndicators(ctx, opts.ProducerID)
		meta, result = res.Meta, res
		render = func(w io.Writer) { renderPriority(w, res) }
	case "vintage":
		if opts.Cohort == "" {
			return fmt.Errorf("show vintage requires --cohort YYYY-MM")
		}
		if opts.AsOf == nil {
			res := svc.GetVintageCurve(ctx, opts.ProducerID, opts.Cohort)
			meta, result = res.Meta, res
			render = func(w io.Writer) { renderCurve(w, res) }
			break
		}
		res := svc.GetVintage(ctx, opts.ProducerID, *opts.AsOf, opts.Cohort)
		meta, result = res.Meta, res
		render = func(w io.Writer) { renderVintage(w, res) }
	case "totals":
		res := svc.PortfolioTotals(ctx)
		if opts.JSON {
			return a.printJSON(res)
		}
		renderTotals(a.Out, res)
		return nil
	default:
		return fmt.Errorf("unknown view %q (expected one of %s)", opts.Kind, strings.Join(ShowKinds, ", "))
	}

	if opts.JSON {
		return a.printJSON(result)
	}
	renderMeta(a.Out, meta)
	if meta.OK() {
		render(a.Out)
	}
	return nil
}

// Status prints the resolved cache tier of every producer and domain.
func (a *App) Status(ctx context.Context, producerIDs []string, asJSON bool) error {
	svc, closer, err := a.newService(ctx)
	if err != nil {
		return err
	}
	defer closer()

	status := svc.CacheStatus(ctx, producerIDs)
	if asJSON {
		return a.printJSON(status)
	}

	fmt.Fprintf(a.Out, "Status: %s\n", status.Status)
	if status.Error != "" {
		fmt.Fprintf(a.Out, "Error: %s\n", sanitizeInline(status.Error))
	}
	if at := status.LastAttempt; at != nil {
		state := "finished"
		if at.Running {
			state = "running"
		}
		fmt.Fprintf(a.Out, "Last refresh: %s (%s, started %s)\n", at.ID, state, at.StartedAt.UTC().Format(time.RFC3339))
		if at.Err != "" {
			fmt.Fprintf(a.Out, "Last refresh error: %s\n", sanitizeInline(at.Err))
		}
	}

	w := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "Producer\tDomain\tState\tUpdated (UTC)\tAge")
	for _, e := range status.Entries {
		updated := "-"
		if !e.LastUpdated.IsZero() {
			updated = e.LastUpdated.UTC().Format(time.RFC3339)
		}
		age := time.Duration(e.AgeSeconds * float64(time.Second)).Round(time.Second)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.ProducerID, e.Domain, e.State, updated, age)
	}
	return w.Flush()
}

// Loans prints one page of the loan drill-down in reporting currency.
func (a *App) Loans(ctx context.Context, opts LoansOptions, asJSON bool) error {
	if strings.TrimSpace(opts.ProducerID) == "" {
		return fmt.Errorf("loans requires --producer")
	}
	svc, closer, err := a.newService(ctx)
	if err != nil {
		return err
	}
	defer closer()

	filter := engine.LoanFilter{
		Bucket:            opts.Bucket,
		DisbursementMonth: opts.DisbursementMonth,
		MaturityMonth:     opts.MaturityMonth,
	}
	res := svc.ListLoans(ctx, opts.ProducerID, opts.AsOf, filter, opts.Page, opts.PerPage)
	if asJSON {
		return a.printJSON(res)
	}

	renderMeta(a.Out, res.Meta)
	if !res.OK() || res.Reporting == nil {
		return nil
	}
	page := res.Reporting
	fmt.Fprintf(a.Out, "Snapshot: %s  page %d, %d of %d loans\n", page.StatDate, page.Page, len(page.Loans), page.Total)

	w := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "Loan\tCustomer\tStatus\tDPD\tBucket\tOutstanding\tDisbursed\tDisbursement\tMaturity\tProduct\tRating")
	for _, l := range page.Loans {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			l.LoanID, l.CustomerID, l.Status, l.DPD, l.Bucket,
			formatDecimal(l.OutstandingPrincipal, 2), formatDecimal(l.DisbursementAmount, 2),
			l.DisbursementDate, dash(l.MaturityDate), l.ProductType, l.CreditRating)
	}
	return w.Flush()
}

// Directory prints the producer directory records.
func (a *App) Directory(ctx context.Context, asJSON bool) error {
	svc, closer, err := a.newService(ctx)
	if err != nil {
		return err
	}
	defer closer()

	res := svc.Directory(ctx)
	if asJSON {
		return a.printJSON(res)
	}

	fmt.Fprintf(a.Out, "Source: %s (%d records)\n", res.Source, len(res.Records))
	w := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "Name\tRegion\tFields")
	for _, r := range res.Records {
		fmt.Fprintf(w, "%s\t%s\t%d\n", sanitizeInline(r["name"]), sanitizeInline(r["region"]), len(r))
	}
	return w.Flush()
}

func renderMeta(w io.Writer, m service.Meta) {
	fmt.Fprintf(w, "Producer: %s  source=%s  status=%s\n", m.ProducerID, m.Source, m.Status)
	if m.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", sanitizeInline(m.Error))
	}
	if len(m.Degraded) > 0 {
		fmt.Fprintf(w, "Degraded: %s\n", strings.Join(m.Degraded, ", "))
	}
	if m.ReportingCurrency != "" {
		fmt.Fprintf(w, "Currency: %s -> %s at %s (%s)\n", m.Currency, m.ReportingCurrency,
			strconv.FormatFloat(m.ExchangeRate, 'f', -1, 64), m.RateSource)
	}
}

func renderRisk(w io.Writer, res service.RiskSnapshotResult) {
	row := res.Reporting
	if row == nil {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Stat date\t%s\n", row.StatDate)
	fmt.Fprintf(tw, "Cumulative disbursement\t%s\n", formatDecimal(row.CumulativeDisbursement, 2))
	fmt.Fprintf(tw, "Current balance\t%s\n", formatDecimal(row.CurrentBalance, 2))
	fmt.Fprintf(tw, "M0 balance\t%s (%.2f%%)\n", formatDecimal(row.M0Balance, 2), row.M0Ratio*100)
	fmt.Fprintf(tw, "Active loans / borrowers\t%d / %d\n", row.ActiveLoans, row.ActiveBorrowers)
	fmt.Fprintf(tw, "Avg daily rate\t%.4f%%\n", row.AvgDailyRate*100)
	fmt.Fprintf(tw, "Overdue 1+/3+/7+/15+/30+\t%s\n", formatRatios(row.Overdue.Values()))
	tw.Flush()

	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nBucket\tLoans\tBorrowers\tBalance\tShare")
	for _, b := range row.DPDDistribution {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%.2f%%\n", b.Bucket, b.LoanCount, b.BorrowerCount, formatDecimal(b.Balance, 2), b.BalanceRatio*100)
	}
	tw.Flush()
}

func renderRevenue(w io.Writer, res service.RevenueResult) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Month\tDisbursement\tOutstanding\tCollection\tExpected\tNet revenue\tYield\tCollection rate")
	for _, r := range res.Reporting {
		rate := fmt.Sprintf("%.2f%%", r.CollectionRate*100)
		if r.ProxyCollectionRate {
			rate += " (proxy)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%.2f%%\t%s\n",
			r.Month, formatDecimal(r.Disbursement, 2), formatDecimal(r.OutstandingBalance, 2),
			formatDecimal(r.Collection, 2), formatDecimal(r.ExpectedDue, 2), formatDecimal(r.NetRevenue, 2),
			r.AnnualizedYield*100, rate)
	}
	tw.Flush()
}

func renderCashflow(w io.Writer, res service.CashflowResult) {
	f := res.Reporting
	if f == nil {
		return
	}
	fmt.Fprintf(w, "As of %s, %d active loans, collection rate %.2f%%\n", f.AsOfDate, f.ActiveLoans, f.CollectionRate*100)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Month\tPrincipal\tInterest\tScheduled\tExpected\tLoans")
	for _, p := range f.Points {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n", p.Month, formatDecimal(p.Principal, 2), formatDecimal(p.Interest, 2),
			formatDecimal(p.ScheduledTotal, 2), formatDecimal(p.ExpectedInflow, 2), p.LoanCount)
	}
	fmt.Fprintf(tw, "Total\t\t\t%s\t%s\t\n", formatDecimal(f.TotalScheduled, 2), formatDecimal(f.TotalExpected, 2))
	tw.Flush()
}

func renderPriority(w io.Writer, res service.PriorityResult) {
	ind := res.Indicators
	if ind == nil {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if ind.PriorityPrincipal != nil {
		fmt.Fprintf(tw, "Priority principal\t%s\n", formatDecimal(*ind.PriorityPrincipal, 2))
	}
	leverage := "-"
	if ind.Leverage.Current != nil {
		leverage = strconv.FormatFloat(*ind.Leverage.Current, 'f', 2, 64)
	}
	fmt.Fprintf(tw, "Leverage\t%s (limit %.2f)\n", leverage, ind.Leverage.Limit)
	if ind.PriorityYield != nil {
		fmt.Fprintf(tw, "Priority yield\t%.2f%% (target %.2f%%)\n", ind.PriorityYield.Current*100, ind.PriorityYield.Target*100)
	}
	c := ind.Coverage
	fmt.Fprintf(tw, "Coverage\t%.4fx [%s] liquidation %.2f, margin call %.2f, baseline %.2f\n",
		c.Current, c.Level(), c.Liquidation, c.MarginCall, c.Baseline)
	fmt.Fprintf(tw, "Value / Loan\t%s / %s\n", formatDecimal(c.Breakdown.Value, 2), formatDecimal(c.Breakdown.Loan, 2))
	if d := ind.MarginDeposit; d != nil {
		fmt.Fprintf(tw, "Margin deposit\t%s / %s\n", formatDecimal(d.Current, 2), formatDecimal(d.Required, 2))
	}
	if d := ind.GuaranteeDeposit; d != nil {
		fmt.Fprintf(tw, "Guarantee deposit\t%s / %s\n", formatDecimal(d.Current, 2), formatDecimal(d.Required, 2))
	}
	tw.Flush()
}

func renderVintage(w io.Writer, res service.VintageResult) {
	row := res.Reporting
	if row == nil {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Cohort\t%s (MOB %d at %s)\n", row.DisbursementMonth, row.MOB, res.StatDate)
	fmt.Fprintf(tw, "Disbursed\t%s over %d loans, %d borrowers\n", formatDecimal(row.DisbursementAmount, 2), row.DisbursementCount, row.BorrowerCount)
	fmt.Fprintf(tw, "Current balance\t%s\n", formatDecimal(row.CurrentBalance, 2))
	fmt.Fprintf(tw, "DPD 1+/3+/7+/15+/30+\t%s\n", formatRatios([]float64{row.DPD1Rate, row.DPD3Rate, row.DPD7Rate, row.DPD15Rate, row.DPD30Rate}))
	tw.Flush()
}

func renderCurve(w io.Writer, res service.VintageCurveResult) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Cohort %s\n", res.Curve.DisbursementMonth)
	fmt.Fprintln(tw, "MOB\tRate\tObserved")
	for _, p := range res.Curve.Points {
		fmt.Fprintf(tw, "%d\t%.2f%%\t%s\n", p.MOB, p.Rate*100, p.StatDate)
	}
	tw.Flush()
}

func renderTotals(w io.Writer, t service.PortfolioTotals) {
	fmt.Fprintf(w, "Portfolio: %d producers, status=%s\n", t.ProducerCount, t.Status)
	if t.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", sanitizeInline(t.Error))
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Producer\tName\tStat date\tCumulative disbursement (%s)\tActive loans\tActive borrowers\tStatus\n", t.ReportingCurrency)
	for _, p := range t.Producers {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n", p.ProducerID, sanitizeInline(p.Name), dash(p.StatDate),
			formatDecimal(p.CumulativeDisbursement, 2), p.ActiveLoans, p.ActiveBorrowers, p.Status)
	}
	fmt.Fprintf(tw, "Total\t\t\t%s\t%d\t%d\t\n", formatDecimal(t.CumulativeDisbursement, 2), t.ActiveLoans, t.ActiveBorrowers)
	tw.Flush()
}

func formatRatios(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%.2f%%", v*100)
	}
	return strings.Join(parts, " / ")
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}

func dash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
