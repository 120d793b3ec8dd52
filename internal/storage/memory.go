package storage

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Dataset holds the facts of one producer for a MemorySource.
type Dataset struct {
	Account         ProducerAccount
	Loans           []LoanFact
	Repayments      []RepaymentFact
	Ratings         map[string]string
	Snapshots       []SnapshotRow
	MonthEnd        []MonthEndBalance
	Funding         *FundingParams
	Thresholds      FundingThresholds
	DPDHistoryByKey map[DPDKey]int
}

// MemorySource serves facts from memory. It backs the offline demo and tests.
type MemorySource struct {
	mu       sync.RWMutex
	datasets map[string]*Dataset
	failures map[string]error
	calls    atomic.Int64
}

var _ FactSource = (*MemorySource)(nil)

// NewMemorySource returns an empty MemorySource.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		datasets: map[string]*Dataset{},
		failures: map[string]error{},
	}
}

// Put stores or replaces the dataset of a producer.
func (m *MemorySource) Put(d Dataset) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := d
	m.datasets[d.Account.ID] = &copied
}

// FailOn makes the named method return err until cleared with a nil err.
func (m *MemorySource) FailOn(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, method)
		return
	}
	m.failures[method] = err
}

// Calls reports how many reads were served.
func (m *MemorySource) Calls() int64 {
	return m.calls.Load()
}

func (m *MemorySource) begin(ctx context.Context, method, producerID string) (*Dataset, error) {
	m.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failures[method]; err != nil {
		return nil, err
	}
	return m.datasets[producerID], nil
}

// ListProducers returns every stored account ordered by id.
func (m *MemorySource) ListProducers(ctx context.Context) ([]ProducerAccount, error) {
	if _, err := m.begin(ctx, "ListProducers", ""); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	accounts := make([]ProducerAccount, 0, len(m.datasets))
	for _, d := range m.datasets {
		accounts = append(accounts, d.Account)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	return accounts, nil
}

func (m *MemorySource) ListLoans(ctx context.Context, producerID string) ([]LoanFact, error) {
	d, err := m.begin(ctx, "ListLoans", producerID)
	if err != nil || d == nil {
		return nil, err
	}
	return append([]LoanFact(nil), d.Loans...), nil
}

func (m *MemorySource) ListRepayments(ctx context.Context, producerID string) ([]RepaymentFact, error) {
	d, err := m.begin(ctx, "ListRepayments", producerID)
	if err != nil || d == nil {
		return nil, err
	}
	return append([]RepaymentFact(nil), d.Repayments...), nil
}

func (m *MemorySource) ListCustomerRatings(ctx context.Context, producerID string) (map[string]string, error) {
	d, err := m.begin(ctx, "ListCustomerRatings", producerID)
	if err != nil || d == nil {
		return nil, err
	}
	out := make(map[string]string, len(d.Ratings))
	for k, v := range d.Ratings {
		out[k] = v
	}
	return out, nil
}

// ListPartitions derives month partitions from every stored snapshot, newest first.
func (m *MemorySource) ListPartitions(ctx context.Context) ([]time.Time, error) {
	if _, err := m.begin(ctx, "ListPartitions", ""); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := map[time.Time]struct{}{}
	for _, d := range m.datasets {
		for _, r := range d.Snapshots {
			seen[monthStart(r.StatDate)] = struct{}{}
		}
	}
	months := make([]time.Time, 0, len(seen))
	for month := range seen {
		months = append(months, month)
	}
	sortMonthsDesc(months)
	return months, nil
}

func (m *MemorySource) ListSnapshot(ctx context.Context, producerID string, date time.Time) ([]SnapshotRow, error) {
	d, err := m.begin(ctx, "ListSnapshot", producerID)
	if err != nil || d == nil {
		return nil, err
	}
	var rows []SnapshotRow
	for _, r := range d.Snapshots {
		if sameDay(r.StatDate, date) {
			rows = append(rows, r)
		}
	}
	return rows, nil
}

func (m *MemorySource) ListSnapshotDates(ctx context.Context, producerID string, limit int) ([]time.Time, error) {
	d, err := m.begin(ctx, "ListSnapshotDates", producerID)
	if err != nil || d == nil || limit <= 0 {
		return nil, err
	}
	dates := snapshotDays(d.Snapshots)
	if len(dates) > limit {
		dates = dates[:limit]
	}
	return dates, nil
}

func (m *MemorySource) LatestSnapshotDate(ctx context.Context, producerID string, onOrBefore time.Time) (time.Time, bool, error) {
	d, err := m.begin(ctx, "LatestSnapshotDate", producerID)
	if err != nil || d == nil {
		return time.Time{}, false, err
	}
	cutoff := truncateDay(onOrBefore)
	for _, day := range snapshotDays(d.Snapshots) {
		if !day.After(cutoff) {
			return day, true, nil
		}
	}
	return time.Time{}, false, nil
}

func (m *MemorySource) ListMonthEndBalances(ctx context.Context, producerID string) ([]MonthEndBalance, error) {
	d, err := m.begin(ctx, "ListMonthEndBalances", producerID)
	if err != nil || d == nil {
		return nil, err
	}
	return append([]MonthEndBalance(nil), d.MonthEnd...), nil
}

// ListDPDHistory serves explicit history entries, falling back to the stored snapshots.
func (m *MemorySource) ListDPDHistory(ctx context.Context, producerID string, months []time.Time) (map[DPDKey]int, error) {
	d, err := m.begin(ctx, "ListDPDHistory", producerID)
	if err != nil || d == nil {
		return map[DPDKey]int{}, err
	}
	wanted := make(map[time.Time]struct{}, len(months))
	for _, month := range months {
		wanted[monthStart(month)] = struct{}{}
	}
	out := map[DPDKey]int{}
	for _, r := range d.Snapshots {
		if _, ok := wanted[monthStart(r.StatDate)]; ok {
			out[DPDKey{LoanID: r.LoanID, Date: r.StatDate.Format(time.DateOnly)}] = r.DPD
		}
	}
	for k, v := range d.DPDHistoryByKey {
		out[k] = v
	}
	return out, nil
}

func (m *MemorySource) LoadFundingParams(ctx context.Context, producerID string) (FundingParams, bool, error) {
	d, err := m.begin(ctx, "LoadFundingParams", producerID)
	if err != nil || d == nil || d.Funding == nil {
		return FundingParams{}, false, err
	}
	return *d.Funding, true, nil
}

func (m *MemorySource) LoadFundingThresholds(ctx context.Context, producerID string) (FundingThresholds, error) {
	d, err := m.begin(ctx, "LoadFundingThresholds", producerID)
	if err != nil || d == nil {
		return FundingThresholds{}, err
	}
	return d.Thresholds, nil
}

func snapshotDays(rows []SnapshotRow) []time.Time {
	seen := map[time.Time]struct{}{}
	for _, r := range rows {
		seen[truncateDay(r.StatDate)] = struct{}{}
	}
	days := make([]time.Time, 0, len(seen))
	for day := range seen {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].After(days[j]) })
	return days
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func sameDay(a, b time.Time) bool {
	return truncateDay(a).Equal(truncateDay(b))
}
