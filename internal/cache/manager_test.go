package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"producer-risk/internal/storage"
)

type fakeComputer struct {
	accounts []storage.ProducerAccount
	calls    atomic.Int64
	fail     map[string]error
	version  atomic.Int64

	// failDomain fails one domain of every producer in ComputeAll.
	failDomain map[Domain]error
}

func (f *fakeComputer) Producers(ctx context.Context) ([]storage.ProducerAccount, error) {
	f.calls.Add(1)
	return f.accounts, nil
}

func (f *fakeComputer) Account(ctx context.Context, producerID string) (storage.ProducerAccount, error) {
	f.calls.Add(1)
	for _, a := range f.accounts {
		if a.ID == producerID {
			return a, nil
		}
	}
	return storage.ProducerAccount{}, fmt.Errorf("unknown producer %s", producerID)
}

func (f *fakeComputer) ComputeDomain(ctx context.Context, account storage.ProducerAccount, domain Domain) (json.RawMessage, error) {
	f.calls.Add(1)
	if err := f.fail[account.ID]; err != nil {
		return nil, err
	}
	return json.RawMessage(fmt.Sprintf(`{"producer":%q,"domain":%q,"v":%d}`, account.ID, domain, f.version.Load())), nil
}

func (f *fakeComputer) ComputeAll(ctx context.Context, account storage.ProducerAccount) (ProducerEntry, error) {
	entry := ProducerEntry{Currency: account.Currency, ExchangeRate: account.ExchangeRate}
	for _, d := range Domains {
		if err := f.failDomain[d]; err != nil {
			entry.Fail(d, err)
			continue
		}
		payload, err := f.ComputeDomain(ctx, account, d)
		if err != nil {
			return ProducerEntry{}, err
		}
		entry.SetPayload(d, payload)
	}
	return entry, nil
}

func newFixture(t *testing.T) (*Manager, *fakeComputer, *FileStore) {
	t.Helper()
	computer := &fakeComputer{accounts: []storage.ProducerAccount{
		{ID: "demo", Currency: "IDR", ExchangeRate: 16000},
		{ID: "kn", Currency: "USD", ExchangeRate: 1},
	}}
	store := NewFileStore(t.TempDir())
	clock := func() time.Time { return time.Date(2024, 4, 15, 8, 0, 0, 0, time.UTC) }
	return NewManager(store, computer, zerolog.Nop(), WithWorkers(2), WithClock(clock)), computer, store
}

func TestResolveLiveThenDomain(t *testing.T) {
	m, computer, _ := newFixture(t)
	ctx := t.Context()

	live, err := m.Resolve(ctx, "demo", DomainRisk)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if live.State != StateLive || live.Currency != "IDR" || live.ExchangeRate != 16000 {
		t.Fatalf("first read should compute: %+v", live)
	}

	before := computer.calls.Load()
	cached, err := m.Resolve(ctx, "DEMO", DomainRisk)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cached.State != StateDomain || !bytes.Equal(cached.Payload, live.Payload) {
		t.Fatalf("second read should hit the domain document: %+v", cached)
	}
	if computer.calls.Load() != before {
		t.Fatal("domain cache hit must not compute")
	}
}

func TestResolveUnifiedNeverComputes(t *testing.T) {
	m, computer, store := newFixture(t)
	ctx := t.Context()

	risk := json.RawMessage(`[{"stat_date":"2024-04-15","current_balance":"1000"}]`)
	bundle := UnifiedBundle{
		LastUpdated: time.Date(2024, 4, 14, 0, 0, 0, 0, time.UTC),
		Producers: map[string]ProducerEntry{
			"demo": {RiskData: risk, RevenueData: json.RawMessage(`[]`), CashflowData: json.RawMessage(`null`), Currency: "IDR", ExchangeRate: 15000},
		},
	}
	data, err := json.Marshal(bundle)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Put(ctx, UnifiedKey(), data); err != nil {
		t.Fatal(err)
	}

	res, err := m.Resolve(ctx, "demo", DomainRisk)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.State != StateUnified || !bytes.Equal(res.Payload, risk) {
		t.Fatalf("payload %s, want %s", res.Payload, risk)
	}
	if !res.LastUpdated.Equal(bundle.LastUpdated) || res.ExchangeRate != 15000 {
		t.Fatalf("metadata: %+v", res)
	}

	missing, err := m.Resolve(ctx, "kn", DomainRevenue)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if missing.State != StateUnified || missing.Payload != nil {
		t.Fatalf("producer absent from the bundle reads empty: %+v", missing)
	}
	if n := computer.calls.Load(); n != 0 {
		t.Fatalf("computer called %d times under the unified bundle", n)
	}
}

func TestCorruptDocumentFallsBackToLive(t *testing.T) {
	m, computer, store := newFixture(t)
	ctx := t.Context()
	if err := store.Put(ctx, DomainKey("demo", DomainRevenue), []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	if err := store.Put(ctx, UnifiedKey(), []byte("garbage")); err != nil {
		t.Fatal(err)
	}

	res, err := m.Resolve(ctx, "demo", DomainRevenue)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.State != StateLive || computer.calls.Load() == 0 {
		t.Fatalf("corrupt documents should take the live path: %+v", res)
	}
	// the live result replaced the corrupt document
	if state, _ := m.Peek(ctx, "demo", DomainRevenue); state != StateDomain {
		t.Fatalf("peek = %s", state)
	}
}

func TestLiveFailureIsReturned(t *testing.T) {
	m, computer, _ := newFixture(t)
	computer.fail = map[string]error{"demo": errors.New("db down")}
	if _, err := m.Resolve(t.Context(), "demo", DomainCashflow); err == nil {
		t.Fatal("expected an error from the live path")
	}
}

func TestRefreshAllWritesEveryTier(t *testing.T) {
	m, computer, store := newFixture(t)
	ctx := t.Context()
	computer.fail = map[string]error{"kn": errors.New("timeout")}

	summary, err := m.RefreshAll(ctx)
	if err != nil {
		t.Fatalf("refresh all: %v", err)
	}
	if summary.ProducerCount != 2 || len(summary.Failed) != 1 || summary.Failed[0] != "kn" || summary.AttemptID == "" {
		t.Fatalf("summary: %+v", summary)
	}

	for _, id := range []string{"demo", "kn"} {
		if state, _ := m.Peek(ctx, id, DomainRisk); state != StateUnified {
			t.Fatalf("%s should be served from the bundle, got %s", id, state)
		}
	}
	data, err := store.Get(ctx, DomainKey("demo", DomainCashflow))
	if err != nil {
		t.Fatalf("per-domain document missing: %v", err)
	}
	doc, err := decodeDocument(data)
	if err != nil || doc.Currency != "IDR" {
		t.Fatalf("document %+v err %v", doc, err)
	}
	failed, err := m.Resolve(ctx, "kn", DomainRisk)
	if err != nil || failed.Failure != "timeout" || string(failed.Payload) != "null" {
		t.Fatalf("failed producer should carry its error: %+v err %v", failed, err)
	}
}

func TestRefreshAllRecordsDomainFailures(t *testing.T) {
	m, computer, store := newFixture(t)
	ctx := t.Context()
	computer.failDomain = map[Domain]error{DomainCashflow: errors.New("snapshot dates: upstream unavailable")}

	summary, err := m.RefreshAll(ctx)
	if err != nil {
		t.Fatalf("refresh all: %v", err)
	}
	if len(summary.Failed) != 0 || len(summary.Partial) != 2 || summary.Partial[0] != "demo" {
		t.Fatalf("summary: %+v", summary)
	}

	res, err := m.Resolve(ctx, "demo", DomainCashflow)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.State != StateUnified || res.Failure == "" || string(res.Payload) != "null" {
		t.Fatalf("cashflow should resolve as a recorded failure: %+v", res)
	}
	if ok, _ := m.Resolve(ctx, "demo", DomainRisk); ok.Failure != "" {
		t.Fatalf("risk did not fail: %+v", ok)
	}

	data, err := store.Get(ctx, DomainKey("demo", DomainCashflow))
	if err != nil {
		t.Fatalf("per-domain document missing: %v", err)
	}
	doc, err := decodeDocument(data)
	if err != nil || doc.Failure != res.Failure {
		t.Fatalf("document %+v err %v", doc, err)
	}
}

func TestRefreshDomainLeavesBundle(t *testing.T) {
	m, computer, _ := newFixture(t)
	ctx := t.Context()
	if _, err := m.RefreshAll(ctx); err != nil {
		t.Fatalf("refresh all: %v", err)
	}
	before, _ := m.Resolve(ctx, "demo", DomainRisk)

	computer.version.Add(1)
	fresh, err := m.RefreshDomain(ctx, "demo", DomainRisk)
	if err != nil {
		t.Fatalf("refresh domain: %v", err)
	}
	if bytes.Equal(fresh.Payload, before.Payload) {
		t.Fatal("refresh domain should recompute")
	}
	after, _ := m.Resolve(ctx, "demo", DomainRisk)
	if after.State != StateUnified || !bytes.Equal(after.Payload, before.Payload) {
		t.Fatal("single-domain refresh must not touch the unified bundle")
	}
}

func TestRefreshDomainIdempotent(t *testing.T) {
	m, _, _ := newFixture(t)
	first, err := m.RefreshDomain(t.Context(), "demo", DomainRevenue)
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.RefreshDomain(t.Context(), "demo", DomainRevenue)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first.Payload, second.Payload) {
		t.Fatalf("payloads differ: %s vs %s", first.Payload, second.Payload)
	}
}

func TestRefreshAllWithoutProducers(t *testing.T) {
	store := NewFileStore(t.TempDir())
	m := NewManager(store, &fakeComputer{}, zerolog.Nop())
	if _, err := m.RefreshAll(t.Context()); !errors.Is(err, ErrNoProducers) {
		t.Fatalf("expected ErrNoProducers, got %v", err)
	}
	if _, err := store.Get(t.Context(), UnifiedKey()); !errors.Is(err, ErrCacheMiss) {
		t.Fatal("no bundle should be written")
	}
}

func TestRefreshInBackground(t *testing.T) {
	m, _, _ := newFixture(t)
	ctx, cancel := context.WithCancel(t.Context())

	var wg sync.WaitGroup
	wg.Add(1)
	var got RefreshSummary
	var gotErr error
	started := m.RefreshInBackground(ctx, func(s RefreshSummary, err error) {
		got, gotErr = s, err
		wg.Done()
	})
	// cancelling the caller does not stop the detached refresh
	cancel()
	if !started {
		t.Fatal("first background refresh should start")
	}
	wg.Wait()

	if gotErr != nil || got.ProducerCount != 2 {
		t.Fatalf("summary %+v err %v", got, gotErr)
	}
	attempt, ok := m.LastAttempt()
	if !ok || attempt.Running || attempt.FinishedAt.IsZero() || attempt.Err != "" {
		t.Fatalf("attempt: %+v", attempt)
	}
}

func TestFileStoreLayout(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	if err := store.Put(t.Context(), DomainKey("Demo/../x", DomainRisk), []byte(`{}`)); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "risk", "demo_.._x.json")); err != nil {
		t.Fatalf("unexpected layout: %v", err)
	}
	if _, err := store.Get(t.Context(), DomainKey("other", DomainRisk)); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss, got %v", err)
	}
}
