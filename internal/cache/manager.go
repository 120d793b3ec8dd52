package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"producer-risk/internal/storage"
)

// State is how a producer × domain read is served.
type State string

const (
	// StateUnified serves from the cross-producer bundle; live computation is not allowed.
	StateUnified State = "unified_cache"
	// StateDomain serves from the per-domain document.
	StateDomain State = "domain_cache"
	// StateLive computes from the fact source and persists the per-domain document.
	StateLive State = "live"
)

// Computer produces domain payloads from live facts.
type Computer interface {
	Producers(ctx context.Context) ([]storage.ProducerAccount, error)
	Account(ctx context.Context, producerID string) (storage.ProducerAccount, error)
	ComputeDomain(ctx context.Context, account storage.ProducerAccount, domain Domain) (json.RawMessage, error)
	ComputeAll(ctx context.Context, account storage.ProducerAccount) (ProducerEntry, error)
}

// Resolution is a served payload and where it came from. Payload is nil when
// the serving tier holds nothing for the producer. Failure is set when the
// stored payload is null because its computation failed.
type Resolution struct {
	State        State
	ProducerID   string
	Domain       Domain
	Payload      json.RawMessage
	Failure      string
	Currency     string
	ExchangeRate float64
	LastUpdated  time.Time
}

// RefreshSummary reports a full refresh.
type RefreshSummary struct {
	AttemptID     string    `json:"attempt_id"`
	ProducerCount int       `json:"producer_count"`
	LastUpdated   time.Time `json:"last_updated"`
	Producers     []string  `json:"producers"`
	Failed        []string  `json:"failed,omitempty"`
	// Partial lists producers with at least one failed domain.
	Partial       []string  `json:"partial,omitempty"`
}

// Attempt records the latest background refresh.
type Attempt struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	Err        string    `json:"error,omitempty"`
	Running    bool      `json:"running"`
}

// ErrNoProducers is returned by RefreshAll when there is nothing to refresh.
var ErrNoProducers = errors.New("cache: no producers to refresh")

// Manager resolves reads across the cache tiers and runs refreshes.
type Manager struct {
	store    Store
	computer Computer
	logger   zerolog.Logger
	workers  int
	now      func() time.Time

	refreshing atomic.Bool
	mu         sync.Mutex
	attempt    Attempt
}

// Option customises a Manager.
type Option func(*Manager)

// WithWorkers bounds the producers refreshed in parallel.
func WithWorkers(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.workers = n
		}
	}
}

// WithClock overrides the clock used for document timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager builds a Manager.
func NewManager(store Store, computer Computer, logger zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		computer: computer,
		logger:   logger.With().Str("component", "cache").Logger(),
		workers:  4,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Peek reports the state a read would be served from without computing.
func (m *Manager) Peek(ctx context.Context, producerID string, domain Domain) (State, time.Time) {
	if bundle, ok := m.unified(ctx); ok {
		return StateUnified, bundle.LastUpdated
	}
	if doc, ok := m.document(ctx, producerID, domain); ok {
		return StateDomain, doc.LastUpdated
	}
	return StateLive, time.Time{}
}

// Resolve serves one producer × domain read from the highest tier present.
func (m *Manager) Resolve(ctx context.Context, producerID string, domain Domain) (Resolution, error) {
	id := normalizeID(producerID)
	if bundle, ok := m.unified(ctx); ok {
		res := Resolution{State: StateUnified, ProducerID: id, Domain: domain, LastUpdated: bundle.LastUpdated}
		if entry, ok := bundle.Producers[id]; ok {
			res.Payload = entry.Payload(domain)
			res.Failure = entry.Failure(domain)
			res.Currency = entry.Currency
			res.ExchangeRate = entry.ExchangeRate
		}
		return res, nil
	}

	if doc, ok := m.document(ctx, id, domain); ok {
		return Resolution{
			State:        StateDomain,
			ProducerID:   id,
			Domain:       domain,
			Payload:      doc.Payload,
			Failure:      doc.Failure,
			Currency:     doc.Currency,
			ExchangeRate: doc.ExchangeRate,
			LastUpdated:  doc.LastUpdated,
		}, nil
	}

	return m.computeDomain(ctx, id, domain)
}

// RefreshDomain recomputes one producer × domain and overwrites its
// per-domain document. The unified bundle is left as is.
func (m *Manager) RefreshDomain(ctx context.Context, producerID string, domain Domain) (Resolution, error) {
	return m.computeDomain(ctx, normalizeID(producerID), domain)
}

func (m *Manager) computeDomain(ctx context.Context, id string, domain Domain) (Resolution, error) {
	account, err := m.computer.Account(ctx, id)
	if err != nil {
		return Resolution{}, fmt.Errorf("load account %s: %w", id, err)
	}
	payload, err := m.computer.ComputeDomain(ctx, account, domain)
	if err != nil {
		return Resolution{}, fmt.Errorf("compute %s/%s: %w", id, domain, err)
	}
	doc := DomainDocument{
		ProducerID:   id,
		Currency:     account.Currency,
		ExchangeRate: account.ExchangeRate,
		LastUpdated:  m.now(),
		Payload:      payload,
	}
	if err := m.putDocument(ctx, doc, domain); err != nil {
		m.logger.Warn().Err(err).Str("producer_id", id).Str("domain", string(domain)).Msg("failed to persist domain document")
	}
	return Resolution{
		State:        StateLive,
		ProducerID:   id,
		Domain:       domain,
		Payload:      payload,
		Currency:     doc.Currency,
		ExchangeRate: doc.ExchangeRate,
		LastUpdated:  doc.LastUpdated,
	}, nil
}

// RefreshAll recomputes every domain of every producer, rewrites their
// per-domain documents and then writes a fresh unified bundle. A producer
// whose computation fails is kept with failed payloads and listed in Failed;
// one with only some domains failed is listed in Partial.
func (m *Manager) RefreshAll(ctx context.Context) (RefreshSummary, error) {
	summary := RefreshSummary{AttemptID: uuid.NewString()}
	logger := m.logger.With().Str("attempt_id", summary.AttemptID).Logger()

	accounts, err := m.computer.Producers(ctx)
	if err != nil {
		return summary, fmt.Errorf("list producers: %w", err)
	}
	if len(accounts) == 0 {
		return summary, ErrNoProducers
	}

	var (
		mu      sync.Mutex
		entries = make(map[string]ProducerEntry, len(accounts))
	)
	updated := m.now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)
	for _, account := range accounts {
		g.Go(func() error {
			id := normalizeID(account.ID)
			entry, err := m.computer.ComputeAll(gctx, account)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				logger.Warn().Err(err).Str("producer_id", id).Msg("producer refresh failed, keeping empty payloads")
				entry = failedEntry(account, err)
				mu.Lock()
				summary.Failed = append(summary.Failed, id)
				mu.Unlock()
			} else if len(entry.Failures) > 0 {
				mu.Lock()
				summary.Partial = append(summary.Partial, id)
				mu.Unlock()
			}
			for _, domain := range Domains {
				doc := DomainDocument{
					ProducerID:   id,
					Currency:     entry.Currency,
					ExchangeRate: entry.ExchangeRate,
					LastUpdated:  updated,
					Payload:      entry.Payload(domain),
					Failure:      entry.Failure(domain),
				}
				if err := m.putDocument(gctx, doc, domain); err != nil {
					logger.Warn().Err(err).Str("producer_id", id).Str("domain", string(domain)).Msg("failed to persist domain document")
				}
			}
			mu.Lock()
			entries[id] = entry
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}

	bundle := UnifiedBundle{LastUpdated: updated, Producers: entries}
	data, err := json.Marshal(bundle)
	if err != nil {
		return summary, fmt.Errorf("encode unified bundle: %w", err)
	}
	if err := m.store.Put(ctx, UnifiedKey(), data); err != nil {
		return summary, fmt.Errorf("write unified bundle: %w", err)
	}

	sort.Strings(summary.Failed)
	sort.Strings(summary.Partial)
	for id := range entries {
		summary.Producers = append(summary.Producers, id)
	}
	sort.Strings(summary.Producers)
	summary.ProducerCount = len(entries)
	summary.LastUpdated = updated
	logger.Info().Int("producer_count", summary.ProducerCount).Int("failed", len(summary.Failed)).Int("partial", len(summary.Partial)).Msg("unified cache refreshed")
	return summary, nil
}

// RefreshInBackground starts a detached full refresh and returns at once.
// It reports false when a background refresh is already running. done, if
// set, is called with the outcome once the refresh ends.
func (m *Manager) RefreshInBackground(ctx context.Context, done func(RefreshSummary, error)) bool {
	if !m.refreshing.CompareAndSwap(false, true) {
		return false
	}
	attempt := Attempt{ID: uuid.NewString(), StartedAt: m.now(), Running: true}
	m.setAttempt(attempt)

	detached := context.WithoutCancel(ctx)
	go func() {
		defer m.refreshing.Store(false)
		summary, err := m.RefreshAll(detached)

		attempt.FinishedAt = m.now()
		attempt.Running = false
		if err != nil {
			attempt.Err = err.Error()
			m.logger.Warn().Err(err).Str("attempt_id", attempt.ID).Msg("background refresh failed")
		}
		m.setAttempt(attempt)
		if done != nil {
			done(summary, err)
		}
	}()
	return true
}

// LastAttempt returns the latest background refresh attempt.
func (m *Manager) LastAttempt() (Attempt, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt, m.attempt.ID != ""
}

func (m *Manager) setAttempt(a Attempt) {
	m.mu.Lock()
	m.attempt = a
	m.mu.Unlock()
}

func (m *Manager) unified(ctx context.Context) (UnifiedBundle, bool) {
	data, err := m.store.Get(ctx, UnifiedKey())
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			m.logger.Warn().Err(err).Msg("unified bundle unreadable")
		}
		return UnifiedBundle{}, false
	}
	bundle, err := decodeBundle(data)
	if err != nil {
		m.logger.Warn().Err(err).Msg("unified bundle corrupt, ignoring")
		return UnifiedBundle{}, false
	}
	if len(bundle.Producers) == 0 {
		return UnifiedBundle{}, false
	}
	return bundle, true
}

func (m *Manager) document(ctx context.Context, producerID string, domain Domain) (DomainDocument, bool) {
	key := DomainKey(producerID, domain)
	data, err := m.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			m.logger.Warn().Err(err).Str("key", key.String()).Msg("domain document unreadable")
		}
		return DomainDocument{}, false
	}
	doc, err := decodeDocument(data)
	if err != nil {
		m.logger.Warn().Err(err).Str("key", key.String()).Msg("domain document corrupt, serving live")
		return DomainDocument{}, false
	}
	return doc, true
}

func (m *Manager) putDocument(ctx context.Context, doc DomainDocument, domain Domain) error {
	if len(doc.Payload) == 0 {
		doc.Payload = json.RawMessage("null")
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode domain document: %w", err)
	}
	return m.store.Put(ctx, DomainKey(doc.ProducerID, domain), data)
}

func failedEntry(account storage.ProducerAccount, err error) ProducerEntry {
	entry := ProducerEntry{Currency: account.Currency, ExchangeRate: account.ExchangeRate}
	for _, d := range Domains {
		entry.Fail(d, err)
	}
	return entry
}
