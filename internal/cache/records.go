package cache

import (
	"encoding/json"
	"fmt"
	"time"
)

// Domain is a cached metric family.
type Domain string

const (
	DomainRisk     Domain = "risk"
	DomainRevenue  Domain = "revenue"
	DomainCashflow Domain = "cashflow"
)

// Domains lists every cached domain.
var Domains = []Domain{DomainRisk, DomainRevenue, DomainCashflow}

// ParseDomain validates a domain name.
func ParseDomain(s string) (Domain, error) {
	for _, d := range Domains {
		if string(d) == s {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown domain %q", s)
}

// ProducerEntry is one producer's slice of the unified bundle.
type ProducerEntry struct {
	RiskData     json.RawMessage `json:"risk_data"`
	RevenueData  json.RawMessage `json:"revenue_data"`
	CashflowData json.RawMessage `json:"cashflow_data"`
	ExchangeRate float64         `json:"exchange_rate"`
	Currency     string          `json:"currency"`

	// Failures holds the error of each domain whose computation failed.
	// Its payload is stored as null.
	Failures map[Domain]string `json:"failures,omitempty"`
}

// Payload returns the raw payload of a domain.
func (e ProducerEntry) Payload(d Domain) json.RawMessage {
	switch d {
	case DomainRisk:
		return e.RiskData
	case DomainRevenue:
		return e.RevenueData
	case DomainCashflow:
		return e.CashflowData
	}
	return nil
}

// Failure returns the recorded computation error of a domain, if any.
func (e ProducerEntry) Failure(d Domain) string {
	return e.Failures[d]
}

// Fail stores a null payload for d and records err against it.
func (e *ProducerEntry) Fail(d Domain, err error) {
	e.SetPayload(d, json.RawMessage("null"))
	if err == nil {
		return
	}
	if e.Failures == nil {
		e.Failures = map[Domain]string{}
	}
	e.Failures[d] = err.Error()
}

// SetPayload replaces the raw payload of a domain.
func (e *ProducerEntry) SetPayload(d Domain, payload json.RawMessage) {
	switch d {
	case DomainRisk:
		e.RiskData = payload
	case DomainRevenue:
		e.RevenueData = payload
	case DomainCashflow:
		e.CashflowData = payload
	}
}

// UnifiedBundle spans every producer and domain.
type UnifiedBundle struct {
	LastUpdated time.Time                `json:"last_updated"`
	Producers   map[string]ProducerEntry `json:"producers"`
}

// DomainDocument caches one domain of one producer.
type DomainDocument struct {
	ProducerID   string          `json:"producer_id"`
	Currency     string          `json:"currency"`
	ExchangeRate float64         `json:"exchange_rate"`
	LastUpdated  time.Time       `json:"last_updated"`
	Payload      json.RawMessage `json:"payload"`
	Failure      string          `json:"failure,omitempty"`
}

func decodeBundle(data []byte) (UnifiedBundle, error) {
	var b UnifiedBundle
	if err := json.Unmarshal(data, &b); err != nil {
		return UnifiedBundle{}, fmt.Errorf("%w: unified bundle: %w", ErrCacheCorrupt, err)
	}
	if b.Producers == nil {
		return UnifiedBundle{}, fmt.Errorf("%w: unified bundle has no producers", ErrCacheCorrupt)
	}
	return b, nil
}

func decodeDocument(data []byte) (DomainDocument, error) {
	var d DomainDocument
	if err := json.Unmarshal(data, &d); err != nil {
		return DomainDocument{}, fmt.Errorf("%w: domain document: %w", ErrCacheCorrupt, err)
	}
	if len(d.Payload) == 0 {
		return DomainDocument{}, fmt.Errorf("%w: domain document has no payload", ErrCacheCorrupt)
	}
	return d, nil
}
