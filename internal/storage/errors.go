package storage

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrUpstreamUnavailable marks failures reaching or querying the store.
	ErrUpstreamUnavailable = errors.New("storage: upstream unavailable")
	// ErrSchemaMismatch marks an absent table or column; callers treat it as no data.
	ErrSchemaMismatch = errors.New("storage: schema mismatch")
)

const (
	sqlStateUndefinedTable  = "42P01"
	sqlStateUndefinedColumn = "42703"
)

// classify wraps err with the matching error kind.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotConfigured) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateUndefinedTable, sqlStateUndefinedColumn:
			return fmt.Errorf("%s: %w: %w", op, ErrSchemaMismatch, err)
		}
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUpstreamUnavailable, err)
}

// IsNoData reports whether err should be read as "no data" rather than a failure.
func IsNoData(err error) bool {
	return errors.Is(err, ErrSchemaMismatch)
}
