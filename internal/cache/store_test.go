package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStore(t *testing.T) {
	ctx := t.Context()

	t.Run("should return the stored document", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		store := NewRedisStore(db, "producer-risk:")
		mock.ExpectGet("producer-risk:domain:demo:risk").SetVal(`{"payload":[]}`)

		data, err := store.Get(ctx, DomainKey("demo", DomainRisk))
		require.NoError(t, err)
		assert.JSONEq(t, `{"payload":[]}`, string(data))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("should map redis nil to a cache miss", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		store := NewRedisStore(db, "producer-risk")
		mock.ExpectGet("producer-risk:unified").RedisNil()

		_, err := store.Get(ctx, UnifiedKey())
		assert.ErrorIs(t, err, ErrCacheMiss)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("should wrap transport errors", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		store := NewRedisStore(db, "")
		expected := errors.New("connection refused")
		mock.ExpectGet("domain:kn:revenue").SetErr(expected)

		_, err := store.Get(ctx, DomainKey("KN", DomainRevenue))
		require.Error(t, err)
		assert.ErrorIs(t, err, expected)
		assert.NotErrorIs(t, err, ErrCacheMiss)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("should write without expiry", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		store := NewRedisStore(db, "producer-risk")
		payload := []byte(`{"producers":{}}`)
		mock.ExpectSet("producer-risk:unified", payload, time.Duration(0)).SetVal("OK")

		require.NoError(t, store.Put(ctx, UnifiedKey(), payload))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDecodeRejectsCorruptDocuments(t *testing.T) {
	_, err := decodeDocument([]byte(`{"producer_id":"demo"}`))
	assert.ErrorIs(t, err, ErrCacheCorrupt)

	_, err = decodeBundle([]byte(`[1,2`))
	assert.ErrorIs(t, err, ErrCacheCorrupt)

	doc, err := decodeDocument([]byte(`{"producer_id":"demo","payload":[{"a":1}]}`))
	require.NoError(t, err)
	assert.Equal(t, `[{"a":1}]`, string(doc.Payload))
}

func TestParseDomain(t *testing.T) {
	d, err := ParseDomain("cashflow")
	require.NoError(t, err)
	assert.Equal(t, DomainCashflow, d)

	_, err = ParseDomain("priority")
	assert.Error(t, err)
}
