package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss reports an absent document.
	ErrCacheMiss = errors.New("cache: miss")
	// ErrCacheCorrupt reports a document that cannot be decoded; callers treat it as a miss.
	ErrCacheCorrupt = errors.New("cache: corrupt document")
)

// Tier distinguishes the cross-producer bundle from per-domain documents.
type Tier string

const (
	TierUnified Tier = "unified"
	TierDomain  Tier = "domain"
)

// Key addresses one document.
type Key struct {
	Tier       Tier
	ProducerID string
	Domain     Domain
}

// UnifiedKey is the key of the cross-producer bundle.
func UnifiedKey() Key {
	return Key{Tier: TierUnified}
}

// DomainKey is the key of a producer's per-domain document.
func DomainKey(producerID string, domain Domain) Key {
	return Key{Tier: TierDomain, ProducerID: normalizeID(producerID), Domain: domain}
}

func (k Key) String() string {
	if k.Tier == TierUnified {
		return string(TierUnified)
	}
	return fmt.Sprintf("%s:%s:%s", k.Tier, k.ProducerID, k.Domain)
}

// Store persists raw documents.
type Store interface {
	Get(ctx context.Context, key Key) ([]byte, error)
	Put(ctx context.Context, key Key, data []byte) error
}

// FileStore keeps documents as JSON files under a directory.
type FileStore struct {
	dir string
}

// NewFileStore returns a store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) path(key Key) string {
	if key.Tier == TierUnified {
		return filepath.Join(s.dir, "unified.json")
	}
	return filepath.Join(s.dir, string(key.Domain), safeName(key.ProducerID)+".json")
}

// Get reads a document; a missing file is ErrCacheMiss.
func (s *FileStore) Get(ctx context.Context, key Key) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Put writes a document through a temp file and rename so readers never see a partial write.
func (s *FileStore) Put(ctx context.Context, key Key, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target := s.path(key)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("rename %s: %w", key, err)
	}
	return nil
}

// RedisStore keeps documents in redis under a key prefix.
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

// NewRedisStore wraps a redis client.
func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: strings.TrimSuffix(prefix, ":")}
}

func (s *RedisStore) redisKey(key Key) string {
	if s.prefix == "" {
		return key.String()
	}
	return s.prefix + ":" + key.String()
}

// Get reads a document; redis.Nil is ErrCacheMiss.
func (s *RedisStore) Get(ctx context.Context, key Key) ([]byte, error) {
	data, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, nil
}

// Put writes a document without expiry; refreshes overwrite it.
func (s *RedisStore) Put(ctx context.Context, key Key, data []byte) error {
	if err := s.client.Set(ctx, s.redisKey(key), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func safeName(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, id)
}
