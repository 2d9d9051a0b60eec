package registry

import (
	"context"

	"github.com/go-redis/redis"
	"github.com/nats-io/nats.go"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/prominence-eu/prominence/internal/common/prominenceerrors"
)

// Bucket is a flat key-value store with per-key atomicity.
type Bucket interface {
	Put(ctx context.Context, key string, value []byte) error
	// Get returns ErrNotFound if the key doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes the key. Deleting a key that doesn't exist isn't an error.
	Delete(ctx context.Context, key string) error
	// Keys returns every key in the bucket, in no particular order.
	Keys(ctx context.Context) ([]string, error)
}

func errKeyNotFound(key string) error {
	return errors.WithStack(&prominenceerrors.ErrNotFound{Type: "worker", Value: key})
}

// NatsBucket is a Bucket backed by a JetStream key-value bucket.
type NatsBucket struct {
	kv nats.KeyValue
}

func NewNatsBucket(kv nats.KeyValue) *NatsBucket {
	return &NatsBucket{kv: kv}
}

func (b *NatsBucket) Put(_ context.Context, key string, value []byte) error {
	_, err := b.kv.Put(key, value)
	return errors.WithStack(err)
}

func (b *NatsBucket) Get(_ context.Context, key string) ([]byte, error) {
	entry, err := b.kv.Get(key)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, errKeyNotFound(key)
	} else if err != nil {
		return nil, errors.WithStack(err)
	}
	return entry.Value(), nil
}

func (b *NatsBucket) Delete(_ context.Context, key string) error {
	// Writes a tombstone even if the key was never written.
	err := b.kv.Delete(key)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil
	}
	return errors.WithStack(err)
}

func (b *NatsBucket) Keys(ctx context.Context) ([]string, error) {
	keys, err := b.kv.Keys(nats.Context(ctx))
	if errors.Is(err, nats.ErrNoKeysFound) {
		return []string{}, nil
	} else if err != nil {
		return nil, errors.WithStack(err)
	}
	return keys, nil
}

// RedisBucket is a Bucket backed by a single redis hash.
type RedisBucket struct {
	db  redis.UniversalClient
	key string
}

func NewRedisBucket(db redis.UniversalClient, key string) *RedisBucket {
	return &RedisBucket{db: db, key: key}
}

func (b *RedisBucket) Put(_ context.Context, key string, value []byte) error {
	return errors.WithStack(b.db.HSet(b.key, key, value).Err())
}

func (b *RedisBucket) Get(_ context.Context, key string) ([]byte, error) {
	value, err := b.db.HGet(b.key, key).Bytes()
	if err == redis.Nil {
		return nil, errKeyNotFound(key)
	} else if err != nil {
		return nil, errors.WithStack(err)
	}
	return value, nil
}

func (b *RedisBucket) Delete(_ context.Context, key string) error {
	return errors.WithStack(b.db.HDel(b.key, key).Err())
}

func (b *RedisBucket) Keys(_ context.Context) ([]string, error) {
	keys, err := b.db.HKeys(b.key).Result()
	return keys, errors.WithStack(err)
}

// MemoryBucket is a Bucket held in process memory. Entries never expire.
type MemoryBucket struct {
	cache *cache.Cache
}

func NewMemoryBucket() *MemoryBucket {
	return &MemoryBucket{cache: cache.New(cache.NoExpiration, 0)}
}

func (b *MemoryBucket) Put(_ context.Context, key string, value []byte) error {
	b.cache.Set(key, slices.Clone(value), cache.NoExpiration)
	return nil
}

func (b *MemoryBucket) Get(_ context.Context, key string) ([]byte, error) {
	value, ok := b.cache.Get(key)
	if !ok {
		return nil, errKeyNotFound(key)
	}
	return slices.Clone(value.([]byte)), nil
}

func (b *MemoryBucket) Delete(_ context.Context, key string) error {
	b.cache.Delete(key)
	return nil
}

func (b *MemoryBucket) Keys(_ context.Context) ([]string, error) {
	return maps.Keys(b.cache.Items()), nil
}
