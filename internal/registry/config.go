package registry

import (
	"github.com/go-redis/redis"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	commonconfig "github.com/prominence-eu/prominence/internal/common/config"
	"github.com/prominence-eu/prominence/internal/common/eventstream"
)

const (
	BucketNats   = "nats"
	BucketRedis  = "redis"
	BucketMemory = "memory"
)

type Config struct {
	// One of nats, redis or memory. The in-memory bucket isn't shared between processes.
	Type string `validate:"oneof=nats redis memory"`
	// JetStream key-value bucket, used when Type is nats
	KeyValue eventstream.KeyValueConfig `validate:"-"`
	Redis    commonconfig.RedisConfig   `validate:"-"`
	// Redis hash holding the workers, used when Type is redis
	RedisKey string
}

// New returns the registry selected by config. js is only used by the nats bucket.
// The returned function releases any connection opened here.
func New(js nats.JetStreamContext, config Config) (*BucketRegistry, func(), error) {
	switch config.Type {
	case BucketNats:
		if err := commonconfig.Validate(config.KeyValue); err != nil {
			return nil, nil, errors.WithMessage(err, "invalid key-value config")
		}
		kv, err := eventstream.EnsureKeyValue(js, config.KeyValue)
		if err != nil {
			return nil, nil, errors.WithMessage(err, "error opening worker bucket")
		}
		return NewBucketRegistry(NewNatsBucket(kv)), func() {}, nil
	case BucketRedis:
		if err := commonconfig.Validate(config.Redis); err != nil {
			return nil, nil, errors.WithMessage(err, "invalid redis config")
		}
		db := redis.NewUniversalClient(config.Redis.AsUniversalOptions())
		key := config.RedisKey
		if key == "" {
			key = "Workers"
		}
		closeDb := func() {
			if err := db.Close(); err != nil {
				log.WithError(err).Warn("Redis client didn't close down cleanly")
			}
		}
		return NewBucketRegistry(NewRedisBucket(db, key)), closeDb, nil
	case BucketMemory:
		return NewBucketRegistry(NewMemoryBucket()), func() {}, nil
	}
	return nil, nil, errors.Errorf("unknown worker bucket type %q", config.Type)
}
