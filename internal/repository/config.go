package repository

import (
	"context"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	commonconfig "github.com/prominence-eu/prominence/internal/common/config"
	"github.com/prominence-eu/prominence/internal/common/database"
	"github.com/prominence-eu/prominence/internal/common/health"
)

const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

type Config struct {
	// One of memory, redis or postgres. The in-memory store isn't shared between processes.
	Type     string `validate:"oneof=memory redis postgres"`
	Redis    commonconfig.RedisConfig    `validate:"-"`
	Postgres commonconfig.PostgresConfig `validate:"-"`
	// Postgres table holding the jobs
	TableName string
}

// New opens the store selected by config. The returned function releases its connections.
func New(ctx context.Context, config Config) (JobRepository, health.Checker, func(), error) {
	switch config.Type {
	case StoreMemory:
		repo, err := NewInMemoryJobRepository()
		return repo, health.CheckerFunc(func() error { return nil }), func() {}, err
	case StoreRedis:
		if err := commonconfig.Validate(config.Redis); err != nil {
			return nil, nil, nil, errors.WithMessage(err, "invalid redis config")
		}
		db := redis.NewUniversalClient(config.Redis.AsUniversalOptions())
		closeDb := func() {
			if err := db.Close(); err != nil {
				log.WithError(err).Warn("Redis client didn't close down cleanly")
			}
		}
		checker := health.CheckerFunc(func() error { return errors.WithStack(db.Ping().Err()) })
		return NewRedisJobRepository(db), checker, closeDb, nil
	case StorePostgres:
		if err := commonconfig.Validate(config.Postgres); err != nil {
			return nil, nil, nil, errors.WithMessage(err, "invalid postgres config")
		}
		db, err := database.OpenPgxPool(ctx, config.Postgres)
		if err != nil {
			return nil, nil, nil, errors.WithMessage(err, "error opening connection to postgres")
		}
		tableName := config.TableName
		if tableName == "" {
			tableName = "jobs"
		}
		repo, err := NewPostgresJobRepository(db, tableName)
		if err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		checker := health.CheckerFunc(func() error { return errors.WithStack(db.Ping(context.Background())) })
		return repo, checker, db.Close, nil
	}
	return nil, nil, nil, errors.Errorf("unknown job store type %q", config.Type)
}
