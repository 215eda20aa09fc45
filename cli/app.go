package cli

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"optrack.evalgo.org/config"
	"optrack.evalgo.org/db"
	"optrack.evalgo.org/db/repository"
	apihttp "optrack.evalgo.org/http"
	"optrack.evalgo.org/statemanager"
)

// backends holds the storage connections shared by every command
type backends struct {
	gdb    *gorm.DB
	store  *db.OperationStore
	ledger *db.IdempotencyLedger
	redis  *repository.RedisRepository // nil when redis.url is empty
}

func openBackends(cfg *config.Config, log logrus.FieldLogger, withRedis bool) (*backends, error) {
	gdb, err := db.OpenPostgres(cfg.Database.DSN, db.PoolConfig{
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	b := &backends{
		gdb:    gdb,
		store:  db.NewOperationStore(gdb),
		ledger: db.NewIdempotencyLedger(gdb),
	}

	if withRedis && cfg.Redis.URL != "" {
		repo, err := repository.NewRedisRepository(cfg.Redis.URL)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.redis = repo
	} else if withRedis {
		log.Warn("redis.url is empty, running without distributed lock and cache")
	}
	return b, nil
}

// locker and cache return untyped nil interfaces when Redis is disabled.
func (b *backends) locker() statemanager.Locker {
	if b.redis == nil {
		return nil
	}
	return b.redis
}

func (b *backends) cache() statemanager.CacheBackend {
	if b.redis == nil {
		return nil
	}
	return b.redis
}

func (b *backends) healthChecks() map[string]apihttp.HealthCheck {
	checks := map[string]apihttp.HealthCheck{
		"database": func(ctx context.Context) error {
			return db.Ping(ctx, b.gdb)
		},
	}
	if b.redis != nil {
		checks["redis"] = b.redis.Ping
	}
	return checks
}

func (b *backends) Close() {
	if b.redis != nil {
		b.redis.Close()
	}
	db.Close(b.gdb)
}
