package session

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/sentinel/internal/config"
)

// OpenStore builds the configured store. The returned closer releases its
// connections and is never nil.
func OpenStore(ctx context.Context, cfg config.SessionStoreConfig, logger *zap.Logger) (Store, func(), error) {
	noop := func() {}
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory session store")
		return NewMemoryStore(), noop, nil

	case "redis":
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			return nil, noop, fmt.Errorf("session store: %s environment variable not set", cfg.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("session store: ping redis: %w", err)
		}
		logger.Info("using redis session store", zap.String("addr", addr), zap.Int("db", cfg.DB))
		return NewRedisStore(client, cfg.KeyPrefix), func() { _ = client.Close() }, nil

	case "postgres":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, noop, fmt.Errorf("session store: %s environment variable not set", cfg.DSNEnv)
		}
		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, noop, fmt.Errorf("session store: parse DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, noop, fmt.Errorf("session store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, noop, fmt.Errorf("session store: ping: %w", err)
		}
		store := NewPgStore(pool)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, noop, fmt.Errorf("session store: %w", err)
		}
		logger.Info("using postgres session store")
		return store, pool.Close, nil

	default:
		return nil, noop, fmt.Errorf("unsupported session store driver: %q", cfg.Driver)
	}
}

// NewFromConfig builds a Session over store from the session config.
func NewFromConfig(cfg config.SessionConfig, store Store, opts ...Option) *Session {
	creds := NewCredentials(cfg.Username, cfg.PasswordHash)
	tokens := NewTokens([]byte(cfg.TokenSecret), cfg.Issuer, cfg.TokenTTL, nil)
	return New(store, creds, tokens, opts...)
}
