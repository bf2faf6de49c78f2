// Package lock provides a Redis-backed group lock so that several bot or API
// instances sharing one database still apply one writer per group at a time.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"github.com/susu3304/warikanbot/internal/ledger"
	"go.uber.org/zap"
)

const keyPrefix = "warikan:"

type Options struct {
	Expiry     time.Duration
	Tries      int
	RetryDelay time.Duration
}

func DefaultOptions() Options {
	return Options{
		Expiry:     10 * time.Second,
		Tries:      30,
		RetryDelay: 100 * time.Millisecond,
	}
}

type RedisLocker struct {
	client redis.UniversalClient
	rs     *redsync.Redsync
	opts   Options
	logger *zap.Logger
}

var _ ledger.Locker = (*RedisLocker)(nil)

// New connects to Redis at url (redis://...) and verifies the connection.
func New(ctx context.Context, url string, opts Options, logger *zap.Logger) (*RedisLocker, error) {
	ropts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(ropts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return NewWithClient(client, opts, logger), nil
}

func NewWithClient(client redis.UniversalClient, opts Options, logger *zap.Logger) *RedisLocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultOptions()
	if opts.Expiry <= 0 {
		opts.Expiry = def.Expiry
	}
	if opts.Tries <= 0 {
		opts.Tries = def.Tries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = def.RetryDelay
	}
	return &RedisLocker{
		client: client,
		rs:     redsync.New(goredis.NewPool(client)),
		opts:   opts,
		logger: logger,
	}
}

// WithLock holds the lock for key while fn runs. The lock expires on its own
// if the process dies, so fn must finish well within Options.Expiry.
func (l *RedisLocker) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	mutex := l.rs.NewMutex(keyPrefix+key,
		redsync.WithExpiry(l.opts.Expiry),
		redsync.WithTries(l.opts.Tries),
		redsync.WithRetryDelay(l.opts.RetryDelay),
	)
	if err := mutex.LockContext(ctx); err != nil {
		return fmt.Errorf("acquire lock %s: %w", key, err)
	}
	defer func() {
		// Use a fresh context so a canceled request still releases the lock.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if ok, err := mutex.UnlockContext(unlockCtx); err != nil || !ok {
			if err == nil {
				err = errors.New("lock already expired")
			}
			l.logger.Warn("failed to release group lock", zap.String("key", key), zap.Error(err))
		}
	}()
	return fn(ctx)
}

func (l *RedisLocker) Close() error {
	return l.client.Close()
}
