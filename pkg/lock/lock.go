// Package lock keeps two report runs from growing the same table headers at
// the same time.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/buildstatsoor/pkg/config"
)

// ErrLocked is returned by Lock when another holder owns the lock.
var ErrLocked = errors.New("run lock is held by another process")

const pingTimeout = 2 * time.Second

// releaseScript deletes the key only while it still carries our token.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// Locker is a single exclusive lock.
type Locker interface {
	// Lock acquires the lock or returns ErrLocked.
	Lock(ctx context.Context) error

	// Unlock releases the lock if it is still ours.
	Unlock(ctx context.Context) error

	// Close releases any underlying connection.
	Close() error
}

// New returns a redis locker when enabled, otherwise a no-op locker.
func New(ctx context.Context, log logrus.FieldLogger, cfg *config.RedisLockConfig) (Locker, error) {
	log = log.WithField("component", "lock")

	if !cfg.Enabled {
		return noopLocker{}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Address, err)
	}

	return newRedisLocker(log, client, cfg.Key, cfg.TTL), nil
}

// redisClient is the subset of *redis.Client the locker needs.
type redisClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
	Close() error
}

type redisLocker struct {
	log    logrus.FieldLogger
	client redisClient
	key    string
	ttl    time.Duration
	token  string
}

var _ Locker = (*redisLocker)(nil)

func newRedisLocker(log logrus.FieldLogger, client redisClient, key string, ttl time.Duration) *redisLocker {
	return &redisLocker{
		log:    log,
		client: client,
		key:    key,
		ttl:    ttl,
		token:  uuid.NewString(),
	}
}

func (l *redisLocker) Lock(ctx context.Context) error {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquiring lock %q: %w", l.key, err)
	}

	if !ok {
		return ErrLocked
	}

	l.log.WithFields(logrus.Fields{
		"key": l.key,
		"ttl": l.ttl,
	}).Debug("Acquired run lock")

	return nil
}

func (l *redisLocker) Unlock(ctx context.Context) error {
	released, err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.token).Int64()
	if err != nil {
		return fmt.Errorf("releasing lock %q: %w", l.key, err)
	}

	if released == 0 {
		l.log.WithField("key", l.key).Warn("Run lock expired before release")

		return nil
	}

	l.log.WithField("key", l.key).Debug("Released run lock")

	return nil
}

func (l *redisLocker) Close() error {
	return l.client.Close()
}

type noopLocker struct{}

var _ Locker = noopLocker{}

func (noopLocker) Lock(context.Context) error   { return nil }
func (noopLocker) Unlock(context.Context) error { return nil }
func (noopLocker) Close() error                 { return nil }
