package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rookgm/flyem/internal/logger"
	"github.com/rookgm/flyem/internal/models"
	"go.uber.org/zap"
)

const (
	keyPrefix     = "order_lock:"
	retryInterval = 100 * time.Millisecond
	maxRetries    = 50
)

// deletes the key only if it still holds our token
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a distributed lock shared by all instances
type RedisLocker struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisLocker creates new RedisLocker instance
func NewRedisLocker(rdb *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{rdb: rdb, ttl: ttl}
}

// Lock blocks until key is acquired, retries are bounded
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := keyPrefix + key
	token := uuid.NewString()

	for retries := 0; retries < maxRetries; retries++ {
		acquired, err := l.rdb.SetNX(ctx, lockKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock error: %w", err)
		}
		if acquired {
			return func() {
				// the request context may already be done
				err := unlockScript.Run(context.Background(), l.rdb, []string{lockKey}, token).Err()
				if err != nil {
					logger.Log.Warn("lock release failed, it expires after ttl",
						zap.String("key", lockKey),
						zap.Duration("ttl", l.ttl),
						zap.Error(err))
				}
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryInterval):
		}
	}

	return nil, models.ErrLockNotAcquired
}

// Name is used by health checks
func (l *RedisLocker) Name() string {
	return "redis"
}

// Ping checks redis is reachable
func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.rdb.Ping(ctx).Err()
}

// LocalLocker serializes holders of the same key inside one process
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// NewLocalLocker creates new LocalLocker instance
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*entry)}
}

// Lock blocks until key is acquired
func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	acquired := make(chan struct{})
	go func() {
		e.mu.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
		return func() { l.release(key, e) }, nil
	case <-ctx.Done():
		// hand the lock back once the goroutine gets it
		go func() {
			<-acquired
			l.release(key, e)
		}()
		return nil, ctx.Err()
	}
}

func (l *LocalLocker) release(key string, e *entry) {
	e.mu.Unlock()

	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}
