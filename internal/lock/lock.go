// Package lock serialises plan transitions per account across API replicas.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when the lock could not be taken within the wait budget.
var ErrLockHeld = errors.New("lock_held")

// Locker hands out short-lived exclusive locks keyed by string.
type Locker interface {
	// Acquire blocks up to wait for key and returns the release func.
	Acquire(ctx context.Context, key string, ttl, wait time.Duration) (func(), error)
}

const pollInterval = 25 * time.Millisecond

// MinTTL is the shortest lease handed out. Shorter or zero TTLs are raised to it so a
// lock can never be granted already expired.
const MinTTL = 100 * time.Millisecond

func clampTTL(ttl time.Duration) time.Duration {
	if ttl < MinTTL {
		return MinTTL
	}
	return ttl
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX and a token-checked release.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "ledger:lock"
	}
	return &RedisLocker{client: client, prefix: prefix}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (func(), error) {
	ttl = clampTTL(ttl)
	redisKey := fmt.Sprintf("%s:%s", l.prefix, key)
	token := uuid.NewString()
	deadline := time.Now().Add(wait)
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return func() {
				// Release on a fresh context so a cancelled request still frees the key.
				relCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = releaseScript.Run(relCtx, l.client, []string{redisKey}, token).Err()
			}, nil
		}
		if !time.Now().Before(deadline) {
			return nil, ErrLockHeld
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// LocalLocker is the single-process Locker used when Redis is not configured.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]time.Time)}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (func(), error) {
	ttl = clampTTL(ttl)
	deadline := time.Now().Add(wait)
	for {
		if release, ok := l.tryAcquire(key, ttl); ok {
			return release, nil
		}
		if !time.Now().Before(deadline) {
			return nil, ErrLockHeld
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (l *LocalLocker) tryAcquire(key string, ttl time.Duration) (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if exp, ok := l.held[key]; ok && now.Before(exp) {
		return nil, false
	}
	exp := now.Add(ttl)
	l.held[key] = exp
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[key] == exp {
			delete(l.held, key)
		}
	}, true
}
