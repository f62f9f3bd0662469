package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lock serializes job fires across replicas. Acquire returns an opaque
// release token, or "" when another holder already has the lock. Release is
// a no-op unless the token still owns the lock.
type Lock interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (string, error)
	Release(ctx context.Context, name, token string) error
}

// NewLockFromURL returns the redis-backed lock when redisURL is set, else
// the in-process lock. Single-replica deployments need no Redis.
func NewLockFromURL(redisURL string) (Lock, error) {
	if redisURL == "" {
		return NewLocalLock(), nil
	}
	return NewRedisLock(redisURL)
}

// LocalLock guards jobs within one process. It exists so the scheduler code
// path is identical with and without Redis.
type LocalLock struct {
	mu   sync.Mutex
	held map[string]localHold
}

type localHold struct {
	token   string
	expires time.Time
}

func NewLocalLock() *LocalLock {
	return &LocalLock{held: make(map[string]localHold)}
}

func (l *LocalLock) Acquire(_ context.Context, name string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if h, ok := l.held[name]; ok && now.Before(h.expires) {
		return "", nil
	}
	token := uuid.NewString()
	l.held[name] = localHold{token: token, expires: now.Add(ttl)}
	return token, nil
}

func (l *LocalLock) Release(_ context.Context, name, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if h, ok := l.held[name]; ok && h.token == token {
		delete(l.held, name)
	}
	return nil
}

// releaseScript deletes the lock key only while the caller still owns it,
// so a holder whose TTL lapsed cannot release the next holder's lock.
// KEYS[1] = lock key
// ARGV[1] = holder token
var releaseScript = redis.NewScript(`
local owner = redis.call('GET', KEYS[1])
if owner == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisLock elects a leader per job with SET NX EX. The TTL bounds how long
// a crashed holder can wedge the slot.
type RedisLock struct {
	client *redis.Client
	prefix string
}

// NewRedisLock connects to a redis://host:port/db URL.
func NewRedisLock(redisURL string) (*RedisLock, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisLock{
		client: redis.NewClient(opts),
		prefix: "anchor:lock:",
	}, nil
}

func (l *RedisLock) Acquire(ctx context.Context, name string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.prefix+name, token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return "", nil
	}
	return token, nil
}

func (l *RedisLock) Release(ctx context.Context, name, token string) error {
	if _, err := releaseScript.Run(ctx, l.client, []string{l.prefix + name}, token).Result(); err != nil {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}

func (l *RedisLock) Close() error {
	return l.client.Close()
}
