// Package lock provides expiring mutual-exclusion locks for jobs that must
// not overlap, such as retention sweeps. A lock that is never released
// expires after its TTL, so a crashed holder cannot wedge the job.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrHeld is returned when another holder owns the lock.
var ErrHeld = errors.New("lock already held")

// Locker acquires named locks.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (Handle, error)
}

// Handle releases an acquired lock. Release after expiry is not an error.
type Handle interface {
	Release(ctx context.Context) error
}

const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

// RedisLocker implements Locker with SET NX PX and a check-and-delete
// release script.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client, prefix: "lock:"}
}

// NewRedisClient connects and pings so misconfiguration fails at startup.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

func (l *RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (Handle, error) {
	key := l.prefix + name
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, ErrHeld
	}
	return &redisHandle{client: l.client, key: key, token: token}, nil
}

type redisHandle struct {
	client *redis.Client
	key    string
	token  string
}

func (h *redisHandle) Release(ctx context.Context) error {
	if err := h.client.Eval(ctx, releaseScript, []string{h.key}, h.token).Err(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// MemoryLocker is a process-local Locker.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]memoryEntry
	clock func() time.Time
}

type memoryEntry struct {
	token   string
	expires time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]memoryEntry), clock: time.Now}
}

func (l *MemoryLocker) Acquire(_ context.Context, name string, ttl time.Duration) (Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if e, ok := l.held[name]; ok && now.Before(e.expires) {
		return nil, ErrHeld
	}
	token := uuid.New().String()
	l.held[name] = memoryEntry{token: token, expires: now.Add(ttl)}
	return &memoryHandle{locker: l, name: name, token: token}, nil
}

type memoryHandle struct {
	locker *MemoryLocker
	name   string
	token  string
}

func (h *memoryHandle) Release(_ context.Context) error {
	h.locker.mu.Lock()
	defer h.locker.mu.Unlock()
	if e, ok := h.locker.held[h.name]; ok && e.token == h.token {
		delete(h.locker.held, h.name)
	}
	return nil
}
