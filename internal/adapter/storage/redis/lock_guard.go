package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/pkg/retry"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrLockHeld is returned while another holder owns an identity lock.
var ErrLockHeld = errors.New("identity lock held by another worker")

// Deletes the lock only if it still carries our token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

const releaseTimeout = 2 * time.Second

// LockGuard implements ports.IdentityGuard with one Redis key per identity,
// shared by every processor instance. Locks expire after ttl so a crashed
// holder cannot block an identity forever.
type LockGuard struct {
	client  *goredis.Client
	prefix  string
	ttl     time.Duration
	retrier retry.Retry
	log     zerolog.Logger
}

// NewLockGuard creates a distributed guard. retrier controls how long Acquire
// waits on a held key.
func NewLockGuard(client *goredis.Client, ttl time.Duration, retrier retry.Retry, log zerolog.Logger) *LockGuard {
	return &LockGuard{
		client:  client,
		prefix:  "lock:",
		ttl:     ttl,
		retrier: retrier,
		log:     log,
	}
}

// Acquire takes every key in sorted order. On failure the keys already held are released.
func (g *LockGuard) Acquire(ctx context.Context, keys ...string) (func(), error) {
	token := uuid.NewString()
	held := make([]string, 0, len(keys))

	releaseAll := func() {
		for i := len(held) - 1; i >= 0; i-- {
			g.release(held[i], token)
		}
	}

	for _, key := range domain.NormalizeKeys(keys) {
		redisKey := g.prefix + key
		err := g.retrier.Execute(ctx, func() error {
			return g.tryLock(ctx, redisKey, token)
		})
		if err != nil {
			releaseAll()
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		held = append(held, redisKey)
	}

	var once sync.Once
	return func() { once.Do(releaseAll) }, nil
}

func (g *LockGuard) tryLock(ctx context.Context, key, token string) error {
	_, err := g.client.SetArgs(ctx, key, token, goredis.SetArgs{
		Mode: "NX",
		TTL:  g.ttl,
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return ErrLockHeld
		}
		return fmt.Errorf("redis lock set: %w", err)
	}
	return nil
}

// release runs on its own context: the caller's may already be cancelled.
func (g *LockGuard) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	if err := releaseScript.Run(ctx, g.client, []string{key}, token).Err(); err != nil {
		g.log.Warn().Err(err).Str("lock", key).Msg("Failed to release identity lock; it will expire")
	}
}
