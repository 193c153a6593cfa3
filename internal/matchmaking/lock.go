// internal/matchmaking/lock.go
package matchmaking

import (
	"context"
	"fmt"
	"time"

	"github.com/jason-s-yu/matchmaker/internal/cache"
	"github.com/jason-s-yu/matchmaker/internal/models"
	"github.com/redis/go-redis/v9"
)

// Locker hands out mutual exclusion through set-if-absent keys with a TTL. A missing
// key is the only unlocked state; a holder that outlives the TTL loses the lock silently.
type Locker struct {
	rdb *redis.Client
}

func NewLocker(rdb *redis.Client) *Locker {
	return &Locker{rdb: rdb}
}

// Acquire takes the lock if nobody holds it. It never waits or retries.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	return ok, nil
}

// Release drops the lock immediately.
func (l *Locker) Release(ctx context.Context, key string) error {
	if err := l.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", key, err)
	}
	return nil
}

// ReleaseAfter lets the lock lapse after grace instead of dropping it now.
func (l *Locker) ReleaseAfter(ctx context.Context, key string, grace time.Duration) error {
	if grace <= 0 {
		return l.Release(ctx, key)
	}
	if err := l.rdb.Expire(ctx, key, grace).Err(); err != nil {
		return fmt.Errorf("failed to set grace on lock %s: %w", key, err)
	}
	return nil
}

func (e *Engine) acquireRegionLock(ctx context.Context, t models.MatchType, region string) (bool, error) {
	ok, err := e.locks.Acquire(ctx, cache.RegionLockKey(t, region), e.cfg.RegionLockTTL)
	if err == nil && !ok {
		lockContention.WithLabelValues("region").Inc()
	}
	return ok, err
}

func (e *Engine) releaseRegionLock(ctx context.Context, t models.MatchType, region string) error {
	return e.locks.Release(ctx, cache.RegionLockKey(t, region))
}

func (e *Engine) acquireLobbyLock(ctx context.Context, lobbyID string) (bool, error) {
	ok, err := e.locks.Acquire(ctx, cache.LobbyLockKey(lobbyID), e.cfg.LobbyLockTTL)
	if err == nil && !ok {
		lockContention.WithLabelValues("lobby").Inc()
	}
	return ok, err
}

// releaseLobbyLock lets the lobby lock lapse after grace; zero drops it now.
func (e *Engine) releaseLobbyLock(ctx context.Context, lobbyID string, grace time.Duration) error {
	return e.locks.ReleaseAfter(ctx, cache.LobbyLockKey(lobbyID), grace)
}

func (e *Engine) acquireFinalizeLock(ctx context.Context, confirmationID string) (bool, error) {
	ok, err := e.locks.Acquire(ctx, cache.ConfirmationLockKey(confirmationID), e.cfg.FinalizeLockTTL)
	if err == nil && !ok {
		lockContention.WithLabelValues("confirmation").Inc()
	}
	return ok, err
}

func (e *Engine) releaseFinalizeLock(ctx context.Context, confirmationID string) error {
	return e.locks.Release(ctx, cache.ConfirmationLockKey(confirmationID))
}
