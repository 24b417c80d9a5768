// Package locks provides short-lived per-game leases backed by Redis, so
// only one worker configures or sweeps a given game at a time even when
// several bot instances share a database.
package locks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/teamtf/scrim-bot/internal/obslog"
	"go.uber.org/zap"
)

const keyPrefix = "scrimbot:lease:"

// releaseScript deletes the lease only when the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript refreshes the expiry only when the caller still owns the
// lease, so a takeover after expiry is never extended by the old holder.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

type Lease struct {
	key   string
	token string
}

type Manager struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewManager(rdb *redis.Client, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Manager{rdb: rdb, ttl: ttl}
}

// Acquire takes the lease for name. Returns (nil, false, nil) when another
// worker holds it.
func (m *Manager) Acquire(ctx context.Context, name string) (*Lease, bool, error) {
	key := keyPrefix + name
	token := uuid.NewString()

	ok, err := m.rdb.SetNX(ctx, key, token, m.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lease %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &Lease{key: key, token: token}, true, nil
}

// Release frees the lease. Releasing a lease that already expired or was
// taken over is a no-op.
func (m *Manager) Release(ctx context.Context, lease *Lease) error {
	if lease == nil {
		return nil
	}
	deleted, err := releaseScript.Run(ctx, m.rdb, []string{lease.key}, lease.token).Int()
	if err != nil {
		return fmt.Errorf("release lease %s: %w", lease.key, err)
	}
	if deleted == 0 {
		obslog.L().Warn("lease_release_not_owner", zap.String("key", lease.key))
	}
	return nil
}

// Extend pushes the lease expiry out by the manager TTL when the caller
// still owns it.
func (m *Manager) Extend(ctx context.Context, lease *Lease) (bool, error) {
	if lease == nil {
		return false, nil
	}
	extended, err := extendScript.Run(ctx, m.rdb, []string{lease.key}, lease.token, m.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("extend lease %s: %w", lease.key, err)
	}
	return extended == 1, nil
}
