/*
Package lock provides advisory locks that serialize sync runs.

Two syncs over overlapping date ranges can both miss a natural key and try
to insert it. Runs therefore hold a lock keyed by report kind for their
whole duration. A lock that is already held fails fast with
ledger.ErrSyncInProgress; callers do not queue.

IMPLEMENTATIONS:
  Redis: bsm/redislock, shared across processes
  Local: in-process, for a single server or tests
*/
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/warp/reimbursement-engine/ledger"
)

// Locker hands out exclusive leases by key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// Lease is a held lock.
type Lease interface {
	Release(ctx context.Context) error
}

// SyncKey is the lock key for syncs of a report kind.
func SyncKey(kind string) string {
	return "report-sync:" + kind
}

// =============================================================================
// REDIS
// =============================================================================

// Redis is a Locker backed by redislock.
type Redis struct {
	client *redislock.Client
}

// NewRedis wraps an existing redis client.
func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{client: redislock.New(rdb)}
}

// DialRedis connects to addr and verifies the connection.
func DialRedis(ctx context.Context, addr, password string, db int) (*Redis, *redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return NewRedis(rdb), rdb, nil
}

func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	l, err := r.client.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", ledger.ErrSyncInProgress, key)
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}
	return redisLease{lock: l}, nil
}

type redisLease struct {
	lock *redislock.Lock
}

func (l redisLease) Release(ctx context.Context) error {
	err := l.lock.Release(ctx)
	if errors.Is(err, redislock.ErrLockNotHeld) {
		// expired before release
		return nil
	}
	return err
}

// =============================================================================
// LOCAL
// =============================================================================

// Local is an in-process Locker. TTLs are honoured so a crashed holder
// cannot block a key forever.
type Local struct {
	mu   sync.Mutex
	held map[string]time.Time // key -> expiry
	now  func() time.Time
}

func NewLocal() *Local {
	return &Local{held: make(map[string]time.Time), now: time.Now}
}

func (l *Local) Acquire(_ context.Context, key string, ttl time.Duration) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if expiry, ok := l.held[key]; ok && now.Before(expiry) {
		return nil, fmt.Errorf("%w: %s", ledger.ErrSyncInProgress, key)
	}
	expiry := now.Add(ttl)
	l.held[key] = expiry
	return &localLease{owner: l, key: key, expiry: expiry}, nil
}

type localLease struct {
	owner  *Local
	key    string
	expiry time.Time
	once   sync.Once
}

func (l *localLease) Release(context.Context) error {
	l.once.Do(func() {
		l.owner.mu.Lock()
		defer l.owner.mu.Unlock()
		// Only drop the entry if it is still ours.
		if exp, ok := l.owner.held[l.key]; ok && exp.Equal(l.expiry) {
			delete(l.owner.held, l.key)
		}
	})
	return nil
}
