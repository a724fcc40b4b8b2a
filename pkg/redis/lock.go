package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/storefront-backend/pkg/instance"
)

const defaultLockTTL = 30 * time.Second

// LockStore is the subset of Client a Lock needs.
type LockStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

// Lock is a lease on one key. It is advisory: if the holder outlives ttl the
// key expires and another process may take it, so callers keep their own
// database-level guards.
type Lock struct {
	store LockStore
	key   string
	ttl   time.Duration
	token string
}

func NewLock(store LockStore, key string, ttl time.Duration) (*Lock, error) {
	switch {
	case store == nil:
		return nil, errors.New("lock store is required")
	case key == "":
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &Lock{store: store, key: key, ttl: ttl}, nil
}

// Acquire returns false without error when someone else holds the key. The
// stored token is "<instance>:<uuid>" so a stuck lock can be traced to a pod.
func (l *Lock) Acquire(ctx context.Context) (bool, error) {
	token := instance.GetID() + ":" + uuid.NewString()
	ok, err := l.store.SetNX(ctx, l.key, token, l.ttl)
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", l.key, err)
	}
	if ok {
		l.token = token
	}
	return ok, nil
}

// Release deletes the key if this Lock still owns it. Releasing a lock that
// was never acquired, or that expired and was taken over, is a no-op.
func (l *Lock) Release(ctx context.Context) error {
	if l.token == "" {
		return nil
	}
	current, err := l.store.Get(ctx, l.key)
	switch {
	case errors.Is(err, redis.Nil):
		l.token = ""
		return nil
	case err != nil:
		return fmt.Errorf("read %s owner: %w", l.key, err)
	case current != l.token:
		l.token = ""
		return nil
	}
	if err := l.store.Del(ctx, l.key); err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	l.token = ""
	return nil
}
