package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/jrsteele09/go-session-gateway/internal/errors"
	"github.com/redis/go-redis/v9"
)

const (
	lockKeyPrefix    = "refresh-lock-"
	handoffKeyPrefix = "refreshed-"
)

// RefreshLock serialises refreshes of one access token across gateway
// instances. The instance holding the lease performs the refresh and publishes
// the jti of the replacement session so that the others can adopt it.
type RefreshLock interface {
	// Acquire tries to take the lease for jti. A nil Lease with a nil error
	// means another holder owns it.
	Acquire(ctx context.Context, jti string) (*Lease, error)
	Release(ctx context.Context, lease *Lease) error
	// Held reports whether any holder currently owns the lease for jti.
	Held(ctx context.Context, jti string) (bool, error)
	// Publish records that oldJTI was replaced by newJTI.
	Publish(ctx context.Context, oldJTI, newJTI string) error
	// Result returns the replacement published for oldJTI, if any.
	Result(ctx context.Context, oldJTI string) (string, bool, error)
}

// Lease is a held refresh lock.
type Lease struct {
	JTI   string
	owner string
}

// releaseScript deletes the lock only if it still belongs to the caller.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisRefreshLock struct {
	client     redis.UniversalClient
	lockTTL    time.Duration
	handoffTTL time.Duration
}

var _ RefreshLock = (*RedisRefreshLock)(nil)

// NewRedisRefreshLock creates a lock whose leases expire after lockTTL and
// whose hand-off markers expire after handoffTTL.
func NewRedisRefreshLock(client redis.UniversalClient, lockTTL, handoffTTL time.Duration) *RedisRefreshLock {
	return &RedisRefreshLock{
		client:     client,
		lockTTL:    lockTTL,
		handoffTTL: handoffTTL,
	}
}

func (l *RedisRefreshLock) Acquire(ctx context.Context, jti string) (*Lease, error) {
	owner := uuid.NewString()
	ok, err := l.client.SetNX(ctx, lockKeyPrefix+jti, owner, l.lockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: acquire refresh lock: %v", apperrors.ErrStoreUnavailable, err)
	}
	if !ok {
		return nil, nil
	}
	return &Lease{JTI: jti, owner: owner}, nil
}

func (l *RedisRefreshLock) Release(ctx context.Context, lease *Lease) error {
	if lease == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, l.client, []string{lockKeyPrefix + lease.JTI}, lease.owner).Err(); err != nil {
		return fmt.Errorf("%w: release refresh lock: %v", apperrors.ErrStoreUnavailable, err)
	}
	return nil
}

func (l *RedisRefreshLock) Held(ctx context.Context, jti string) (bool, error) {
	n, err := l.client.Exists(ctx, lockKeyPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("%w: refresh lock state: %v", apperrors.ErrStoreUnavailable, err)
	}
	return n > 0, nil
}

func (l *RedisRefreshLock) Publish(ctx context.Context, oldJTI, newJTI string) error {
	if err := l.client.Set(ctx, handoffKeyPrefix+oldJTI, newJTI, l.handoffTTL).Err(); err != nil {
		return fmt.Errorf("%w: publish refresh result: %v", apperrors.ErrStoreUnavailable, err)
	}
	return nil
}

func (l *RedisRefreshLock) Result(ctx context.Context, oldJTI string) (string, bool, error) {
	newJTI, err := l.client.Get(ctx, handoffKeyPrefix+oldJTI).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: refresh result: %v", apperrors.ErrStoreUnavailable, err)
	}
	return newJTI, true, nil
}
