package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRefreshLock is a process-local RefreshLock for single instance
// deployments and tests.
type InMemoryRefreshLock struct {
	mu         sync.Mutex
	lockTTL    time.Duration
	handoffTTL time.Duration
	now        func() time.Time
	leases     map[string]entry
	handoffs   map[string]entry
}

type entry struct {
	value   string
	expires time.Time
}

var _ RefreshLock = (*InMemoryRefreshLock)(nil)

func NewInMemoryRefreshLock(lockTTL, handoffTTL time.Duration) *InMemoryRefreshLock {
	return &InMemoryRefreshLock{
		lockTTL:    lockTTL,
		handoffTTL: handoffTTL,
		now:        time.Now,
		leases:     make(map[string]entry),
		handoffs:   make(map[string]entry),
	}
}

func (l *InMemoryRefreshLock) live(m map[string]entry, key string) (entry, bool) {
	e, ok := m[key]
	if !ok {
		return entry{}, false
	}
	if !l.now().Before(e.expires) {
		delete(m, key)
		return entry{}, false
	}
	return e, true
}

func (l *InMemoryRefreshLock) Acquire(_ context.Context, jti string) (*Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, held := l.live(l.leases, jti); held {
		return nil, nil
	}
	owner := uuid.NewString()
	l.leases[jti] = entry{value: owner, expires: l.now().Add(l.lockTTL)}
	return &Lease{JTI: jti, owner: owner}, nil
}

func (l *InMemoryRefreshLock) Release(_ context.Context, lease *Lease) error {
	if lease == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.leases[lease.JTI]; ok && e.value == lease.owner {
		delete(l.leases, lease.JTI)
	}
	return nil
}

func (l *InMemoryRefreshLock) Held(_ context.Context, jti string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, held := l.live(l.leases, jti)
	return held, nil
}

func (l *InMemoryRefreshLock) Publish(_ context.Context, oldJTI, newJTI string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handoffs[oldJTI] = entry{value: newJTI, expires: l.now().Add(l.handoffTTL)}
	return nil
}

func (l *InMemoryRefreshLock) Result(_ context.Context, oldJTI string) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.live(l.handoffs, oldJTI)
	return e.value, ok, nil
}
