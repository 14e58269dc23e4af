package formsession

import (
	"context"
	"sync"
	"time"

	pkgredis "github.com/mx-space/portal/internal/pkg/redis"
)

// Leases tracks which sessions a browser is still holding open. A session
// whose lease lapses is treated as an unloaded page.
type Leases interface {
	Grant(ctx context.Context, id string, ttl time.Duration) error
	// Renew extends a lease and reports false when it had already lapsed.
	Renew(ctx context.Context, id string, ttl time.Duration) (bool, error)
	Alive(ctx context.Context, id string) (bool, error)
	Revoke(ctx context.Context, id string) error
}

// MemoryLeases keeps leases in process.
type MemoryLeases struct {
	mu        sync.Mutex
	deadlines map[string]time.Time
	now       func() time.Time
}

func NewMemoryLeases() *MemoryLeases {
	return &MemoryLeases{deadlines: make(map[string]time.Time), now: time.Now}
}

func (m *MemoryLeases) Grant(_ context.Context, id string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadlines[id] = m.now().Add(ttl)
	return nil
}

func (m *MemoryLeases) Renew(_ context.Context, id string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deadline, ok := m.deadlines[id]
	if !ok || !m.now().Before(deadline) {
		delete(m.deadlines, id)
		return false, nil
	}
	m.deadlines[id] = m.now().Add(ttl)
	return true, nil
}

func (m *MemoryLeases) Alive(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deadline, ok := m.deadlines[id]
	return ok && m.now().Before(deadline), nil
}

func (m *MemoryLeases) Revoke(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.deadlines, id)
	return nil
}

// RedisLeases stores leases as expiring keys so every instance behind the
// load balancer sees the same set of live sessions.
type RedisLeases struct {
	rc *pkgredis.Client
}

func NewRedisLeases(rc *pkgredis.Client) *RedisLeases {
	return &RedisLeases{rc: rc}
}

func leaseKey(id string) string { return "portal:form-session:" + id }

func (r *RedisLeases) Grant(ctx context.Context, id string, ttl time.Duration) error {
	return r.rc.Set(ctx, leaseKey(id), time.Now().Unix(), ttl)
}

func (r *RedisLeases) Renew(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	return r.rc.Expire(ctx, leaseKey(id), ttl)
}

func (r *RedisLeases) Alive(ctx context.Context, id string) (bool, error) {
	return r.rc.Exists(ctx, leaseKey(id))
}

func (r *RedisLeases) Revoke(ctx context.Context, id string) error {
	return r.rc.Del(ctx, leaseKey(id))
}
