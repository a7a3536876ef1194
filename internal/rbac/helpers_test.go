package rbac

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/iers-platform/iers/internal/audit"
	"github.com/iers-platform/iers/internal/cache"
	platformcache "github.com/iers-platform/iers/internal/platform/cache"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memoryRepo is an in-memory AdminRepository.
type memoryRepo struct {
	mu         sync.Mutex
	perms      map[string]Permission
	grants     map[string]map[int64]struct{}
	nextID     int64
	fetchCalls map[string]int
	fetchErr   error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		perms:      map[string]Permission{},
		grants:     map[string]map[int64]struct{}{},
		fetchCalls: map[string]int{},
	}
}

func (m *memoryRepo) seed(role string, slugs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, slug := range slugs {
		p, ok := m.perms[slug]
		if !ok {
			m.nextID++
			p = Permission{ID: m.nextID, Slug: slug, Module: "system", Action: "read", CreatedAt: time.Now()}
			m.perms[slug] = p
		}
		if role == "" {
			continue
		}
		if m.grants[role] == nil {
			m.grants[role] = map[int64]struct{}{}
		}
		m.grants[role][p.ID] = struct{}{}
	}
}

func (m *memoryRepo) calls(role string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetchCalls[role]
}

func (m *memoryRepo) PermissionSlugsForRole(ctx context.Context, role string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchCalls[role]++
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	slugs := []string{}
	for _, p := range m.perms {
		if _, ok := m.grants[role][p.ID]; ok {
			slugs = append(slugs, p.Slug)
		}
	}
	sort.Strings(slugs)
	return slugs, nil
}

func (m *memoryRepo) ListPermissions(ctx context.Context) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Permission, 0, len(m.perms))
	for _, p := range m.perms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (m *memoryRepo) GetPermissionBySlug(ctx context.Context, slug string) (Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.perms[slug]
	if !ok {
		return Permission{}, ErrNotFound
	}
	return p, nil
}

func (m *memoryRepo) CreatePermission(ctx context.Context, p Permission) (Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.perms[p.Slug]; ok {
		return Permission{}, ErrDuplicate
	}
	m.nextID++
	p.ID = m.nextID
	p.CreatedAt = time.Now()
	m.perms[p.Slug] = p
	return p, nil
}

func (m *memoryRepo) UpdatePermissionDescription(ctx context.Context, id int64, description string) (Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for slug, p := range m.perms {
		if p.ID == id {
			p.Description = description
			m.perms[slug] = p
			return p, nil
		}
	}
	return Permission{}, ErrNotFound
}

func (m *memoryRepo) ListRolePermissions(ctx context.Context, role string) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Permission
	for _, p := range m.perms {
		if _, ok := m.grants[role][p.ID]; ok {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (m *memoryRepo) AttachPermission(ctx context.Context, role string, permissionID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.grants[role] == nil {
		m.grants[role] = map[int64]struct{}{}
	}
	if _, ok := m.grants[role][permissionID]; ok {
		return false, nil
	}
	m.grants[role][permissionID] = struct{}{}
	return true, nil
}

func (m *memoryRepo) DetachPermission(ctx context.Context, role string, permissionID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.grants[role][permissionID]; !ok {
		return false, nil
	}
	delete(m.grants[role], permissionID)
	return true, nil
}

type memoryRecorder struct {
	mu     sync.Mutex
	events []audit.Event
	err    error
}

func (r *memoryRecorder) Record(ctx context.Context, e audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, e)
	return nil
}

type countingObserver struct {
	mu      sync.Mutex
	reasons []string
}

func (o *countingObserver) ObserveDenial(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reasons = append(o.reasons, reason)
}

var errStoreDown = errors.New("store down")

func newTestResolver(t *testing.T, repo PermissionSource) (*Resolver, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	svc := cache.NewService(platformcache.NewRedisStore(client), quietLogger(), "")
	return NewResolver(repo, svc, time.Hour, quietLogger()), mr
}
