package rbac

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iers-platform/iers/internal/audit"
)

func newTestAdmin(t *testing.T) (*AdminService, *memoryRepo, *Resolver, *memoryRecorder) {
	t.Helper()
	repo := newMemoryRepo()
	resolver, _ := newTestResolver(t, repo)
	recorder := &memoryRecorder{}
	return NewAdminService(repo, resolver, recorder, quietLogger()), repo, resolver, recorder
}

func TestGrantInvalidatesRoleAndRecordsEvent(t *testing.T) {
	svc, repo, resolver, recorder := newTestAdmin(t)
	repo.seed("MANAGER", PermAuditRead)
	repo.seed("", PermFeatureToggle)
	ctx := context.Background()
	admin := &Actor{ID: 1, Role: "ADMIN"}

	before, err := resolver.PermissionsForRole(ctx, "MANAGER")
	require.NoError(t, err)
	assert.False(t, before.Has(PermFeatureToggle))

	changed, err := svc.Grant(ctx, admin, "manager", PermFeatureToggle)
	require.NoError(t, err)
	assert.True(t, changed)

	after, err := resolver.PermissionsForRole(ctx, "MANAGER")
	require.NoError(t, err)
	assert.True(t, after.Has(PermFeatureToggle))
	assert.Equal(t, 2, repo.calls("MANAGER"))

	require.Len(t, recorder.events, 1)
	ev := recorder.events[0]
	assert.Equal(t, audit.ActionRolePermissionGranted, ev.Action)
	assert.Equal(t, "role_permissions", ev.Entity)
	assert.Equal(t, "MANAGER", ev.EntityID)
	require.NotNil(t, ev.ActorID)
	assert.Equal(t, int64(1), *ev.ActorID)
	assert.Equal(t, PermFeatureToggle, ev.Meta["permission"])
}

func TestGrantIsIdempotent(t *testing.T) {
	svc, repo, _, recorder := newTestAdmin(t)
	repo.seed("MANAGER", PermAuditRead)

	changed, err := svc.Grant(context.Background(), nil, "MANAGER", PermAuditRead)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Empty(t, recorder.events)
}

func TestRevokeInvalidatesRole(t *testing.T) {
	svc, repo, resolver, recorder := newTestAdmin(t)
	repo.seed("MANAGER", PermAuditRead, PermPermissionRead)
	ctx := context.Background()

	_, err := resolver.PermissionsForRole(ctx, "MANAGER")
	require.NoError(t, err)

	changed, err := svc.Revoke(ctx, &Actor{ID: 2, Role: "ADMIN"}, "MANAGER", PermAuditRead)
	require.NoError(t, err)
	assert.True(t, changed)

	perms, err := resolver.PermissionsForRole(ctx, "MANAGER")
	require.NoError(t, err)
	assert.False(t, perms.Has(PermAuditRead))
	assert.True(t, perms.Has(PermPermissionRead))
	require.Len(t, recorder.events, 1)
	assert.Equal(t, audit.ActionRolePermissionRevoked, recorder.events[0].Action)
}

func TestGrantUnknownPermission(t *testing.T) {
	svc, _, _, _ := newTestAdmin(t)
	_, err := svc.Grant(context.Background(), nil, "MANAGER", "iers:nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Grant(context.Background(), nil, " ", PermAuditRead)
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func TestGrantSucceedsWhenAuditSinkFails(t *testing.T) {
	svc, repo, _, recorder := newTestAdmin(t)
	repo.seed("", PermAuditRead)
	recorder.err = errors.New("audit down")

	changed, err := svc.Grant(context.Background(), &Actor{ID: 1, Role: "ADMIN"}, "DEAN", PermAuditRead)
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestCreatePermissionValidatesAndNormalises(t *testing.T) {
	svc, _, _, recorder := newTestAdmin(t)
	ctx := context.Background()

	_, err := svc.CreatePermission(ctx, nil, Permission{Slug: "iers:x:y", Module: " "})
	assert.ErrorIs(t, err, ErrInvalidPermission)

	created, err := svc.CreatePermission(ctx, nil, Permission{Slug: " IERS:PhD:Thesis:Approve ", Module: "PhD", Action: "Approve"})
	require.NoError(t, err)
	assert.Equal(t, "iers:phd:thesis:approve", created.Slug)
	assert.Equal(t, "phd", created.Module)
	require.Len(t, recorder.events, 1)
	assert.Nil(t, recorder.events[0].ActorID)

	_, err = svc.CreatePermission(ctx, nil, Permission{Slug: "iers:phd:thesis:approve", Module: "phd", Action: "approve"})
	assert.ErrorIs(t, err, ErrDuplicate)
}
