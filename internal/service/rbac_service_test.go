package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/trustgate/trustgate/internal/model"
	"github.com/trustgate/trustgate/internal/repository"
	"github.com/trustgate/trustgate/internal/store"
)

type rbacFixture struct {
	svc  *RBACService
	mem  *store.Memory
	sink *captureSink
}

func newRBACFixture(t *testing.T) *rbacFixture {
	t.Helper()
	mem := store.NewMemory()
	sink := &captureSink{}
	svc := NewRBACService(repository.NewRBACRepository(mem), newTestCrypto(t), sink, testLogger())
	return &rbacFixture{svc: svc, mem: mem, sink: sink}
}

// grant wires user -> role -> permission and returns the ids
func (f *rbacFixture) grant(t *testing.T, userID, resource, action string, conditions map[string]string) (roleID, permID string) {
	t.Helper()
	ctx := context.Background()

	perm, err := f.svc.CreatePermission(ctx, &model.Permission{
		Resource:   resource,
		Action:     action,
		Conditions: conditions,
	})
	require.NoError(t, err)

	role, err := f.svc.CreateRole(ctx, &model.Role{
		Name:        "granting " + resource + ":" + action,
		Permissions: []string{perm.ID},
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.AssignRole(ctx, userID, role.ID))
	return role.ID, perm.ID
}

func TestHasPermissionDenyByDefault(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("no roles at all", func(t *testing.T) {
		f := newRBACFixture(t)
		require.False(t, f.svc.HasPermission(ctx, "user-1", "documents", "read", nil))
	})

	t.Run("role without a matching permission", func(t *testing.T) {
		f := newRBACFixture(t)
		f.grant(t, "user-1", "documents", "read", nil)
		require.False(t, f.svc.HasPermission(ctx, "user-1", "documents", "delete", nil))
		require.False(t, f.svc.HasPermission(ctx, "billing", "documents", "read", nil))
	})

	t.Run("failing condition", func(t *testing.T) {
		f := newRBACFixture(t)
		f.grant(t, "user-1", "documents", "read", map[string]string{"projectId": "123"})
		require.False(t, f.svc.HasPermission(ctx, "user-1", "documents", "read", map[string]string{"projectId": "999"}))
	})
}

func TestHasPermissionGrants(t *testing.T) {
	t.Parallel()
	f := newRBACFixture(t)
	ctx := context.Background()

	f.grant(t, "user-1", "documents", "read", nil)

	require.True(t, f.svc.HasPermission(ctx, "user-1", "documents", "read", nil))
	require.True(t, f.svc.HasPermission(ctx, "user-1", "documents", "read", map[string]string{"extra": "ignored"}))
}

func TestHasPermissionConditions(t *testing.T) {
	t.Parallel()
	f := newRBACFixture(t)
	ctx := context.Background()

	f.grant(t, "user-1", "documents", "read", map[string]string{"projectId": "123"})

	require.True(t, f.svc.HasPermission(ctx, "user-1", "documents", "read", map[string]string{"projectId": "123"}))
	require.False(t, f.svc.HasPermission(ctx, "user-1", "documents", "read", map[string]string{"projectId": "124"}))
	require.False(t, f.svc.HasPermission(ctx, "user-1", "documents", "read", map[string]string{"other": "123"}),
		"a condition whose context field is absent must not match")
	require.False(t, f.svc.HasPermission(ctx, "user-1", "documents", "read", nil))
}

func TestHasPermissionMultipleConditions(t *testing.T) {
	t.Parallel()
	f := newRBACFixture(t)
	ctx := context.Background()

	f.grant(t, "user-1", "documents", "read", map[string]string{
		"projectId": "123",
		"tier":      "gold",
	})

	require.True(t, f.svc.HasPermission(ctx, "user-1", "documents", "read",
		map[string]string{"projectId": "123", "tier": "gold"}))
	require.False(t, f.svc.HasPermission(ctx, "user-1", "documents", "read",
		map[string]string{"projectId": "123"}),
		"every condition must hold, not just one")
}

func TestHasPermissionUnionAcrossRoles(t *testing.T) {
	t.Parallel()
	f := newRBACFixture(t)
	ctx := context.Background()

	f.grant(t, "user-1", "documents", "read", nil)
	f.grant(t, "user-1", "billing", "view", nil)

	require.True(t, f.svc.HasPermission(ctx, "user-1", "documents", "read", nil))
	require.True(t, f.svc.HasPermission(ctx, "user-1", "billing", "view", nil))
}

// A conditional and an unconditional permission for the same
// (resource, action) pair: the unconditional one still grants when the
// conditional one fails.
func TestHasPermissionAnyMatchGrants(t *testing.T) {
	t.Parallel()
	f := newRBACFixture(t)
	ctx := context.Background()

	f.grant(t, "user-1", "documents", "read", map[string]string{"projectId": "123"})
	f.grant(t, "user-1", "documents", "read", nil)

	require.True(t, f.svc.HasPermission(ctx, "user-1", "documents", "read", map[string]string{"projectId": "999"}))
}

func TestHasPermissionDanglingReferences(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("role listing a nonexistent permission", func(t *testing.T) {
		f := newRBACFixture(t)
		role, err := f.svc.CreateRole(ctx, &model.Role{
			Name:        "broken",
			Permissions: []string{"perm_does-not-exist"},
		})
		require.NoError(t, err)
		require.NoError(t, f.svc.AssignRole(ctx, "user-1", role.ID))

		require.False(t, f.svc.HasPermission(ctx, "user-1", "documents", "read", nil))
	})

	t.Run("assignment to a nonexistent role", func(t *testing.T) {
		f := newRBACFixture(t)
		require.NoError(t, f.svc.AssignRole(ctx, "user-1", "role_ghost"))

		require.False(t, f.svc.HasPermission(ctx, "user-1", "documents", "read", nil))
	})
}

func TestHasPermissionMalformedRoleData(t *testing.T) {
	t.Parallel()
	f := newRBACFixture(t)
	ctx := context.Background()

	require.NoError(t, f.mem.HSet(ctx, "rbac:role:corrupt", map[string]string{
		"name":        "corrupt",
		"permissions": "{not json",
	}))
	require.NoError(t, f.svc.AssignRole(ctx, "user-1", "corrupt"))

	require.False(t, f.svc.HasPermission(ctx, "user-1", "documents", "read", nil))
}

// Every check emits a permission_check event, granted or denied.
func TestHasPermissionEmitsEventEveryCall(t *testing.T) {
	t.Parallel()
	f := newRBACFixture(t)
	ctx := context.Background()

	f.grant(t, "user-1", "documents", "read", nil)

	require.True(t, f.svc.HasPermission(ctx, "user-1", "documents", "read", nil))
	require.False(t, f.svc.HasPermission(ctx, "user-1", "documents", "delete", nil))

	checks := f.sink.byCategory(model.EventPermissionCheck)
	require.Len(t, checks, 2)
	require.Equal(t, true, checks[0].Payload["allowed"])
	require.Equal(t, "read", checks[0].Payload["action"])
	require.Equal(t, false, checks[1].Payload["allowed"])
	require.Equal(t, "delete", checks[1].Payload["action"])
}

func TestHasPermissionSinkFailureStillDecides(t *testing.T) {
	t.Parallel()
	f := newRBACFixture(t)
	f.sink.fail = true
	ctx := context.Background()

	f.grant(t, "user-1", "documents", "read", nil)
	require.True(t, f.svc.HasPermission(ctx, "user-1", "documents", "read", nil))
}

func TestAssignRoleIdempotent(t *testing.T) {
	t.Parallel()
	f := newRBACFixture(t)
	ctx := context.Background()

	roleID, _ := f.grant(t, "user-1", "documents", "read", nil)
	require.NoError(t, f.svc.AssignRole(ctx, "user-1", roleID))

	roles, err := f.svc.ListUserRoles(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, roles, 1)

	require.NoError(t, f.svc.UnassignRole(ctx, "user-1", roleID))
	roles, err = f.svc.ListUserRoles(ctx, "user-1")
	require.NoError(t, err)
	require.Empty(t, roles)
	require.False(t, f.svc.HasPermission(ctx, "user-1", "documents", "read", nil))
}

func TestRoleLifecycle(t *testing.T) {
	t.Parallel()
	f := newRBACFixture(t)
	ctx := context.Background()

	created, err := f.svc.CreateRole(ctx, &model.Role{Name: "auditor", Permissions: []string{"perm_a", "perm_b"}})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	got, err := f.svc.GetRole(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "auditor", got.Name)
	require.Equal(t, []string{"perm_a", "perm_b"}, got.Permissions)

	_, err = f.svc.GetRole(ctx, "role_missing")
	require.ErrorIs(t, err, ErrRoleNotFound)

	other, err := f.svc.CreateRole(ctx, &model.Role{ID: "role_fixed", Name: "fixed"})
	require.NoError(t, err)
	require.Equal(t, "role_fixed", other.ID)

	roles, err := f.svc.ListRoles(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 2)

	require.Len(t, f.sink.byCategory(model.EventRoleCreated), 2)
}

func TestConditionsMatch(t *testing.T) {
	t.Parallel()

	require.True(t, conditionsMatch(nil, nil))
	require.True(t, conditionsMatch(map[string]string{}, nil))
	require.True(t, conditionsMatch(map[string]string{"a": "1"}, map[string]string{"a": "1", "b": "2"}))
	require.False(t, conditionsMatch(map[string]string{"a": "1"}, map[string]string{"a": "2"}))
	require.False(t, conditionsMatch(map[string]string{"a": "1"}, nil))
	require.False(t, conditionsMatch(map[string]string{"a": "1", "b": "2"}, map[string]string{"a": "1"}))
}
