package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/trustgate/trustgate/internal/model"
	"github.com/trustgate/trustgate/internal/store"
)

const (
	rbacRoleKeyPrefix = "rbac:role:"
	rbacPermKeyPrefix = "rbac:perm:"
)

func rbacRoleKey(roleID string) string      { return rbacRoleKeyPrefix + roleID }
func rbacPermKey(permID string) string      { return rbacPermKeyPrefix + permID }
func rbacUserRolesKey(userID string) string { return "rbac:user:" + userID + ":roles" }

// RBACRepository handles role, permission, and assignment persistence
type RBACRepository struct {
	st store.Store
}

// NewRBACRepository creates a new RBACRepository
func NewRBACRepository(st store.Store) *RBACRepository {
	return &RBACRepository{st: st}
}

// SaveRole persists a role definition
func (r *RBACRepository) SaveRole(ctx context.Context, role *model.Role) error {
	perms, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("failed to encode role permissions: %w", err)
	}
	fields := map[string]string{
		"name":        role.Name,
		"permissions": string(perms),
	}
	if err := r.st.HSet(ctx, rbacRoleKey(role.ID), fields); err != nil {
		return fmt.Errorf("failed to store role: %w", err)
	}
	return nil
}

// GetRole retrieves a role by ID
func (r *RBACRepository) GetRole(ctx context.Context, roleID string) (*model.Role, error) {
	fields, err := r.st.HGetAll(ctx, rbacRoleKey(roleID))
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	role := &model.Role{ID: roleID, Name: fields["name"]}
	if raw := fields["permissions"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &role.Permissions); err != nil {
			return nil, fmt.Errorf("%w: role permissions: %v", ErrMalformedRecord, err)
		}
	}
	return role, nil
}

// ListRoles returns all role definitions ordered by ID
func (r *RBACRepository) ListRoles(ctx context.Context) ([]*model.Role, error) {
	keys, err := r.st.Keys(ctx, rbacRoleKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	sort.Strings(keys)

	roles := make([]*model.Role, 0, len(keys))
	for _, key := range keys {
		role, err := r.GetRole(ctx, key[len(rbacRoleKeyPrefix):])
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, nil
}

// SavePermission persists a permission definition
func (r *RBACRepository) SavePermission(ctx context.Context, perm *model.Permission) error {
	conds, err := json.Marshal(perm.Conditions)
	if err != nil {
		return fmt.Errorf("failed to encode permission conditions: %w", err)
	}
	fields := map[string]string{
		"resource":   perm.Resource,
		"action":     perm.Action,
		"conditions": string(conds),
	}
	if err := r.st.HSet(ctx, rbacPermKey(perm.ID), fields); err != nil {
		return fmt.Errorf("failed to store permission: %w", err)
	}
	return nil
}

// GetPermission retrieves a permission by ID
func (r *RBACRepository) GetPermission(ctx context.Context, permID string) (*model.Permission, error) {
	fields, err := r.st.HGetAll(ctx, rbacPermKey(permID))
	if err != nil {
		return nil, fmt.Errorf("failed to get permission: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	perm := &model.Permission{
		ID:       permID,
		Resource: fields["resource"],
		Action:   fields["action"],
	}
	if raw := fields["conditions"]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &perm.Conditions); err != nil {
			return nil, fmt.Errorf("%w: permission conditions: %v", ErrMalformedRecord, err)
		}
	}
	return perm, nil
}

// AssignRole adds a role to a user's role set. Assigning an already
// held role is a no-op.
func (r *RBACRepository) AssignRole(ctx context.Context, userID, roleID string) error {
	if err := r.st.SAdd(ctx, rbacUserRolesKey(userID), roleID); err != nil {
		return fmt.Errorf("failed to assign role: %w", err)
	}
	return nil
}

// UnassignRole removes a role from a user's role set
func (r *RBACRepository) UnassignRole(ctx context.Context, userID, roleID string) error {
	if err := r.st.SRem(ctx, rbacUserRolesKey(userID), roleID); err != nil {
		return fmt.Errorf("failed to unassign role: %w", err)
	}
	return nil
}

// UserRoles returns the IDs of all roles assigned to a user
func (r *RBACRepository) UserRoles(ctx context.Context, userID string) ([]string, error) {
	roleIDs, err := r.st.SMembers(ctx, rbacUserRolesKey(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to get user roles: %w", err)
	}
	sort.Strings(roleIDs)
	return roleIDs, nil
}
