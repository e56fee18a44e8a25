package service

import (
	"context"
	"errors"

	"github.com/trustgate/trustgate/internal/crypto"
	"github.com/trustgate/trustgate/internal/logger"
	"github.com/trustgate/trustgate/internal/metrics"
	"github.com/trustgate/trustgate/internal/model"
	"github.com/trustgate/trustgate/internal/repository"
)

// RBAC service errors
var (
	ErrRoleNotFound = errors.New("role not found")
)

// RBACService handles roles, permissions, and access checks
type RBACService struct {
	rbacRepo *repository.RBACRepository
	crypto   *crypto.Service
	events   EventSink
	log      *logger.Logger
}

// NewRBACService creates a new RBACService
func NewRBACService(
	rbacRepo *repository.RBACRepository,
	cryptoSvc *crypto.Service,
	events EventSink,
	log *logger.Logger,
) *RBACService {
	return &RBACService{
		rbacRepo: rbacRepo,
		crypto:   cryptoSvc,
		events:   events,
		log:      log.WithComponent("rbac_service"),
	}
}

// CreateRole persists a role definition. Listed permission ids are not
// checked for existence; permissions resolve lazily at check time, so
// a dangling reference simply never matches.
func (s *RBACService) CreateRole(ctx context.Context, role *model.Role) (*model.Role, error) {
	if role.ID == "" {
		role.ID = s.crypto.NewID("role")
	}
	if err := s.rbacRepo.SaveRole(ctx, role); err != nil {
		s.log.Error().Err(err).Str("role_id", role.ID).Msg("failed to store role")
		return nil, ErrStoreUnavailable
	}

	emitEvent(ctx, s.events, s.log, model.EventRoleCreated, nil, map[string]interface{}{
		"roleId": role.ID,
		"name":   role.Name,
	})
	s.log.Info().Str("role_id", role.ID).Str("name", role.Name).Msg("role created")
	return role, nil
}

// CreatePermission persists a permission definition
func (s *RBACService) CreatePermission(ctx context.Context, perm *model.Permission) (*model.Permission, error) {
	if perm.ID == "" {
		perm.ID = s.crypto.NewID("perm")
	}
	if err := s.rbacRepo.SavePermission(ctx, perm); err != nil {
		s.log.Error().Err(err).Str("permission_id", perm.ID).Msg("failed to store permission")
		return nil, ErrStoreUnavailable
	}

	emitEvent(ctx, s.events, s.log, model.EventPermissionCreated, nil, map[string]interface{}{
		"permissionId": perm.ID,
		"resource":     perm.Resource,
		"action":       perm.Action,
	})
	s.log.Info().Str("permission_id", perm.ID).Msg("permission created")
	return perm, nil
}

// AssignRole adds a role to a user's role set. Re-assigning a held
// role is a no-op; the role id is not checked for existence, since a
// dangling assignment grants nothing.
func (s *RBACService) AssignRole(ctx context.Context, userID, roleID string) error {
	if err := s.rbacRepo.AssignRole(ctx, userID, roleID); err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Str("role_id", roleID).Msg("failed to assign role")
		return ErrStoreUnavailable
	}

	emitEvent(ctx, s.events, s.log, model.EventRoleAssigned, eventUser(userID), map[string]interface{}{
		"roleId": roleID,
	})
	s.log.Info().Str("user_id", userID).Str("role_id", roleID).Msg("role assigned")
	return nil
}

// UnassignRole removes a role from a user's role set
func (s *RBACService) UnassignRole(ctx context.Context, userID, roleID string) error {
	if err := s.rbacRepo.UnassignRole(ctx, userID, roleID); err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Str("role_id", roleID).Msg("failed to unassign role")
		return ErrStoreUnavailable
	}

	emitEvent(ctx, s.events, s.log, model.EventRoleUnassigned, eventUser(userID), map[string]interface{}{
		"roleId": roleID,
	})
	s.log.Info().Str("user_id", userID).Str("role_id", roleID).Msg("role unassigned")
	return nil
}

// GetRole retrieves a role definition
func (s *RBACService) GetRole(ctx context.Context, roleID string) (*model.Role, error) {
	role, err := s.rbacRepo.GetRole(ctx, roleID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRoleNotFound
		}
		s.log.Error().Err(err).Str("role_id", roleID).Msg("failed to load role")
		return nil, storedReadError(err)
	}
	return role, nil
}

// ListRoles returns all role definitions
func (s *RBACService) ListRoles(ctx context.Context) ([]*model.Role, error) {
	roles, err := s.rbacRepo.ListRoles(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list roles")
		return nil, storedReadError(err)
	}
	return roles, nil
}

// ListUserRoles resolves the role definitions assigned to a user.
// Dangling assignments are skipped.
func (s *RBACService) ListUserRoles(ctx context.Context, userID string) ([]*model.Role, error) {
	roleIDs, err := s.rbacRepo.UserRoles(ctx, userID)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("failed to load role set")
		return nil, storedReadError(err)
	}

	roles := make([]*model.Role, 0, len(roleIDs))
	for _, roleID := range roleIDs {
		role, err := s.rbacRepo.GetRole(ctx, roleID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			s.log.Error().Err(err).Str("role_id", roleID).Msg("failed to load role")
			return nil, storedReadError(err)
		}
		roles = append(roles, role)
	}
	return roles, nil
}

// HasPermission resolves the user's roles and the union of their
// permissions, and grants only on an exact (resource, action) match
// whose conditions are all satisfied by the request context. Missing
// roles, missing permissions, failing conditions, store failures, and
// malformed records all deny. Every call emits a permission_check
// event, granted or not.
func (s *RBACService) HasPermission(ctx context.Context, userID, resource, action string, reqCtx map[string]string) bool {
	allowed := s.evaluate(ctx, userID, resource, action, reqCtx)

	emitEvent(ctx, s.events, s.log, model.EventPermissionCheck, eventUser(userID), map[string]interface{}{
		"resource": resource,
		"action":   action,
		"allowed":  allowed,
	})
	metrics.PermissionChecks.WithLabelValues(permissionOutcome(allowed)).Inc()
	return allowed
}

func (s *RBACService) evaluate(ctx context.Context, userID, resource, action string, reqCtx map[string]string) bool {
	roleIDs, err := s.rbacRepo.UserRoles(ctx, userID)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("permission check failed to load role set")
		return false
	}

	for _, roleID := range roleIDs {
		role, err := s.rbacRepo.GetRole(ctx, roleID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				// Dangling assignment grants nothing.
				continue
			}
			s.log.Error().Err(err).Str("role_id", roleID).Msg("permission check failed to load role")
			return false
		}

		for _, permID := range role.Permissions {
			perm, err := s.rbacRepo.GetPermission(ctx, permID)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					// Dangling reference never matches.
					continue
				}
				s.log.Error().Err(err).Str("permission_id", permID).Msg("permission check failed to load permission")
				return false
			}
			if perm.Resource != resource || perm.Action != action {
				continue
			}
			if conditionsMatch(perm.Conditions, reqCtx) {
				return true
			}
		}
	}
	return false
}

// conditionsMatch reports whether every condition key equals the
// corresponding context field. A condition whose field is absent from
// the context is a non-match.
func conditionsMatch(conditions, reqCtx map[string]string) bool {
	for key, want := range conditions {
		got, ok := reqCtx[key]
		if !ok || got != want {
			return false
		}
	}
	return true
}

func permissionOutcome(allowed bool) string {
	if allowed {
		return "granted"
	}
	return "denied"
}
