package handler

import (
	"errors"
	"net/http"

	"github.com/trustgate/trustgate/internal/model"
	"github.com/trustgate/trustgate/internal/service"
)

// --- Role and permission administration ---

type createRoleRequest struct {
	ID          string   `json:"id,omitempty"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions,omitempty"`
}

// CreateRole defines a role. Listed permission ids are not checked for
// existence; a dangling id simply never grants anything.
func (h *Handler) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "name is required")
		return
	}

	role, err := h.rbacSvc.CreateRole(r.Context(), &model.Role{
		ID:          req.ID,
		Name:        req.Name,
		Permissions: req.Permissions,
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "Failed to save role")
		return
	}

	writeJSON(w, http.StatusCreated, role)
}

// GetRole returns a role definition
func (h *Handler) GetRole(w http.ResponseWriter, r *http.Request) {
	role, err := h.rbacSvc.GetRole(r.Context(), r.PathValue("id"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrRoleNotFound):
			writeError(w, http.StatusNotFound, "role_not_found", "No such role")
		case errors.Is(err, service.ErrStoreUnavailable):
			writeError(w, http.StatusServiceUnavailable, "store_unavailable", "Backing store unavailable")
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", "Failed to load role")
		}
		return
	}

	writeJSON(w, http.StatusOK, role)
}

// ListRoles returns all role definitions
func (h *Handler) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.rbacSvc.ListRoles(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, service.ErrStoreUnavailable):
			writeError(w, http.StatusServiceUnavailable, "store_unavailable", "Backing store unavailable")
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", "Failed to list roles")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"roles": roles})
}

type createPermissionRequest struct {
	ID         string            `json:"id,omitempty"`
	Resource   string            `json:"resource"`
	Action     string            `json:"action"`
	Conditions map[string]string `json:"conditions,omitempty"`
}

// CreatePermission defines a permission
func (h *Handler) CreatePermission(w http.ResponseWriter, r *http.Request) {
	var req createPermissionRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	if req.Resource == "" || req.Action == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "resource and action are required")
		return
	}

	perm, err := h.rbacSvc.CreatePermission(r.Context(), &model.Permission{
		ID:         req.ID,
		Resource:   req.Resource,
		Action:     req.Action,
		Conditions: req.Conditions,
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "Failed to save permission")
		return
	}

	writeJSON(w, http.StatusCreated, perm)
}

// --- Assignments ---

type assignmentRequest struct {
	UserID string `json:"user_id"`
	RoleID string `json:"role_id"`
}

// AssignRole grants a role to a user. Assigning the same role twice is
// a no-op.
func (h *Handler) AssignRole(w http.ResponseWriter, r *http.Request) {
	var req assignmentRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	if req.UserID == "" || req.RoleID == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "user_id and role_id are required")
		return
	}

	if err := h.rbacSvc.AssignRole(r.Context(), req.UserID, req.RoleID); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "Failed to assign role")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Role assigned."})
}

// UnassignRole removes a role from a user
func (h *Handler) UnassignRole(w http.ResponseWriter, r *http.Request) {
	var req assignmentRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	if req.UserID == "" || req.RoleID == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "user_id and role_id are required")
		return
	}

	if err := h.rbacSvc.UnassignRole(r.Context(), req.UserID, req.RoleID); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "Failed to unassign role")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Role unassigned."})
}

// ListUserRoles returns the resolved role definitions assigned to a user
func (h *Handler) ListUserRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.rbacSvc.ListUserRoles(r.Context(), r.PathValue("id"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrStoreUnavailable):
			writeError(w, http.StatusServiceUnavailable, "store_unavailable", "Backing store unavailable")
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", "Failed to list user roles")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"roles": roles})
}

// --- Permission checks ---

type checkPermissionRequest struct {
	UserID   string            `json:"user_id"`
	Resource string            `json:"resource"`
	Action   string            `json:"action"`
	Context  map[string]string `json:"context,omitempty"`
}

// CheckPermission decides whether a user may perform an action on a
// resource. The decision is always 200; denial is a payload, not an
// error.
func (h *Handler) CheckPermission(w http.ResponseWriter, r *http.Request) {
	var req checkPermissionRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	if req.UserID == "" || req.Resource == "" || req.Action == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "user_id, resource and action are required")
		return
	}

	allowed := h.rbacSvc.HasPermission(r.Context(), req.UserID, req.Resource, req.Action, req.Context)
	writeJSON(w, http.StatusOK, map[string]bool{"allowed": allowed})
}
