package model

import "time"

// SecurityEvent is an append-only audit record emitted by the security
// services. Events are never mutated after emission.
type SecurityEvent struct {
	ID        string                 `json:"id"`
	Category  string                 `json:"category"`
	UserID    *string                `json:"userId,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
}

// Event category constants
const (
	EventMFASetup            = "mfa.totp_setup"
	EventMFAEnabled          = "mfa.totp_enabled"
	EventMFAVerified         = "mfa.verified"
	EventMFABackupCodesRegen = "mfa.backup_codes_regenerated"
	EventWebAuthnRegistered  = "webauthn.registered"
	EventWebAuthnVerified    = "webauthn.verified"
	EventWebAuthnDeviceGone  = "webauthn.device_removed"
	EventPermissionCheck     = "permission_check"
	EventRoleCreated         = "rbac.role_created"
	EventPermissionCreated   = "rbac.permission_created"
	EventRoleAssigned        = "rbac.role_assigned"
	EventRoleUnassigned      = "rbac.role_unassigned"
	EventLoginRisk           = "threat.login_risk"
	EventActionAnomaly       = "threat.action_anomaly"
	EventLoginRecorded       = "threat.login_recorded"
	EventIPFlagged           = "threat.ip_flagged"
	EventIPUnflagged         = "threat.ip_unflagged"
)
