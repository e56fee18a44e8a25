package trustgate

import "time"

// TOTPSetup is returned once, at setup. The secret and backup codes are
// not retrievable again.
type TOTPSetup struct {
	Secret      string   `json:"secret"`
	QRCode      string   `json:"qrCode"` // base64-encoded PNG
	BackupCodes []string `json:"backupCodes"`
}

// MFAStatus reports a user's MFA configuration.
type MFAStatus struct {
	Enabled              bool `json:"enabled"`
	BackupCodesRemaining int  `json:"backupCodesRemaining"`
}

// Device is a registered WebAuthn authenticator.
type Device struct {
	CredentialID string     `json:"credentialId"`
	DeviceName   string     `json:"deviceName"`
	Transports   []string   `json:"transports,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastUsedAt   *time.Time `json:"lastUsedAt,omitempty"`
}

// Role groups permissions under a stable id.
type Role struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

// Permission grants an action on a resource, optionally narrowed by
// conditions that must match the check context exactly.
type Permission struct {
	ID         string            `json:"id"`
	Resource   string            `json:"resource"`
	Action     string            `json:"action"`
	Conditions map[string]string `json:"conditions,omitempty"`
}

// CreateRoleRequest defines a new role. Leave ID empty to have the server
// assign one.
type CreateRoleRequest struct {
	ID          string   `json:"id,omitempty"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

// CreatePermissionRequest defines a new permission. Leave ID empty to have
// the server assign one.
type CreatePermissionRequest struct {
	ID         string            `json:"id,omitempty"`
	Resource   string            `json:"resource"`
	Action     string            `json:"action"`
	Conditions map[string]string `json:"conditions,omitempty"`
}

// CheckPermissionRequest asks whether a user may perform an action on a
// resource, optionally under a request context.
type CheckPermissionRequest struct {
	UserID   string            `json:"user_id"`
	Resource string            `json:"resource"`
	Action   string            `json:"action"`
	Context  map[string]string `json:"context,omitempty"`
}

// RiskAssessment is the outcome of scoring a login attempt. Blocked is
// true when RiskScore reaches 80.
type RiskAssessment struct {
	RiskScore int      `json:"riskScore"`
	Blocked   bool     `json:"blocked"`
	Reasons   []string `json:"reasons"`
}

// AnomalyAssessment is the outcome of scoring an authenticated action.
// IsAnomalous is true when Confidence reaches 0.5.
type AnomalyAssessment struct {
	IsAnomalous bool     `json:"isAnomalous"`
	Confidence  float64  `json:"confidence"`
	Reasons     []string `json:"reasons"`
}

// LoginAnalysisRequest describes a login attempt to score. IP and
// UserAgent default server-side to the calling request's values when
// empty, which is almost never what a backend caller wants.
type LoginAnalysisRequest struct {
	Email     string `json:"email"`
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// LoginRecordRequest reports a login outcome.
type LoginRecordRequest struct {
	Email     string `json:"email"`
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Success   bool   `json:"success"`
}

// ActionAnalysisRequest describes an authenticated action to score.
type ActionAnalysisRequest struct {
	UserID  string            `json:"user_id"`
	Action  string            `json:"action"`
	Context map[string]string `json:"context,omitempty"`
}

// ActionRecordRequest reports an authenticated action.
type ActionRecordRequest struct {
	UserID   string `json:"user_id"`
	Action   string `json:"action"`
	Resource string `json:"resource,omitempty"`
}
