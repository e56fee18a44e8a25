package model

import "time"

// MFARecord is a user's TOTP enrollment. The secret is sealed before it
// reaches the store; Enabled flips once, on the first successful verify.
type MFARecord struct {
	UserID    string    `json:"userId"`
	Secret    string    `json:"-"` // sealed TOTP secret, never expose
	Enabled   bool      `json:"enabled"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TOTPSetupResult is returned once, at setup. The plaintext secret and
// backup codes are never retrievable again.
type TOTPSetupResult struct {
	Secret      string   `json:"secret"`
	QRCode      string   `json:"qrCode"` // base64-encoded PNG
	BackupCodes []string `json:"backupCodes"`
}

// MFAStatus reports a user's MFA configuration
type MFAStatus struct {
	Enabled              bool `json:"enabled"`
	BackupCodesRemaining int  `json:"backupCodesRemaining"`
}
