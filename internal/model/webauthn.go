package model

import "time"

// WebAuthnDevice is a registered authenticator. The counter must grow
// strictly across successful authentications; a stalled or regressed
// counter marks a cloned credential.
type WebAuthnDevice struct {
	CredentialID string     `json:"credentialId"` // base64url raw credential id
	PublicKey    []byte     `json:"publicKey"`
	Counter      uint32     `json:"counter"`
	Transports   []string   `json:"transports,omitempty"`
	DeviceName   string     `json:"deviceName"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastUsedAt   *time.Time `json:"lastUsedAt,omitempty"`
}

// WebAuthnDeviceInfo is the listing view of a device, without key material
type WebAuthnDeviceInfo struct {
	CredentialID string     `json:"credentialId"`
	DeviceName   string     `json:"deviceName"`
	Transports   []string   `json:"transports,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastUsedAt   *time.Time `json:"lastUsedAt,omitempty"`
}
