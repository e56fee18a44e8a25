package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/trustgate/trustgate/internal/model"
	"github.com/trustgate/trustgate/internal/store"
)

const (
	webauthnDevicesKeyPrefix  = "webauthn:devices:"
	webauthnRegisterKeyPrefix = "webauthn:challenge:register:"
	webauthnLoginKeyPrefix    = "webauthn:challenge:login:"
)

func webauthnDevicesKey(userID string) string  { return webauthnDevicesKeyPrefix + userID }
func webauthnRegisterKey(userID string) string { return webauthnRegisterKeyPrefix + userID }
func webauthnLoginKey(userID string) string    { return webauthnLoginKeyPrefix + userID }

// WebAuthnRepository handles credential and ceremony-session persistence
type WebAuthnRepository struct {
	st store.Store
}

// NewWebAuthnRepository creates a new WebAuthnRepository
func NewWebAuthnRepository(st store.Store) *WebAuthnRepository {
	return &WebAuthnRepository{st: st}
}

// Devices returns all credentials registered for a user
func (r *WebAuthnRepository) Devices(ctx context.Context, userID string) ([]*model.WebAuthnDevice, error) {
	entries, err := r.st.LRange(ctx, webauthnDevicesKey(userID), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("failed to get devices: %w", err)
	}

	devices := make([]*model.WebAuthnDevice, 0, len(entries))
	for _, raw := range entries {
		var d model.WebAuthnDevice
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, fmt.Errorf("%w: device record: %v", ErrMalformedRecord, err)
		}
		devices = append(devices, &d)
	}
	return devices, nil
}

// AppendDevice adds a newly registered credential
func (r *WebAuthnRepository) AppendDevice(ctx context.Context, userID string, d *model.WebAuthnDevice) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to encode device record: %w", err)
	}
	if err := r.st.RPush(ctx, webauthnDevicesKey(userID), string(raw)); err != nil {
		return fmt.Errorf("failed to store device: %w", err)
	}
	return nil
}

// UpdateDevice rewrites the stored record matching the credential ID.
// Used after a successful assertion to advance the signature counter.
func (r *WebAuthnRepository) UpdateDevice(ctx context.Context, userID string, d *model.WebAuthnDevice) error {
	key := webauthnDevicesKey(userID)
	entries, err := r.st.LRange(ctx, key, 0, -1)
	if err != nil {
		return fmt.Errorf("failed to get devices: %w", err)
	}

	for i, raw := range entries {
		var stored model.WebAuthnDevice
		if err := json.Unmarshal([]byte(raw), &stored); err != nil {
			return fmt.Errorf("%w: device record: %v", ErrMalformedRecord, err)
		}
		if stored.CredentialID != d.CredentialID {
			continue
		}
		updated, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("failed to encode device record: %w", err)
		}
		if err := r.st.LSet(ctx, key, int64(i), string(updated)); err != nil {
			return fmt.Errorf("failed to update device: %w", err)
		}
		return nil
	}
	return ErrNotFound
}

// RemoveDevice deletes the stored record matching the credential ID
func (r *WebAuthnRepository) RemoveDevice(ctx context.Context, userID, credentialID string) error {
	key := webauthnDevicesKey(userID)
	entries, err := r.st.LRange(ctx, key, 0, -1)
	if err != nil {
		return fmt.Errorf("failed to get devices: %w", err)
	}

	for _, raw := range entries {
		var stored model.WebAuthnDevice
		if err := json.Unmarshal([]byte(raw), &stored); err != nil {
			return fmt.Errorf("%w: device record: %v", ErrMalformedRecord, err)
		}
		if stored.CredentialID != credentialID {
			continue
		}
		removed, err := r.st.LRem(ctx, key, 1, raw)
		if err != nil {
			return fmt.Errorf("failed to remove device: %w", err)
		}
		if removed == 0 {
			return ErrNotFound
		}
		return nil
	}
	return ErrNotFound
}

// StoreRegistrationSession persists the pending registration ceremony state
func (r *WebAuthnRepository) StoreRegistrationSession(ctx context.Context, userID string, data []byte, ttl time.Duration) error {
	if err := r.st.SetEx(ctx, webauthnRegisterKey(userID), string(data), ttl); err != nil {
		return fmt.Errorf("failed to store registration session: %w", err)
	}
	return nil
}

// ConsumeRegistrationSession fetches and deletes the pending registration
// state in one step, so a stored challenge can be presented at most once.
func (r *WebAuthnRepository) ConsumeRegistrationSession(ctx context.Context, userID string) ([]byte, error) {
	data, err := r.st.GetDel(ctx, webauthnRegisterKey(userID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to consume registration session: %w", err)
	}
	return []byte(data), nil
}

// StoreLoginSession persists the pending authentication ceremony state
func (r *WebAuthnRepository) StoreLoginSession(ctx context.Context, userID string, data []byte, ttl time.Duration) error {
	if err := r.st.SetEx(ctx, webauthnLoginKey(userID), string(data), ttl); err != nil {
		return fmt.Errorf("failed to store login session: %w", err)
	}
	return nil
}

// ConsumeLoginSession fetches and deletes the pending authentication state
func (r *WebAuthnRepository) ConsumeLoginSession(ctx context.Context, userID string) ([]byte, error) {
	data, err := r.st.GetDel(ctx, webauthnLoginKey(userID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to consume login session: %w", err)
	}
	return []byte(data), nil
}
