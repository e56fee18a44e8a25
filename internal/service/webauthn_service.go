package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/trustgate/trustgate/internal/config"
	"github.com/trustgate/trustgate/internal/logger"
	"github.com/trustgate/trustgate/internal/metrics"
	"github.com/trustgate/trustgate/internal/model"
	"github.com/trustgate/trustgate/internal/repository"
)

// WebAuthnService handles credential registration and authentication
// ceremonies. Ceremony state lives in the store under a TTL; nothing
// is kept in process, so any instance can finish a ceremony another
// instance began.
type WebAuthnService struct {
	waRepo *repository.WebAuthnRepository
	web    *webauthn.WebAuthn
	events EventSink
	cfg    *config.Config
	log    *logger.Logger
}

// NewWebAuthnService creates a new WebAuthnService
func NewWebAuthnService(
	waRepo *repository.WebAuthnRepository,
	events EventSink,
	cfg *config.Config,
	log *logger.Logger,
) (*WebAuthnService, error) {
	wconfig := &webauthn.Config{
		RPID:                  cfg.WebAuthn.RPID,
		RPDisplayName:         cfg.WebAuthn.RPName,
		RPOrigins:             cfg.WebAuthn.RPOrigins,
		AttestationPreference: protocol.PreferNoAttestation,
		AuthenticatorSelection: protocol.AuthenticatorSelection{
			UserVerification: protocol.VerificationPreferred,
		},
	}

	web, err := webauthn.New(wconfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize WebAuthn: %w", err)
	}

	return &WebAuthnService{
		waRepo: waRepo,
		web:    web,
		events: events,
		cfg:    cfg,
		log:    log.WithComponent("webauthn_service"),
	}, nil
}

// webauthnUser implements the webauthn.User interface
type webauthnUser struct {
	id          []byte
	name        string
	displayName string
	credentials []webauthn.Credential
}

func (u *webauthnUser) WebAuthnID() []byte                         { return u.id }
func (u *webauthnUser) WebAuthnName() string                       { return u.name }
func (u *webauthnUser) WebAuthnDisplayName() string                { return u.displayName }
func (u *webauthnUser) WebAuthnCredentials() []webauthn.Credential { return u.credentials }

// BeginRegistration starts a registration ceremony. The returned
// options carry a fresh challenge; already-registered credentials are
// excluded so an authenticator cannot be enrolled twice.
func (s *WebAuthnService) BeginRegistration(ctx context.Context, userID, email string) (*protocol.CredentialCreation, error) {
	if userID == "" {
		return nil, ErrSetupFailure
	}
	if email == "" {
		email = userID
	}

	devices, err := s.waRepo.Devices(ctx, userID)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("failed to load devices")
		return nil, storedReadError(err)
	}
	creds, err := credentialsFromDevices(devices)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("stored credential is unreadable")
		return nil, ErrMalformedStoredData
	}

	exclusions := make([]protocol.CredentialDescriptor, 0, len(creds))
	for _, c := range creds {
		exclusions = append(exclusions, c.Descriptor())
	}

	wUser := &webauthnUser{
		id:          []byte(userID),
		name:        email,
		displayName: email,
		credentials: creds,
	}

	creation, session, err := s.web.BeginRegistration(wUser, webauthn.WithExclusions(exclusions))
	if err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("failed to begin registration ceremony")
		return nil, ErrSetupFailure
	}

	raw, err := json.Marshal(session)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("failed to encode ceremony session")
		return nil, ErrSetupFailure
	}
	if err := s.waRepo.StoreRegistrationSession(ctx, userID, raw, s.challengeTTL()); err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("failed to store ceremony session")
		return nil, ErrStoreUnavailable
	}

	return creation, nil
}

// FinishRegistration completes a registration ceremony. The pending
// challenge is consumed whether or not verification succeeds, so a
// response cannot be replayed against it. On success the credential is
// appended to the user's device list with its counter at zero.
func (s *WebAuthnService) FinishRegistration(ctx context.Context, userID, deviceName string, response *protocol.ParsedCredentialCreationData) bool {
	raw, err := s.waRepo.ConsumeRegistrationSession(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.log.Warn().Err(ErrInvalidOrExpiredChallenge).Str("user_id", userID).Msg("no pending registration challenge")
		} else {
			s.log.Error().Err(err).Str("user_id", userID).Msg("failed to consume registration session")
		}
		metrics.WebAuthnCeremonies.WithLabelValues("registration", outcome(false)).Inc()
		return false
	}

	var session webauthn.SessionData
	if err := json.Unmarshal(raw, &session); err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("stored ceremony session is unreadable")
		metrics.WebAuthnCeremonies.WithLabelValues("registration", outcome(false)).Inc()
		return false
	}

	devices, err := s.waRepo.Devices(ctx, userID)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("failed to load devices")
		metrics.WebAuthnCeremonies.WithLabelValues("registration", outcome(false)).Inc()
		return false
	}

	wUser := &webauthnUser{id: []byte(userID), name: userID, displayName: userID}
	cred, err := s.web.CreateCredential(wUser, session, response)
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("registration attestation rejected")
		metrics.WebAuthnCeremonies.WithLabelValues("registration", outcome(false)).Inc()
		return false
	}

	credentialID := base64.RawURLEncoding.EncodeToString(cred.ID)
	for _, d := range devices {
		if d.CredentialID == credentialID {
			s.log.Warn().Str("user_id", userID).Str("credential_id", credentialID).Msg("credential already registered")
			metrics.WebAuthnCeremonies.WithLabelValues("registration", outcome(false)).Inc()
			return false
		}
	}

	transports := make([]string, 0, len(cred.Transport))
	for _, t := range cred.Transport {
		transports = append(transports, string(t))
	}
	device := &model.WebAuthnDevice{
		CredentialID: credentialID,
		PublicKey:    cred.PublicKey,
		Counter:      0,
		Transports:   transports,
		DeviceName:   deviceName,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.waRepo.AppendDevice(ctx, userID, device); err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("failed to store device")
		metrics.WebAuthnCeremonies.WithLabelValues("registration", outcome(false)).Inc()
		return false
	}

	emitEvent(ctx, s.events, s.log, model.EventWebAuthnRegistered, eventUser(userID), map[string]interface{}{
		"credentialId": credentialID,
		"deviceName":   deviceName,
	})
	s.log.Info().Str("user_id", userID).Str("credential_id", credentialID).Msg("WebAuthn device registered")
	metrics.WebAuthnCeremonies.WithLabelValues("registration", outcome(true)).Inc()
	return true
}

// BeginLogin starts an authentication ceremony against the user's
// registered devices. The returned options allow exactly those
// credentials and nothing else.
func (s *WebAuthnService) BeginLogin(ctx context.Context, userID string) (*protocol.CredentialAssertion, error) {
	devices, err := s.waRepo.Devices(ctx, userID)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("failed to load devices")
		return nil, storedReadError(err)
	}
	if len(devices) == 0 {
		return nil, ErrCredentialMismatch
	}
	creds, err := credentialsFromDevices(devices)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("stored credential is unreadable")
		return nil, ErrMalformedStoredData
	}

	wUser := &webauthnUser{
		id:          []byte(userID),
		name:        userID,
		displayName: userID,
		credentials: creds,
	}

	assertion, session, err := s.web.BeginLogin(wUser)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("failed to begin authentication ceremony")
		return nil, ErrSetupFailure
	}

	raw, err := json.Marshal(session)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("failed to encode ceremony session")
		return nil, ErrSetupFailure
	}
	if err := s.waRepo.StoreLoginSession(ctx, userID, raw, s.challengeTTL()); err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("failed to store ceremony session")
		return nil, ErrStoreUnavailable
	}

	return assertion, nil
}

// FinishLogin completes an authentication ceremony. The challenge is
// consumed either way. A valid signature alone does not pass: the
// asserted credential must be one of the user's stored devices, and
// its signature counter must move strictly forward.
func (s *WebAuthnService) FinishLogin(ctx context.Context, userID string, response *protocol.ParsedCredentialAssertionData) bool {
	raw, err := s.waRepo.ConsumeLoginSession(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.log.Warn().Err(ErrInvalidOrExpiredChallenge).Str("user_id", userID).Msg("no pending authentication challenge")
		} else {
			s.log.Error().Err(err).Str("user_id", userID).Msg("failed to consume authentication session")
		}
		metrics.WebAuthnCeremonies.WithLabelValues("authentication", outcome(false)).Inc()
		return false
	}

	var session webauthn.SessionData
	if err := json.Unmarshal(raw, &session); err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("stored ceremony session is unreadable")
		metrics.WebAuthnCeremonies.WithLabelValues("authentication", outcome(false)).Inc()
		return false
	}

	devices, err := s.waRepo.Devices(ctx, userID)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("failed to load devices")
		metrics.WebAuthnCeremonies.WithLabelValues("authentication", outcome(false)).Inc()
		return false
	}

	assertedID := base64.RawURLEncoding.EncodeToString(response.RawID)
	var device *model.WebAuthnDevice
	for _, d := range devices {
		if d.CredentialID == assertedID {
			device = d
			break
		}
	}
	if device == nil {
		s.log.Warn().Err(ErrCredentialMismatch).Str("user_id", userID).Str("credential_id", assertedID).Msg("asserted credential matches no registered device")
		metrics.WebAuthnCeremonies.WithLabelValues("authentication", outcome(false)).Inc()
		return false
	}

	cred, err := credentialFromDevice(device)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("stored credential is unreadable")
		metrics.WebAuthnCeremonies.WithLabelValues("authentication", outcome(false)).Inc()
		return false
	}

	wUser := &webauthnUser{
		id:          []byte(userID),
		name:        userID,
		displayName: userID,
		credentials: []webauthn.Credential{cred},
	}

	validated, err := s.web.ValidateLogin(wUser, session, response)
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Str("credential_id", assertedID).Msg("assertion rejected")
		metrics.WebAuthnCeremonies.WithLabelValues("authentication", outcome(false)).Inc()
		return false
	}

	newCounter := response.Response.AuthenticatorData.Counter
	if validated.Authenticator.CloneWarning || !counterAdvanced(device.Counter, newCounter) {
		s.log.Warn().
			Str("user_id", userID).
			Str("credential_id", assertedID).
			Uint32("stored_counter", device.Counter).
			Uint32("returned_counter", newCounter).
			Msg("authenticator counter did not advance; possible cloned credential")
		metrics.WebAuthnCeremonies.WithLabelValues("authentication", outcome(false)).Inc()
		return false
	}

	now := time.Now().UTC()
	device.Counter = newCounter
	device.LastUsedAt = &now
	if err := s.waRepo.UpdateDevice(ctx, userID, device); err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("failed to persist counter")
		metrics.WebAuthnCeremonies.WithLabelValues("authentication", outcome(false)).Inc()
		return false
	}

	emitEvent(ctx, s.events, s.log, model.EventWebAuthnVerified, eventUser(userID), map[string]interface{}{
		"credentialId": assertedID,
	})
	metrics.WebAuthnCeremonies.WithLabelValues("authentication", outcome(true)).Inc()
	return true
}

// ListDevices returns the user's registered devices without key material
func (s *WebAuthnService) ListDevices(ctx context.Context, userID string) ([]model.WebAuthnDeviceInfo, error) {
	devices, err := s.waRepo.Devices(ctx, userID)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("failed to load devices")
		return nil, storedReadError(err)
	}

	infos := make([]model.WebAuthnDeviceInfo, 0, len(devices))
	for _, d := range devices {
		infos = append(infos, model.WebAuthnDeviceInfo{
			CredentialID: d.CredentialID,
			DeviceName:   d.DeviceName,
			Transports:   d.Transports,
			CreatedAt:    d.CreatedAt,
			LastUsedAt:   d.LastUsedAt,
		})
	}
	return infos, nil
}

// RemoveDevice unregisters a credential
func (s *WebAuthnService) RemoveDevice(ctx context.Context, userID, credentialID string) error {
	if err := s.waRepo.RemoveDevice(ctx, userID, credentialID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrCredentialMismatch
		}
		s.log.Error().Err(err).Str("user_id", userID).Msg("failed to remove device")
		return storedReadError(err)
	}

	emitEvent(ctx, s.events, s.log, model.EventWebAuthnDeviceGone, eventUser(userID), map[string]interface{}{
		"credentialId": credentialID,
	})
	s.log.Info().Str("user_id", userID).Str("credential_id", credentialID).Msg("WebAuthn device removed")
	return nil
}

func (s *WebAuthnService) challengeTTL() time.Duration {
	if s.cfg.WebAuthn.ChallengeTTL > 0 {
		return s.cfg.WebAuthn.ChallengeTTL
	}
	return 300 * time.Second
}

// counterAdvanced reports whether an assertion's signature counter
// moved strictly past the stored one. A counter that stands still or
// goes backwards means another physical authenticator may hold the
// same key, so the assertion is rejected even with a valid signature.
func counterAdvanced(stored, returned uint32) bool {
	return returned > stored
}

func credentialFromDevice(d *model.WebAuthnDevice) (webauthn.Credential, error) {
	id, err := base64.RawURLEncoding.DecodeString(d.CredentialID)
	if err != nil {
		return webauthn.Credential{}, fmt.Errorf("failed to decode credential id: %w", err)
	}
	transports := make([]protocol.AuthenticatorTransport, 0, len(d.Transports))
	for _, t := range d.Transports {
		transports = append(transports, protocol.AuthenticatorTransport(t))
	}
	return webauthn.Credential{
		ID:        id,
		PublicKey: d.PublicKey,
		Transport: transports,
		Authenticator: webauthn.Authenticator{
			SignCount: d.Counter,
		},
	}, nil
}

func credentialsFromDevices(devices []*model.WebAuthnDevice) ([]webauthn.Credential, error) {
	creds := make([]webauthn.Credential, 0, len(devices))
	for _, d := range devices {
		cred, err := credentialFromDevice(d)
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	return creds, nil
}

// storedReadError maps a repository read failure onto the taxonomy
func storedReadError(err error) error {
	if errors.Is(err, repository.ErrMalformedRecord) {
		return ErrMalformedStoredData
	}
	return ErrStoreUnavailable
}
