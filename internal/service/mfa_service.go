package service

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/trustgate/trustgate/internal/config"
	"github.com/trustgate/trustgate/internal/crypto"
	"github.com/trustgate/trustgate/internal/logger"
	"github.com/trustgate/trustgate/internal/metrics"
	"github.com/trustgate/trustgate/internal/model"
	"github.com/trustgate/trustgate/internal/repository"
)

const (
	backupCodeCount   = 10
	backupCodeLength  = 8 // characters per code
	totpSecretPurpose = "mfa/totp"

	// decoyCodesUser keys a code list that is never written. Redemption
	// probes point here when no real code may be consumed, so the store
	// work stays uniform across outcomes.
	decoyCodesUser = "!decoy"
)

// MFAService handles TOTP enrollment, verification, and backup codes
type MFAService struct {
	mfaRepo *repository.MFARepository
	crypto  *crypto.Service
	events  EventSink
	cfg     *config.Config
	log     *logger.Logger
	// The decoy secret keeps the unenrolled verification path doing
	// the same TOTP computation as the enrolled one.
	decoySecret string
}

// NewMFAService creates a new MFAService
func NewMFAService(
	mfaRepo *repository.MFARepository,
	cryptoSvc *crypto.Service,
	events EventSink,
	cfg *config.Config,
	log *logger.Logger,
) (*MFAService, error) {
	decoy, err := cryptoSvc.GenerateTOTPKey("decoy")
	if err != nil {
		return nil, err
	}
	return &MFAService{
		mfaRepo:     mfaRepo,
		crypto:      cryptoSvc,
		events:      events,
		cfg:         cfg,
		log:         log.WithComponent("mfa_service"),
		decoySecret: decoy.Secret(),
	}, nil
}

// SetupTOTP provisions a fresh secret, its QR code, and a new set of
// backup codes. Re-running setup overwrites any previous enrollment
// rather than merging with it; the new one stays disabled until the
// first code is verified.
func (s *MFAService) SetupTOTP(ctx context.Context, userID, account string) (*model.TOTPSetupResult, error) {
	if userID == "" {
		return nil, ErrSetupFailure
	}
	if account == "" {
		account = userID
	}

	key, err := s.crypto.GenerateTOTPKey(account)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("TOTP key generation failed")
		return nil, ErrSetupFailure
	}

	qrPNG, err := qrcode.Encode(key.URL(), qrcode.Medium, 256)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("QR code generation failed")
		return nil, ErrSetupFailure
	}

	codes, digests, err := s.newBackupCodes()
	if err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("backup code generation failed")
		return nil, ErrSetupFailure
	}

	sealed, err := s.crypto.Seal([]byte(key.Secret()), totpSecretPurpose)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("failed to seal TOTP secret")
		return nil, ErrSetupFailure
	}

	rec := &model.MFARecord{
		UserID:    userID,
		Secret:    sealed,
		Enabled:   false,
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.mfaRepo.ReplaceEnrollment(ctx, rec, digests); err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("failed to store TOTP enrollment")
		return nil, ErrSetupFailure
	}

	emitEvent(ctx, s.events, s.log, model.EventMFASetup, eventUser(userID), map[string]interface{}{
		"backupCodes": backupCodeCount,
	})
	s.log.Info().Str("user_id", userID).Msg("TOTP setup initiated")

	return &model.TOTPSetupResult{
		Secret:      key.Secret(),
		QRCode:      base64.StdEncoding.EncodeToString(qrPNG),
		BackupCodes: codes,
	}, nil
}

// VerifyAndEnableTOTP confirms a pending enrollment with its first
// code. False when nothing is pending, when the enrollment is already
// enabled, or when the code is wrong. Enabling is one-way; only a full
// re-setup resets it.
func (s *MFAService) VerifyAndEnableTOTP(ctx context.Context, userID, code string) bool {
	rec, err := s.mfaRepo.GetRecord(ctx, userID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.log.Error().Err(err).Str("user_id", userID).Msg("failed to load MFA record")
		}
		s.crypto.ValidateTOTPCode(code, s.decoySecret)
		return false
	}
	if rec.Enabled {
		s.crypto.ValidateTOTPCode(code, s.decoySecret)
		return false
	}

	secret, err := s.openSecret(rec)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("stored TOTP secret is unreadable")
		s.crypto.ValidateTOTPCode(code, s.decoySecret)
		return false
	}
	if !s.crypto.ValidateTOTPCode(code, secret) {
		return false
	}

	if err := s.mfaRepo.SetEnabled(ctx, userID, true); err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("failed to enable MFA record")
		return false
	}

	emitEvent(ctx, s.events, s.log, model.EventMFAEnabled, eventUser(userID), nil)
	s.log.Info().Str("user_id", userID).Msg("TOTP enrollment activated")
	return true
}

// VerifyTOTP checks a login code, falling back to backup-code
// redemption when the live code does not match. Unenrolled users,
// disabled enrollments, store trouble, and wrong codes all come back
// false; the detail stays in the logs. Every call runs the same crypto
// operations, and a backup code is consumed only when it decides an
// enabled verification.
func (s *MFAService) VerifyTOTP(ctx context.Context, userID, code string) bool {
	digest := s.crypto.Digest(normalizeBackupCode(code))

	secret := s.decoySecret
	enabled := false
	rec, err := s.mfaRepo.GetRecord(ctx, userID)
	switch {
	case err == nil:
		if plain, openErr := s.openSecret(rec); openErr == nil {
			secret = plain
			enabled = rec.Enabled
		} else {
			s.log.Error().Err(openErr).Str("user_id", userID).Msg("stored TOTP secret is unreadable")
		}
	case !errors.Is(err, repository.ErrNotFound):
		s.log.Error().Err(err).Str("user_id", userID).Msg("TOTP verification read failed")
	}

	totpOK := s.crypto.ValidateTOTPCode(code, secret)

	redeemUser := decoyCodesUser
	if enabled && !totpOK {
		redeemUser = userID
	}
	redeemed, err := s.mfaRepo.RedeemCodeDigest(ctx, redeemUser, digest)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("backup code redemption failed")
		redeemed = false
	}

	ok := enabled && (totpOK || redeemed)
	method := "totp"
	if ok && !totpOK {
		method = "backup_code"
		s.log.Info().Str("user_id", userID).Msg("backup code used")
	}
	if ok {
		emitEvent(ctx, s.events, s.log, model.EventMFAVerified, eventUser(userID), map[string]interface{}{
			"method": method,
		})
	}
	metrics.MFAVerifications.WithLabelValues(method, outcome(ok)).Inc()
	return ok
}

// RegenerateBackupCodes unconditionally replaces the stored set with
// ten fresh codes. Old codes stop matching the moment this returns;
// authorization is the caller's concern.
func (s *MFAService) RegenerateBackupCodes(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return nil, ErrSetupFailure
	}

	codes, digests, err := s.newBackupCodes()
	if err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("backup code generation failed")
		return nil, ErrSetupFailure
	}

	if err := s.mfaRepo.ReplaceCodeDigests(ctx, userID, digests); err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("failed to store backup codes")
		return nil, ErrStoreUnavailable
	}

	emitEvent(ctx, s.events, s.log, model.EventMFABackupCodesRegen, eventUser(userID), map[string]interface{}{
		"count": backupCodeCount,
	})
	s.log.Info().Str("user_id", userID).Int("count", backupCodeCount).Msg("backup codes regenerated")
	return codes, nil
}

// Status reports enrollment state and remaining backup codes
func (s *MFAService) Status(ctx context.Context, userID string) (*model.MFAStatus, error) {
	rec, err := s.mfaRepo.GetRecord(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &model.MFAStatus{}, nil
		}
		s.log.Error().Err(err).Str("user_id", userID).Msg("failed to load MFA record")
		return nil, ErrStoreUnavailable
	}

	count, err := s.mfaRepo.CountCodes(ctx, userID)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("failed to count backup codes")
	}

	return &model.MFAStatus{
		Enabled:              rec.Enabled,
		BackupCodesRemaining: count,
	}, nil
}

// --- Helper functions ---

func (s *MFAService) openSecret(rec *model.MFARecord) (string, error) {
	plain, err := s.crypto.Open(rec.Secret, totpSecretPurpose)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// newBackupCodes produces a full set of distinct codes and their digests
func (s *MFAService) newBackupCodes() ([]string, []string, error) {
	codes := make([]string, 0, backupCodeCount)
	digests := make([]string, 0, backupCodeCount)
	seen := make(map[string]struct{}, backupCodeCount)
	for len(codes) < backupCodeCount {
		code, err := s.generateBackupCode()
		if err != nil {
			return nil, nil, err
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
		digests = append(digests, s.crypto.Digest(normalizeBackupCode(code)))
	}
	return codes, digests, nil
}

func (s *MFAService) generateBackupCode() (string, error) {
	const charset = "0123456789abcdefghjkmnpqrstuvwxyz" // no i, l, o to avoid confusion
	b, err := s.crypto.RandomBytes(backupCodeLength)
	if err != nil {
		return "", err
	}
	code := make([]byte, backupCodeLength)
	for i := range code {
		code[i] = charset[int(b[i])%len(charset)]
	}
	// Format as xxxx-xxxx
	return string(code[:4]) + "-" + string(code[4:]), nil
}

func normalizeBackupCode(code string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(code), "-", ""))
}
