package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/hkdf"
)

const masterKeySize = 32

var (
	// ErrInvalidMasterKey is returned when the configured master key is
	// not 32 bytes of hex.
	ErrInvalidMasterKey = errors.New("master key must be 64 hex characters (32 bytes)")

	// ErrDecryptionFailed is returned when a sealed value cannot be
	// opened. The cause (wrong key, wrong purpose, tampering) is not
	// distinguished.
	ErrDecryptionFailed = errors.New("failed to decrypt value")
)

// TOTPParams configures one-time-password generation and validation.
type TOTPParams struct {
	Issuer string
	Digits int
	Period int
	Skew   int
}

func (p *TOTPParams) applyDefaults() {
	if p.Issuer == "" {
		p.Issuer = "TrustGate"
	}
	if p.Digits == 0 {
		p.Digits = 6
	}
	if p.Period == 0 {
		p.Period = 30
	}
	if p.Skew == 0 {
		p.Skew = 1
	}
}

// Service provides the cryptographic primitives the security services
// depend on: secure randomness and identifiers, TOTP generation and
// validation, authenticated encryption, digests, and constant-time
// comparison. Sealed values are bound to a purpose string so a value
// sealed for one use cannot be opened as another.
type Service struct {
	master []byte
	totp   TOTPParams
}

// New creates a Service from a hex-encoded 32-byte master key.
func New(masterKeyHex string, totpParams TOTPParams) (*Service, error) {
	master, err := hex.DecodeString(masterKeyHex)
	if err != nil || len(master) != masterKeySize {
		return nil, ErrInvalidMasterKey
	}
	totpParams.applyDefaults()
	return &Service{master: master, totp: totpParams}, nil
}

// NewEphemeral creates a Service with a random master key. Sealed
// values do not survive a restart; development use only.
func NewEphemeral(totpParams TOTPParams) (*Service, error) {
	master := make([]byte, masterKeySize)
	if _, err := rand.Read(master); err != nil {
		return nil, fmt.Errorf("failed to generate master key: %w", err)
	}
	totpParams.applyDefaults()
	return &Service{master: master, totp: totpParams}, nil
}

// RandomBytes returns n bytes from the system CSPRNG
func (s *Service) RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return buf, nil
}

// NewID returns a prefixed UUID for entity identifiers
func (s *Service) NewID(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, uuid.New().String())
}

// Digest returns the SHA-256 hex digest of value
func (s *Service) Digest(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// ConstantTimeEquals compares two strings without leaking the position
// of the first difference.
func (s *Service) ConstantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// subkey derives a purpose-bound AES key from the master key
func (s *Service) subkey(purpose string) ([]byte, error) {
	r := hkdf.New(sha256.New, s.master, nil, []byte(purpose))
	key := make([]byte, masterKeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

// Seal encrypts plaintext with AES-256-GCM under a purpose-bound
// subkey. Output is base64(nonce || ciphertext).
func (s *Service) Seal(plaintext []byte, purpose string) (string, error) {
	key, err := s.subkey(purpose)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal with the same purpose.
func (s *Service) Open(sealed string, purpose string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	key, err := s.subkey(purpose)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	if len(raw) < gcm.NonceSize() {
		return nil, ErrDecryptionFailed
	}
	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// GenerateTOTPKey creates a fresh TOTP key for an account
func (s *Service) GenerateTOTPKey(account string) (*otp.Key, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.totp.Issuer,
		AccountName: account,
		Period:      uint(s.totp.Period),
		Digits:      otp.Digits(s.totp.Digits),
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}
	return key, nil
}

// ValidateTOTPCode checks a one-time code against a base32 secret.
// Invalid input reads as a failed validation, never an error.
func (s *Service) ValidateTOTPCode(code, secret string) bool {
	valid, err := totp.ValidateCustom(code, secret, time.Now().UTC(), totp.ValidateOpts{
		Period:    uint(s.totp.Period),
		Skew:      uint(s.totp.Skew),
		Digits:    otp.Digits(s.totp.Digits),
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false
	}
	return valid
}
