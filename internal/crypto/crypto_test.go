package crypto

import (
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := New(strings.Repeat("ab", 32), TOTPParams{})
	require.NoError(t, err)
	return svc
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("rejects short keys", func(t *testing.T) {
		_, err := New("abcd", TOTPParams{})
		require.ErrorIs(t, err, ErrInvalidMasterKey)
	})

	t.Run("rejects non-hex keys", func(t *testing.T) {
		_, err := New(strings.Repeat("zz", 32), TOTPParams{})
		require.ErrorIs(t, err, ErrInvalidMasterKey)
	})

	t.Run("accepts 32-byte hex keys", func(t *testing.T) {
		svc, err := New(strings.Repeat("00", 32), TOTPParams{})
		require.NoError(t, err)
		require.NotNil(t, svc)
	})
}

func TestSealOpen(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)

	t.Run("round trip", func(t *testing.T) {
		sealed, err := svc.Seal([]byte("JBSWY3DPEHPK3PXP"), "totp-secret")
		require.NoError(t, err)

		plain, err := svc.Open(sealed, "totp-secret")
		require.NoError(t, err)
		require.Equal(t, "JBSWY3DPEHPK3PXP", string(plain))
	})

	t.Run("purpose binds the key", func(t *testing.T) {
		sealed, err := svc.Seal([]byte("secret"), "totp-secret")
		require.NoError(t, err)

		_, err = svc.Open(sealed, "other-purpose")
		require.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("tampering is detected", func(t *testing.T) {
		sealed, err := svc.Seal([]byte("secret"), "totp-secret")
		require.NoError(t, err)

		tampered := []byte(sealed)
		tampered[len(tampered)-5] ^= 0x01
		_, err = svc.Open(string(tampered), "totp-secret")
		require.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("garbage input fails closed", func(t *testing.T) {
		_, err := svc.Open("not base64 at all!!!", "totp-secret")
		require.ErrorIs(t, err, ErrDecryptionFailed)

		_, err = svc.Open("YQ==", "totp-secret")
		require.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("nonces differ between seals", func(t *testing.T) {
		a, err := svc.Seal([]byte("same"), "p")
		require.NoError(t, err)
		b, err := svc.Seal([]byte("same"), "p")
		require.NoError(t, err)
		require.NotEqual(t, a, b)
	})
}

func TestRandomAndIDs(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)

	raw, err := svc.RandomBytes(16)
	require.NoError(t, err)
	require.Len(t, raw, 16)

	id := svc.NewID("role")
	require.True(t, strings.HasPrefix(id, "role_"))
	require.NotEqual(t, id, svc.NewID("role"))
}

func TestDigestAndCompare(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)

	require.Equal(t, svc.Digest("abcd-1234"), svc.Digest("abcd-1234"))
	require.NotEqual(t, svc.Digest("abcd-1234"), svc.Digest("abcd-1235"))
	require.Len(t, svc.Digest("x"), 64)

	require.True(t, svc.ConstantTimeEquals("same", "same"))
	require.False(t, svc.ConstantTimeEquals("same", "other"))
	require.False(t, svc.ConstantTimeEquals("same", "sam"))
}

func TestTOTP(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)

	key, err := svc.GenerateTOTPKey("user@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, key.Secret())
	require.Contains(t, key.URL(), "TrustGate")

	code, err := totp.GenerateCode(key.Secret(), time.Now().UTC())
	require.NoError(t, err)
	require.True(t, svc.ValidateTOTPCode(code, key.Secret()))

	wrong := "000000"
	if wrong == code {
		wrong = "111111"
	}
	require.False(t, svc.ValidateTOTPCode(wrong, key.Secret()))
	require.False(t, svc.ValidateTOTPCode("not-a-code", key.Secret()))
}
