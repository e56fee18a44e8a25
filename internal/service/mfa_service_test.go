package service

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"

	"github.com/trustgate/trustgate/internal/model"
	"github.com/trustgate/trustgate/internal/repository"
	"github.com/trustgate/trustgate/internal/store"
)

type mfaFixture struct {
	svc  *MFAService
	mem  *store.Memory
	sink *captureSink
}

func newMFAFixture(t *testing.T) *mfaFixture {
	t.Helper()
	mem := store.NewMemory()
	sink := &captureSink{}
	svc, err := NewMFAService(repository.NewMFARepository(mem), newTestCrypto(t), sink, testConfig(), testLogger())
	require.NoError(t, err)
	return &mfaFixture{svc: svc, mem: mem, sink: sink}
}

func currentCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCode(secret, time.Now().UTC())
	require.NoError(t, err)
	return code
}

// enroll runs setup and activation, returning the setup result.
func (f *mfaFixture) enroll(t *testing.T, userID string) *model.TOTPSetupResult {
	t.Helper()
	ctx := context.Background()
	result, err := f.svc.SetupTOTP(ctx, userID, userID+"@example.com")
	require.NoError(t, err)
	require.True(t, f.svc.VerifyAndEnableTOTP(ctx, userID, currentCode(t, result.Secret)))
	return result
}

func TestSetupTOTP(t *testing.T) {
	t.Parallel()
	f := newMFAFixture(t)
	ctx := context.Background()

	result, err := f.svc.SetupTOTP(ctx, "user-1", "user-1@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, result.Secret)

	png, err := base64.StdEncoding.DecodeString(result.QRCode)
	require.NoError(t, err)
	require.NotEmpty(t, png)

	require.Len(t, result.BackupCodes, 10)
	seen := make(map[string]struct{})
	for _, code := range result.BackupCodes {
		require.Len(t, code, 9) // xxxx-xxxx
		seen[code] = struct{}{}
	}
	require.Len(t, seen, 10, "backup codes must be unique")

	status, err := f.svc.Status(ctx, "user-1")
	require.NoError(t, err)
	require.False(t, status.Enabled, "enrollment stays disabled until verified")
	require.Equal(t, 10, status.BackupCodesRemaining)

	require.Len(t, f.sink.byCategory(model.EventMFASetup), 1)
}

func TestSetupTOTPRejectsEmptyUser(t *testing.T) {
	t.Parallel()
	f := newMFAFixture(t)

	_, err := f.svc.SetupTOTP(context.Background(), "", "")
	require.ErrorIs(t, err, ErrSetupFailure)
}

func TestVerifyAndEnableTOTP(t *testing.T) {
	t.Parallel()
	f := newMFAFixture(t)
	ctx := context.Background()

	t.Run("unknown user", func(t *testing.T) {
		require.False(t, f.svc.VerifyAndEnableTOTP(ctx, "nobody", "123456"))
	})

	result, err := f.svc.SetupTOTP(ctx, "user-1", "")
	require.NoError(t, err)

	t.Run("wrong code keeps it disabled", func(t *testing.T) {
		wrong := "000000"
		if wrong == currentCode(t, result.Secret) {
			wrong = "111111"
		}
		require.False(t, f.svc.VerifyAndEnableTOTP(ctx, "user-1", wrong))

		status, err := f.svc.Status(ctx, "user-1")
		require.NoError(t, err)
		require.False(t, status.Enabled)
	})

	t.Run("correct code enables", func(t *testing.T) {
		require.True(t, f.svc.VerifyAndEnableTOTP(ctx, "user-1", currentCode(t, result.Secret)))

		status, err := f.svc.Status(ctx, "user-1")
		require.NoError(t, err)
		require.True(t, status.Enabled)
		require.Len(t, f.sink.byCategory(model.EventMFAEnabled), 1)
	})

	t.Run("cannot re-enable", func(t *testing.T) {
		require.False(t, f.svc.VerifyAndEnableTOTP(ctx, "user-1", currentCode(t, result.Secret)))
	})
}

// Round trip: setup, enable with the first code, then verify a live
// code and reject a wrong one.
func TestVerifyTOTPRoundTrip(t *testing.T) {
	t.Parallel()
	f := newMFAFixture(t)
	ctx := context.Background()

	result := f.enroll(t, "user-1")

	code := currentCode(t, result.Secret)
	require.True(t, f.svc.VerifyTOTP(ctx, "user-1", code))

	wrong := "000000"
	if wrong == code {
		wrong = "111111"
	}
	require.False(t, f.svc.VerifyTOTP(ctx, "user-1", wrong))
}

func TestVerifyTOTPRequiresEnabled(t *testing.T) {
	t.Parallel()
	f := newMFAFixture(t)
	ctx := context.Background()

	result, err := f.svc.SetupTOTP(ctx, "user-1", "")
	require.NoError(t, err)

	// Correct codes of both kinds are refused while disabled.
	require.False(t, f.svc.VerifyTOTP(ctx, "user-1", currentCode(t, result.Secret)))
	require.False(t, f.svc.VerifyTOTP(ctx, "user-1", result.BackupCodes[0]))

	// The refusal must not have consumed the backup code.
	require.True(t, f.svc.VerifyAndEnableTOTP(ctx, "user-1", currentCode(t, result.Secret)))
	require.True(t, f.svc.VerifyTOTP(ctx, "user-1", result.BackupCodes[0]))
}

func TestVerifyTOTPUnknownUser(t *testing.T) {
	t.Parallel()
	f := newMFAFixture(t)

	require.False(t, f.svc.VerifyTOTP(context.Background(), "nobody", "123456"))
}

func TestVerifyTOTPMalformedSecret(t *testing.T) {
	t.Parallel()
	f := newMFAFixture(t)
	ctx := context.Background()

	require.NoError(t, f.mem.HSet(ctx, "mfa:user-1", map[string]string{
		"secret":     "not a sealed value",
		"enabled":    "1",
		"updated_at": time.Now().UTC().Format(time.RFC3339Nano),
	}))

	require.False(t, f.svc.VerifyTOTP(ctx, "user-1", "123456"))
}

func TestBackupCodeSingleUse(t *testing.T) {
	t.Parallel()
	f := newMFAFixture(t)
	ctx := context.Background()

	result := f.enroll(t, "user-1")
	code := result.BackupCodes[3]

	require.True(t, f.svc.VerifyTOTP(ctx, "user-1", code))
	require.False(t, f.svc.VerifyTOTP(ctx, "user-1", code), "a redeemed code must not match again")

	status, err := f.svc.Status(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, 9, status.BackupCodesRemaining)
}

func TestBackupCodeNormalization(t *testing.T) {
	t.Parallel()
	f := newMFAFixture(t)
	ctx := context.Background()

	result := f.enroll(t, "user-1")

	// Case, dashes, and surrounding space are cosmetic.
	require.True(t, f.svc.VerifyTOTP(ctx, "user-1", "  "+strings.ToUpper(result.BackupCodes[0])+"  "))

	normalized := normalizeBackupCode(result.BackupCodes[1])
	require.NotContains(t, normalized, "-")
	require.True(t, f.svc.VerifyTOTP(ctx, "user-1", normalized))

	// Empty and malformed codes match nothing.
	require.False(t, f.svc.VerifyTOTP(ctx, "user-1", ""))
	require.False(t, f.svc.VerifyTOTP(ctx, "user-1", "----"))
}

// Two goroutines racing on the same code must produce exactly one
// successful redemption.
func TestBackupCodeConcurrentRedemption(t *testing.T) {
	t.Parallel()
	f := newMFAFixture(t)
	ctx := context.Background()

	result := f.enroll(t, "user-1")
	code := result.BackupCodes[0]

	const attempts = 8
	var wg sync.WaitGroup
	results := make([]bool, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.svc.VerifyTOTP(ctx, "user-1", code)
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, ok := range results {
		if ok {
			successes++
		}
	}
	require.Equal(t, 1, successes)
}

func TestRegenerateBackupCodes(t *testing.T) {
	t.Parallel()
	f := newMFAFixture(t)
	ctx := context.Background()

	result := f.enroll(t, "user-1")
	oldCode := result.BackupCodes[0]

	fresh, err := f.svc.RegenerateBackupCodes(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, fresh, 10)

	seen := make(map[string]struct{})
	for _, code := range fresh {
		seen[code] = struct{}{}
	}
	require.Len(t, seen, 10)

	require.False(t, f.svc.VerifyTOTP(ctx, "user-1", oldCode), "old codes stop matching")
	require.True(t, f.svc.VerifyTOTP(ctx, "user-1", fresh[0]))

	require.Len(t, f.sink.byCategory(model.EventMFABackupCodesRegen), 1)
}

func TestRegenerateBackupCodesIsUnconditional(t *testing.T) {
	t.Parallel()
	f := newMFAFixture(t)

	codes, err := f.svc.RegenerateBackupCodes(context.Background(), "never-enrolled")
	require.NoError(t, err)
	require.Len(t, codes, 10)
}

func TestSetupTOTPOverwritesPriorEnrollment(t *testing.T) {
	t.Parallel()
	f := newMFAFixture(t)
	ctx := context.Background()

	first, err := f.svc.SetupTOTP(ctx, "user-1", "")
	require.NoError(t, err)

	second, err := f.svc.SetupTOTP(ctx, "user-1", "")
	require.NoError(t, err)
	require.NotEqual(t, first.Secret, second.Secret)

	require.True(t, f.svc.VerifyAndEnableTOTP(ctx, "user-1", currentCode(t, second.Secret)))

	// Only the second enrollment's state survives.
	require.False(t, f.svc.VerifyTOTP(ctx, "user-1", first.BackupCodes[0]))
	require.True(t, f.svc.VerifyTOTP(ctx, "user-1", second.BackupCodes[0]))

	status, err := f.svc.Status(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, 9, status.BackupCodesRemaining)
}

func TestStatusUnenrolled(t *testing.T) {
	t.Parallel()
	f := newMFAFixture(t)

	status, err := f.svc.Status(context.Background(), "nobody")
	require.NoError(t, err)
	require.False(t, status.Enabled)
	require.Zero(t, status.BackupCodesRemaining)
}

// A broken event sink must never fail the operation that emitted.
func TestMFASinkFailureDoesNotFailCalls(t *testing.T) {
	t.Parallel()
	f := newMFAFixture(t)
	f.sink.fail = true
	ctx := context.Background()

	result, err := f.svc.SetupTOTP(ctx, "user-1", "")
	require.NoError(t, err)
	require.True(t, f.svc.VerifyAndEnableTOTP(ctx, "user-1", currentCode(t, result.Secret)))
	require.True(t, f.svc.VerifyTOTP(ctx, "user-1", currentCode(t, result.Secret)))
}
