package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/trustgate/trustgate/internal/model"
	"github.com/trustgate/trustgate/internal/store"
)

const (
	mfaRecordKeyPrefix = "mfa:"
	mfaCodesKeyPrefix  = "mfa:codes:"
)

func mfaRecordKey(userID string) string { return mfaRecordKeyPrefix + userID }
func mfaCodesKey(userID string) string  { return mfaCodesKeyPrefix + userID }

// MFARepository handles TOTP enrollment and backup-code persistence
type MFARepository struct {
	st store.Store
}

// NewMFARepository creates a new MFARepository
func NewMFARepository(st store.Store) *MFARepository {
	return &MFARepository{st: st}
}

// GetRecord retrieves a user's enrollment record
func (r *MFARepository) GetRecord(ctx context.Context, userID string) (*model.MFARecord, error) {
	fields, err := r.st.HGetAll(ctx, mfaRecordKey(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to get MFA record: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	rec := &model.MFARecord{
		UserID:  userID,
		Secret:  fields["secret"],
		Enabled: fields["enabled"] == "1",
	}
	if raw, ok := fields["updated_at"]; ok {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: MFA record timestamp: %v", ErrMalformedRecord, err)
		}
		rec.UpdatedAt = ts
	}
	if rec.Secret == "" {
		return nil, fmt.Errorf("%w: MFA record has no secret", ErrMalformedRecord)
	}
	return rec, nil
}

// ReplaceEnrollment overwrites the enrollment record and backup-code
// digests as one unit. Prior state, including leftover codes, is gone
// after this returns.
func (r *MFARepository) ReplaceEnrollment(ctx context.Context, rec *model.MFARecord, codeDigests []string) error {
	err := r.st.Atomic(ctx, func(b store.Batch) error {
		b.Del(mfaRecordKey(rec.UserID), mfaCodesKey(rec.UserID))
		b.HSet(mfaRecordKey(rec.UserID), recordFields(rec))
		if len(codeDigests) > 0 {
			b.RPush(mfaCodesKey(rec.UserID), codeDigests...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to replace MFA enrollment: %w", err)
	}
	return nil
}

// SetEnabled flips the enabled flag
func (r *MFARepository) SetEnabled(ctx context.Context, userID string, enabled bool) error {
	fields := map[string]string{
		"enabled":    flag(enabled),
		"updated_at": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := r.st.HSet(ctx, mfaRecordKey(userID), fields); err != nil {
		return fmt.Errorf("failed to update MFA record: %w", err)
	}
	return nil
}

// CodeDigests returns the stored backup-code digests in order
func (r *MFARepository) CodeDigests(ctx context.Context, userID string) ([]string, error) {
	digests, err := r.st.LRange(ctx, mfaCodesKey(userID), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("failed to get backup codes: %w", err)
	}
	return digests, nil
}

// RedeemCodeDigest removes one occurrence of the digest. The removal is
// a single store operation, so two concurrent redemptions of the same
// code can never both win.
func (r *MFARepository) RedeemCodeDigest(ctx context.Context, userID, digest string) (bool, error) {
	removed, err := r.st.LRem(ctx, mfaCodesKey(userID), 1, digest)
	if err != nil {
		return false, fmt.Errorf("failed to redeem backup code: %w", err)
	}
	return removed == 1, nil
}

// ReplaceCodeDigests swaps the full backup-code set in one unit
func (r *MFARepository) ReplaceCodeDigests(ctx context.Context, userID string, digests []string) error {
	err := r.st.Atomic(ctx, func(b store.Batch) error {
		b.Del(mfaCodesKey(userID))
		b.RPush(mfaCodesKey(userID), digests...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to replace backup codes: %w", err)
	}
	return nil
}

// CountCodes returns the number of unredeemed backup codes
func (r *MFARepository) CountCodes(ctx context.Context, userID string) (int, error) {
	n, err := r.st.LLen(ctx, mfaCodesKey(userID))
	if err != nil {
		return 0, fmt.Errorf("failed to count backup codes: %w", err)
	}
	return int(n), nil
}

func recordFields(rec *model.MFARecord) map[string]string {
	return map[string]string{
		"secret":     rec.Secret,
		"enabled":    flag(rec.Enabled),
		"updated_at": rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
