package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/trustgate/trustgate/internal/store"
)

const (
	threatAttemptsKeyPrefix = "threat:attempts:"
	threatFlaggedIPsKey     = "threat:flagged_ips"
)

func threatAttemptsKey(ip string) string { return threatAttemptsKeyPrefix + ip }

func threatProfileKey(kind, email string) string { return "threat:profile:" + kind + ":" + email }

func threatActionFreqKey(userID, action string) string {
	return "threat:action:freq:" + userID + ":" + action
}

func threatActionResKey(userID string) string { return "threat:action:res:" + userID }

func threatActionLastKey(userID, action string) string {
	return "threat:action:last:" + userID + ":" + action
}

// ThreatRepository handles login history, behavior profiles, and the
// counters the risk scorers read.
type ThreatRepository struct {
	st store.Store
}

// NewThreatRepository creates a new ThreatRepository
func NewThreatRepository(st store.Store) *ThreatRepository {
	return &ThreatRepository{st: st}
}

// AttemptCount returns the number of recent attempts recorded for an IP
func (r *ThreatRepository) AttemptCount(ctx context.Context, ip string) (int64, error) {
	raw, err := r.st.Get(ctx, threatAttemptsKey(ip))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get attempt count: %w", err)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: attempt count: %v", ErrMalformedRecord, err)
	}
	return n, nil
}

// IncrAttempts bumps the attempt counter for an IP. The window starts
// on the first attempt and is not extended by later ones.
func (r *ThreatRepository) IncrAttempts(ctx context.Context, ip string, window time.Duration) (int64, error) {
	key := threatAttemptsKey(ip)
	n, err := r.st.Incr(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("failed to increment attempt count: %w", err)
	}
	if n == 1 {
		if err := r.st.Expire(ctx, key, window); err != nil {
			return 0, fmt.Errorf("failed to set attempt window: %w", err)
		}
	}
	return n, nil
}

// ClearAttempts drops the attempt counter for an IP
func (r *ThreatRepository) ClearAttempts(ctx context.Context, ip string) error {
	if err := r.st.Del(ctx, threatAttemptsKey(ip)); err != nil {
		return fmt.Errorf("failed to clear attempt count: %w", err)
	}
	return nil
}

// IsFlaggedIP reports whether an IP is on the flagged list
func (r *ThreatRepository) IsFlaggedIP(ctx context.Context, ip string) (bool, error) {
	flagged, err := r.st.SIsMember(ctx, threatFlaggedIPsKey, ip)
	if err != nil {
		return false, fmt.Errorf("failed to check flagged IP: %w", err)
	}
	return flagged, nil
}

// FlagIP adds an IP to the flagged list
func (r *ThreatRepository) FlagIP(ctx context.Context, ip string) error {
	if err := r.st.SAdd(ctx, threatFlaggedIPsKey, ip); err != nil {
		return fmt.Errorf("failed to flag IP: %w", err)
	}
	return nil
}

// UnflagIP removes an IP from the flagged list
func (r *ThreatRepository) UnflagIP(ctx context.Context, ip string) error {
	if err := r.st.SRem(ctx, threatFlaggedIPsKey, ip); err != nil {
		return fmt.Errorf("failed to unflag IP: %w", err)
	}
	return nil
}

// KnowsUserAgent reports whether the digest is in the account's
// user-agent profile. An account with no profile knows nothing.
func (r *ThreatRepository) KnowsUserAgent(ctx context.Context, email, uaDigest string) (bool, error) {
	known, err := r.st.SIsMember(ctx, threatProfileKey("ua", email), uaDigest)
	if err != nil {
		return false, fmt.Errorf("failed to check user agent profile: %w", err)
	}
	return known, nil
}

// KnowsLocation reports whether the location class is in the account's profile
func (r *ThreatRepository) KnowsLocation(ctx context.Context, email, location string) (bool, error) {
	known, err := r.st.SIsMember(ctx, threatProfileKey("loc", email), location)
	if err != nil {
		return false, fmt.Errorf("failed to check location profile: %w", err)
	}
	return known, nil
}

// KnowsHour reports whether the hour-of-day is in the account's profile
func (r *ThreatRepository) KnowsHour(ctx context.Context, email, hour string) (bool, error) {
	known, err := r.st.SIsMember(ctx, threatProfileKey("hours", email), hour)
	if err != nil {
		return false, fmt.Errorf("failed to check hour profile: %w", err)
	}
	return known, nil
}

// LearnProfile records a successful login's traits so later attempts
// with the same traits stop reading as novel.
func (r *ThreatRepository) LearnProfile(ctx context.Context, email, uaDigest, location, hour string) error {
	err := r.st.Atomic(ctx, func(b store.Batch) error {
		b.SAdd(threatProfileKey("ua", email), uaDigest)
		b.SAdd(threatProfileKey("loc", email), location)
		b.SAdd(threatProfileKey("hours", email), hour)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update login profile: %w", err)
	}
	return nil
}

// ActionCount returns the frequency counter for an action within its window
func (r *ThreatRepository) ActionCount(ctx context.Context, userID, action string) (int64, error) {
	raw, err := r.st.Get(ctx, threatActionFreqKey(userID, action))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get action count: %w", err)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: action count: %v", ErrMalformedRecord, err)
	}
	return n, nil
}

// IncrAction bumps the frequency counter for an action
func (r *ThreatRepository) IncrAction(ctx context.Context, userID, action string, window time.Duration) (int64, error) {
	key := threatActionFreqKey(userID, action)
	n, err := r.st.Incr(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("failed to increment action count: %w", err)
	}
	if n == 1 {
		if err := r.st.Expire(ctx, key, window); err != nil {
			return 0, fmt.Errorf("failed to set action window: %w", err)
		}
	}
	return n, nil
}

// DistinctResources returns how many distinct resources the user has
// touched within the resource window.
func (r *ThreatRepository) DistinctResources(ctx context.Context, userID string) (int64, error) {
	n, err := r.st.SCard(ctx, threatActionResKey(userID))
	if err != nil {
		return 0, fmt.Errorf("failed to count resources: %w", err)
	}
	return n, nil
}

// TouchResource adds a resource to the user's recent-resource set and
// refreshes the set's window.
func (r *ThreatRepository) TouchResource(ctx context.Context, userID, resource string, window time.Duration) error {
	key := threatActionResKey(userID)
	if err := r.st.SAdd(ctx, key, resource); err != nil {
		return fmt.Errorf("failed to record resource: %w", err)
	}
	if err := r.st.Expire(ctx, key, window); err != nil {
		return fmt.Errorf("failed to set resource window: %w", err)
	}
	return nil
}

// LastActionAt returns when the user last performed the action, if known
func (r *ThreatRepository) LastActionAt(ctx context.Context, userID, action string) (time.Time, bool, error) {
	raw, err := r.st.Get(ctx, threatActionLastKey(userID, action))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to get last action time: %w", err)
	}
	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: last action time: %v", ErrMalformedRecord, err)
	}
	return time.Unix(0, nanos).UTC(), true, nil
}

// StampAction records when the user performed the action
func (r *ThreatRepository) StampAction(ctx context.Context, userID, action string, at time.Time, window time.Duration) error {
	val := strconv.FormatInt(at.UnixNano(), 10)
	if err := r.st.SetEx(ctx, threatActionLastKey(userID, action), val, window); err != nil {
		return fmt.Errorf("failed to record action time: %w", err)
	}
	return nil
}
