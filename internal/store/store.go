package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.New("store: key not found")

// Store is the credential store all security state lives in. It exposes
// the key-value primitives the security services coordinate through:
// hash fields, sets, lists, counters, TTL-bound values, and an atomic
// batch. The Redis driver backs production; the memory driver backs
// unit tests and single-process development.
type Store interface {
	// Values
	Get(ctx context.Context, key string) (string, error)
	GetDel(ctx context.Context, key string) (string, error)
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error

	// Hashes
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// Sets
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SIsMember(ctx context.Context, key, member string) (bool, error)
	SMembers(ctx context.Context, key string) ([]string, error)
	SCard(ctx context.Context, key string) (int64, error)

	// Lists
	RPush(ctx context.Context, key string, values ...string) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LRem(ctx context.Context, key string, count int64, value string) (int64, error)
	LSet(ctx context.Context, key string, index int64, value string) error
	LLen(ctx context.Context, key string) (int64, error)

	// Counters
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// TTL returns the remaining lifetime of a key, 0 when the key has
	// no expiry, and ErrNotFound when it does not exist.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Keys returns all keys beginning with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Atomic applies every operation queued on the batch as a single
	// unit, or none of them when fn returns an error.
	Atomic(ctx context.Context, fn func(b Batch) error) error

	// Publish sends a message to a channel, best-effort.
	Publish(ctx context.Context, channel, message string) error

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error
}

// Batch queues write operations for atomic application. Batched
// operations cannot read; reads belong before the batch.
type Batch interface {
	Del(keys ...string)
	SetEx(key, value string, ttl time.Duration)
	HSet(key string, fields map[string]string)
	SAdd(key string, members ...string)
	SRem(key string, members ...string)
	RPush(key string, values ...string)
	Expire(key string, ttl time.Duration)
}
