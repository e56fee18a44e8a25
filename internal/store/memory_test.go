package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryGetSet(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()

	_, err := m.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.SetEx(ctx, "k", "v", 0))
	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "v", got)

	require.NoError(t, m.Del(ctx, "k"))
	_, err = m.Get(ctx, "k")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryTTL(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.SetEx(ctx, "k", "v", 10*time.Millisecond))
	_, err := m.Get(ctx, "k")
	require.NoError(t, err)

	ttl, err := m.TTL(ctx, "k")
	require.NoError(t, err)
	require.Positive(t, ttl)

	time.Sleep(25 * time.Millisecond)
	_, err = m.Get(ctx, "k")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = m.TTL(ctx, "k")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.SetEx(ctx, "p", "v", 0))
	ttl, err = m.TTL(ctx, "p")
	require.NoError(t, err)
	require.Zero(t, ttl)
}

func TestMemoryExpireCoversAllKinds(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.SAdd(ctx, "s", "a"))
	require.NoError(t, m.Expire(ctx, "s", 10*time.Millisecond))

	time.Sleep(25 * time.Millisecond)
	ok, err := m.SIsMember(ctx, "s", "a")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryGetDel(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.SetEx(ctx, "k", "v", 0))

	got, err := m.GetDel(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "v", got)

	_, err = m.GetDel(ctx, "k")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryHashes(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()

	// Missing hashes read as empty, matching Redis.
	got, err := m.HGetAll(ctx, "h")
	require.NoError(t, err)
	require.Empty(t, got)

	require.NoError(t, m.HSet(ctx, "h", map[string]string{"a": "1", "b": "2"}))
	require.NoError(t, m.HSet(ctx, "h", map[string]string{"b": "3", "c": "4"}))

	got, err = m.HGetAll(ctx, "h")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"a": "1", "b": "3", "c": "4"}, got)
}

func TestMemorySets(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.SAdd(ctx, "s", "a", "b"))
	require.NoError(t, m.SAdd(ctx, "s", "b"))

	n, err := m.SCard(ctx, "s")
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	ok, err := m.SIsMember(ctx, "s", "a")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.SIsMember(ctx, "s", "z")
	require.NoError(t, err)
	require.False(t, ok)

	members, err := m.SMembers(ctx, "s")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, members)

	require.NoError(t, m.SRem(ctx, "s", "a", "b"))
	n, err = m.SCard(ctx, "s")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestMemoryLists(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.RPush(ctx, "l", "a", "b", "c", "b"))

	all, err := m.LRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c", "b"}, all)

	tail, err := m.LRange(ctx, "l", -2, -1)
	require.NoError(t, err)
	require.Equal(t, []string{"c", "b"}, tail)

	empty, err := m.LRange(ctx, "l", 10, 20)
	require.NoError(t, err)
	require.Empty(t, empty)

	n, err := m.LLen(ctx, "l")
	require.NoError(t, err)
	require.Equal(t, int64(4), n)
}

func TestMemoryLRem(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.RPush(ctx, "l", "a", "b", "a", "b", "a"))

	// count 1 removes only the first match from the head.
	removed, err := m.LRem(ctx, "l", 1, "a")
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)
	all, _ := m.LRange(ctx, "l", 0, -1)
	require.Equal(t, []string{"b", "a", "b", "a"}, all)

	// negative count removes from the tail.
	removed, err = m.LRem(ctx, "l", -1, "b")
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)
	all, _ = m.LRange(ctx, "l", 0, -1)
	require.Equal(t, []string{"b", "a", "a"}, all)

	// count 0 removes every match.
	removed, err = m.LRem(ctx, "l", 0, "a")
	require.NoError(t, err)
	require.Equal(t, int64(2), removed)

	removed, err = m.LRem(ctx, "l", 1, "nope")
	require.NoError(t, err)
	require.Zero(t, removed)

	// Removing the last element deletes the key.
	removed, err = m.LRem(ctx, "l", 0, "b")
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)
	n, _ := m.LLen(ctx, "l")
	require.Zero(t, n)
}

func TestMemoryLSet(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()

	require.Error(t, m.LSet(ctx, "l", 0, "x"))

	require.NoError(t, m.RPush(ctx, "l", "a", "b", "c"))
	require.NoError(t, m.LSet(ctx, "l", 1, "x"))
	require.NoError(t, m.LSet(ctx, "l", -1, "y"))

	all, _ := m.LRange(ctx, "l", 0, -1)
	require.Equal(t, []string{"a", "x", "y"}, all)

	require.Error(t, m.LSet(ctx, "l", 3, "z"))
}

func TestMemoryIncr(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()

	n, err := m.Incr(ctx, "c")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	n, err = m.Incr(ctx, "c")
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	require.NoError(t, m.SetEx(ctx, "c", "abc", 0))
	_, err = m.Incr(ctx, "c")
	require.Error(t, err)
}

func TestMemoryKeys(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.SetEx(ctx, "p:a", "1", 0))
	require.NoError(t, m.HSet(ctx, "p:b", map[string]string{"x": "1"}))
	require.NoError(t, m.SAdd(ctx, "p:c", "x"))
	require.NoError(t, m.RPush(ctx, "p:d", "x"))
	require.NoError(t, m.SetEx(ctx, "q:e", "1", 0))

	keys, err := m.Keys(ctx, "p:")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"p:a", "p:b", "p:c", "p:d"}, keys)
}

func TestMemoryAtomic(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()

	err := m.Atomic(ctx, func(b Batch) error {
		b.SetEx("k", "v", 0)
		b.HSet("h", map[string]string{"a": "1"})
		b.RPush("l", "x", "y")
		return nil
	})
	require.NoError(t, err)

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "v", got)
	n, _ := m.LLen(ctx, "l")
	require.Equal(t, int64(2), n)

	// An error from fn discards every queued write.
	err = m.Atomic(ctx, func(b Batch) error {
		b.Del("k")
		b.RPush("l", "z")
		return errors.New("abort")
	})
	require.Error(t, err)

	_, err = m.Get(ctx, "k")
	require.NoError(t, err)
	n, _ = m.LLen(ctx, "l")
	require.Equal(t, int64(2), n)
}

func TestMemoryPublish(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Publish(ctx, "ch", "one"))
	require.NoError(t, m.Publish(ctx, "ch", "two"))

	require.Equal(t, []string{"one", "two"}, m.Published("ch"))
	require.Empty(t, m.Published("other"))
}
