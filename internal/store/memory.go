package store

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Memory is an in-process Store driver with the same semantics as the
// Redis driver, including lazy TTL expiry. It backs unit tests and
// single-process development; it is not safe across processes.
type Memory struct {
	mu     sync.Mutex
	vals   map[string]string
	hashes map[string]map[string]string
	sets   map[string]map[string]struct{}
	lists  map[string][]string
	expiry map[string]time.Time
	pubs   map[string][]string
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		vals:   make(map[string]string),
		hashes: make(map[string]map[string]string),
		sets:   make(map[string]map[string]struct{}),
		lists:  make(map[string][]string),
		expiry: make(map[string]time.Time),
		pubs:   make(map[string][]string),
	}
}

// reap removes the key everywhere once its TTL has passed. Callers hold mu.
func (m *Memory) reap(key string) {
	exp, ok := m.expiry[key]
	if !ok || time.Now().Before(exp) {
		return
	}
	m.deleteKey(key)
}

func (m *Memory) deleteKey(key string) {
	delete(m.vals, key)
	delete(m.hashes, key)
	delete(m.sets, key)
	delete(m.lists, key)
	delete(m.expiry, key)
}

func (m *Memory) exists(key string) bool {
	if _, ok := m.vals[key]; ok {
		return true
	}
	if _, ok := m.hashes[key]; ok {
		return true
	}
	if _, ok := m.sets[key]; ok {
		return true
	}
	if _, ok := m.lists[key]; ok {
		return true
	}
	return false
}

func (m *Memory) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reap(key)
	val, ok := m.vals[key]
	if !ok {
		return "", ErrNotFound
	}
	return val, nil
}

func (m *Memory) GetDel(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reap(key)
	val, ok := m.vals[key]
	if !ok {
		return "", ErrNotFound
	}
	m.deleteKey(key)
	return val, nil
}

func (m *Memory) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setExLocked(key, value, ttl)
	return nil
}

func (m *Memory) setExLocked(key, value string, ttl time.Duration) {
	m.vals[key] = value
	if ttl > 0 {
		m.expiry[key] = time.Now().Add(ttl)
	} else {
		delete(m.expiry, key)
	}
}

func (m *Memory) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		m.deleteKey(key)
	}
	return nil
}

func (m *Memory) HSet(ctx context.Context, key string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reap(key)
	m.hsetLocked(key, fields)
	return nil
}

func (m *Memory) hsetLocked(key string, fields map[string]string) {
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string, len(fields))
		m.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
}

func (m *Memory) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reap(key)
	// Missing hashes read as empty, matching Redis
	out := make(map[string]string, len(m.hashes[key]))
	for k, v := range m.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) SAdd(ctx context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reap(key)
	m.saddLocked(key, members)
	return nil
}

func (m *Memory) saddLocked(key string, members []string) {
	s, ok := m.sets[key]
	if !ok {
		s = make(map[string]struct{}, len(members))
		m.sets[key] = s
	}
	for _, member := range members {
		s[member] = struct{}{}
	}
}

func (m *Memory) SRem(ctx context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reap(key)
	m.sremLocked(key, members)
	return nil
}

func (m *Memory) sremLocked(key string, members []string) {
	s, ok := m.sets[key]
	if !ok {
		return
	}
	for _, member := range members {
		delete(s, member)
	}
	if len(s) == 0 {
		delete(m.sets, key)
	}
}

func (m *Memory) SIsMember(ctx context.Context, key, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reap(key)
	_, ok := m.sets[key][member]
	return ok, nil
}

func (m *Memory) SMembers(ctx context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reap(key)
	members := make([]string, 0, len(m.sets[key]))
	for member := range m.sets[key] {
		members = append(members, member)
	}
	return members, nil
}

func (m *Memory) SCard(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reap(key)
	return int64(len(m.sets[key])), nil
}

func (m *Memory) RPush(ctx context.Context, key string, values ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reap(key)
	m.rpushLocked(key, values)
	return nil
}

func (m *Memory) rpushLocked(key string, values []string) {
	m.lists[key] = append(m.lists[key], values...)
}

func (m *Memory) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reap(key)
	list := m.lists[key]
	n := int64(len(list))
	if start < 0 {
		start = n + start
		if start < 0 {
			start = 0
		}
	}
	if stop < 0 {
		stop = n + stop
	}
	if stop >= n {
		stop = n - 1
	}
	if start >= n || start > stop {
		return []string{}, nil
	}
	out := make([]string, stop-start+1)
	copy(out, list[start:stop+1])
	return out, nil
}

func (m *Memory) LRem(ctx context.Context, key string, count int64, value string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reap(key)
	list := m.lists[key]

	var removed int64
	var out []string
	if count >= 0 {
		limit := count
		for _, v := range list {
			if v == value && (count == 0 || removed < limit) {
				removed++
				continue
			}
			out = append(out, v)
		}
	} else {
		limit := -count
		for i := len(list) - 1; i >= 0; i-- {
			if list[i] == value && removed < limit {
				removed++
				continue
			}
			out = append([]string{list[i]}, out...)
		}
	}

	if len(out) == 0 {
		delete(m.lists, key)
	} else {
		m.lists[key] = out
	}
	return removed, nil
}

func (m *Memory) LSet(ctx context.Context, key string, index int64, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reap(key)
	list, ok := m.lists[key]
	if !ok {
		return fmt.Errorf("no such key %q", key)
	}
	if index < 0 {
		index = int64(len(list)) + index
	}
	if index < 0 || index >= int64(len(list)) {
		return fmt.Errorf("index out of range for key %q", key)
	}
	list[index] = value
	return nil
}

func (m *Memory) LLen(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reap(key)
	return int64(len(m.lists[key])), nil
}

func (m *Memory) Incr(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reap(key)
	cur := int64(0)
	if raw, ok := m.vals[key]; ok {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("value at %q is not an integer", key)
		}
		cur = parsed
	}
	cur++
	m.vals[key] = strconv.FormatInt(cur, 10)
	return cur, nil
}

func (m *Memory) Expire(ctx context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reap(key)
	m.expireLocked(key, ttl)
	return nil
}

func (m *Memory) TTL(ctx context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reap(key)
	if !m.exists(key) {
		return 0, ErrNotFound
	}
	exp, ok := m.expiry[key]
	if !ok {
		return 0, nil
	}
	return time.Until(exp), nil
}

func (m *Memory) expireLocked(key string, ttl time.Duration) {
	if !m.exists(key) {
		return
	}
	m.expiry[key] = time.Now().Add(ttl)
}

func (m *Memory) Keys(ctx context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]struct{})
	collect := func(key string) {
		m.reap(key)
		if !m.exists(key) {
			return
		}
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			seen[key] = struct{}{}
		}
	}
	for key := range m.vals {
		collect(key)
	}
	for key := range m.hashes {
		collect(key)
	}
	for key := range m.sets {
		collect(key)
	}
	for key := range m.lists {
		collect(key)
	}
	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	return keys, nil
}

// Atomic queues the batch while fn runs, then applies everything under
// one lock acquisition. An error from fn discards the batch.
func (m *Memory) Atomic(ctx context.Context, fn func(b Batch) error) error {
	batch := &memoryBatch{m: m}
	if err := fn(batch); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range batch.ops {
		op()
	}
	return nil
}

func (m *Memory) Publish(ctx context.Context, channel, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pubs[channel] = append(m.pubs[channel], message)
	return nil
}

// Published returns the messages sent to a channel, oldest first.
func (m *Memory) Published(channel string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.pubs[channel]))
	copy(out, m.pubs[channel])
	return out
}

func (m *Memory) Ping(ctx context.Context) error {
	return nil
}

type memoryBatch struct {
	m   *Memory
	ops []func()
}

func (b *memoryBatch) Del(keys ...string) {
	b.ops = append(b.ops, func() {
		for _, key := range keys {
			b.m.deleteKey(key)
		}
	})
}

func (b *memoryBatch) SetEx(key, value string, ttl time.Duration) {
	b.ops = append(b.ops, func() { b.m.setExLocked(key, value, ttl) })
}

func (b *memoryBatch) HSet(key string, fields map[string]string) {
	b.ops = append(b.ops, func() { b.m.hsetLocked(key, fields) })
}

func (b *memoryBatch) SAdd(key string, members ...string) {
	b.ops = append(b.ops, func() { b.m.saddLocked(key, members) })
}

func (b *memoryBatch) SRem(key string, members ...string) {
	b.ops = append(b.ops, func() { b.m.sremLocked(key, members) })
}

func (b *memoryBatch) RPush(key string, values ...string) {
	b.ops = append(b.ops, func() { b.m.rpushLocked(key, values) })
}

func (b *memoryBatch) Expire(key string, ttl time.Duration) {
	b.ops = append(b.ops, func() { b.m.expireLocked(key, ttl) })
}
