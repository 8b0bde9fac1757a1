package ephemeral

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/puzpuzpuz/xsync/v4"
)

// Memory is an in-process Store.
//
// Single-key primitives are atomic through xsync.Map.Compute and hold mu for
// reading. Toggle holds mu for writing, so it observes and mutates all of its
// keys without interleaving with any other primitive.
type Memory struct {
	mu       sync.RWMutex
	counters *xsync.Map[string, int64]
	sets     *xsync.Map[string, *memSet]
	clock    clockwork.Clock
}

// memSet is immutable once stored; writers replace it.
type memSet struct {
	members   map[string]struct{}
	expiresAt time.Time // zero means no expiry
}

func (s *memSet) live(now time.Time) bool {
	return s != nil && (s.expiresAt.IsZero() || now.Before(s.expiresAt))
}

func (s *memSet) with(add []string, remove []string) *memSet {
	next := &memSet{members: make(map[string]struct{}, len(s.members)+len(add)), expiresAt: s.expiresAt}
	for m := range s.members {
		next.members[m] = struct{}{}
	}
	for _, m := range add {
		next.members[m] = struct{}{}
	}
	for _, m := range remove {
		delete(next.members, m)
	}
	return next
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithClock sets the clock used for TTL expiry.
func WithClock(c clockwork.Clock) MemoryOption {
	return func(m *Memory) {
		m.clock = c
	}
}

// NewMemory creates an empty in-memory store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		counters: xsync.NewMap[string, int64](),
		sets:     xsync.NewMap[string, *memSet](),
		clock:    clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var _ Store = (*Memory)(nil)

func (m *Memory) Count(_ context.Context, key string) (int64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.counters.Load(key)
	return n, ok, nil
}

func (m *Memory) Incr(_ context.Context, key string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.adjust(key, 1, 0, false), nil
}

func (m *Memory) Decr(_ context.Context, key string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.adjust(key, -1, 0, false), nil
}

// adjust applies delta to the counter, seeding it with baseline when absent
// and seed is set. The result never drops below zero.
func (m *Memory) adjust(key string, delta, baseline int64, seed bool) int64 {
	n, _ := m.counters.Compute(key, func(old int64, loaded bool) (int64, xsync.ComputeOp) {
		if !loaded && seed {
			old = baseline
		}
		old += delta
		if old < 0 {
			old = 0
		}
		return old, xsync.UpdateOp
	})
	return n
}

func (m *Memory) IsMember(_ context.Context, key, member string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isMember(key, member), nil
}

func (m *Memory) isMember(key, member string) bool {
	s, ok := m.sets.Load(key)
	if !ok || !s.live(m.clock.Now()) {
		return false
	}
	_, ok = s.members[member]
	return ok
}

func (m *Memory) AddMembers(_ context.Context, key string, members ...string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.update(key, members, nil, 0)
	return nil
}

func (m *Memory) RemoveMembers(_ context.Context, key string, members ...string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.update(key, nil, members, 0)
	return nil
}

func (m *Memory) AddMembersTTL(_ context.Context, key string, ttl time.Duration, members ...string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.update(key, members, nil, ttl)
	return nil
}

// update replaces the set at key. A positive ttl resets the expiry; an empty
// result deletes the key, matching Redis semantics.
func (m *Memory) update(key string, add, remove []string, ttl time.Duration) {
	now := m.clock.Now()
	m.sets.Compute(key, func(old *memSet, loaded bool) (*memSet, xsync.ComputeOp) {
		if !loaded || !old.live(now) {
			if len(add) == 0 {
				return nil, xsync.DeleteOp
			}
			old = &memSet{}
		}
		next := old.with(add, remove)
		if ttl > 0 {
			next.expiresAt = now.Add(ttl)
		}
		if len(next.members) == 0 {
			return nil, xsync.DeleteOp
		}
		return next, xsync.UpdateOp
	})
}

func (m *Memory) Members(_ context.Context, key string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sets.Load(key)
	if !ok || !s.live(m.clock.Now()) {
		return []string{}, nil
	}
	members := make([]string, 0, len(s.members))
	for member := range s.members {
		members = append(members, member)
	}
	slices.Sort(members)
	return members, nil
}

func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, k := range keys {
		m.counters.Delete(k)
		m.sets.Delete(k)
	}
	return nil
}

func (m *Memory) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.clock.Now()
	var keys []string
	m.counters.Range(func(k string, _ int64) bool {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
		return true
	})
	m.sets.Range(func(k string, s *memSet) bool {
		if strings.HasPrefix(k, prefix) && s.live(now) {
			keys = append(keys, k)
		}
		return true
	})
	slices.Sort(keys)
	return slices.Compact(keys), nil
}

func (m *Memory) Toggle(_ context.Context, req ToggleRequest) (ToggleResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var on bool
	switch {
	case m.isMember(req.PendingOn, req.Member):
		m.update(req.PendingOn, nil, []string{req.Member}, 0)
		on = false
	case m.isMember(req.PendingOff, req.Member):
		m.update(req.PendingOff, nil, []string{req.Member}, 0)
		on = true
	case req.Durable:
		m.update(req.PendingOff, []string{req.Member}, nil, 0)
		on = false
	default:
		m.update(req.PendingOn, []string{req.Member}, nil, 0)
		on = true
	}

	if req.Mirror != "" {
		if on {
			m.update(req.Mirror, []string{req.MirrorMember}, nil, 0)
		} else {
			m.update(req.Mirror, nil, []string{req.MirrorMember}, 0)
		}
	}

	res := ToggleResult{On: on}
	if req.Counter != "" {
		delta := int64(-1)
		if on {
			delta = 1
		}
		res.Count = m.adjust(req.Counter, delta, req.Baseline, true)
	}
	return res, nil
}
