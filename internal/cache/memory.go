package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

type entry struct {
	val     []byte
	expires time.Time
}

// Memory is a process-local Cache for single-instance deployments without
// Redis.  It is instantiated per wiring, never shared through a package
// variable.
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
	gens    map[string]uint64
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]entry), gens: make(map[string]uint64), now: time.Now}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !m.now().Before(e.expires) {
		delete(m.entries, key)
		return nil, false, nil
	}
	out := make([]byte, len(e.val))
	copy(out, e.val)
	return out, true, nil
}

func (m *Memory) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	cp := make([]byte, len(val))
	copy(cp, val)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = entry{val: cp, expires: m.now().Add(ttl)}
	return nil
}

// Invalidate drops the keys and every versioned entry of them, then
// advances their generations.
func (m *Memory) Invalidate(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.entries, k)
		prefix := k + "#"
		for name := range m.entries {
			if strings.HasPrefix(name, prefix) {
				delete(m.entries, name)
			}
		}
		m.gens[k]++
	}
	return nil
}

func (m *Memory) Generation(_ context.Context, key string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gens[key], nil
}
