package store

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	value   string
	set     map[string]struct{}
	list    []string
	expires time.Time
}

// Memory is a process-local Store used for development (STORE_BACKEND=memory)
// and tests. It honours expiry lazily on access.
type Memory struct {
	mu   sync.Mutex
	data map[string]*memEntry
	now  func() time.Time
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]*memEntry), now: time.Now}
}

// SetClock overrides the time source (tests).
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// live returns the entry for key, dropping it when expired. Caller holds mu.
func (m *Memory) live(key string) *memEntry {
	e, ok := m.data[key]
	if !ok {
		return nil
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.data, key)
		return nil
	}
	return e
}

func (m *Memory) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil || e.set != nil || e.list != nil {
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = &memEntry{value: value, expires: m.expiry(ttl)}
	return nil
}

func (m *Memory) SetIfAbsent(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live(key) != nil {
		return false, nil
	}
	m.data[key] = &memEntry{value: value, expires: m.expiry(ttl)}
	return true, nil
}

func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *Memory) AddIfAbsent(_ context.Context, setKey, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(setKey)
	if e == nil {
		e = &memEntry{set: make(map[string]struct{})}
		m.data[setKey] = e
	}
	if e.set == nil {
		e.set = make(map[string]struct{})
	}
	if _, ok := e.set[member]; ok {
		return false, nil
	}
	e.set[member] = struct{}{}
	return true, nil
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.live(key); e != nil {
		e.expires = m.expiry(ttl)
	}
	return nil
}

func (m *Memory) Append(_ context.Context, listKey string, values ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(listKey)
	if e == nil {
		e = &memEntry{list: []string{}}
		m.data[listKey] = e
	}
	e.list = append(e.list, values...)
	return int64(len(e.list)), nil
}

func (m *Memory) Range(_ context.Context, listKey string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(listKey)
	if e == nil {
		return []string{}, nil
	}
	out := make([]string, len(e.list))
	copy(out, e.list)
	return out, nil
}

func (m *Memory) Ping(context.Context) error { return nil }
