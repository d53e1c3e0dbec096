package kv

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type entry struct {
	val string
	exp time.Time // zero: no expiry
}

// Memory is a process-local Store. Now may be replaced to move the clock in
// tests; expiry is evaluated lazily on access.
type Memory struct {
	mu   sync.Mutex
	data map[string]entry
	Now  func() time.Time
}

// NewMemory returns an empty Memory store using the wall clock.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]entry), Now: time.Now}
}

// live returns the entry at key if present and not expired. Callers hold mu.
func (m *Memory) live(key string) (entry, bool) {
	e, ok := m.data[key]
	if !ok {
		return entry{}, false
	}
	if !e.exp.IsZero() && !m.Now().Before(e.exp) {
		delete(m.data, key)
		return entry{}, false
	}
	return e, true
}

func (m *Memory) incr(key string) (int64, error) {
	e, _ := m.live(key)
	n := int64(0)
	if e.val != "" {
		v, err := strconv.ParseInt(e.val, 10, 64)
		if err != nil {
			return 0, err
		}
		n = v
	}
	n++
	e.val = strconv.FormatInt(n, 10)
	m.data[key] = e
	return n, nil
}

func (m *Memory) IncrExpireAt(_ context.Context, key string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, err := m.incr(key)
	if err != nil {
		return 0, err
	}
	e := m.data[key]
	e.exp = at
	m.data[key] = e
	return n, nil
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, _ := m.live(key)
	return e.val, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := entry{val: value}
	if ttl > 0 {
		e.exp = m.Now().Add(ttl)
	}
	m.data[key] = e
	return nil
}

func (m *Memory) GetDel(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if ok {
		delete(m.data, key)
	}
	return e.val, nil
}

func (m *Memory) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
