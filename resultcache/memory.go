package resultcache

import (
	"context"
	"sync"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

type memItem struct {
	data    []byte
	expires time.Time
}

// Memory is an in-process LRU cache with a per-entry TTL. Entries are stored
// serialised so callers never share mutable state.
type Memory struct {
	mu    sync.Mutex
	items *orderedmap.OrderedMap[string, memItem]
	max   int
	ttl   time.Duration
	now   func() time.Time
}

// NewMemory keeps at most maxEntries results for ttl each. A zero ttl never
// expires entries.
func NewMemory(maxEntries int, ttl time.Duration) *Memory {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &Memory{
		items: orderedmap.New[string, memItem](),
		max:   maxEntries,
		ttl:   ttl,
		now:   time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key string) (*Entry, bool, error) {
	m.mu.Lock()
	it, ok := m.items.Get(key)
	if ok && m.ttl > 0 && !m.now().Before(it.expires) {
		m.items.Delete(key)
		ok = false
	}
	if ok {
		_ = m.items.MoveToBack(key)
	}
	m.mu.Unlock()

	if !ok {
		return nil, false, nil
	}
	e, err := unmarshal(it.data)
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}

func (m *Memory) Set(_ context.Context, key string, e *Entry) error {
	data, err := marshal(e)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items.Delete(key)
	m.items.Set(key, memItem{data: data, expires: m.now().Add(m.ttl)})
	for m.items.Len() > m.max {
		m.items.Delete(m.items.Oldest().Key)
	}
	return nil
}

// Len counts stored entries, including expired ones not yet read.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items.Len()
}

func (m *Memory) Close() error { return nil }
