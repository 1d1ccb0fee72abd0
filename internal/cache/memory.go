package cache

import (
	"context"
	"sync"
	"time"
)

// Memory is a TTL- and capacity-bounded in-process cache. Expired entries
// are dropped lazily on read and pruned on write; past capacity, the entry
// closest to expiry is evicted first. Safe for concurrent use.
type Memory struct {
	mu         sync.Mutex
	maxEntries int
	entries    map[string]memoryEntry
}

type memoryEntry struct {
	e       Entry
	expires time.Time
}

func NewMemory(maxEntries int) *Memory {
	if maxEntries <= 0 {
		maxEntries = 100
	}
	return &Memory{
		maxEntries: maxEntries,
		entries:    make(map[string]memoryEntry),
	}
}

func (m *Memory) Get(ctx context.Context, key string) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	me, ok := m.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	if !time.Now().Before(me.expires) {
		delete(m.entries, key)
		return Entry{}, false, nil
	}
	return me.e, true, nil
}

func (m *Memory) Set(ctx context.Context, key string, e Entry, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		return nil
	}

	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	for k, me := range m.entries {
		if !now.Before(me.expires) {
			delete(m.entries, k)
		}
	}

	m.entries[key] = memoryEntry{e: e, expires: now.Add(ttl)}

	for len(m.entries) > m.maxEntries {
		var (
			minKey string
			minT   time.Time
			set    bool
		)
		for k, me := range m.entries {
			if !set || me.expires.Before(minT) {
				minKey, minT, set = k, me.expires, true
			}
		}
		delete(m.entries, minKey)
	}
	return nil
}

// Len reports the current number of live entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
