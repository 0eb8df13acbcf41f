package kv

import (
	"sync"
)

// Memory is the ephemeral, test-facing backend — the generalized
// counterpart of core.NewInMemory()'s map-backed ledger state, but exposed
// through the byte-range Store contract instead of ledger-specific methods.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(key []byte) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (m *Memory) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[string(key)] = cp
	return nil
}

func (m *Memory) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

func (m *Memory) Iterator(prefix []byte) (Iterator, error) {
	upper, bounded := prefixUpperBound(prefix)

	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]kvPair, 0)
	for k, v := range m.data {
		kb := []byte(k)
		if bounded {
			if !inRange(kb, prefix, upper) {
				continue
			}
		} else if !inRange(kb, prefix, nil) {
			continue
		}
		vc := make([]byte, len(v))
		copy(vc, v)
		entries = append(entries, kvPair{key: kb, value: vc})
	}
	return newSliceIterator(entries), nil
}

func (m *Memory) Close() error { return nil }

// Len reports the number of keys currently stored, for test assertions.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
