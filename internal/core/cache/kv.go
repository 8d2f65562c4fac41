package cache

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// KV is the durable string store the result cache serializes into.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Compile-time interface checks.
var (
	_ KV = (*MemoryKV)(nil)
	_ KV = (*TieredKV)(nil)
)

// MemoryKV is a process-local KV. Contents are lost on restart.
type MemoryKV struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryKV creates an empty in-memory KV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{values: make(map[string]string)}
}

func (m *MemoryKV) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.values[key]
	return value, ok, nil
}

func (m *MemoryKV) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryKV) Remove(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *MemoryKV) Keys(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.values))
	for key := range m.values {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// TieredKV puts a MemoryKV in front of a durable backend. Writes go to both
// (write-through); reads check memory first and backfill it on a miss.
type TieredKV struct {
	memory     *MemoryKV
	persistent KV
}

// NewTieredKV wraps persistent with an in-memory read tier.
func NewTieredKV(persistent KV) *TieredKV {
	return &TieredKV{memory: NewMemoryKV(), persistent: persistent}
}

func (t *TieredKV) Get(ctx context.Context, key string) (string, bool, error) {
	if value, ok, _ := t.memory.Get(ctx, key); ok {
		return value, true, nil
	}
	value, ok, err := t.persistent.Get(ctx, key)
	if err != nil || !ok {
		return "", false, err
	}
	_ = t.memory.Set(ctx, key, value)
	return value, true, nil
}

// Set writes the persistent tier first; memory is only updated once the
// durable write succeeded.
func (t *TieredKV) Set(ctx context.Context, key, value string) error {
	if err := t.persistent.Set(ctx, key, value); err != nil {
		return err
	}
	return t.memory.Set(ctx, key, value)
}

func (t *TieredKV) Remove(ctx context.Context, key string) error {
	_ = t.memory.Remove(ctx, key)
	return t.persistent.Remove(ctx, key)
}

// Keys lists the persistent tier, which is authoritative.
func (t *TieredKV) Keys(ctx context.Context, prefix string) ([]string, error) {
	return t.persistent.Keys(ctx, prefix)
}
