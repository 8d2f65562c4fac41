package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/crmpulse/crmpulse/internal/core"
	"github.com/crmpulse/crmpulse/internal/metrics"
)

// DefaultPrefix namespaces result cache keys inside the KV backend.
const DefaultPrefix = "crmpulse:cache:"

// ResultCache is a keyed, timestamped store of the last good payload per
// logical dataset. Entries do not expire unless MaxAge is set.
type ResultCache struct {
	KV     KV
	Prefix string
	// MaxAge, when positive, makes older entries invisible to Get.
	MaxAge time.Duration
	Clock  func() time.Time
	Logger core.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New creates a cache over kv with the default prefix.
func New(kv KV) *ResultCache {
	return &ResultCache{KV: kv, Prefix: DefaultPrefix}
}

// Get returns the raw cached entry for key.
func (c *ResultCache) Get(ctx context.Context, key string) (*core.CacheEntry[json.RawMessage], bool) {
	if c == nil || c.KV == nil {
		return nil, false
	}
	if ctx == nil {
		ctx = context.Background()
	}

	value, ok, err := c.KV.Get(ctx, c.storageKey(key))
	if err != nil {
		c.logger().Warn("Result cache read failed", zap.String("key", key), zap.Error(err))
		metrics.RecordCacheRead(false)
		return nil, false
	}
	if !ok {
		metrics.RecordCacheRead(false)
		return nil, false
	}

	var entry core.CacheEntry[json.RawMessage]
	if err := json.Unmarshal([]byte(value), &entry); err != nil {
		c.logger().Warn("Discarding undecodable cache entry", zap.String("key", key), zap.Error(err))
		metrics.RecordCacheRead(false)
		return nil, false
	}
	if c.MaxAge > 0 && c.now().Sub(entry.WrittenAt) > c.MaxAge {
		metrics.RecordCacheRead(false)
		return nil, false
	}

	metrics.RecordCacheRead(true)
	return &entry, true
}

// Load returns the cached entry for key decoded as T.
func Load[T any](ctx context.Context, c *ResultCache, key string) (core.CacheEntry[T], bool) {
	raw, ok := c.Get(ctx, key)
	if !ok {
		return core.CacheEntry[T]{}, false
	}
	var data T
	if err := json.Unmarshal(raw.Data, &data); err != nil {
		c.logger().Warn("Cached payload does not match expected type", zap.String("key", key), zap.Error(err))
		return core.CacheEntry[T]{}, false
	}
	return core.CacheEntry[T]{Key: raw.Key, Data: data, WrittenAt: raw.WrittenAt}, true
}

// Put stores data under key, unconditionally replacing any prior entry.
func Put[T any](ctx context.Context, c *ResultCache, key string, data T) error {
	if c == nil || c.KV == nil {
		return errors.New("result cache is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode cache payload: %w", err)
	}
	encoded, err := json.Marshal(core.CacheEntry[json.RawMessage]{
		Key:       key,
		Data:      payload,
		WrittenAt: c.now(),
	})
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	lock := c.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	if err := c.KV.Set(ctx, c.storageKey(key), string(encoded)); err != nil {
		return fmt.Errorf("store cache entry: %w", err)
	}
	return nil
}

// Remove deletes the entry for key.
func (c *ResultCache) Remove(ctx context.Context, key string) error {
	if c == nil || c.KV == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	lock := c.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	if err := c.KV.Remove(ctx, c.storageKey(key)); err != nil {
		return fmt.Errorf("remove cache entry: %w", err)
	}
	return nil
}

// IsEquivalent reports whether candidate is structurally equal to the cached
// payload for key. It only informs labelling and never gates a write.
func (c *ResultCache) IsEquivalent(ctx context.Context, key string, candidate any) bool {
	raw, ok := c.Get(ctx, key)
	if !ok {
		return false
	}
	encoded, err := json.Marshal(candidate)
	if err != nil {
		return false
	}

	var cached, fresh any
	if err := json.Unmarshal(raw.Data, &cached); err != nil {
		return false
	}
	if err := json.Unmarshal(encoded, &fresh); err != nil {
		return false
	}
	return reflect.DeepEqual(cached, fresh)
}

// Keys lists logical keys currently cached, in lexical order.
func (c *ResultCache) Keys(ctx context.Context) ([]string, error) {
	if c == nil || c.KV == nil {
		return nil, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	stored, err := c.KV.Keys(ctx, c.prefix())
	if err != nil {
		return nil, fmt.Errorf("list cache keys: %w", err)
	}
	keys := make([]string, 0, len(stored))
	for _, key := range stored {
		keys = append(keys, strings.TrimPrefix(key, c.prefix()))
	}
	return keys, nil
}

// Clear removes every cached entry and returns how many were removed.
func (c *ResultCache) Clear(ctx context.Context) (int, error) {
	keys, err := c.Keys(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, key := range keys {
		if err := c.Remove(ctx, key); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (c *ResultCache) lockFor(key string) *sync.Mutex {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	if c.locks == nil {
		c.locks = make(map[string]*sync.Mutex)
	}
	lock, ok := c.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[key] = lock
	}
	return lock
}

func (c *ResultCache) storageKey(key string) string {
	return c.prefix() + key
}

func (c *ResultCache) prefix() string {
	if c.Prefix == "" {
		return DefaultPrefix
	}
	return c.Prefix
}

func (c *ResultCache) logger() core.Logger {
	if c == nil {
		return core.LoggerOrNop(nil)
	}
	return core.LoggerOrNop(c.Logger)
}

func (c *ResultCache) now() time.Time {
	if c != nil && c.Clock != nil {
		return c.Clock()
	}
	return time.Now().UTC()
}
