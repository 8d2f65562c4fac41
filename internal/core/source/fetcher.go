// Package source resolves one remote analysis dataset through its retry gate
// and result cache: network first, then cache, then the previous value held
// in memory.
package source

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/crmpulse/crmpulse/internal/core"
	"github.com/crmpulse/crmpulse/internal/core/cache"
	"github.com/crmpulse/crmpulse/internal/core/retry"
	"github.com/crmpulse/crmpulse/internal/metrics"
)

var errNoCall = errors.New("source call is not configured")

// CallFunc performs the network call for one source.
type CallFunc[T any] func(ctx context.Context, params core.Params) (T, error)

// Fetcher resolves one source. Each source owns exactly one Fetcher, one
// gate and its own cache keys.
type Fetcher[T any] struct {
	Name  string
	Gate  *retry.Gate
	Cache *cache.ResultCache
	Call  CallFunc[T]
	// EmptyOnFailure marks sources whose "nothing to report" answer arrives
	// as a fatal status; such failures resolve to Empty rather than Failed.
	EmptyOnFailure bool
	// Empty builds the payload shown for an Empty result, e.g. an empty
	// non-nil slice. Nil means the zero value of T.
	Empty  func() T
	Clock  func() time.Time
	Logger core.Logger

	mu   sync.Mutex
	last map[string]T
}

// CacheKey returns the cache key for params.
func (f *Fetcher[T]) CacheKey(params core.Params) string {
	return f.Name + ":" + params.Key()
}

// Fetch resolves the source for params. It never returns an error; every
// outcome is a SourceResult.
func (f *Fetcher[T]) Fetch(ctx context.Context, params core.Params) core.SourceResult[T] {
	if ctx == nil {
		ctx = context.Background()
	}
	started := f.now()
	result := f.fetch(ctx, params)
	metrics.RecordSourceFetch(f.Name, string(result.Status), f.now().Sub(started))
	return result
}

func (f *Fetcher[T]) fetch(ctx context.Context, params core.Params) core.SourceResult[T] {
	logger := core.LoggerOrNop(f.Logger)
	key := f.CacheKey(params)

	if f.Gate != nil && !f.Gate.CanAttempt() {
		logger.Debug("Source gate closed, resolving from fallbacks",
			zap.String("source", f.Name),
			zap.String("key", key))
		return f.fallback(ctx, key, core.KindRetryExhausted, core.ErrRetryExhausted, f.Gate.BlockedBy())
	}

	if f.Call == nil {
		return core.Failed[T](core.KindTransient, errNoCall)
	}

	var (
		data T
		err  error
	)
	if f.Gate != nil {
		data, err = retry.Run(ctx, f.Gate, func(ctx context.Context) (T, error) {
			return f.Call(ctx, params)
		})
	} else {
		data, err = f.Call(ctx, params)
	}

	if err != nil {
		kind := core.KindOf(err)
		if kind == core.KindCanceled || ctx.Err() != nil {
			return core.Failed[T](core.KindCanceled, err)
		}
		logger.Warn("Source call failed",
			zap.String("source", f.Name),
			zap.String("kind", string(kind)),
			zap.Error(err))
		return f.fallback(ctx, key, kind, err, kind)
	}

	unchanged := f.Cache.IsEquivalent(ctx, key, data)
	if f.Cache != nil {
		if putErr := cache.Put(ctx, f.Cache, key, data); putErr != nil {
			logger.Warn("Failed to cache source result",
				zap.String("source", f.Name),
				zap.String("key", key),
				zap.Error(putErr))
		} else {
			metrics.RecordCacheWrite(f.Name)
		}
	}
	f.remember(key, data)

	logger.Debug("Source fetched",
		zap.String("source", f.Name),
		zap.String("key", key),
		zap.Bool("unchanged", unchanged))
	return core.Fresh(data, unchanged)
}

// fallback walks cache, then memory, then Empty or Failed. fatalKind is the
// fatal failure behind the current block, if any.
func (f *Fetcher[T]) fallback(ctx context.Context, key string, kind core.ErrorKind, err error, fatalKind core.ErrorKind) core.SourceResult[T] {
	if entry, ok := cache.Load[T](ctx, f.Cache, key); ok {
		age := f.now().Sub(entry.WrittenAt)
		if age < 0 {
			age = 0
		}
		return core.FromCache(entry.Data, age, kind)
	}

	if data, ok := f.remembered(key); ok {
		return core.Stale(data, kind)
	}

	if f.EmptyOnFailure && fatalKind.Fatal() {
		return core.Empty[T](fatalKind)
	}

	return core.Failed[T](kind, err)
}

// Resolve is Fetch with the payload type erased.
func (f *Fetcher[T]) Resolve(ctx context.Context, params core.Params) core.SourceResult[any] {
	return f.Fetch(ctx, params).Erase()
}

// SourceName returns the source name.
func (f *Fetcher[T]) SourceName() string {
	return f.Name
}

// EmptyValue returns the payload shown for an Empty result.
func (f *Fetcher[T]) EmptyValue() any {
	if f.Empty != nil {
		return f.Empty()
	}
	var zero T
	return zero
}

// RetryGate returns the gate guarding the source.
func (f *Fetcher[T]) RetryGate() *retry.Gate {
	return f.Gate
}

func (f *Fetcher[T]) remember(key string, data T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		f.last = make(map[string]T)
	}
	f.last[key] = data
}

func (f *Fetcher[T]) remembered(key string) (T, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.last[key]
	return data, ok
}

func (f *Fetcher[T]) now() time.Time {
	if f != nil && f.Clock != nil {
		return f.Clock()
	}
	return time.Now().UTC()
}
