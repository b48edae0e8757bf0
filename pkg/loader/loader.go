// Package loader provides the back-source abstraction used when a cached
// analysis is missing or stale, including a loader guarded by a circuit breaker.
//
// Package loader 提供缓存的分析结果缺失或过期时使用的回源抽象，
// 包括受熔断器保护的加载器。
package loader

import (
	"context"
	"fmt"
	"time"

	"github.com/Humphrey-He/hguard/pkg/breaker"
)

// Loader is the interface that wraps the basic Load method.
//
// Load retrieves data for the given key from a data source.
// It returns the loaded value, a TTL for the cache entry, and any error encountered.
// If the returned TTL is zero, the caller's default TTL will be used.
//
// Loader 是包装基本Load方法的接口。
//
// Load 从数据源检索给定键的数据。
// 它返回加载的值、缓存条目的TTL以及遇到的任何错误。
// 如果返回的TTL为零，将使用调用方的默认TTL。
type Loader[T any] interface {
	Load(ctx context.Context, key string) (value T, ttl time.Duration, err error)
}

// LoaderFunc is a function type that implements the Loader interface.
//
// LoaderFunc 是实现Loader接口的函数类型。
type LoaderFunc[T any] func(ctx context.Context, key string) (T, time.Duration, error)

// Load calls the function itself.
//
// Load 调用函数本身。
func (f LoaderFunc[T]) Load(ctx context.Context, key string) (T, time.Duration, error) {
	return f(ctx, key)
}

// NewFunctionLoader creates a new Loader from a function that retrieves data.
// The function should return the value and an error. The TTL will be set to the default.
//
// NewFunctionLoader 从检索数据的函数创建一个新的Loader。
// 该函数应返回值和错误。TTL将设置为默认值。
func NewFunctionLoader[T any](fn func(ctx context.Context, key string) (T, error)) Loader[T] {
	return LoaderFunc[T](func(ctx context.Context, key string) (T, time.Duration, error) {
		value, err := fn(ctx, key)
		return value, 0, err
	})
}

// NewFunctionLoaderWithTTL creates a new Loader from a function that retrieves data and specifies TTL.
//
// NewFunctionLoaderWithTTL 从检索数据并指定TTL的函数创建一个新的Loader。
func NewFunctionLoaderWithTTL[T any](fn func(ctx context.Context, key string) (T, time.Duration, error)) Loader[T] {
	return LoaderFunc[T](fn)
}

// FallbackLoader provides a fallback mechanism when the primary loader fails.
// The error of the secondary loader is returned when both fail.
//
// FallbackLoader 提供当主加载器失败时的后备机制，两者都失败时返回次要加载器的错误。
type FallbackLoader[T any] struct {
	Primary   Loader[T]
	Secondary Loader[T]
}

// Load attempts to load data using the primary loader.
// If the primary loader fails, it falls back to the secondary loader.
//
// Load 尝试使用主加载器加载数据。
// 如果主加载器失败，它会回退到次要加载器。
func (f *FallbackLoader[T]) Load(ctx context.Context, key string) (T, time.Duration, error) {
	value, ttl, err := f.Primary.Load(ctx, key)
	if err != nil && f.Secondary != nil {
		return f.Secondary.Load(ctx, key)
	}
	return value, ttl, err
}

// NewFallbackLoader creates a new FallbackLoader with the given primary and secondary loaders.
//
// NewFallbackLoader 使用给定的主加载器和次要加载器创建一个新的FallbackLoader。
func NewFallbackLoader[T any](primary, secondary Loader[T]) *FallbackLoader[T] {
	return &FallbackLoader[T]{
		Primary:   primary,
		Secondary: secondary,
	}
}

// BreakerLoader runs every load of Backend through a circuit breaker, so a
// failing upstream stops being called once the circuit opens.
//
// A fallback configured on the breaker may return either a T, used with the
// default TTL, or nothing, which is reported as an error. It never turns a
// failure into fabricated data on its own.
//
// BreakerLoader 通过熔断器执行Backend的每次加载，熔断打开后不再调用失败的上游。
//
// 熔断器上配置的fallback可以返回T（使用默认TTL），否则报告为错误。
// BreakerLoader本身不会把失败变成伪造的数据。
type BreakerLoader[T any] struct {
	Breaker *breaker.CircuitBreaker
	Backend Loader[T]
}

// NewBreakerLoader creates a loader guarded by cb.
//
// NewBreakerLoader 创建受cb保护的加载器。
func NewBreakerLoader[T any](cb *breaker.CircuitBreaker, backend Loader[T]) *BreakerLoader[T] {
	return &BreakerLoader[T]{Breaker: cb, Backend: backend}
}

// loaded 在熔断器中传递值和TTL
type loaded[T any] struct {
	value T
	ttl   time.Duration
}

// Load loads key through the breaker.
//
// Load 通过熔断器加载key。
func (b *BreakerLoader[T]) Load(ctx context.Context, key string) (T, time.Duration, error) {
	var zero T
	v, err := b.Breaker.Call(ctx, func(ctx context.Context, _ ...any) (any, error) {
		value, ttl, err := b.Backend.Load(ctx, key)
		if err != nil {
			return nil, err
		}
		return loaded[T]{value: value, ttl: ttl}, nil
	}, key)
	if err != nil {
		return zero, 0, err
	}

	switch r := v.(type) {
	case loaded[T]:
		return r.value, r.ttl, nil
	case T:
		return r, 0, nil
	default:
		return zero, 0, fmt.Errorf("loader: breaker %s returned %T for %s, want %T", b.Breaker.Name(), v, key, zero)
	}
}
