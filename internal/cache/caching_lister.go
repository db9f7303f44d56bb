package cache

import (
	"context"
	"encoding/json"
	"time"
)

// ToolLister abstracts backend dispatch for the caching wrapper below.
// It is its own raw-JSON call interface; gateway.BackendDispatcher has no
// matching Call method, and internal/cache does not import internal/gateway.
type ToolLister interface {
	Call(ctx context.Context, backendName, upstreamName string, args json.RawMessage) (json.RawMessage, error)
}

// CallResult wraps a tool call response with cache metadata.
type CallResult struct {
	Data     json.RawMessage
	CacheHit bool
	CacheAge time.Duration // age of cached data; zero if not a cache hit
}

// CachingToolLister wraps a ToolLister and caches cacheable tool call
// responses per backend. It is an optional layer ahead of dispatch, off
// by default: a gateway that never constructs one never pays for it.
type CachingToolLister struct {
	inner ToolLister
	tc    *ToolCache
}

// NewCachingToolLister creates a caching wrapper around a ToolLister.
func NewCachingToolLister(inner ToolLister, tc *ToolCache) *CachingToolLister {
	return &CachingToolLister{inner: inner, tc: tc}
}

// Call routes the tool call through the cache if cacheable, or directly
// to the inner lister for mutations and unknown patterns.
func (c *CachingToolLister) Call(ctx context.Context, backendName, upstreamName string, args json.RawMessage) (json.RawMessage, error) {
	// Mutations: passthrough + invalidate.
	if c.tc.IsMutation(backendName, upstreamName) {
		result, err := c.inner.Call(ctx, backendName, upstreamName, args)
		if err == nil {
			c.tc.InvalidateForMutation(backendName, upstreamName)
		}
		return result, err
	}

	// Cacheable reads: use GetOrLoad with singleflight.
	if c.tc.IsCacheable(backendName, upstreamName) {
		key := MakeKey(backendName, upstreamName, args)
		return c.tc.GetOrLoad(key, func() (json.RawMessage, error) {
			return c.inner.Call(ctx, backendName, upstreamName, args)
		})
	}

	// Unknown pattern: passthrough.
	return c.inner.Call(ctx, backendName, upstreamName, args)
}

// CallWithMeta routes the tool call through the cache and returns
// metadata about whether it was a cache hit.
// If cacheBust is true, the cache is bypassed and the entry is refreshed.
func (c *CachingToolLister) CallWithMeta(ctx context.Context, backendName, upstreamName string, args json.RawMessage, cacheBust bool) (CallResult, error) {
	// Mutations: passthrough + invalidate.
	if c.tc.IsMutation(backendName, upstreamName) {
		result, err := c.inner.Call(ctx, backendName, upstreamName, args)
		if err == nil {
			c.tc.InvalidateForMutation(backendName, upstreamName)
		}
		return CallResult{Data: result, CacheHit: false}, err
	}

	// Cacheable reads: check cache first (unless busting).
	if c.tc.IsCacheable(backendName, upstreamName) {
		key := MakeKey(backendName, upstreamName, args)

		if !cacheBust {
			if v, age, ok := c.tc.GetWithAge(key); ok {
				return CallResult{Data: v, CacheHit: true, CacheAge: age}, nil
			}
		}

		// Cache miss (or bust): load and store.
		result, err := c.inner.Call(ctx, backendName, upstreamName, args)
		if err != nil {
			return CallResult{}, err
		}
		c.tc.Set(key, result)
		return CallResult{Data: result, CacheHit: false}, nil
	}

	// Unknown pattern: passthrough.
	result, err := c.inner.Call(ctx, backendName, upstreamName, args)
	return CallResult{Data: result, CacheHit: false}, err
}

// ToolCache returns the underlying ToolCache for stats/management.
func (c *CachingToolLister) ToolCache() *ToolCache {
	return c.tc
}
