package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

// ToolCallKey uniquely identifies a cached tool call response: the backend
// it was dispatched to, the upstream tool name it resolved to (after
// defaults/renaming, §4.3), and a digest of the arguments sent.
type ToolCallKey struct {
	BackendName  string
	UpstreamName string
	ArgsHash     string
}

// ToolCache wraps a generic Cache for tool call responses, with
// pattern-based cacheability checks and mutation invalidation. It is an
// optional layer: a gateway need not construct one, and tools/call
// dispatch bypasses it entirely when absent.
type ToolCache struct {
	cache   *Cache[ToolCallKey, json.RawMessage]
	configs map[string]ServerCacheConfig // keyed by backend name
}

// NewToolCache creates a tool cache with per-backend configurations.
func NewToolCache(configs map[string]ServerCacheConfig) *ToolCache {
	maxEntries := 0
	for _, cfg := range configs {
		maxEntries += cfg.MaxEntries
	}
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &ToolCache{
		cache:   New[ToolCallKey, json.RawMessage](maxEntries, 30*time.Minute),
		configs: configs,
	}
}

// GetConfig returns the cache config for a backend, falling back to defaults.
func (tc *ToolCache) GetConfig(backendName string) ServerCacheConfig {
	if cfg, ok := tc.configs[backendName]; ok {
		return cfg
	}
	return DefaultServerCacheConfig()
}

// SetConfig updates the cache config for a backend at runtime.
func (tc *ToolCache) SetConfig(backendName string, cfg ServerCacheConfig) {
	tc.configs[backendName] = cfg
}

// IsCacheable returns true if the tool call should be cached.
func (tc *ToolCache) IsCacheable(backendName, upstreamName string) bool {
	cfg := tc.GetConfig(backendName)
	if !cfg.Enabled {
		return false
	}
	return matchesAny(upstreamName, cfg.CacheablePatterns)
}

// IsMutation returns true if the tool call is a mutation that should
// trigger cache invalidation.
func (tc *ToolCache) IsMutation(backendName, upstreamName string) bool {
	cfg := tc.GetConfig(backendName)
	return matchesAny(upstreamName, cfg.MutationPatterns)
}

// Get retrieves a cached tool call response.
func (tc *ToolCache) Get(key ToolCallKey) (json.RawMessage, bool) {
	return tc.cache.Get(key)
}

// GetWithAge retrieves a cached response and its age since caching.
func (tc *ToolCache) GetWithAge(key ToolCallKey) (json.RawMessage, time.Duration, bool) {
	return tc.cache.GetWithAge(key)
}

// Set stores a tool call response with the backend's configured TTL.
// A ReadTTLSec of 0 means indefinite (no expiry); negative values use the default.
func (tc *ToolCache) Set(key ToolCallKey, value json.RawMessage) {
	cfg := tc.GetConfig(key.BackendName)
	ttl := tc.resolveTTL(cfg)
	tc.cache.SetWithTTL(key, value, ttl)
}

// GetOrLoad returns the cached response or calls loadFn, with singleflight.
func (tc *ToolCache) GetOrLoad(key ToolCallKey, loadFn func() (json.RawMessage, error)) (json.RawMessage, error) {
	return tc.cache.GetOrLoad(key, loadFn)
}

// resolveTTL converts a backend's ReadTTLSec to a duration.
// 0 means indefinite (100 years), negative means use the 30-minute default.
func (tc *ToolCache) resolveTTL(cfg ServerCacheConfig) time.Duration {
	if cfg.ReadTTLSec == 0 {
		return 100 * 365 * 24 * time.Hour // indefinite
	}
	if cfg.ReadTTLSec < 0 {
		return 30 * time.Minute
	}
	return time.Duration(cfg.ReadTTLSec) * time.Second
}

// InvalidateForMutation removes cached entries on backendName affected by a
// mutation call to upstreamName, per that backend's invalidation rules. A
// mutation with no matching rule invalidates the whole backend, since an
// unmodeled write cannot be assumed safe to leave cached.
func (tc *ToolCache) InvalidateForMutation(backendName, upstreamName string) {
	cfg := tc.GetConfig(backendName)

	matched := false
	for _, rule := range cfg.InvalidationRules {
		if matchesAny(upstreamName, []string{rule.MutationPattern}) {
			matched = true
			invalidatePattern := rule.InvalidatePattern
			tc.cache.InvalidateFunc(func(k ToolCallKey) bool {
				return k.BackendName == backendName && matchesAny(k.UpstreamName, []string{invalidatePattern})
			})
		}
	}
	if !matched {
		tc.InvalidateServer(backendName)
	}
}

// InvalidateServer removes all cached entries for a specific backend.
func (tc *ToolCache) InvalidateServer(backendName string) {
	tc.cache.InvalidateFunc(func(k ToolCallKey) bool {
		return k.BackendName == backendName
	})
}

// Flush removes all entries.
func (tc *ToolCache) Flush() {
	tc.cache.Flush()
}

// Stats returns cache performance metrics.
func (tc *ToolCache) Stats() Stats {
	return tc.cache.Stats()
}

// MakeKey creates a ToolCallKey from the call parameters.
func MakeKey(backendName, upstreamName string, args json.RawMessage) ToolCallKey {
	h := sha256.Sum256(args)
	return ToolCallKey{
		BackendName:  backendName,
		UpstreamName: upstreamName,
		ArgsHash:     hex.EncodeToString(h[:8]),
	}
}

// matchesAny checks if name matches any of the glob-like patterns.
// It tries the full name and each suffix after an underscore boundary, so
// that patterns like "get_*" still match if a tool is ever renamed to
// carry a prefix (e.g. a virtual tool exposed as "weather_get_forecast").
func matchesAny(name string, patterns []string) bool {
	for candidate := name; ; {
		for _, p := range patterns {
			if p == "*" {
				return true
			}
			if prefix, ok := strings.CutSuffix(p, "*"); ok {
				if strings.HasPrefix(candidate, prefix) {
					return true
				}
				// Also match the bare action word: "search" matches "search_*".
				trimmed := strings.TrimRight(prefix, "_")
				if candidate == trimmed {
					return true
				}
			} else if candidate == p {
				return true
			}
		}
		_, after, ok := strings.Cut(candidate, "_")
		if !ok {
			break
		}
		candidate = after
	}
	return false
}
