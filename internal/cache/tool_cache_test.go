package cache

import (
	"testing"
)

func TestIsCacheable(t *testing.T) {
	tc := NewToolCache(map[string]ServerCacheConfig{
		"weather": DefaultServerCacheConfig(),
		"disabled": {Enabled: false},
	})

	tests := []struct {
		name    string
		backend string
		tool    string
		want    bool
	}{
		{"get_ prefix", "weather", "get_forecast", true},
		{"list_ prefix", "weather", "list_stations", true},
		{"search_ prefix", "weather", "search_alerts", true},
		{"read_ prefix", "weather", "read_file", true},
		{"fetch_ prefix", "weather", "fetch_data", true},
		{"query_ prefix", "weather", "query_records", true},
		{"find_ prefix", "weather", "find_station", true},
		{"create is not cacheable", "weather", "create_alert", false},
		{"update is not cacheable", "weather", "update_alert", false},
		{"random tool not cacheable", "weather", "do_something", false},
		{"disabled backend", "disabled", "get_forecast", false},
		{"unknown backend uses defaults", "unknown", "get_data", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tc.IsCacheable(tt.backend, tt.tool)
			if got != tt.want {
				t.Errorf("IsCacheable(%q, %q) = %v; want %v",
					tt.backend, tt.tool, got, tt.want)
			}
		})
	}
}

func TestIsMutation(t *testing.T) {
	tc := NewToolCache(map[string]ServerCacheConfig{
		"weather": DefaultServerCacheConfig(),
	})

	tests := []struct {
		name    string
		backend string
		tool    string
		want    bool
	}{
		{"create_", "weather", "create_alert", true},
		{"update_", "weather", "update_alert", true},
		{"delete_", "weather", "delete_alert", true},
		{"send_", "weather", "send_notification", true},
		{"post_", "weather", "post_data", true},
		{"put_", "weather", "put_data", true},
		{"set_", "weather", "set_value", true},
		{"add_", "weather", "add_station", true},
		{"remove_", "weather", "remove_station", true},
		{"get_ is not mutation", "weather", "get_forecast", false},
		{"list_ is not mutation", "weather", "list_stations", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tc.IsMutation(tt.backend, tt.tool)
			if got != tt.want {
				t.Errorf("IsMutation(%q, %q) = %v; want %v",
					tt.backend, tt.tool, got, tt.want)
			}
		})
	}
}

func TestMatchesAny(t *testing.T) {
	tests := []struct {
		name     string
		tool     string
		patterns []string
		want     bool
	}{
		{"wildcard", "anything", []string{"*"}, true},
		{"prefix match", "get_workspace", []string{"get_*"}, true},
		{"exact match", "custom_tool", []string{"custom_tool"}, true},
		{"no match", "something", []string{"get_*", "list_*"}, false},
		{"multiple patterns", "list_tasks", []string{"get_*", "list_*"}, true},
		{"prefixed get", "weather_get_forecast", []string{"get_*"}, true},
		{"prefixed search", "weather_search", []string{"search_*"}, true},
		{"prefixed list", "station_list_repos", []string{"list_*"}, true},
		{"prefixed create", "weather_create_alert", []string{"create_*"}, true},
		{"deeply prefixed", "my_svc_get_item", []string{"get_*"}, true},
		{"prefixed no match", "weather_do_thing", []string{"get_*", "list_*"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := matchesAny(tt.tool, tt.patterns)
			if got != tt.want {
				t.Errorf("matchesAny(%q, %v) = %v; want %v",
					tt.tool, tt.patterns, got, tt.want)
			}
		})
	}
}

func TestMakeKey(t *testing.T) {
	k1 := MakeKey("weather", "get_forecast", []byte(`{"city":"nyc"}`))
	k2 := MakeKey("weather", "get_forecast", []byte(`{"city":"nyc"}`))
	k3 := MakeKey("weather", "get_forecast", []byte(`{"city":"sf"}`))

	if k1 != k2 {
		t.Error("same args should produce same key")
	}
	if k1 == k3 {
		t.Error("different args should produce different keys")
	}
}

func TestInvalidateForMutation(t *testing.T) {
	tc := NewToolCache(map[string]ServerCacheConfig{
		"weather": DefaultServerCacheConfig(),
	})

	key1 := MakeKey("weather", "get_forecast", []byte(`{}`))
	key2 := MakeKey("weather", "list_stations", []byte(`{}`))
	key3 := MakeKey("other", "get_forecast", []byte(`{}`))

	tc.Set(key1, []byte(`"result1"`))
	tc.Set(key2, []byte(`"result2"`))
	tc.Set(key3, []byte(`"result3"`))

	// A mutation with no matching invalidation rule clears the whole
	// backend's cache (key1, key2) but leaves other backends (key3) alone.
	tc.InvalidateForMutation("weather", "create_alert")

	if _, ok := tc.Get(key1); ok {
		t.Error("expected key1 to be invalidated")
	}
	if _, ok := tc.Get(key2); ok {
		t.Error("expected key2 to be invalidated")
	}
	if _, ok := tc.Get(key3); !ok {
		t.Error("expected key3 to survive (different backend)")
	}
}
