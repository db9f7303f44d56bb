package mdlist

import "testing"

func TestExtractNumberedListGitHubStyle(t *testing.T) {
	text := `Found 3 repositories:

1. **anthropics/mcp-python** (★ 2,341)
   Official Python SDK for Model Context Protocol
   https://github.com/anthropics/mcp-python

2. **modelcontextprotocol/servers** (★ 1,892)
   Reference MCP server implementations
   https://github.com/modelcontextprotocol/servers
`
	cfg, err := Compile(map[string]any{
		"parser": "markdown_numbered_list",
		"itemPatterns": map[string]any{
			"name": map[string]any{"regex": `\*\*([^*]+)\*\*`, "required": true},
			"stars": map[string]any{
				"regex":     `\(★ ([\d,]+)\)`,
				"type":      "integer",
				"transform": "remove_commas",
			},
			"url": map[string]any{"regex": `https://github\.com/\S+`},
		},
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	v, ok := cfg.Extract(text)
	if !ok {
		t.Fatal("expected a match")
	}
	items, ok := v.([]any)
	if !ok || len(items) != 2 {
		t.Fatalf("got %#v", v)
	}

	first := items[0].(map[string]any)
	if first["name"] != "anthropics/mcp-python" {
		t.Errorf("name = %v", first["name"])
	}
	if first["stars"] != 2341 {
		t.Errorf("stars = %v", first["stars"])
	}
	if first["url"] != "https://github.com/anthropics/mcp-python" {
		t.Errorf("url = %v", first["url"])
	}
}

func TestExtractBulletList(t *testing.T) {
	text := `
- **alpha**: first
- **beta**: second
`
	cfg, err := Compile(map[string]any{
		"parser": "markdown_bullet_list",
		"itemPatterns": map[string]any{
			"name": map[string]any{"regex": `\*\*([^*]+)\*\*`, "required": true},
		},
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	v, ok := cfg.Extract(text)
	if !ok {
		t.Fatal("expected a match")
	}
	items := v.([]any)
	if len(items) != 2 || items[1].(map[string]any)["name"] != "beta" {
		t.Fatalf("got %#v", v)
	}
}

func TestExtractSkipsItemsMissingRequiredField(t *testing.T) {
	text := `
1. **named** has a name
2. no name here at all
`
	cfg, err := Compile(map[string]any{
		"itemPatterns": map[string]any{
			"name": map[string]any{"regex": `\*\*([^*]+)\*\*`, "required": true},
		},
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	v, ok := cfg.Extract(text)
	if !ok {
		t.Fatal("expected the first item to match")
	}
	items := v.([]any)
	if len(items) != 1 {
		t.Fatalf("expected only the item with a name to survive, got %#v", v)
	}
}

func TestExtractWithListField(t *testing.T) {
	text := "1. **x**\n2. **y**\n"
	cfg, err := Compile(map[string]any{
		"listField": "results",
		"itemPatterns": map[string]any{
			"name": map[string]any{"regex": `\*\*([^*]+)\*\*`, "required": true},
		},
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	v, ok := cfg.Extract(text)
	if !ok {
		t.Fatal("expected a match")
	}
	wrapped, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("expected listField wrapping, got %#v", v)
	}
	items, ok := wrapped["results"].([]any)
	if !ok || len(items) != 2 {
		t.Fatalf("got %#v", wrapped)
	}
}

func TestExtractNoMatchReturnsFalse(t *testing.T) {
	cfg, err := Compile(map[string]any{
		"itemPatterns": map[string]any{
			"name": map[string]any{"regex": `\*\*([^*]+)\*\*`, "required": true},
		},
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	if _, ok := cfg.Extract("plain prose, no list markers or bold names here"); ok {
		t.Fatal("expected no match")
	}
}

func TestCompileRejectsMissingRegex(t *testing.T) {
	_, err := Compile(map[string]any{
		"itemPatterns": map[string]any{
			"name": map[string]any{"required": true},
		},
	})
	if err == nil {
		t.Fatal("expected an error for a pattern without a regex")
	}
}
