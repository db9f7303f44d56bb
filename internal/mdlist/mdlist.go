// Package mdlist extracts structured data out of markdown numbered or
// bullet lists, as a response-transform fallback for upstream tools that
// return human-readable prose instead of JSON (§4.5 step 3). It is tried
// after jsontext.Detect finds nothing and only for tools that declare a
// textExtraction configuration.
package mdlist

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Parser selects how item boundaries are found in the source text.
type Parser string

const (
	ParserNumberedList Parser = "markdown_numbered_list"
	ParserBulletList   Parser = "markdown_bullet_list"
)

// FieldType is the JSON type a field's extracted string is converted to.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeInteger FieldType = "integer"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
)

// Transform is a string normalization applied before type conversion.
type Transform string

const (
	TransformNone         Transform = ""
	TransformRemoveCommas Transform = "remove_commas"
	TransformLowercase    Transform = "lowercase"
	TransformUppercase    Transform = "uppercase"
	TransformStrip        Transform = "strip"
)

var (
	numberedSplit = regexp.MustCompile(`(?:^|\n)\d+\.\s+`)
	bulletSplit   = regexp.MustCompile(`(?:^|\n)[-*]\s+`)
)

// FieldPattern is one field's extraction rule within a list item.
type FieldPattern struct {
	Regex     *regexp.Regexp
	Required  bool
	Type      FieldType
	Transform Transform
	// Multiline collects every match in the item (joined with "\n") instead
	// of just the first.
	Multiline bool
}

// Config is a compiled textExtraction declaration (§4.5 step 3).
type Config struct {
	Parser       Parser
	ListField    string
	ItemPatterns map[string]FieldPattern
}

// Compile parses a registry document's raw "textExtraction" object into a
// Config, pre-compiling every field's regex once at load time.
func Compile(raw map[string]any) (*Config, error) {
	cfg := &Config{Parser: ParserNumberedList}

	if p, ok := raw["parser"].(string); ok && p != "" {
		cfg.Parser = Parser(p)
	}
	if lf, ok := raw["listField"].(string); ok {
		cfg.ListField = lf
	}

	rawPatterns, _ := raw["itemPatterns"].(map[string]any)
	cfg.ItemPatterns = make(map[string]FieldPattern, len(rawPatterns))
	for name, v := range rawPatterns {
		spec, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("textExtraction: itemPatterns[%q] is not an object", name)
		}
		pattern, err := compileFieldPattern(spec)
		if err != nil {
			return nil, fmt.Errorf("textExtraction: itemPatterns[%q]: %w", name, err)
		}
		cfg.ItemPatterns[name] = pattern
	}

	return cfg, nil
}

func compileFieldPattern(spec map[string]any) (FieldPattern, error) {
	var fp FieldPattern

	raw, _ := spec["regex"].(string)
	if raw == "" {
		return fp, fmt.Errorf("missing regex")
	}
	re, err := regexp.Compile(raw)
	if err != nil {
		return fp, fmt.Errorf("invalid regex %q: %w", raw, err)
	}
	fp.Regex = re

	if req, ok := spec["required"].(bool); ok {
		fp.Required = req
	}
	if t, ok := spec["type"].(string); ok {
		fp.Type = FieldType(t)
	}
	if tr, ok := spec["transform"].(string); ok {
		fp.Transform = Transform(tr)
	}
	if ml, ok := spec["multiline"].(bool); ok {
		fp.Multiline = ml
	}

	return fp, nil
}

// Extract parses text into either an array of field maps or, if ListField
// is set, a single map wrapping that array. ok is false when no item
// matched every required field.
func (c *Config) Extract(text string) (value any, ok bool) {
	if c == nil || text == "" || len(c.ItemPatterns) == 0 {
		return nil, false
	}

	split := numberedSplit
	if c.Parser == ParserBulletList {
		split = bulletSplit
	}

	var results []map[string]any
	for _, item := range split.Split(text, -1) {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		fields := extractFields(item, c.ItemPatterns)
		if !hasRequired(fields, c.ItemPatterns) || len(fields) == 0 {
			continue
		}
		results = append(results, fields)
	}

	if len(results) == 0 {
		return nil, false
	}

	out := make([]any, len(results))
	for i, r := range results {
		out[i] = r
	}
	if c.ListField != "" {
		return map[string]any{c.ListField: out}, true
	}
	return out, true
}

func extractFields(item string, patterns map[string]FieldPattern) map[string]any {
	fields := make(map[string]any, len(patterns))
	for name, fp := range patterns {
		if fp.Regex == nil {
			continue
		}
		if fp.Multiline {
			matches := fp.Regex.FindAllStringSubmatch(item, -1)
			if len(matches) == 0 {
				continue
			}
			lines := make([]string, len(matches))
			for i, m := range matches {
				lines[i] = lastGroup(m)
			}
			fields[name] = convert(strings.Join(lines, "\n"), fp)
			continue
		}

		m := fp.Regex.FindStringSubmatch(item)
		if m == nil {
			continue
		}
		fields[name] = convert(lastGroup(m), fp)
	}
	return fields
}

// lastGroup returns the first capture group if the regex has one, else the
// whole match, mirroring Python's match.group(1) if match.lastindex else
// match.group(0).
func lastGroup(m []string) string {
	if len(m) > 1 {
		return m[1]
	}
	return m[0]
}

func hasRequired(fields map[string]any, patterns map[string]FieldPattern) bool {
	for name, fp := range patterns {
		if !fp.Required {
			continue
		}
		if _, ok := fields[name]; !ok {
			return false
		}
	}
	return true
}

func convert(value string, fp FieldPattern) any {
	switch fp.Transform {
	case TransformRemoveCommas:
		value = strings.ReplaceAll(value, ",", "")
	case TransformLowercase:
		value = strings.ToLower(value)
	case TransformUppercase:
		value = strings.ToUpper(value)
	case TransformStrip:
		value = strings.TrimSpace(value)
	}

	switch fp.Type {
	case TypeInteger:
		n, err := strconv.Atoi(value)
		if err != nil {
			return 0
		}
		return n
	case TypeNumber:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0.0
		}
		return f
	case TypeBoolean:
		switch strings.ToLower(value) {
		case "true", "yes", "1", "on":
			return true
		default:
			return false
		}
	default:
		return value
	}
}
