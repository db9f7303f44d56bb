// Package projector implements output-schema-driven structural projection
// (§4.3): given a JSON-Schema fragment annotated with source_field path
// expressions, synthesize a projected value from a source scope.
package projector

import (
	"fmt"

	"github.com/revittco/mcpgate/internal/pathexpr"
)

// Schema is a decoded JSON-Schema fragment, as produced by encoding/json
// into map[string]any.
type Schema = map[string]any

// Plan is a compiled projection: every source_field expression in the
// schema has already been parsed, so Apply never re-parses a path at call
// time and can never fail on a well-formed scope.
type Plan struct {
	root *compiledNode
}

type nodeKind int

const (
	nodeObject nodeKind = iota
	nodePrimitive
	nodeArray
)

type compiledNode struct {
	kind       nodeKind
	sourceExpr *pathexpr.Expr // nil if no source_field at this level

	// nodeObject
	properties map[string]*compiledNode

	// nodeArray
	items *compiledNode
}

// Compile parses every source_field in schema and returns a reusable Plan.
// Returns an error if any source_field fails to parse (§3 invariant 5).
func Compile(schema Schema) (*Plan, error) {
	root, err := compileNode(schema)
	if err != nil {
		return nil, err
	}
	return &Plan{root: root}, nil
}

func compileNode(schema Schema) (*compiledNode, error) {
	if schema == nil {
		return &compiledNode{kind: nodePrimitive}, nil
	}

	n := &compiledNode{}

	if raw, ok := schema["source_field"]; ok {
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("projector: source_field must be a string, got %T", raw)
		}
		expr, err := pathexpr.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("projector: %w", err)
		}
		n.sourceExpr = expr
	}

	schemaType, _ := schema["type"].(string)

	if props, ok := schema["properties"].(map[string]any); ok {
		schemaType = "object"
		n.kind = nodeObject
		n.properties = make(map[string]*compiledNode, len(props))
		for name, raw := range props {
			propSchema, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("projector: property %q schema must be an object", name)
			}
			child, err := compileNode(propSchema)
			if err != nil {
				return nil, err
			}
			n.properties[name] = child
		}
		return n, nil
	}

	if itemsRaw, ok := schema["items"]; ok && schemaType != "object" {
		n.kind = nodeArray
		itemsSchema, _ := itemsRaw.(map[string]any)
		child, err := compileNode(itemsSchema)
		if err != nil {
			return nil, err
		}
		n.items = child
		return n, nil
	}

	n.kind = nodePrimitive
	return n, nil
}

// Apply projects scope according to the compiled plan. Per §4.3, a missing
// path at any level causes that property/element to be omitted, never
// emitted as null.
func (p *Plan) Apply(scope any) any {
	v, _ := p.root.apply(scope)
	return v
}

// apply returns (value, present). present=false means "omit this", which
// only matters to the caller at the object-property level; array/primitive
// callers that get present=false simply propagate it upward.
func (n *compiledNode) apply(scope any) (any, bool) {
	cur := scope
	if n.sourceExpr != nil {
		v, ok := n.sourceExpr.Eval(scope)
		if !ok {
			return nil, false
		}
		cur = v
	}

	switch n.kind {
	case nodeObject:
		m, _ := cur.(map[string]any)
		out := make(map[string]any, len(n.properties))
		for name, child := range n.properties {
			var propScope any
			hasExplicitSource := child.sourceExpr != nil
			if !hasExplicitSource {
				if m == nil {
					continue
				}
				v, present := m[name]
				if !present {
					continue
				}
				propScope = v
			} else {
				propScope = cur
			}
			v, ok := child.apply(propScope)
			if !ok {
				continue
			}
			out[name] = v
		}
		return out, true

	case nodeArray:
		seq, ok := asSlice(cur)
		if !ok {
			return nil, false
		}
		out := make([]any, 0, len(seq))
		for _, elem := range seq {
			v, ok := n.items.apply(elem)
			if !ok {
				continue
			}
			out = append(out, v)
		}
		return out, true

	default: // nodePrimitive
		if cur == nil {
			return nil, false
		}
		return cur, true
	}
}

func asSlice(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case nil:
		return nil, false
	default:
		return nil, false
	}
}

// StripSourceFields returns a deep copy of schema with every source_field
// key removed, recursively, so the advertised schema is standards-compliant
// JSON-Schema.
func StripSourceFields(schema Schema) Schema {
	if schema == nil {
		return nil
	}
	return stripAny(schema).(map[string]any)
}

func stripAny(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			if k == "source_field" {
				continue
			}
			out[k] = stripAny(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = stripAny(vv)
		}
		return out
	default:
		return v
	}
}
