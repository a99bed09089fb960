// Package template evaluates declarative service templates: JSON trees
// whose string leaves may contain {{key}} placeholders. Rendering
// substitutes context values and then applies the numeric coercion the
// templates rely on to express numeric JSON fields as strings.
package template

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Node is one parsed template tree node.
type Node interface {
	// Render evaluates the node against ctx and returns the concrete
	// value to serialize.
	Render(ctx map[string]interface{}) interface{}
}

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// segment is one piece of a string leaf: either a literal or a
// placeholder key.
type segment struct {
	text        string
	placeholder bool
}

// StringNode is a string leaf split into literal and placeholder
// segments.
type StringNode struct {
	segments []segment
}

// MapNode is a nested mapping.
type MapNode struct {
	entries map[string]Node
}

// ListNode is a nested sequence.
type ListNode struct {
	items []Node
}

// ScalarNode passes non-string leaves (numbers, booleans, null)
// through unchanged.
type ScalarNode struct {
	value interface{}
}

// Parse builds a template tree from a decoded JSON value.
func Parse(v interface{}) (Node, error) {
	switch t := v.(type) {
	case string:
		return parseString(t), nil
	case map[string]interface{}:
		entries := make(map[string]Node, len(t))
		for k, child := range t {
			node, err := Parse(child)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			entries[k] = node
		}
		return &MapNode{entries: entries}, nil
	case []interface{}:
		items := make([]Node, len(t))
		for i, child := range t {
			node, err := Parse(child)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			items[i] = node
		}
		return &ListNode{items: items}, nil
	case nil, bool, float64, int, int64:
		return &ScalarNode{value: t}, nil
	default:
		return nil, fmt.Errorf("unsupported template value of type %T", v)
	}
}

// ParseString parses a single string template, e.g. a URL or header.
func ParseString(s string) *StringNode {
	return parseString(s)
}

func parseString(s string) *StringNode {
	var segs []segment
	last := 0
	for _, m := range placeholderRe.FindAllStringSubmatchIndex(s, -1) {
		if m[0] > last {
			segs = append(segs, segment{text: s[last:m[0]]})
		}
		segs = append(segs, segment{text: s[m[2]:m[3]], placeholder: true})
		last = m[1]
	}
	if last < len(s) {
		segs = append(segs, segment{text: s[last:]})
	}
	return &StringNode{segments: segs}
}

func (n *StringNode) Render(ctx map[string]interface{}) interface{} {
	var b strings.Builder
	for _, seg := range n.segments {
		if !seg.placeholder {
			b.WriteString(seg.text)
			continue
		}
		if v, ok := ctx[seg.text]; ok && v != nil {
			b.WriteString(fmt.Sprint(v))
		}
		// Unknown placeholders render empty.
	}
	return Coerce(b.String())
}

// RenderString renders the node without numeric coercion, for leaves
// that must stay textual (URLs, header values).
func (n *StringNode) RenderString(ctx map[string]interface{}) string {
	v := n.Render(ctx)
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func (n *MapNode) Render(ctx map[string]interface{}) interface{} {
	out := make(map[string]interface{}, len(n.entries))
	for k, child := range n.entries {
		out[k] = child.Render(ctx)
	}
	return out
}

func (n *ListNode) Render(ctx map[string]interface{}) interface{} {
	out := make([]interface{}, len(n.items))
	for i, child := range n.items {
		out[i] = child.Render(ctx)
	}
	return out
}

func (n *ScalarNode) Render(map[string]interface{}) interface{} {
	return n.value
}

var (
	intRe   = regexp.MustCompile(`^-?\d+$`)
	floatRe = regexp.MustCompile(`^-?\d+\.\d+$`)
)

// Coerce turns a purely numeric rendered string into the number it
// spells: all-digit strings become integers, decimal-looking strings
// become floats, everything else stays a string.
func Coerce(s string) interface{} {
	if intRe.MatchString(s) {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i
		}
	}
	if floatRe.MatchString(s) {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return s
}
