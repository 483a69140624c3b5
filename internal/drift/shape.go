package drift

import (
	"sort"

	"crypto-etl/internal/schema"
)

// Value kinds recorded in a Shape.
const (
	KindString = "string"
	KindNumber = "number"
	KindBool   = "bool"
	KindArray  = "array"
	KindObject = "object"
	KindNull   = "null"
)

// Shape maps flattened dotted field paths to the kind of value found there.
type Shape map[string]string

// Observe unions the shapes of all payloads. A path that is null in one payload
// and typed in another takes the typed kind.
func Observe(payloads []schema.Payload) Shape {
	out := Shape{}
	for _, p := range payloads {
		flatten("", map[string]any(p), out)
	}
	return out
}

func flatten(prefix string, v any, out Shape) {
	if m, ok := v.(map[string]any); ok && (len(m) > 0 || prefix == "") {
		for k, child := range m {
			path := k
			if prefix != "" {
				path = prefix + "." + k
			}
			flatten(path, child, out)
		}
		return
	}

	// first typed kind wins
	if prev, ok := out[prefix]; ok && prev != KindNull {
		return
	}
	out[prefix] = kindOf(v)
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return KindNull
	case string:
		return KindString
	case bool:
		return KindBool
	case float64, float32, int, int64, int32, uint, uint64:
		return KindNumber
	case []any:
		return KindArray
	case map[string]any:
		return KindObject
	default:
		// json.Number and similar numeric wrappers
		return KindNumber
	}
}

// Paths returns the sorted field paths of the shape.
func (s Shape) Paths() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (s Shape) clone() Shape {
	out := make(Shape, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
