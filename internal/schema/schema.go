// Package schema validates raw source payloads and maps them onto the unified record shape.
package schema

import (
	"strings"
)

// Payload is one raw item exactly as a source returned it.
type Payload map[string]any

// Kind is the type a field is coerced to.
type Kind string

const (
	KindString Kind = "string"
	KindNumber Kind = "number"
	KindInt    Kind = "int"
	KindTime   Kind = "time"
)

// Unified targets. Every source schema maps its own paths onto these names.
const (
	TargetCoinID        = "coin_id"
	TargetName          = "name"
	TargetSymbol        = "symbol"
	TargetPriceUSD      = "price_usd"
	TargetMarketCapUSD  = "market_cap_usd"
	TargetVolume24hUSD  = "volume_24h_usd"
	TargetPercentChange = "percent_change_24h"
	TargetRank          = "rank"
	TargetLastUpdated   = "last_updated"
)

// Field binds a dotted source path to a unified target.
type Field struct {
	Target   string
	Path     string
	Kind     Kind
	Required bool
}

type Schema struct {
	Source string
	Fields []Field
}

// RequiredPaths lists the source paths whose absence invalidates a payload.
func (s *Schema) RequiredPaths() []string {
	var out []string
	for _, f := range s.Fields {
		if f.Required {
			out = append(out, f.Path)
		}
	}
	return out
}

// Lookup resolves a dotted path such as "quotes.USD.price" inside a payload.
func Lookup(p Payload, path string) (any, bool) {
	var cur any = map[string]any(p)
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Payload:
		return m, true
	}
	return nil, false
}
