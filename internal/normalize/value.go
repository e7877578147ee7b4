// Package normalize implements the JSON normalizer: a depth-first walk that
// flattens nested records into parent/child relational rows while evolving
// the destination Schema.
package normalize

import "sort"

// Value is a decoded record value: nil, bool, string, []byte, an int64,
// *big.Int, *big.Float, float64, a *big.Int/float from json decoding, an
// *Object, or a []Value. Unlike map[string]any, an *Object preserves the
// declaration order of its keys, which the normalizer's "siblings in
// insertion order" guarantee depends on.
type Value any

// Pair is one key/value entry of an Object.
type Pair struct {
	Key   string
	Value Value
}

// Object is an ordered sequence of key/value pairs standing in for a JSON
// object whose key order must be preserved.
type Object struct {
	Pairs []Pair
}

// NewObject builds an Object from an explicit, ordered list of pairs.
func NewObject(pairs ...Pair) *Object {
	return &Object{Pairs: pairs}
}

// P is shorthand for constructing one Pair in a NewObject call.
func P(key string, value Value) Pair {
	return Pair{Key: key, Value: value}
}

// FromGo converts a plain decoded-JSON-shaped Go value (map[string]any /
// []any / scalars, as produced by encoding/json) into a Value tree. A Go
// map does not preserve insertion order, so object keys here are sorted for
// determinism; callers that need the input's own key order should build an
// *Object directly or decode raw bytes with DecodeOrdered.
func FromGo(v any) Value {
	switch vv := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		obj := &Object{Pairs: make([]Pair, 0, len(vv))}
		for _, k := range keys {
			obj.Pairs = append(obj.Pairs, Pair{Key: k, Value: FromGo(vv[k])})
		}
		return obj
	case []any:
		list := make([]Value, len(vv))
		for i, e := range vv {
			list[i] = FromGo(e)
		}
		return list
	default:
		return vv
	}
}
