package normalize

import (
	"fmt"
	"math/big"
	"strconv"

	jsoniter "github.com/json-iterator/go"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// DecodeOrdered parses raw JSON bytes into a Value tree that preserves
// object key order, required for the normalizer's "siblings in insertion
// order" guarantee (decoding into map[string]any would lose it).
func DecodeOrdered(data []byte) (Value, error) {
	it := jsoniter.ParseBytes(jsonAPI, data)
	v, err := decodeValue(it)
	if err != nil {
		return nil, fmt.Errorf("normalize: decode json: %w", err)
	}
	if it.Error != nil {
		return nil, fmt.Errorf("normalize: decode json: %w", it.Error)
	}
	return v, nil
}

func decodeValue(it *jsoniter.Iterator) (Value, error) {
	switch it.WhatIsNext() {
	case jsoniter.ObjectValue:
		return decodeObject(it)
	case jsoniter.ArrayValue:
		return decodeArray(it)
	case jsoniter.StringValue:
		return it.ReadString(), nil
	case jsoniter.BoolValue:
		return it.ReadBool(), nil
	case jsoniter.NilValue:
		it.ReadNil()
		return nil, nil
	case jsoniter.NumberValue:
		return decodeNumber(it)
	default:
		return nil, fmt.Errorf("unsupported json value kind %v", it.WhatIsNext())
	}
}

func decodeObject(it *jsoniter.Iterator) (Value, error) {
	obj := &Object{}
	var innerErr error
	it.ReadObjectCB(func(sub *jsoniter.Iterator, key string) bool {
		v, err := decodeValue(sub)
		if err != nil {
			innerErr = err
			return false
		}
		obj.Pairs = append(obj.Pairs, Pair{Key: key, Value: v})
		return true
	})
	if innerErr != nil {
		return nil, innerErr
	}
	return obj, nil
}

func decodeArray(it *jsoniter.Iterator) (Value, error) {
	var list []Value
	var innerErr error
	it.ReadArrayCB(func(sub *jsoniter.Iterator) bool {
		v, err := decodeValue(sub)
		if err != nil {
			innerErr = err
			return false
		}
		list = append(list, v)
		return true
	})
	if innerErr != nil {
		return nil, innerErr
	}
	return list, nil
}

// decodeNumber prefers the narrowest faithful representation: an int64 when
// the literal is a plain integer, a *big.Int when it overflows int64, and a
// float64 otherwise, so schema.InferColumnType's runtime-category mapping
// sees the right Go kind.
func decodeNumber(it *jsoniter.Iterator) (Value, error) {
	s := string(it.ReadNumber())

	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, nil
	}
	if bi, ok := new(big.Int).SetString(s, 10); ok {
		return bi, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q: %w", s, err)
	}
	return f, nil
}
