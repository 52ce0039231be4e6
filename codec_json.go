package kv

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// jsonCounterKey marks a JSON object as a serialized U64 counter. The
// value is a decimal string, not a JSON number, so that counters near
// 2^64 round-trip exactly instead of losing precision to float64.
const jsonCounterKey = "$u64"

type jsonCounter struct {
	Value string `json:"$u64"`
}

// JSONCodec implements Codec using encoding/json, the "textual
// JSON-like" alternative to MsgpackCodec for callers who want inspectable
// storage at some cost in binary compactness (see DESIGN.md).
type JSONCodec struct{}

var _ Codec = JSONCodec{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Encode(v any) ([]byte, error) {
	if u, ok := v.(U64); ok {
		data, err := json.Marshal(jsonCounter{Value: fmt.Sprintf("%d", uint64(u))})
		if err != nil {
			return nil, wrapErr(SerializationFailure, err, "json encode of U64")
		}
		return data, nil
	}

	if err := checkNoCycles(v, make(map[uintptr]bool)); err != nil {
		return nil, wrapErr(SerializationFailure, err, "json encode of %T", v)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, wrapErr(SerializationFailure, err, "json encode of %T", v)
	}
	return data, nil
}

func (JSONCodec) Decode(data []byte) (any, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err == nil {
		if raw, ok := probe[jsonCounterKey]; ok && len(probe) == 1 {
			var c jsonCounter
			if err := json.Unmarshal(raw, &c.Value); err != nil {
				return nil, wrapErr(SerializationFailure, err, "json decode of U64 marker")
			}
			var u uint64
			if _, err := fmt.Sscanf(c.Value, "%d", &u); err != nil {
				return nil, wrapErr(SerializationFailure, err, "json decode of U64 value %q", c.Value)
			}
			return U64(u), nil
		}
	}

	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, wrapErr(SerializationFailure, err, "json decode")
	}
	return v, nil
}

// checkNoCycles walks maps and slices looking for a pointer that reaches
// itself, so that JSON encoding rejects circular references instead of
// recursing until the stack overflows, which is encoding/json's actual
// behavior on a cyclic map[string]any.
func checkNoCycles(v any, seen map[uintptr]bool) error {
	switch t := v.(type) {
	case map[string]any:
		p := mapPtr(t)
		if p != 0 {
			if seen[p] {
				return fmt.Errorf("circular reference detected")
			}
			seen[p] = true
			defer delete(seen, p)
		}
		for _, elem := range t {
			if err := checkNoCycles(elem, seen); err != nil {
				return err
			}
		}
	case []any:
		for _, elem := range t {
			if err := checkNoCycles(elem, seen); err != nil {
				return err
			}
		}
	}
	return nil
}

func mapPtr(m map[string]any) uintptr {
	if m == nil {
		return 0
	}
	return reflect.ValueOf(m).Pointer()
}
