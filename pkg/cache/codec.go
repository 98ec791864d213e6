package cache

import (
	"encoding/json"
	"fmt"
	"time"
)

// typedValue carries an attribute with its Go type so a cached record
// decodes to the same values the fetcher produced.
type typedValue struct {
	T string          `json:"t"`
	V json.RawMessage `json:"v,omitempty"`
}

func encodeMap(m map[string]any) (map[string]typedValue, error) {
	if m == nil {
		return nil, nil
	}
	out := make(map[string]typedValue, len(m))
	for k, v := range m {
		tv, err := encodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", k, err)
		}
		out[k] = tv
	}
	return out, nil
}

func decodeMap(m map[string]typedValue) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	out := make(map[string]any, len(m))
	for k, tv := range m {
		v, err := decodeValue(tv)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

func encodeValue(v any) (typedValue, error) {
	var (
		t   string
		raw any = v
	)
	switch x := v.(type) {
	case nil:
		return typedValue{T: "null"}, nil
	case bool:
		t = "bool"
	case string:
		t = "string"
	case int:
		t = "int"
	case int64:
		t = "int64"
	case float64:
		t = "float64"
	case time.Time:
		t = "time"
	case *time.Time:
		if x == nil {
			return typedValue{T: "null"}, nil
		}
		t, raw = "time", *x
	case []string:
		t = "strings"
	case []any:
		items := make([]typedValue, len(x))
		for i, item := range x {
			tv, err := encodeValue(item)
			if err != nil {
				return typedValue{}, err
			}
			items[i] = tv
		}
		t, raw = "list", items
	case map[string]any:
		m, err := encodeMap(x)
		if err != nil {
			return typedValue{}, err
		}
		t, raw = "map", m
	default:
		t = "json"
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return typedValue{}, err
	}
	return typedValue{T: t, V: b}, nil
}

func decodeValue(tv typedValue) (any, error) {
	switch tv.T {
	case "null":
		return nil, nil
	case "bool":
		return unmarshalAs[bool](tv.V)
	case "string":
		return unmarshalAs[string](tv.V)
	case "int":
		return unmarshalAs[int](tv.V)
	case "int64":
		return unmarshalAs[int64](tv.V)
	case "float64":
		return unmarshalAs[float64](tv.V)
	case "time":
		return unmarshalAs[time.Time](tv.V)
	case "strings":
		return unmarshalAs[[]string](tv.V)
	case "list":
		items, err := unmarshalAs[[]typedValue](tv.V)
		if err != nil {
			return nil, err
		}
		out := make([]any, len(items))
		for i, item := range items {
			if out[i], err = decodeValue(item); err != nil {
				return nil, err
			}
		}
		return out, nil
	case "map":
		m, err := unmarshalAs[map[string]typedValue](tv.V)
		if err != nil {
			return nil, err
		}
		out, err := decodeMap(m)
		if out == nil && err == nil {
			out = map[string]any{}
		}
		return out, err
	case "json":
		return unmarshalAs[any](tv.V)
	}
	return nil, fmt.Errorf("unknown cached type %q", tv.T)
}

func unmarshalAs[T any](b json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(b, &v)
	return v, err
}
