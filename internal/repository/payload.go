package repository

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// normalizePayload converts p to the value set both stores read back:
// nil, string, bool, int64, float64, map[string]any and []any. Integers of
// any width become int64, as do floats with an integral value. Anything else,
// time.Time included, is rejected; store instants as RFC 3339 strings.
func normalizePayload(p map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(p))
	for k, v := range p {
		nv, err := normalizeValue(v)
		if err != nil {
			return nil, fmt.Errorf("payload field %q: %w", k, err)
		}
		out[k] = nv
	}
	return out, nil
}

func normalizeValue(v any) (any, error) {
	switch x := v.(type) {
	case nil, string, bool, int64:
		return x, nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint:
		if uint64(x) > math.MaxInt64 {
			return nil, fmt.Errorf("value %d overflows int64", x)
		}
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return nil, fmt.Errorf("value %d overflows int64", x)
		}
		return int64(x), nil
	case float32:
		return normalizeFloat(float64(x))
	case float64:
		return normalizeFloat(x)
	case map[string]any:
		return normalizePayload(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			ne, err := normalizeValue(e)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = ne
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

func normalizeFloat(f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("value %v is not a finite number", f)
	}
	if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
		return int64(f), nil
	}
	return f, nil
}

// parseNumber reads a stored number: int64 when it is an integer that fits,
// float64 otherwise.
func parseNumber(s string) (any, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("parse number %q: %w", s, err)
	}
	return normalizeFloat(f)
}

// decodeJSONNumbers replaces json.Number values left by a UseNumber decoder.
func decodeJSONNumbers(v any) (any, error) {
	switch x := v.(type) {
	case json.Number:
		return parseNumber(x.String())
	case map[string]any:
		for k, e := range x {
			ne, err := decodeJSONNumbers(e)
			if err != nil {
				return nil, err
			}
			x[k] = ne
		}
		return x, nil
	case []any:
		for i, e := range x {
			ne, err := decodeJSONNumbers(e)
			if err != nil {
				return nil, err
			}
			x[i] = ne
		}
		return x, nil
	default:
		return x, nil
	}
}
