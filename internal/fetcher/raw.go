package fetcher

import (
	"encoding/json"
	"math"
	"strconv"
)

// record is one untyped object from a venue payload.
type record map[string]any

// str returns the first non-empty string among keys.
func (r record) str(keys ...string) string {
	for _, k := range keys {
		switch v := r[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}

// num returns the first non-zero numeric value among keys. Numeric strings
// are accepted since several venues quote big numbers as strings.
func (r record) num(keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := toFloat(r[k]); ok && v != 0 {
			return v, true
		}
	}
	return 0, false
}

func (r record) sub(key string) record {
	if m, ok := r[key].(map[string]any); ok {
		return record(m)
	}
	return record{}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		if t == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}

// records extracts the pool list from either a bare array or an object
// wrapping it under one of keys.
func records(payload any, keys ...string) []record {
	var list []any
	switch t := payload.(type) {
	case []any:
		list = t
	case map[string]any:
		for _, k := range keys {
			if l, ok := t[k].([]any); ok {
				list = l
				break
			}
		}
	}
	out := make([]record, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, record(m))
		}
	}
	return out
}

// feeToBps interprets a venue fee either as a fraction (< 1) or as basis
// points.
func feeToBps(fee float64) int {
	if fee < 1 {
		return int(math.Round(fee * 10000))
	}
	return int(fee)
}
