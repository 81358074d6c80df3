package docstore

import (
	"strconv"
	"time"
)

// The As* helpers read document values regardless of which backend decoded
// them: Firestore yields int64 and time.Time, the Postgres backend yields
// float64 and RFC 3339 strings, the memory store yields whatever was written.

func AsString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	case []byte:
		return string(s)
	}
	if f, ok := toFloat(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return ""
}

func AsInt(v any) int64 {
	if f, ok := toFloat(v); ok {
		return int64(f)
	}
	if s, ok := v.(string); ok {
		n, _ := strconv.ParseInt(s, 10, 64)
		return n
	}
	return 0
}

func AsFloat(v any) float64 {
	f, _ := toFloat(v)
	return f
}

func AsBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		p, _ := strconv.ParseBool(b)
		return p
	}
	return false
}

// AsTime accepts time.Time, *time.Time and RFC 3339 strings.
func AsTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	}
	return time.Time{}, false
}

// TimeField reads an optional timestamp field.
func TimeField(data map[string]any, key string) *time.Time {
	t, ok := AsTime(data[key])
	if !ok {
		return nil
	}
	return &t
}

func AsStringSlice(v any) []string {
	list, ok := toSlice(v)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		out = append(out, AsString(item))
	}
	return out
}

func AsMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return nil
}

func AsStringMap(v any) map[string]string {
	m := AsMap(v)
	if m == nil {
		if sm, ok := v.(map[string]string); ok {
			return sm
		}
		return nil
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		out[k] = AsString(val)
	}
	return out
}
