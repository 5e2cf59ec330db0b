package codec

import "time"

// Helpers for fromSafe functions. Each returns the zero value when the field
// is missing or has an unexpected type.

// String returns m[key] as a string.
func String(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// Bool returns m[key] as a bool.
func Bool(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}

// Int returns m[key] as an int64. Integral floats are accepted.
func Int(m map[string]any, key string) int64 {
	switch n := m[key].(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return 0
}

// Float returns m[key] as a float64, widening integers.
func Float(m map[string]any, key string) float64 {
	switch n := m[key].(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	}
	return 0
}

// OptionalFloat is like Float but reports absence as nil.
func OptionalFloat(m map[string]any, key string) *float64 {
	switch m[key].(type) {
	case float64, int64:
		f := Float(m, key)
		return &f
	}
	return nil
}

// Time returns m[key] as a time.Time.
func Time(m map[string]any, key string) time.Time {
	t, _ := m[key].(time.Time)
	return t
}

// Map returns m[key] as a map.
func Map(m map[string]any, key string) map[string]any {
	v, _ := m[key].(map[string]any)
	return v
}

// Strings returns m[key] as a string slice, skipping non-string elements.
func Strings(m map[string]any, key string) []string {
	items, _ := m[key].([]any)
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Slice returns the elements of m[key] that have type T.
func Slice[T any](m map[string]any, key string) []T {
	items, _ := m[key].([]any)
	out := make([]T, 0, len(items))
	for _, it := range items {
		if v, ok := it.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// Ptr returns m[key] as a *T when it holds a T.
func Ptr[T any](m map[string]any, key string) *T {
	if v, ok := m[key].(T); ok {
		return &v
	}
	return nil
}
