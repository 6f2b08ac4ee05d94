// Package typeutil converts loosely typed values, as decoded from JSON, YAML
// or protobuf Struct messages, into concrete Go types without panicking.
package typeutil

import (
	"math"
	"strings"
)

func as[T any](value any) (T, bool) {
	v, ok := value.(T)
	return v, ok
}

func orDefault[T any](v T, ok bool, defaultVal T) T {
	if ok {
		return v
	}
	return defaultVal
}

// =============================================================================
// Scalars
// =============================================================================

// SafeString asserts value to string.
func SafeString(value any) (string, bool) { return as[string](value) }

// SafeStringDefault returns value as a string, or defaultVal.
func SafeStringDefault(value any, defaultVal string) string {
	v, ok := SafeString(value)
	return orDefault(v, ok, defaultVal)
}

// SafeBool asserts value to bool.
func SafeBool(value any) (bool, bool) { return as[bool](value) }

// SafeBoolDefault returns value as a bool, or defaultVal.
func SafeBoolDefault(value any, defaultVal bool) bool {
	v, ok := SafeBool(value)
	return orDefault(v, ok, defaultVal)
}

// SafeInt converts value to int. Floats are accepted only when integral,
// since JSON and structpb carry every number as float64.
func SafeInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case uint32:
		return int(v), true
	case float32:
		return SafeInt(float64(v))
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return int(v), true
	default:
		return 0, false
	}
}

// SafeIntDefault returns value as an int, or defaultVal.
func SafeIntDefault(value any, defaultVal int) int {
	v, ok := SafeInt(value)
	return orDefault(v, ok, defaultVal)
}

// SafeFloat64 converts value to float64. Integer types are widened.
func SafeFloat64(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	default:
		return 0, false
	}
}

// =============================================================================
// Containers
// =============================================================================

// SafeMapStringAny asserts value to map[string]any.
func SafeMapStringAny(value any) (map[string]any, bool) { return as[map[string]any](value) }

// SafeMapStringAnyDefault returns value as a map, or defaultVal.
func SafeMapStringAnyDefault(value any, defaultVal map[string]any) map[string]any {
	v, ok := SafeMapStringAny(value)
	return orDefault(v, ok, defaultVal)
}

// SafeSlice asserts value to []any.
func SafeSlice(value any) ([]any, bool) { return as[[]any](value) }

// =============================================================================
// Nested Lookup
// =============================================================================

// GetNestedValue walks a dot-separated path through nested maps.
// GetNestedValue(status, "processes.total") returns status["processes"]["total"].
func GetNestedValue(data map[string]any, path string) (any, bool) {
	keys := strings.FieldsFunc(path, func(r rune) bool { return r == '.' })
	if data == nil || len(keys) == 0 {
		return nil, false
	}

	var current any = data
	for _, key := range keys {
		m, ok := SafeMapStringAny(current)
		if !ok {
			return nil, false
		}
		if current, ok = m[key]; !ok {
			return nil, false
		}
	}
	return current, true
}

// GetNestedInt looks up path and converts the value to int.
func GetNestedInt(data map[string]any, path string) (int, bool) {
	v, ok := GetNestedValue(data, path)
	if !ok {
		return 0, false
	}
	return SafeInt(v)
}

// GetNestedFloat64 looks up path and converts the value to float64.
func GetNestedFloat64(data map[string]any, path string) (float64, bool) {
	v, ok := GetNestedValue(data, path)
	if !ok {
		return 0, false
	}
	return SafeFloat64(v)
}
