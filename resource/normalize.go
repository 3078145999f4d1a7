package resource

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/convergekit/converge/faults"
)

// Canonicalize rewrites a payload into a canonical form so that values
// decoded from different sources (YAML declarations, JSON responses)
// compare equal: all integers become int64, json.Number is resolved, and
// non-finite floats are rejected.
func Canonicalize(value Value) (Value, error) {
	switch typed := value.(type) {
	case nil, bool, string:
		return typed, nil
	case float32:
		return canonicalFloat(float64(typed))
	case float64:
		return canonicalFloat(typed)
	case int:
		return int64(typed), nil
	case int8:
		return int64(typed), nil
	case int16:
		return int64(typed), nil
	case int32:
		return int64(typed), nil
	case int64:
		return typed, nil
	case uint:
		return canonicalUint(uint64(typed))
	case uint8:
		return canonicalUint(uint64(typed))
	case uint16:
		return canonicalUint(uint64(typed))
	case uint32:
		return canonicalUint(uint64(typed))
	case uint64:
		return canonicalUint(typed)
	case json.Number:
		return canonicalJSONNumber(typed)
	case []any:
		return canonicalSlice(typed)
	case map[string]any:
		return CanonicalizeMap(typed)
	}

	return nil, faults.NewTypedError(
		faults.BackendRejected,
		fmt.Sprintf("unsupported payload type %T", value),
		nil,
	)
}

func CanonicalizeMap(values map[string]any) (map[string]any, error) {
	canonical := make(map[string]any, len(values))
	for key, item := range values {
		itemValue, err := Canonicalize(item)
		if err != nil {
			return nil, err
		}
		canonical[key] = itemValue
	}
	return canonical, nil
}

func canonicalSlice(values []any) ([]any, error) {
	canonical := make([]any, len(values))
	for idx, item := range values {
		itemValue, err := Canonicalize(item)
		if err != nil {
			return nil, err
		}
		canonical[idx] = itemValue
	}
	return canonical, nil
}

func canonicalFloat(value float64) (any, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil, faults.NewTypedError(faults.BackendRejected, "payload contains non-finite float", nil)
	}
	if value == math.Trunc(value) && math.Abs(value) < math.MaxInt64 {
		return int64(value), nil
	}
	return value, nil
}

func canonicalUint(value uint64) (int64, error) {
	if value > math.MaxInt64 {
		return 0, faults.NewTypedError(faults.BackendRejected, "payload contains integer out of range", nil)
	}
	return int64(value), nil
}

func canonicalJSONNumber(value json.Number) (any, error) {
	if asInt, err := value.Int64(); err == nil {
		return asInt, nil
	}
	asFloat, err := value.Float64()
	if err != nil {
		return nil, faults.NewTypedError(faults.BackendRejected, "payload contains invalid number", err)
	}
	return canonicalFloat(asFloat)
}
