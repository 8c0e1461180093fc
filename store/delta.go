package store

import (
	"encoding/json"
	"fmt"
)

// Increment adds By to a numeric field, creating it at zero when absent.
type Increment struct {
	By int64
}

// ArrayUnion appends each value to an array field unless already present.
type ArrayUnion struct {
	Values []any
}

// ArrayRemove removes every matching value from an array field.
type ArrayRemove struct {
	Values []any
}

func Inc(by int64) Increment        { return Increment{By: by} }
func Union(vs ...any) ArrayUnion    { return ArrayUnion{Values: vs} }
func Remove(vs ...any) ArrayRemove  { return ArrayRemove{Values: vs} }

// ApplyUpdate applies an Update field map to a decoded document. Plain
// values overwrite; delta values transform the existing field. Adapters
// share this so delta semantics stay identical everywhere.
func ApplyUpdate(doc map[string]any, fields map[string]any) error {
	for field, value := range fields {
		switch v := value.(type) {
		case Increment:
			current, err := asInt64(doc[field])
			if err != nil {
				return fmt.Errorf("increment %q: %w", field, err)
			}
			doc[field] = current + v.By
		case ArrayUnion:
			arr := asArray(doc[field])
			for _, item := range v.Values {
				if !arrayContains(arr, item) {
					arr = append(arr, item)
				}
			}
			doc[field] = arr
		case ArrayRemove:
			arr := asArray(doc[field])
			kept := make([]any, 0, len(arr))
			for _, existing := range arr {
				matched := false
				for _, item := range v.Values {
					if sameValue(existing, item) {
						matched = true
						break
					}
				}
				if !matched {
					kept = append(kept, existing)
				}
			}
			doc[field] = kept
		default:
			doc[field] = value
		}
	}
	return nil
}

func asInt64(v any) (int64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case json.Number:
		return n.Int64()
	default:
		return 0, fmt.Errorf("field is not numeric: %T", v)
	}
}

func asArray(v any) []any {
	if arr, ok := v.([]any); ok {
		return arr
	}
	return []any{}
}

func arrayContains(arr []any, item any) bool {
	for _, existing := range arr {
		if sameValue(existing, item) {
			return true
		}
	}
	return false
}

// sameValue compares through a JSON round trip so that values decoded from
// storage compare equal to in-memory delta arguments.
func sameValue(a, b any) bool {
	aj, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bj, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(aj) == string(bj)
}
