package storage

import "fmt"

// Apply returns a copy of fields with the update applied.
// Backends without native array operators use this for read-modify-write.
func (u Update) Apply(fields Fields) (Fields, error) {
	out := make(Fields, len(fields)+len(u.Set))
	for k, v := range fields {
		out[k] = v
	}
	for k, v := range u.Set {
		out[k] = v
	}
	for field, values := range u.ArrayUnion {
		current, err := StringSlice(out[field])
		if err != nil {
			return nil, fmt.Errorf("array union on %s: %w", field, err)
		}
		present := make(map[string]bool, len(current))
		for _, v := range current {
			present[v] = true
		}
		for _, v := range values {
			if !present[v] {
				current = append(current, v)
				present[v] = true
			}
		}
		out[field] = current
	}
	for field, values := range u.ArrayRemove {
		current, err := StringSlice(out[field])
		if err != nil {
			return nil, fmt.Errorf("array remove on %s: %w", field, err)
		}
		drop := make(map[string]bool, len(values))
		for _, v := range values {
			drop[v] = true
		}
		kept := make([]string, 0, len(current))
		for _, v := range current {
			if !drop[v] {
				kept = append(kept, v)
			}
		}
		out[field] = kept
	}
	return out, nil
}

// IsEmpty reports whether the update changes nothing.
func (u Update) IsEmpty() bool {
	return len(u.Set) == 0 && len(u.ArrayUnion) == 0 && len(u.ArrayRemove) == 0
}

// StringSlice converts a decoded array field to []string.
// A missing field is an empty slice.
func StringSlice(v any) ([]string, error) {
	switch arr := v.(type) {
	case nil:
		return []string{}, nil
	case []string:
		return append([]string(nil), arr...), nil
	case []any:
		out := make([]string, 0, len(arr))
		for i, item := range arr {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("element %d is %T, not string", i, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("field is %T, not an array", v)
	}
}
