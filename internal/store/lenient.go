package store

import "encoding/json"

// LenientSlice unmarshals either a JSON array of T or any other JSON shape
// (an integer, a bare object, null) into an empty slice instead of failing.
// Embed it in persisted structs whose schema has migrated a field from a
// scalar/map to a list, so old rows load instead of breaking the whole
// record.
type LenientSlice[T any] []T

// UnmarshalJSON implements the lenient fallback: a real array unmarshals
// normally; anything else degrades to an empty slice.
func (s *LenientSlice[T]) UnmarshalJSON(data []byte) error {
	var out []T
	if err := json.Unmarshal(data, &out); err != nil {
		*s = LenientSlice[T]{}
		return nil
	}
	*s = out
	return nil
}

// MarshalJSON round-trips a LenientSlice as a plain JSON array (never as the
// degraded shape it may have recovered from).
func (s LenientSlice[T]) MarshalJSON() ([]byte, error) {
	if s == nil {
		return json.Marshal([]T{})
	}
	return json.Marshal([]T(s))
}

// LenientMap unmarshals either a JSON object (map[K]V with string-keyed K)
// or any other JSON shape into an empty map instead of failing, mirroring
// LenientSlice for the map→list / list→map migration direction.
type LenientMap[V any] map[string]V

// UnmarshalJSON implements the lenient fallback.
func (m *LenientMap[V]) UnmarshalJSON(data []byte) error {
	var out map[string]V
	if err := json.Unmarshal(data, &out); err != nil {
		*m = LenientMap[V]{}
		return nil
	}
	*m = out
	return nil
}

// MarshalJSON round-trips a LenientMap as a plain JSON object.
func (m LenientMap[V]) MarshalJSON() ([]byte, error) {
	if m == nil {
		return json.Marshal(map[string]V{})
	}
	return json.Marshal(map[string]V(m))
}
