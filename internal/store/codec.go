package store

import (
	"encoding/json"
	"errors"
)

// ErrInvalidJSONColumn is returned when a jsonb column holds a value that
// cannot be round-tripped through the expected map shape.
var ErrInvalidJSONColumn = errors.New("store: invalid json column data")

// EncodeJSON marshals an opaque payload (task/execution input or output)
// for storage in a jsonb column. A nil map encodes as SQL NULL via pgx's
// []byte nil handling.
func EncodeJSON(v map[string]any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// DecodeJSON is the inverse of EncodeJSON; a nil/empty column decodes to a
// nil map rather than an error.
func DecodeJSON(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var v map[string]any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, ErrInvalidJSONColumn
	}
	return v, nil
}

// EncodeStringMap marshals metadata/label maps for storage.
func EncodeStringMap(v map[string]string) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// DecodeStringMap is the inverse of EncodeStringMap.
func DecodeStringMap(data []byte) (map[string]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var v map[string]string
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, ErrInvalidJSONColumn
	}
	return v, nil
}
