package commsutil

import (
	"bytes"
	"encoding/json"
	"errors"
)

// ErrNotObject is returned by DecodeObject when the payload is valid JSON but not an object.
var ErrNotObject = errors.New("payload is not a JSON object")

// EncodePayload serializes a value to JSON bytes.
func EncodePayload(v any) ([]byte, error) {
	return json.Marshal(v)
}

// DecodePayload deserializes JSON bytes into the given target.
func DecodePayload(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// DecodeObject deserializes a JSON object into a generic map.
// Arrays, scalars and null are rejected with ErrNotObject.
func DecodeObject(data []byte) (map[string]any, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("empty payload")
	}
	if trimmed[0] != '{' {
		if !json.Valid(trimmed) {
			return nil, errors.New("payload is not valid JSON")
		}
		return nil, ErrNotObject
	}
	var obj map[string]any
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, err
	}
	return obj, nil
}
