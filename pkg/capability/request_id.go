package capability

import "encoding/json"

// RequestID is the correlation id content attached to a request. Numeric ids
// keep their JSON literal so they are echoed as the same number.
type RequestID struct {
	value  string
	number bool
}

// StringID returns a string correlation id.
func StringID(s string) RequestID {
	return RequestID{value: s}
}

// NumberID returns a numeric correlation id with literal n.
func NumberID(n json.Number) RequestID {
	return RequestID{value: n.String(), number: true}
}

// IsZero reports whether content supplied no id.
func (id RequestID) IsZero() bool {
	return id.value == ""
}

// IsNumber reports whether the id was a JSON number.
func (id RequestID) IsNumber() bool {
	return id.number
}

func (id RequestID) String() string {
	return id.value
}

// MarshalJSON writes the id as it arrived: a number or a string.
func (id RequestID) MarshalJSON() ([]byte, error) {
	if id.number {
		return []byte(id.value), nil
	}
	return json.Marshal(id.value)
}
