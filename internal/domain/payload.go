package domain

import (
	"bytes"
	"encoding/json"
)

// Payload is an activity-specific JSON document. Its shape is owned by the
// activity and never inspected here beyond IsEmpty.
type Payload json.RawMessage

// IsEmpty is the single presence test for responses and activity data:
// absent, null, "", {} and [] are empty, every other JSON value is present.
// Invalid JSON is reported as empty.
func (p Payload) IsEmpty() bool {
	trimmed := bytes.TrimSpace(p)
	if len(trimmed) == 0 {
		return true
	}
	var value interface{}
	if err := json.Unmarshal(trimmed, &value); err != nil {
		return true
	}
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case map[string]interface{}:
		return len(v) == 0
	case []interface{}:
		return len(v) == 0
	default:
		return false
	}
}

// Valid reports whether the payload is absent or well-formed JSON.
func (p Payload) Valid() bool {
	trimmed := bytes.TrimSpace(p)
	return len(trimmed) == 0 || json.Valid(trimmed)
}

// Clone returns a copy that does not share the backing array.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	return append(Payload(nil), p...)
}

// MarshalJSON renders empty payloads as null.
func (p Payload) MarshalJSON() ([]byte, error) {
	trimmed := bytes.TrimSpace(p)
	if len(trimmed) == 0 {
		return []byte("null"), nil
	}
	return trimmed, nil
}

// UnmarshalJSON keeps the raw bytes.
func (p *Payload) UnmarshalJSON(data []byte) error {
	*p = append((*p)[0:0], data...)
	return nil
}
