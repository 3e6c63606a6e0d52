package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// RequestID is a JSON-RPC id: either a number or a string. The zero value
// means "no id".
type RequestID struct {
	num   int64
	str   string
	isStr bool
	set   bool
}

// NumberID returns a numeric request id
func NumberID(n int64) RequestID {
	return RequestID{num: n, set: true}
}

// StringID returns a string request id
func StringID(s string) RequestID {
	return RequestID{str: s, isStr: true, set: true}
}

// IsZero reports whether the id is absent. A nil pointer is also absent.
func (id *RequestID) IsZero() bool {
	return id == nil || !id.set
}

// IsString reports whether the id was a JSON string
func (id RequestID) IsString() bool {
	return id.isStr
}

// Int64 returns the numeric value; ok is false for string ids
func (id RequestID) Int64() (int64, bool) {
	if !id.set || id.isStr {
		return 0, false
	}
	return id.num, true
}

// String returns a printable form. Numeric and string ids with the same
// spelling share the same key, which is how ids are matched against the
// pending table.
func (id RequestID) String() string {
	if !id.set {
		return ""
	}
	if id.isStr {
		return id.str
	}
	return strconv.FormatInt(id.num, 10)
}

// Value returns the id as a plain Go value suitable for JSON payloads
func (id RequestID) Value() interface{} {
	if !id.set {
		return nil
	}
	if id.isStr {
		return id.str
	}
	return id.num
}

// MarshalJSON implements json.Marshaler
func (id RequestID) MarshalJSON() ([]byte, error) {
	if !id.set {
		return []byte("null"), nil
	}
	if id.isStr {
		return json.Marshal(id.str)
	}
	return []byte(strconv.FormatInt(id.num, 10)), nil
}

// UnmarshalJSON implements json.Unmarshaler
func (id *RequestID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = RequestID{}
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return fmt.Errorf("invalid JSON-RPC ID: %w", err)
		}
		*id = StringID(str)
		return nil
	}

	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("JSON-RPC ID must be a string or number, got: %s", string(data))
	}
	n, err := num.Int64()
	if err != nil {
		return fmt.Errorf("JSON-RPC ID must be an integer, got: %s", string(data))
	}
	*id = NumberID(n)
	return nil
}

// ParseRequestID converts a decoded JSON value (float64, string, json.Number
// or integer) into a RequestID
func ParseRequestID(v interface{}) (RequestID, bool) {
	switch t := v.(type) {
	case string:
		return StringID(t), true
	case float64:
		if t != float64(int64(t)) {
			return RequestID{}, false
		}
		return NumberID(int64(t)), true
	case int64:
		return NumberID(t), true
	case int:
		return NumberID(int64(t)), true
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return RequestID{}, false
		}
		return NumberID(n), true
	case RequestID:
		return t, t.set
	default:
		return RequestID{}, false
	}
}
