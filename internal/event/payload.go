package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Payload is the decoded key/value body of a Record. Only handlers interpret it.
type Payload map[string]interface{}

// DecodePayload parses a record payload. Numbers are kept as json.Number so large ids survive.
func DecodePayload(raw string) (Payload, error) {
	p := Payload{}
	if raw == "" {
		return p, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return p, nil
}

// Encode serializes the payload.
func (p Payload) Encode() (string, error) {
	if p == nil {
		return "{}", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return string(b), nil
}

// Int64 reads an identifier that may have been written as a number or a string.
func (p Payload) Int64(key string) (int64, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return 0, fmt.Errorf("payload: %s is missing", key)
	}
	switch n := v.(type) {
	case json.Number:
		return n.Int64()
	case float64:
		return int64(n), nil
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case string:
		id, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("payload: %s=%q is not an integer", key, n)
		}
		return id, nil
	}
	return 0, fmt.Errorf("payload: %s has unsupported type %T", key, v)
}

// String returns the value as text, or "" when absent.
func (p Payload) String(key string) string {
	switch v := p[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// Bool is lenient: true, "true" and 1 all count.
func (p Payload) Bool(key string) bool {
	switch v := p[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	case json.Number:
		n, err := v.Int64()
		return err == nil && n != 0
	}
	return false
}
