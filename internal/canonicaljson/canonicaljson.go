// Package canonicaljson encodes JSON values in the deterministic form
// required for event hashing: no whitespace, object keys sorted byte-wise,
// floating-point values dropped entirely.
package canonicaljson

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Encode returns the canonical encoding of v (a JSON tree decoded via
// json.Unmarshal into any, i.e. map[string]any / []any / string / float64 /
// bool / nil).
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeJSON parses raw as JSON and re-encodes it canonically.
func EncodeJSON(raw []byte) ([]byte, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("canonicaljson: parse: %w", err)
	}
	return Encode(v)
}

func encode(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case string:
		return encodeString(buf, t)
	case float64:
		// Integer-valued floats are written as integers. Object members and
		// array elements that are non-integer floats are dropped before
		// reaching here (see encodeObject/encodeArray); any other
		// non-integer float is an error.
		if t == float64(int64(t)) {
			buf.WriteString(fmt.Sprintf("%d", int64(t)))
			return nil
		}
		return fmt.Errorf("canonicaljson: non-integer numeric value not representable")
	case json.Number:
		buf.WriteString(t.String())
		return nil
	case map[string]any:
		return encodeObject(buf, t)
	case []any:
		return encodeArray(buf, t)
	default:
		return fmt.Errorf("canonicaljson: unsupported type %T", v)
	}
}

func isFloatValue(v any) bool {
	switch t := v.(type) {
	case float64:
		return t != float64(int64(t))
	}
	return false
}

func encodeObject(buf *bytes.Buffer, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		if isFloatValue(m[k]) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys) // byte-wise on UTF-8, which Go's string < already is

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeString(buf, k); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := encode(buf, m[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func encodeArray(buf *bytes.Buffer, a []any) error {
	buf.WriteByte('[')
	first := true
	for _, v := range a {
		if isFloatValue(v) {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		if err := encode(buf, v); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

func encodeString(buf *bytes.Buffer, s string) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("canonicaljson: encode string: %w", err)
	}
	buf.Write(b)
	return nil
}
