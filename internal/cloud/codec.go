package cloud

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Wire encoding of attribute values. Booleans are a single flag byte ("01" or
// "00"); integers are hex bytes in little-endian order; strings pass through.

// EncodeBoolean returns the flag byte for b.
func EncodeBoolean(b bool) string {
	if b {
		return "01"
	}
	return "00"
}

// DecodeBoolean reports whether raw is the "01" flag. Anything else is false.
func DecodeBoolean(raw string) bool {
	return strings.TrimSpace(raw) == "01"
}

// EncodeInteger returns n as little-endian hex byte pairs, e.g. 300 -> "2c01".
func EncodeInteger(n int64) (string, error) {
	if n < 0 {
		return "", fmt.Errorf("encode integer %d: negative values are not supported", n)
	}
	h := strconv.FormatInt(n, 16)
	if len(h)%2 != 0 {
		h = "0" + h
	}
	return reversePairs(h), nil
}

// DecodeInteger parses a little-endian hex byte string.
func DecodeInteger(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, errors.New("decode integer: empty value")
	}
	if len(raw)%2 != 0 {
		return 0, fmt.Errorf("decode integer %q: odd length", raw)
	}
	if len(raw) > 16 {
		return 0, fmt.Errorf("decode integer %q: too long", raw)
	}
	n, err := strconv.ParseUint(reversePairs(raw), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("decode integer %q: %w", raw, err)
	}
	if n > 1<<63-1 {
		return 0, fmt.Errorf("decode integer %q: overflow", raw)
	}
	return int64(n), nil
}

func reversePairs(h string) string {
	var b strings.Builder
	b.Grow(len(h))
	for i := len(h) - 2; i >= 0; i -= 2 {
		b.WriteString(h[i : i+2])
	}
	return b.String()
}

// Kind is the declared wire type of a Value.
type Kind int

const (
	KindString Kind = iota
	KindBoolean
	KindInteger
)

func (k Kind) String() string {
	switch k {
	case KindBoolean:
		return "boolean"
	case KindInteger:
		return "integer"
	default:
		return "string"
	}
}

// Value is a typed attribute value to be written.
type Value struct {
	kind Kind
	b    bool
	n    int64
	s    string
}

func Bool(b bool) Value     { return Value{kind: KindBoolean, b: b} }
func Int(n int64) Value     { return Value{kind: KindInteger, n: n} }
func String(s string) Value { return Value{kind: KindString, s: s} }

// Kind returns the value's wire type.
func (v Value) Kind() Kind { return v.kind }

// Encode serializes v per its wire type.
func (v Value) Encode() (string, error) {
	switch v.kind {
	case KindBoolean:
		return EncodeBoolean(v.b), nil
	case KindInteger:
		return EncodeInteger(v.n)
	default:
		return v.s, nil
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindBoolean:
		return strconv.FormatBool(v.b)
	case KindInteger:
		return strconv.FormatInt(v.n, 10)
	default:
		return v.s
	}
}
