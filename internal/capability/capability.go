// Package capability defines the closed set of controllable capabilities, the
// function records a device declares for them, and the resolver that maps a
// requested capability access onto a concrete attribute key.
package capability

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Capability is a semantic unit of control, independent of the vendor wire format.
type Capability string

const (
	Power                 Capability = "power"
	Brightness            Capability = "brightness"
	FanPower              Capability = "fan-power"
	FanSpeed              Capability = "fan-speed"
	LightColorTemperature Capability = "color-temperature"
	LightColor            Capability = "color-rgb"
	ColorMode             Capability = "color-mode"
	ToggleValve           Capability = "toggle"
	MaxOnTime             Capability = "max-on-time"
	Timer                 Capability = "timer"
	BatteryLevel          Capability = "battery-level"
)

// All lists every capability in a stable order.
var All = []Capability{
	Power, Brightness, FanPower, FanSpeed, LightColorTemperature, LightColor,
	ColorMode, ToggleValve, MaxOnTime, Timer, BatteryLevel,
}

// Parse returns the capability named s.
func Parse(s string) (Capability, bool) {
	for _, c := range All {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// AttributeKey is an opaque vendor attribute identifier. The vendor sends keys
// as either JSON numbers or strings; both decode to the same key.
type AttributeKey string

func (k *AttributeKey) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*k = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*k = AttributeKey(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("attribute key: %w", err)
	}
	*k = AttributeKey(n.String())
	return nil
}

// Range is the declared numeric range of a value.
type Range struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step,omitempty"`
}

// ValueMeta describes the declared wire type of a function's value.
type ValueMeta struct {
	Type  string `json:"type,omitempty"`
	Range *Range `json:"range,omitempty"`
}

// FunctionRecord is one validated entry of a device's function list.
// Keys holds the value slots in declaration order; a record with several
// slots can be addressed by positional index.
type FunctionRecord struct {
	Capability Capability     `json:"capability"`
	Instance   string         `json:"instance,omitempty"`
	Index      *int           `json:"index,omitempty"`
	Keys       []AttributeKey `json:"keys"`
	Meta       ValueMeta      `json:"meta"`
}

// Slots returns the number of addressable value slots.
func (f FunctionRecord) Slots() int { return len(f.Keys) }

// Query is a requested capability access.
type Query struct {
	Capability Capability
	Instance   string
	Index      *int
}

// At returns a pointer to i, for building queries with a positional index.
func At(i int) *int { return &i }

func (q Query) String() string {
	var b strings.Builder
	b.WriteString(string(q.Capability))
	if q.Instance != "" {
		b.WriteString("[" + q.Instance + "]")
	}
	if q.Index != nil {
		b.WriteString("#" + strconv.Itoa(*q.Index))
	}
	return b.String()
}
