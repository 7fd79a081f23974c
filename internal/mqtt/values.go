//go:build !no_mqtt

package mqtt

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"hubspace-go-home/internal/cloud"
)

const (
	payloadOn  = "ON"
	payloadOff = "OFF"

	// batteryLowThreshold is the percentage below which a battery reports low.
	batteryLowThreshold = 20

	// maxExactFloat is the largest integer a float64 holds exactly.
	maxExactFloat = 1 << 53
)

// valueKind says how a surface's wire value is presented on MQTT.
type valueKind int

const (
	// kindSwitch is a flag byte presented as ON/OFF.
	kindSwitch valueKind = iota
	// kindNumber is an integer presented in decimal.
	kindNumber
	// kindSeconds is an integer stored in minutes and presented in seconds.
	kindSeconds
	// kindRGB is an "RRGGBB" hex string presented as "r,g,b".
	kindRGB
	// kindText is an opaque string passed through unchanged.
	kindText
)

// stateText renders a reading for a state topic. ok is false when there is
// no current value to publish.
func stateText(k valueKind, r cloud.Reading) (text string, ok bool) {
	switch k {
	case kindSwitch:
		on, ok := r.Boolean()
		if !ok {
			return "", false
		}
		if on {
			return payloadOn, true
		}
		return payloadOff, true
	case kindSeconds:
		n, ok := r.Integer()
		if !ok {
			return "", false
		}
		return strconv.FormatInt(minutesToSeconds(n), 10), true
	case kindRGB:
		if r.Status != cloud.Present {
			return "", false
		}
		return rgbText(r.Raw)
	case kindText:
		if r.Status != cloud.Present {
			return "", false
		}
		return r.Raw, true
	default:
		n, ok := r.Integer()
		if !ok {
			return "", false
		}
		return strconv.FormatInt(n, 10), true
	}
}

// commandValue parses a command payload into the value to write.
func commandValue(k valueKind, payload []byte) (cloud.Value, error) {
	text := strings.TrimSpace(string(payload))
	switch k {
	case kindSwitch:
		switch strings.ToUpper(text) {
		case payloadOn, "TRUE", "1":
			return cloud.Bool(true), nil
		case payloadOff, "FALSE", "0":
			return cloud.Bool(false), nil
		}
		return cloud.Value{}, fmt.Errorf("invalid switch payload %q", text)
	case kindRGB:
		hex, err := rgbHex(text)
		if err != nil {
			return cloud.Value{}, err
		}
		return cloud.String(hex), nil
	case kindText:
		return cloud.String(text), nil
	default:
		n, err := parseNumber(text)
		if err != nil {
			return cloud.Value{}, err
		}
		if k == kindSeconds {
			n = secondsToMinutes(n)
		}
		return cloud.Int(n), nil
	}
}

// parseNumber reads a non-negative decimal payload. Integers are parsed
// exactly; fractional payloads are rounded and must stay within the range a
// float64 holds exactly.
func parseNumber(text string) (int64, error) {
	n, err := strconv.ParseInt(text, 10, 64)
	switch {
	case err == nil:
		if n < 0 {
			return 0, fmt.Errorf("negative payload %q", text)
		}
		return n, nil
	case errors.Is(err, strconv.ErrRange):
		return 0, fmt.Errorf("payload %q out of range", text)
	}

	f, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(f) {
		return 0, fmt.Errorf("invalid numeric payload %q", text)
	}
	if f < 0 {
		return 0, fmt.Errorf("negative payload %q", text)
	}
	if f > maxExactFloat {
		return 0, fmt.Errorf("payload %q out of range", text)
	}
	return int64(math.Round(f)), nil
}

// rgbText renders the vendor's "RRGGBB" color as HA's "r,g,b".
func rgbText(raw string) (string, bool) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "#")
	if len(raw) != 6 {
		return "", false
	}
	n, err := strconv.ParseUint(raw, 16, 32)
	if err != nil {
		return "", false
	}
	return fmt.Sprintf("%d,%d,%d", n>>16&0xff, n>>8&0xff, n&0xff), true
}

// rgbHex parses HA's "r,g,b" into the vendor's upper-case "RRGGBB".
func rgbHex(text string) (string, error) {
	parts := strings.Split(text, ",")
	if len(parts) != 3 {
		return "", fmt.Errorf("invalid rgb payload %q", text)
	}
	var rgb [3]uint64
	for i, part := range parts {
		c, err := strconv.ParseUint(strings.TrimSpace(part), 10, 8)
		if err != nil {
			return "", fmt.Errorf("invalid rgb payload %q", text)
		}
		rgb[i] = c
	}
	return fmt.Sprintf("%02X%02X%02X", rgb[0], rgb[1], rgb[2]), nil
}

// secondsToMinutes converts a duration for the vendor's max-on-time
// attribute, which counts whole minutes.
func secondsToMinutes(s int64) int64 { return s / 60 }

func minutesToSeconds(m int64) int64 { return m * 60 }

// batteryLow reports whether a battery percentage is below the low threshold.
func batteryLow(percent int64) bool { return percent < batteryLowThreshold }
