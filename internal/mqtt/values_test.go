//go:build !no_mqtt

package mqtt

import (
	"testing"

	"hubspace-go-home/internal/cloud"
)

func present(raw string) cloud.Reading {
	return cloud.Reading{Status: cloud.Present, Raw: raw}
}

func TestStateText(t *testing.T) {
	tests := []struct {
		name   string
		kind   valueKind
		r      cloud.Reading
		want   string
		wantOK bool
	}{
		{"switch on", kindSwitch, present("01"), "ON", true},
		{"switch off", kindSwitch, present("00"), "OFF", true},
		{"number", kindNumber, present("2c01"), "300", true},
		{"minutes as seconds", kindSeconds, present("0f"), "900", true},
		{"malformed number", kindNumber, present("abc"), "", false},
		{"unavailable", kindSwitch, cloud.Reading{Status: cloud.Unavailable}, "", false},
		{"not found", kindNumber, cloud.Reading{Status: cloud.NotFound}, "", false},
		{"rgb", kindRGB, present("FF8000"), "255,128,0", true},
		{"rgb lower case", kindRGB, present("0a0b0c"), "10,11,12", true},
		{"rgb malformed", kindRGB, present("FF80"), "", false},
		{"rgb unavailable", kindRGB, cloud.Reading{Status: cloud.Unavailable}, "", false},
		{"text", kindText, present("color"), "color", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := stateText(tt.kind, tt.r)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("stateText() = %q, %v, want %q, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestCommandValue(t *testing.T) {
	tests := []struct {
		name    string
		kind    valueKind
		payload string
		want    string
		wantErr bool
	}{
		{"on", kindSwitch, "ON", "01", false},
		{"off lower", kindSwitch, "off", "00", false},
		{"bad switch", kindSwitch, "maybe", "", true},
		{"number", kindNumber, "300", "2c01", false},
		{"float rounds", kindNumber, "49.6", "32", false},
		{"seconds to minutes", kindSeconds, "900", "0f", false},
		{"negative", kindNumber, "-1", "", true},
		{"garbage", kindNumber, "ten", "", true},
		{"rgb", kindRGB, "255,128,0", "FF8000", false},
		{"rgb spaced", kindRGB, " 10, 11 ,12", "0A0B0C", false},
		{"rgb out of range", kindRGB, "256,0,0", "", true},
		{"rgb too short", kindRGB, "1,2", "", true},
		{"text passthrough", kindText, "white", "white", false},
		{"beyond float precision", kindNumber, "9007199254740993", "01000000000020", false},
		{"exponent out of range", kindNumber, "1e19", "", true},
		{"integer out of range", kindNumber, "9223372036854775808", "", true},
		{"negative fraction", kindNumber, "-0.4", "", true},
		{"infinity", kindNumber, "Inf", "", true},
		{"not a number", kindNumber, "NaN", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := commandValue(tt.kind, []byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Fatalf("commandValue() err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			raw, err := v.Encode()
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if raw != tt.want {
				t.Errorf("encoded = %q, want %q", raw, tt.want)
			}
		})
	}
}

func TestBatteryLow(t *testing.T) {
	if !batteryLow(19) {
		t.Error("19% should be low")
	}
	if batteryLow(20) {
		t.Error("20% should not be low")
	}
}
