package capability

import "strings"

// vendorClasses maps vendor functionClass strings onto capabilities.
var vendorClasses = map[string]Capability{
	"power":             Power,
	"brightness":        Brightness,
	"fan-speed":         FanSpeed,
	"color-temperature": LightColorTemperature,
	"color-rgb":         LightColor,
	"color-mode":        ColorMode,
	"toggle":            ToggleValve,
	"max-on-time":       MaxOnTime,
	"timer":             Timer,
	"battery-level":     BatteryLevel,
}

// FromVendor maps a vendor functionClass and functionInstance to a capability
// and normalized instance name. A "power" function with the "fan-power"
// instance is FanPower. Default instances ("default", "default-*") and
// "light-power" are treated as unqualified.
func FromVendor(class, instance string) (Capability, string, bool) {
	class = strings.ToLower(strings.TrimSpace(class))
	instance = strings.TrimSpace(instance)

	c, ok := vendorClasses[class]
	if !ok {
		return "", "", false
	}

	switch {
	case c == Power && instance == "fan-power":
		return FanPower, "", true
	case c == Power && instance == "light-power":
		return Power, "", true
	case instance == "default", strings.HasPrefix(instance, "default-"):
		return c, "", true
	}
	return c, instance, true
}
