//go:build !no_mqtt

package mqtt

import (
	"encoding/json"
	"strings"
	"testing"

	"hubspace-go-home/internal/capability"
	"hubspace-go-home/internal/device"
	"hubspace-go-home/internal/store"
)

func fn(c capability.Capability, instance string, keys ...string) capability.FunctionRecord {
	rec := capability.FunctionRecord{Capability: c, Instance: instance}
	for _, k := range keys {
		rec.Keys = append(rec.Keys, capability.AttributeKey(k))
	}
	return rec
}

func accessory(id, name string, class device.Class, functions ...capability.FunctionRecord) *store.Accessory {
	return &store.Accessory{
		ID:       id,
		DeviceID: "dev-" + id,
		Name:     name,
		Context: &device.Node{
			ID:           "node-" + id,
			DeviceID:     "dev-" + id,
			Name:         name,
			Class:        class,
			Manufacturer: "Defiant",
			Models:       []string{"DWT1"},
			Functions:    functions,
		},
	}
}

func sprinkler() *store.Accessory {
	maxOn := fn(capability.MaxOnTime, "spigot-1", "40")
	maxOn.Meta.Range = &capability.Range{Min: 1, Max: 240, Step: 1}
	return accessory("acc-1", "Garden", device.ClassSprinkler,
		fn(capability.ToggleValve, "spigot-1", "1"),
		fn(capability.ToggleValve, "spigot-2", "2"),
		fn(capability.BatteryLevel, "", "3"),
		maxOn,
		fn(capability.Timer, "spigot-1", "5"),
	)
}

func discoveryByTopic(t *testing.T, msgs []discoveryMsg) map[string]haDiscovery {
	t.Helper()
	out := make(map[string]haDiscovery, len(msgs))
	for _, m := range msgs {
		var d haDiscovery
		if err := json.Unmarshal(m.Payload, &d); err != nil {
			t.Fatalf("unmarshal %s: %v", m.Topic, err)
		}
		out[m.Topic] = d
	}
	return out
}

func TestPlanLightWithBrightness(t *testing.T) {
	bright := fn(capability.Brightness, "", "2")
	bright.Meta.Range = &capability.Range{Min: 1, Max: 100}
	acc := accessory("acc-2", "Porch Light", device.ClassLight, fn(capability.Power, "", "1"), bright)

	p := buildPlan(acc, "hubspace", "homeassistant")
	if p.Topic != "hubspace/porch_light" {
		t.Errorf("topic = %q, want hubspace/porch_light", p.Topic)
	}
	disc := discoveryByTopic(t, p.Discovery)
	if len(disc) != 1 {
		t.Fatalf("got %d entities, want only the light: %v", len(disc), p.Discovery)
	}
	light, ok := disc["homeassistant/light/hubspace_acc-2/power/config"]
	if !ok {
		t.Fatal("light discovery not found")
	}
	if light.CommandTopic != "hubspace/porch_light/power/set" {
		t.Errorf("command_topic = %q", light.CommandTopic)
	}
	if light.BrightnessCommandTopic != "hubspace/porch_light/brightness/set" {
		t.Errorf("brightness_command_topic = %q", light.BrightnessCommandTopic)
	}
	if light.BrightnessScale != 100 {
		t.Errorf("brightness_scale = %d, want 100", light.BrightnessScale)
	}
	if light.Device.Manufacturer != "Defiant" || light.Device.Identifiers[0] != "hubspace_acc-2" {
		t.Errorf("device = %+v", light.Device)
	}
	if len(light.Availability) != 2 || light.Availability[1].Topic != "hubspace/porch_light/availability" {
		t.Errorf("availability = %+v", light.Availability)
	}
	if _, ok := p.Bindings["brightness"]; !ok {
		t.Error("brightness binding missing")
	}
	if p.Bindings["power"].Kind != kindSwitch {
		t.Error("power should bind as a switch")
	}
}

func TestPlanLightWithColor(t *testing.T) {
	acc := accessory("acc-6", "Desk Lamp", device.ClassLight,
		fn(capability.Power, "", "1"),
		fn(capability.LightColor, "", "3"),
		fn(capability.ColorMode, "", "4"),
	)
	p := buildPlan(acc, "hubspace", "homeassistant")
	disc := discoveryByTopic(t, p.Discovery)

	light, ok := disc["homeassistant/light/hubspace_acc-6/power/config"]
	if !ok {
		t.Fatal("light discovery not found")
	}
	if light.RGBCommandTopic != "hubspace/desk_lamp/color-rgb/set" || light.RGBStateTopic != "hubspace/desk_lamp/color-rgb" {
		t.Errorf("rgb topics = %q, %q", light.RGBStateTopic, light.RGBCommandTopic)
	}
	if _, ok := disc["homeassistant/text/hubspace_acc-6/color-rgb/config"]; ok {
		t.Error("color folded into the light should not get its own entity")
	}
	if p.Bindings["color-rgb"].Kind != kindRGB {
		t.Error("color should bind as rgb")
	}

	mode, ok := disc["homeassistant/text/hubspace_acc-6/color-mode/config"]
	if !ok {
		t.Fatal("color mode discovery not found")
	}
	if mode.Name != "Desk Lamp Color Mode" || mode.CommandTopic != "hubspace/desk_lamp/color-mode/set" {
		t.Errorf("color mode = %+v", mode)
	}
	if p.Bindings["color-mode"].Kind != kindText {
		t.Error("color mode should bind as text")
	}
}

func TestPlanColorWithoutLightIsText(t *testing.T) {
	acc := accessory("acc-7", "Strip", device.ClassOutlet, fn(capability.LightColor, "", "3"))
	p := buildPlan(acc, "hubspace", "homeassistant")
	disc := discoveryByTopic(t, p.Discovery)
	if _, ok := disc["homeassistant/text/hubspace_acc-7/color-rgb/config"]; !ok {
		t.Fatalf("color text entity missing: %v", p.Discovery)
	}
	if p.Bindings["color-rgb"].Kind != kindText {
		t.Error("standalone color should pass through as text")
	}
}

func TestPlanOutletIsSwitch(t *testing.T) {
	acc := accessory("acc-3", "Heater", device.ClassOutlet, fn(capability.Power, "", "1"))
	p := buildPlan(acc, "hubspace", "homeassistant")
	disc := discoveryByTopic(t, p.Discovery)
	sw, ok := disc["homeassistant/switch/hubspace_acc-3/power/config"]
	if !ok {
		t.Fatalf("switch discovery not found: %v", p.Discovery)
	}
	if sw.PayloadOn != "ON" || sw.PayloadOff != "OFF" {
		t.Errorf("payloads = %q/%q", sw.PayloadOn, sw.PayloadOff)
	}
}

func TestPlanMultiOutletPerIndex(t *testing.T) {
	one := fn(capability.Power, "", "10")
	one.Index = capability.At(1)
	two := fn(capability.Power, "", "20")
	two.Index = capability.At(2)
	acc := accessory("acc-4", "Strip", device.ClassMultiOutlet, one, two)

	p := buildPlan(acc, "hubspace", "homeassistant")
	disc := discoveryByTopic(t, p.Discovery)
	for _, id := range []string{"power-1", "power-2"} {
		if _, ok := disc["homeassistant/switch/hubspace_acc-4/"+id+"/config"]; !ok {
			t.Errorf("switch %s missing", id)
		}
		if _, ok := p.Bindings[id]; !ok {
			t.Errorf("binding %s missing", id)
		}
	}
	if p.Bindings["power-2"].Surface.Key != "20" {
		t.Errorf("power-2 key = %q, want 20", p.Bindings["power-2"].Surface.Key)
	}
}

func TestPlanFanWithSpeed(t *testing.T) {
	acc := accessory("acc-5", "Ceiling Fan", device.ClassFan,
		fn(capability.FanPower, "", "1"),
		fn(capability.FanSpeed, "", "2"),
	)
	p := buildPlan(acc, "hubspace", "homeassistant")
	disc := discoveryByTopic(t, p.Discovery)
	if len(disc) != 1 {
		t.Fatalf("got %d entities, want only the fan", len(disc))
	}
	fan, ok := disc["homeassistant/fan/hubspace_acc-5/fan-power/config"]
	if !ok {
		t.Fatal("fan discovery not found")
	}
	if fan.PercentageCommandTopic != "hubspace/ceiling_fan/fan-speed/set" {
		t.Errorf("percentage_command_topic = %q", fan.PercentageCommandTopic)
	}
	if fan.SpeedRangeMax != 100 {
		t.Errorf("speed_range_max = %d, want 100", fan.SpeedRangeMax)
	}
}

func TestPlanSprinkler(t *testing.T) {
	p := buildPlan(sprinkler(), "hubspace", "homeassistant")
	disc := discoveryByTopic(t, p.Discovery)

	for _, topic := range []string{
		"homeassistant/switch/hubspace_acc-1/toggle-spigot-1/config",
		"homeassistant/switch/hubspace_acc-1/toggle-spigot-2/config",
		"homeassistant/sensor/hubspace_acc-1/battery-level/config",
		"homeassistant/binary_sensor/hubspace_acc-1/battery-level_low/config",
		"homeassistant/sensor/hubspace_acc-1/timer-spigot-1/config",
	} {
		if _, ok := disc[topic]; !ok {
			t.Errorf("%s missing", topic)
		}
	}

	maxOn, ok := disc["homeassistant/number/hubspace_acc-1/max-on-time-spigot-1/config"]
	if !ok {
		t.Fatal("max-on-time number missing")
	}
	if maxOn.Min == nil || *maxOn.Min != 60 || maxOn.Max == nil || *maxOn.Max != 14400 {
		t.Errorf("max-on-time range = %v..%v, want 60..14400", maxOn.Min, maxOn.Max)
	}
	if p.Bindings["max-on-time-spigot-1"].Kind != kindSeconds {
		t.Error("max-on-time should bind in seconds")
	}

	low := disc["homeassistant/binary_sensor/hubspace_acc-1/battery-level_low/config"]
	if low.StateTopic != "hubspace/garden/battery-level/low" {
		t.Errorf("battery low state_topic = %q", low.StateTopic)
	}
	if timer := disc["homeassistant/sensor/hubspace_acc-1/timer-spigot-1/config"]; timer.CommandTopic != "" {
		t.Error("timer sensor should not take commands")
	}
}

func TestPlanWithoutContext(t *testing.T) {
	if p := buildPlan(&store.Accessory{ID: "x"}, "hubspace", "homeassistant"); p != nil {
		t.Errorf("expected nil plan, got %+v", p)
	}
}

func TestRemoveDiscovery(t *testing.T) {
	p := buildPlan(sprinkler(), "hubspace", "homeassistant")
	msgs := buildRemoveDiscovery(p)
	if len(msgs) != len(p.Discovery) {
		t.Fatalf("got %d removal messages, want %d", len(msgs), len(p.Discovery))
	}
	for i, m := range msgs {
		if m.Payload != nil {
			t.Errorf("removal message should have nil payload, got %q for %s", m.Payload, m.Topic)
		}
		if m.Topic != p.Discovery[i].Topic {
			t.Errorf("topic = %q, want %q", m.Topic, p.Discovery[i].Topic)
		}
	}
}

func TestAccessoryTopicName(t *testing.T) {
	tests := []struct {
		name string
		acc  *store.Accessory
		want string
	}{
		{"name with spaces", &store.Accessory{ID: "a", Name: "Kitchen Light"}, "kitchen_light"},
		{"punctuation", &store.Accessory{ID: "a", Name: "Bob's Fan #2"}, "bob_s_fan__2"},
		{"id fallback", &store.Accessory{ID: "5d6b0f0e"}, "5d6b0f0e"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := accessoryTopicName(tt.acc); got != tt.want {
				t.Errorf("accessoryTopicName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEntityNames(t *testing.T) {
	p := buildPlan(sprinkler(), "hubspace", "homeassistant")
	disc := discoveryByTopic(t, p.Discovery)
	got := disc["homeassistant/switch/hubspace_acc-1/toggle-spigot-2/config"].Name
	if got != "Garden spigot-2" {
		t.Errorf("name = %q, want %q", got, "Garden spigot-2")
	}
	for topic, d := range disc {
		if !strings.HasPrefix(d.UniqueID, "hubspace_acc-1_") {
			t.Errorf("%s unique_id = %q", topic, d.UniqueID)
		}
	}
}
