//go:build !no_mqtt

package mqtt

import (
	"fmt"
	"strings"

	"hubspace-go-home/internal/capability"
	"hubspace-go-home/internal/coordinator"
	"hubspace-go-home/internal/device"
	"hubspace-go-home/internal/store"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/switch/hubspace_<id>/power/config"
	Payload []byte // JSON, empty means delete
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name"`
}

type haAvailability struct {
	Topic string `json:"topic"`
}

// haDiscovery is a generic HA discovery payload.
type haDiscovery struct {
	Name                   string           `json:"name"`
	UniqueID               string           `json:"unique_id"`
	StateTopic             string           `json:"state_topic"`
	CommandTopic           string           `json:"command_topic,omitempty"`
	Availability           []haAvailability `json:"availability"`
	AvailabilityMode       string           `json:"availability_mode,omitempty"`
	ValueTemplate          string           `json:"value_template,omitempty"`
	UnitOfMeasurement      string           `json:"unit_of_measurement,omitempty"`
	DeviceClass            string           `json:"device_class,omitempty"`
	StateClass             string           `json:"state_class,omitempty"`
	Icon                   string           `json:"icon,omitempty"`
	PayloadOn              string           `json:"payload_on,omitempty"`
	PayloadOff             string           `json:"payload_off,omitempty"`
	StateOn                string           `json:"state_on,omitempty"`
	StateOff               string           `json:"state_off,omitempty"`
	BrightnessScale        int              `json:"brightness_scale,omitempty"`
	BrightnessStateTopic   string           `json:"brightness_state_topic,omitempty"`
	BrightnessCommandTopic string           `json:"brightness_command_topic,omitempty"`
	RGBStateTopic          string           `json:"rgb_state_topic,omitempty"`
	RGBCommandTopic        string           `json:"rgb_command_topic,omitempty"`
	PercentageStateTopic   string           `json:"percentage_state_topic,omitempty"`
	PercentageCommandTopic string           `json:"percentage_command_topic,omitempty"`
	SpeedRangeMin          int              `json:"speed_range_min,omitempty"`
	SpeedRangeMax          int              `json:"speed_range_max,omitempty"`
	Min                    *float64         `json:"min,omitempty"`
	Max                    *float64         `json:"max,omitempty"`
	Step                   float64          `json:"step,omitempty"`
	Device                 haDevice         `json:"device"`
}

// binding ties a published state/command topic pair to a surface.
type binding struct {
	Surface coordinator.Surface
	Kind    valueKind
}

// plan is everything the bridge publishes and listens to for one accessory.
type plan struct {
	AccessoryID string
	Name        string
	Topic       string
	Bindings    map[string]binding // surface id -> binding
	Discovery   []discoveryMsg
}

// availabilityTopic is the per-accessory online/offline topic.
func (p *plan) availabilityTopic() string { return p.Topic + "/availability" }

// accessoryIdentifier returns the unique identifier for HA device registry.
func accessoryIdentifier(acc *store.Accessory) string {
	return "hubspace_" + acc.ID
}

// accessoryTopicName returns the topic name for an accessory (name or id).
func accessoryTopicName(acc *store.Accessory) string {
	if acc.Name == "" {
		return acc.ID
	}
	name := strings.ToLower(acc.Name)
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, name)
}

// buildPlan generates discovery messages and topic bindings for an accessory
// from its control surfaces.
func buildPlan(acc *store.Accessory, prefix, discoveryPrefix string) *plan {
	if acc.Context == nil {
		return nil
	}
	node := acc.Context
	base := prefix + "/" + accessoryTopicName(acc)
	p := &plan{
		AccessoryID: acc.ID,
		Name:        acc.Name,
		Topic:       base,
		Bindings:    make(map[string]binding),
	}

	nodeID := accessoryIdentifier(acc)
	haDev := haDevice{
		Identifiers:  []string{nodeID},
		Manufacturer: node.Manufacturer,
		Model:        strings.Join(node.Models, ", "),
		Name:         acc.Name,
	}
	avail := []haAvailability{{Topic: prefix + "/bridge/state"}, {Topic: p.availabilityTopic()}}

	surfaces := coordinator.Surfaces(node)
	power := unqualified(surfaces, capability.Power)
	brightness := unqualified(surfaces, capability.Brightness)
	fanPower := unqualified(surfaces, capability.FanPower)
	speed := unqualified(surfaces, capability.FanSpeed)
	color := unqualified(surfaces, capability.LightColor)

	lightBrightness := node.Class == device.ClassLight && power != nil && brightness != nil
	lightColor := node.Class == device.ClassLight && power != nil && color != nil
	fanSpeed := fanPower != nil && speed != nil

	bind := func(s coordinator.Surface, k valueKind) (state, cmd string) {
		id := s.ID()
		p.Bindings[id] = binding{Surface: s, Kind: k}
		return base + "/" + id, base + "/" + id + "/set"
	}
	entity := func(s coordinator.Surface, objectID string) haDiscovery {
		return haDiscovery{
			Name:             entityName(acc.Name, s),
			UniqueID:         nodeID + "_" + objectID,
			Availability:     avail,
			AvailabilityMode: "all",
			Device:           haDev,
		}
	}
	emit := func(component, objectID string, d haDiscovery) {
		p.Discovery = append(p.Discovery, discoveryMsg{
			Topic:   fmt.Sprintf("%s/%s/%s/%s/config", discoveryPrefix, component, nodeID, objectID),
			Payload: mustJSON(d),
		})
	}

	for _, s := range surfaces {
		objectID := s.ID()
		switch s.Capability {
		case capability.Power:
			d := entity(s, objectID)
			d.StateTopic, d.CommandTopic = bind(s, kindSwitch)
			d.PayloadOn, d.PayloadOff = payloadOn, payloadOff
			if node.Class == device.ClassLight && s.Index == nil {
				if lightBrightness {
					d.BrightnessStateTopic, d.BrightnessCommandTopic = bind(*brightness, kindNumber)
					d.BrightnessScale = scaleOf(brightness.Meta, 100)
				}
				if lightColor {
					d.RGBStateTopic, d.RGBCommandTopic = bind(*color, kindRGB)
				}
				emit("light", objectID, d)
				continue
			}
			d.DeviceClass = "outlet"
			emit("switch", objectID, d)

		case capability.FanPower:
			d := entity(s, objectID)
			d.StateTopic, d.CommandTopic = bind(s, kindSwitch)
			d.PayloadOn, d.PayloadOff = payloadOn, payloadOff
			if fanSpeed {
				d.PercentageStateTopic, d.PercentageCommandTopic = bind(*speed, kindNumber)
				d.SpeedRangeMin = 1
				d.SpeedRangeMax = scaleOf(speed.Meta, 100)
			}
			emit("fan", objectID, d)

		case capability.ToggleValve:
			d := entity(s, objectID)
			d.StateTopic, d.CommandTopic = bind(s, kindSwitch)
			d.PayloadOn, d.PayloadOff = payloadOn, payloadOff
			d.Icon = "mdi:sprinkler-variant"
			emit("switch", objectID, d)

		case capability.BatteryLevel:
			state, _ := bind(s, kindNumber)
			d := entity(s, objectID)
			d.StateTopic = state
			d.DeviceClass = "battery"
			d.UnitOfMeasurement = "%"
			d.StateClass = "measurement"
			emit("sensor", objectID, d)

			low := entity(s, objectID+"_low")
			low.Name = acc.Name + " Battery Low"
			low.StateTopic = state + "/low"
			low.DeviceClass = "battery"
			low.PayloadOn, low.PayloadOff = payloadOn, payloadOff
			emit("binary_sensor", objectID+"_low", low)

		case capability.Timer:
			d := entity(s, objectID)
			d.StateTopic, _ = bind(s, kindNumber)
			d.DeviceClass = "duration"
			d.UnitOfMeasurement = "s"
			emit("sensor", objectID, d)

		case capability.MaxOnTime:
			d := entity(s, objectID)
			d.StateTopic, d.CommandTopic = bind(s, kindSeconds)
			d.DeviceClass = "duration"
			d.UnitOfMeasurement = "s"
			d.Step = 60
			lo, hi := 60.0, 86400.0
			if r := s.Meta.Range; r != nil && r.Max > 0 {
				lo, hi = r.Min*60, r.Max*60
			}
			d.Min, d.Max = &lo, &hi
			emit("number", objectID, d)

		case capability.Brightness:
			if lightBrightness && s.ID() == brightness.ID() {
				continue
			}
			d := entity(s, objectID)
			d.StateTopic, d.CommandTopic = bind(s, kindNumber)
			d.UnitOfMeasurement = "%"
			setRange(&d, s.Meta, 0, 100)
			emit("number", objectID, d)

		case capability.FanSpeed:
			if fanSpeed && s.ID() == speed.ID() {
				continue
			}
			d := entity(s, objectID)
			d.StateTopic, d.CommandTopic = bind(s, kindNumber)
			d.UnitOfMeasurement = "%"
			setRange(&d, s.Meta, 0, 100)
			emit("number", objectID, d)

		case capability.LightColorTemperature:
			d := entity(s, objectID)
			d.StateTopic, d.CommandTopic = bind(s, kindNumber)
			d.UnitOfMeasurement = "K"
			setRange(&d, s.Meta, 2200, 6500)
			emit("number", objectID, d)

		case capability.LightColor:
			if lightColor && s.ID() == color.ID() {
				continue
			}
			d := entity(s, objectID)
			d.StateTopic, d.CommandTopic = bind(s, kindText)
			emit("text", objectID, d)

		case capability.ColorMode:
			d := entity(s, objectID)
			d.StateTopic, d.CommandTopic = bind(s, kindText)
			emit("text", objectID, d)
		}
	}
	return p
}

// buildRemoveDiscovery generates empty retained messages to remove a plan's
// entities from HA.
func buildRemoveDiscovery(p *plan) []discoveryMsg {
	msgs := make([]discoveryMsg, 0, len(p.Discovery))
	for _, m := range p.Discovery {
		msgs = append(msgs, discoveryMsg{Topic: m.Topic, Payload: nil})
	}
	return msgs
}

func unqualified(surfaces []coordinator.Surface, c capability.Capability) *coordinator.Surface {
	for i := range surfaces {
		s := &surfaces[i]
		if s.Capability == c && s.Instance == "" && s.Index == nil {
			return s
		}
	}
	return nil
}

// entityName is the accessory name, qualified for instance or indexed surfaces.
func entityName(accName string, s coordinator.Surface) string {
	name := accName
	if s.Instance != "" {
		name += " " + s.Instance
	}
	if s.Index != nil {
		name += fmt.Sprintf(" %d", *s.Index)
	}
	switch s.Capability {
	case capability.Power, capability.FanPower, capability.ToggleValve:
		return name
	case capability.BatteryLevel:
		return name + " Battery"
	case capability.MaxOnTime:
		return name + " Max Duration"
	case capability.Timer:
		return name + " Remaining"
	case capability.LightColorTemperature:
		return name + " Color Temperature"
	case capability.FanSpeed:
		return name + " Speed"
	case capability.LightColor:
		return name + " Color"
	case capability.ColorMode:
		return name + " Color Mode"
	default:
		return name + " Brightness"
	}
}

func scaleOf(meta capability.ValueMeta, def int) int {
	if meta.Range != nil && meta.Range.Max > 0 {
		return int(meta.Range.Max)
	}
	return def
}

func setRange(d *haDiscovery, meta capability.ValueMeta, lo, hi float64) {
	if r := meta.Range; r != nil && r.Max > r.Min {
		lo, hi = r.Min, r.Max
		d.Step = r.Step
	}
	d.Min, d.Max = &lo, &hi
}
