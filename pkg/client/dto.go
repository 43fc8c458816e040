package client

import (
	"strings"

	"github.com/greelink/greelink/pkg/protocol"
)

// DeviceControl is a partial control request. Nil fields are left untouched
// on the device.
type DeviceControl struct {
	Power         *bool   `json:"power,omitempty" yaml:"power,omitempty"`
	Mode          *string `json:"mode,omitempty" yaml:"mode,omitempty"`
	Temperature   *int    `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	FanSpeed      *string `json:"fan_speed,omitempty" yaml:"fan_speed,omitempty"`
	SwingHor      *string `json:"swing_hor,omitempty" yaml:"swing_hor,omitempty"`
	SwingVert     *string `json:"swing_vert,omitempty" yaml:"swing_vert,omitempty"`
	Lights        *bool   `json:"lights,omitempty" yaml:"lights,omitempty"`
	Quiet         *string `json:"quiet,omitempty" yaml:"quiet,omitempty"`
	Turbo         *bool   `json:"turbo,omitempty" yaml:"turbo,omitempty"`
	Health        *bool   `json:"health,omitempty" yaml:"health,omitempty"`
	PowerSave     *bool   `json:"power_save,omitempty" yaml:"power_save,omitempty"`
	Sleep         *bool   `json:"sleep,omitempty" yaml:"sleep,omitempty"`
	Air           *string `json:"air,omitempty" yaml:"air,omitempty"`
	Blow          *bool   `json:"blow,omitempty" yaml:"blow,omitempty"`
	SafetyHeating *bool   `json:"safety_heating,omitempty" yaml:"safety_heating,omitempty"`
}

// properties flattens the request into the human-readable property map the
// codec understands.
func (c *DeviceControl) properties() map[string]interface{} {
	props := make(map[string]interface{})
	putBool := func(name string, v *bool) {
		if v != nil {
			props[name] = onOff(*v)
		}
	}

	putBool(protocol.PropertyPower, c.Power)
	putBool(protocol.PropertyLights, c.Lights)
	putBool(protocol.PropertyTurbo, c.Turbo)
	putBool(protocol.PropertyHealth, c.Health)
	putBool(protocol.PropertyPowerSave, c.PowerSave)
	putBool(protocol.PropertySleep, c.Sleep)
	putBool(protocol.PropertyBlow, c.Blow)
	putBool(protocol.PropertySafetyHeating, c.SafetyHeating)

	if c.Mode != nil {
		props[protocol.PropertyMode] = strings.ToLower(*c.Mode)
	}
	if c.Temperature != nil {
		props[protocol.PropertyTemperature] = *c.Temperature
	}
	if c.FanSpeed != nil {
		props[protocol.PropertyFanSpeed] = *c.FanSpeed
	}
	if c.SwingHor != nil {
		props[protocol.PropertySwingHor] = *c.SwingHor
	}
	if c.SwingVert != nil {
		props[protocol.PropertySwingVert] = *c.SwingVert
	}
	if c.Quiet != nil {
		props[protocol.PropertyQuiet] = *c.Quiet
	}
	if c.Air != nil {
		props[protocol.PropertyAir] = *c.Air
	}

	return props
}

// features extracts the subset of the request the mode-feature matrix cares
// about. Booleans are included only when enabling; a fan speed is included
// unless it is auto.
func (c *DeviceControl) features() map[string]interface{} {
	feats := make(map[string]interface{})
	putOn := func(name string, v *bool) {
		if v != nil && *v {
			feats[name] = true
		}
	}

	putOn("blow", c.Blow)
	putOn("health", c.Health)
	putOn("powersave", c.PowerSave)
	putOn("safetyheating", c.SafetyHeating)
	putOn("turbo", c.Turbo)

	if c.Air != nil && !strings.EqualFold(*c.Air, protocol.ValueOff) {
		feats["air"] = true
	}
	if c.Quiet != nil && !strings.EqualFold(*c.Quiet, protocol.ValueOff) {
		feats["quiet"] = true
	}
	if c.FanSpeed != nil {
		feats["fanspeed"] = *c.FanSpeed
	}

	return feats
}

// DeviceStatus is a snapshot of the cached device state. Nil fields have not
// been reported by the device yet.
type DeviceStatus struct {
	DeviceID           string  `json:"device_id" yaml:"device_id"`
	Power              *bool   `json:"power,omitempty" yaml:"power,omitempty"`
	Mode               *string `json:"mode,omitempty" yaml:"mode,omitempty"`
	Temperature        *int    `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	CurrentTemperature *int    `json:"current_temperature,omitempty" yaml:"current_temperature,omitempty"`
	TemperatureUnit    *string `json:"temperature_unit,omitempty" yaml:"temperature_unit,omitempty"`
	FanSpeed           *string `json:"fan_speed,omitempty" yaml:"fan_speed,omitempty"`
	SwingHor           *string `json:"swing_hor,omitempty" yaml:"swing_hor,omitempty"`
	SwingVert          *string `json:"swing_vert,omitempty" yaml:"swing_vert,omitempty"`
	Lights             *bool   `json:"lights,omitempty" yaml:"lights,omitempty"`
	Quiet              *string `json:"quiet,omitempty" yaml:"quiet,omitempty"`
	Turbo              *bool   `json:"turbo,omitempty" yaml:"turbo,omitempty"`
	Health             *bool   `json:"health,omitempty" yaml:"health,omitempty"`
	PowerSave          *bool   `json:"power_save,omitempty" yaml:"power_save,omitempty"`
	Sleep              *bool   `json:"sleep,omitempty" yaml:"sleep,omitempty"`
	Air                *string `json:"air,omitempty" yaml:"air,omitempty"`
	Blow               *bool   `json:"blow,omitempty" yaml:"blow,omitempty"`
	SafetyHeating      *bool   `json:"safety_heating,omitempty" yaml:"safety_heating,omitempty"`
}

// statusFromProperties builds a DeviceStatus from a decoded human-readable
// property map.
func statusFromProperties(deviceID string, props map[string]interface{}) DeviceStatus {
	s := DeviceStatus{DeviceID: deviceID}

	s.Power = boolProp(props, protocol.PropertyPower)
	s.Lights = boolProp(props, protocol.PropertyLights)
	s.Turbo = boolProp(props, protocol.PropertyTurbo)
	s.Health = boolProp(props, protocol.PropertyHealth)
	s.PowerSave = boolProp(props, protocol.PropertyPowerSave)
	s.Sleep = boolProp(props, protocol.PropertySleep)
	s.Blow = boolProp(props, protocol.PropertyBlow)
	s.SafetyHeating = boolProp(props, protocol.PropertySafetyHeating)

	s.Mode = stringProp(props, protocol.PropertyMode)
	s.TemperatureUnit = stringProp(props, protocol.PropertyTemperatureUnit)
	s.FanSpeed = stringProp(props, protocol.PropertyFanSpeed)
	s.SwingHor = stringProp(props, protocol.PropertySwingHor)
	s.SwingVert = stringProp(props, protocol.PropertySwingVert)
	s.Quiet = stringProp(props, protocol.PropertyQuiet)
	s.Air = stringProp(props, protocol.PropertyAir)

	s.Temperature = intProp(props, protocol.PropertyTemperature)
	s.CurrentTemperature = intProp(props, protocol.PropertyCurrentTemperature)

	return s
}

func onOff(v bool) string {
	if v {
		return protocol.ValueOn
	}
	return protocol.ValueOff
}

func boolProp(props map[string]interface{}, name string) *bool {
	s, ok := props[name].(string)
	if !ok {
		return nil
	}
	v := s == protocol.ValueOn
	return &v
}

func stringProp(props map[string]interface{}, name string) *string {
	s, ok := props[name].(string)
	if !ok {
		return nil
	}
	return &s
}

func intProp(props map[string]interface{}, name string) *int {
	switch v := props[name].(type) {
	case int:
		return &v
	case int64:
		n := int(v)
		return &n
	case float64:
		n := int(v)
		return &n
	}
	return nil
}
