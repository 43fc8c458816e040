package protocol

// Property name constants for the human-readable representation.
const (
	PropertyPower              = "power"
	PropertyMode               = "mode"
	PropertyTemperatureUnit    = "temperatureUnit"
	PropertyTemperature        = "temperature"
	PropertyCurrentTemperature = "currentTemperature"
	PropertyFanSpeed           = "fanSpeed"
	PropertyAir                = "air"
	PropertyBlow               = "blow"
	PropertyHealth             = "health"
	PropertySleep              = "sleep"
	PropertyLights             = "lights"
	PropertySwingHor           = "swingHor"
	PropertySwingVert          = "swingVert"
	PropertyQuiet              = "quiet"
	PropertyTurbo              = "turbo"
	PropertyPowerSave          = "powerSave"
	PropertySafetyHeating      = "safetyHeating"
)

// On/off values used by every boolean property.
const (
	ValueOn  = "on"
	ValueOff = "off"
)

// Operation mode values.
const (
	ModeAuto    = "auto"
	ModeCool    = "cool"
	ModeDry     = "dry"
	ModeFanOnly = "fan_only"
	ModeHeat    = "heat"
)

// Fan speed values.
const (
	FanSpeedAuto       = "auto"
	FanSpeedLow        = "low"
	FanSpeedMediumLow  = "mediumLow"
	FanSpeedMedium     = "medium"
	FanSpeedMediumHigh = "mediumHigh"
	FanSpeedHigh       = "high"
)

// Setpoint range supported by the device firmware, degrees Celsius.
const (
	MinTemperature = 16
	MaxTemperature = 30
)

// currentTemperatureOffset is the fixed offset the firmware adds to the
// reported ambient temperature. It is removed when translating out of the
// vendor representation and never applied on the way in.
const currentTemperatureOffset = 40

// vendorCodes maps human property names to the firmware's short wire codes.
var vendorCodes = map[string]string{
	PropertyPower:              "Pow",
	PropertyMode:               "Mod",
	PropertyTemperatureUnit:    "TemUn",
	PropertyTemperature:        "SetTem",
	PropertyCurrentTemperature: "TemSen",
	PropertyFanSpeed:           "WdSpd",
	PropertyAir:                "Air",
	PropertyBlow:               "Blo",
	PropertyHealth:             "Health",
	PropertySleep:              "SwhSlp",
	PropertyLights:             "Lig",
	PropertySwingHor:           "SwingLfRig",
	PropertySwingVert:          "SwUpDn",
	PropertyQuiet:              "Quiet",
	PropertyTurbo:              "Tur",
	PropertyPowerSave:          "SvSt",
	PropertySafetyHeating:      "StHt",
}

// humanNames is the inverse of vendorCodes.
var humanNames = func() map[string]string {
	m := make(map[string]string, len(vendorCodes))
	for name, code := range vendorCodes {
		m[code] = name
	}
	return m
}()

var onOffOrdinals = map[string]int{ValueOff: 0, ValueOn: 1}

// valueOrdinals maps, per enumerated property, the human value to the
// firmware ordinal. Numeric properties (temperature, currentTemperature)
// are handled separately by the transformer.
var valueOrdinals = map[string]map[string]int{
	PropertyPower: onOffOrdinals,
	PropertyMode: {
		ModeAuto:    0,
		ModeCool:    1,
		ModeDry:     2,
		ModeFanOnly: 3,
		ModeHeat:    4,
	},
	PropertyTemperatureUnit: {
		"celsius":    0,
		"fahrenheit": 1,
	},
	PropertyFanSpeed: {
		FanSpeedAuto:       0,
		FanSpeedLow:        1,
		FanSpeedMediumLow:  2,
		FanSpeedMedium:     3,
		FanSpeedMediumHigh: 4,
		FanSpeedHigh:       5,
	},
	PropertyAir: {
		ValueOff:  0,
		"inside":  1,
		"outside": 2,
		"mode3":   3,
	},
	PropertyBlow:   onOffOrdinals,
	PropertyHealth: onOffOrdinals,
	PropertySleep:  onOffOrdinals,
	PropertyLights: onOffOrdinals,
	PropertySwingHor: {
		"default":       0,
		"full":          1,
		"fixedLeft":     2,
		"fixedMidLeft":  3,
		"fixedMid":      4,
		"fixedMidRight": 5,
		"fixedRight":    6,
		"fullAlt":       7,
	},
	PropertySwingVert: {
		"default":        0,
		"full":           1,
		"fixedTop":       2,
		"fixedMidTop":    3,
		"fixedMid":       4,
		"fixedMidBottom": 5,
		"fixedBottom":    6,
		"swingBottom":    7,
		"swingMidBottom": 8,
		"swingMid":       9,
		"swingMidTop":    10,
		"swingTop":       11,
	},
	PropertyQuiet: {
		ValueOff: 0,
		"mode1":  1,
		"mode2":  2,
		"mode3":  3,
	},
	PropertyTurbo:         onOffOrdinals,
	PropertyPowerSave:     onOffOrdinals,
	PropertySafetyHeating: onOffOrdinals,
}

// ordinalValues is the inverse of valueOrdinals.
var ordinalValues = func() map[string]map[int]string {
	m := make(map[string]map[int]string, len(valueOrdinals))
	for prop, values := range valueOrdinals {
		inv := make(map[int]string, len(values))
		for human, ord := range values {
			inv[ord] = human
		}
		m[prop] = inv
	}
	return m
}()

// StatusProperties is the full set of property names polled by a status
// request, in the order the device expects them.
var StatusProperties = []string{
	PropertyPower,
	PropertyMode,
	PropertyTemperatureUnit,
	PropertyTemperature,
	PropertyCurrentTemperature,
	PropertyFanSpeed,
	PropertyAir,
	PropertyBlow,
	PropertyHealth,
	PropertySleep,
	PropertyLights,
	PropertySwingHor,
	PropertySwingVert,
	PropertyQuiet,
	PropertyTurbo,
	PropertyPowerSave,
	PropertySafetyHeating,
}
