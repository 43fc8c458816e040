// Package rules validates feature requests against the device's current
// operating mode. The compatibility matrix reproduces the behavior of the
// vendor's mobile application, which in turn reflects what the device
// firmware actually accepts.
package rules

import (
	"fmt"
	"sort"
	"strings"
)

// Operating mode names.
const (
	ModeAuto = "auto"
	ModeCool = "cool"
	ModeHeat = "heat"
	ModeFan  = "fan"
	ModeDry  = "dry"
)

// Enforcement controls what happens when a control request violates the
// matrix. The level applies at the call site; the validator itself only
// reports.
type Enforcement string

const (
	// EnforceNone skips validation entirely.
	EnforceNone Enforcement = "none"
	// EnforceWarn validates, logs violations and proceeds anyway.
	EnforceWarn Enforcement = "warn"
	// EnforceStrict validates and aborts the operation on any violation.
	EnforceStrict Enforcement = "strict"
)

// ParseEnforcement converts a config string into an enforcement level.
func ParseEnforcement(s string) (Enforcement, error) {
	switch Enforcement(strings.ToLower(s)) {
	case EnforceNone:
		return EnforceNone, nil
	case EnforceWarn, "":
		return EnforceWarn, nil
	case EnforceStrict:
		return EnforceStrict, nil
	default:
		return "", fmt.Errorf("unknown enforcement level %q", s)
	}
}

type modeSet map[string]struct{}

func modes(names ...string) modeSet {
	s := make(modeSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

var allModes = modes(ModeAuto, ModeCool, ModeHeat, ModeFan, ModeDry)

// Matrix holds the static feature and wind-setting availability tables. It
// is immutable after construction and safe for concurrent use.
type Matrix struct {
	features     map[string]modeSet
	windSettings map[string]modeSet
}

// DefaultMatrix returns the vendor's feature-availability matrix.
func DefaultMatrix() *Matrix {
	return &Matrix{
		features: map[string]modeSet{
			// X-Fan dries the coil, so it only makes sense after cooling.
			"blow":          modes(ModeCool, ModeDry),
			"health":        allModes,
			"uvc":           allModes,
			"powersave":     modes(ModeCool),
			"energysaving":  modes(ModeCool),
			"safetyheating": allModes,
			"air":           allModes,
		},
		windSettings: map[string]modeSet{
			// Dry mode owns the fan entirely.
			"fanspeed": modes(ModeAuto, ModeCool, ModeHeat, ModeFan),
			"auto":     modes(ModeAuto, ModeCool, ModeHeat, ModeFan),
			"quiet":    modes(ModeAuto, ModeCool, ModeHeat, ModeFan),
			"turbo":    modes(ModeCool, ModeHeat),
		},
	}
}

// IsFeatureAvailable reports whether a feature may be enabled in the given
// mode. Features absent from the matrix are permitted for forward
// compatibility; empty inputs are not.
func (m *Matrix) IsFeatureAvailable(feature, mode string) bool {
	return available(m.features, feature, mode)
}

// IsWindSettingAvailable reports whether a wind setting may be used in the
// given mode, with the same unknown-name and empty-input behavior as
// IsFeatureAvailable.
func (m *Matrix) IsWindSettingAvailable(setting, mode string) bool {
	return available(m.windSettings, setting, mode)
}

func available(table map[string]modeSet, name, mode string) bool {
	if name == "" || mode == "" {
		return false
	}
	set, ok := table[strings.ToLower(name)]
	if !ok {
		return true
	}
	_, ok = set[strings.ToLower(mode)]
	return ok
}

// FeatureModes returns the sorted list of modes a feature is available in.
func (m *Matrix) FeatureModes(feature string) []string {
	return sortedModes(m.features[strings.ToLower(feature)])
}

// WindSettingModes returns the sorted list of modes a wind setting is
// available in.
func (m *Matrix) WindSettingModes(setting string) []string {
	return sortedModes(m.windSettings[strings.ToLower(setting)])
}

// FeaturesForMode returns the sorted list of features available in a mode.
func (m *Matrix) FeaturesForMode(mode string) []string {
	if mode == "" {
		return nil
	}
	var out []string
	for feature, set := range m.features {
		if _, ok := set[strings.ToLower(mode)]; ok {
			out = append(out, feature)
		}
	}
	sort.Strings(out)
	return out
}

func sortedModes(set modeSet) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for mode := range set {
		out = append(out, mode)
	}
	sort.Strings(out)
	return out
}

// Violation describes one feature request the matrix rejects.
type Violation struct {
	Feature        string
	Mode           string
	AvailableModes []string
}

func (v Violation) String() string {
	if v.Feature == "" {
		return "mode is required for feature validation"
	}
	return fmt.Sprintf("feature %q is not available in mode %q (available in: %s)",
		v.Feature, v.Mode, strings.Join(v.AvailableModes, ", "))
}

// ValidationError reports the violations of a rejected control request. It
// is only returned under strict enforcement.
type ValidationError struct {
	Mode       string
	Violations []Violation
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.String()
	}
	return fmt.Sprintf("mode %q rejects control request: %s", e.Mode, strings.Join(msgs, "; "))
}

// Validate checks requested features against the mode. Only boolean
// features being turned on are evaluated; switching a feature off is never
// rejected. Wind-setting restrictions are checked only when checkWind is
// set. The returned slice is empty when the request is legal.
func (m *Matrix) Validate(mode string, features map[string]interface{}, checkWind bool) []Violation {
	var violations []Violation

	if mode == "" {
		return []Violation{{}}
	}

	for feature, value := range features {
		if enabled, ok := value.(bool); ok && enabled && !m.IsFeatureAvailable(feature, mode) {
			violations = append(violations, Violation{
				Feature:        feature,
				Mode:           mode,
				AvailableModes: m.FeatureModes(feature),
			})
		}

		if checkWind && value != nil {
			violations = append(violations, m.windViolations(feature, value, mode)...)
		}
	}

	return violations
}

func (m *Matrix) windViolations(feature string, value interface{}, mode string) []Violation {
	name := strings.ToLower(feature)

	switch name {
	case "fanspeed":
		speed, ok := value.(string)
		if ok && !strings.EqualFold(speed, "auto") && !m.IsWindSettingAvailable("fanspeed", mode) {
			return []Violation{{
				Feature:        "fanspeed",
				Mode:           mode,
				AvailableModes: m.WindSettingModes("fanspeed"),
			}}
		}
	case "quiet", "turbo":
		enabled, ok := value.(bool)
		if ok && enabled && !m.IsWindSettingAvailable(name, mode) {
			return []Violation{{
				Feature:        name,
				Mode:           mode,
				AvailableModes: m.WindSettingModes(name),
			}}
		}
	}

	return nil
}
