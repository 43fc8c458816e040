package rules

import (
	"strings"
	"testing"
)

func TestIsFeatureAvailable(t *testing.T) {
	m := DefaultMatrix()

	tests := []struct {
		name    string
		feature string
		mode    string
		want    bool
	}{
		{name: "blow in cool", feature: "blow", mode: "cool", want: true},
		{name: "blow in dry", feature: "blow", mode: "dry", want: true},
		{name: "blow in heat", feature: "blow", mode: "heat", want: false},
		{name: "blow in auto", feature: "blow", mode: "auto", want: false},
		{name: "blow in fan", feature: "blow", mode: "fan", want: false},
		{name: "case insensitive", feature: "Blow", mode: "COOL", want: true},
		{name: "health in every mode", feature: "health", mode: "dry", want: true},
		{name: "powersave outside cool", feature: "powersave", mode: "heat", want: false},
		{name: "unknown feature is permissive", feature: "ionizer", mode: "dry", want: true},
		{name: "empty feature", feature: "", mode: "cool", want: false},
		{name: "empty mode", feature: "blow", mode: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.IsFeatureAvailable(tt.feature, tt.mode); got != tt.want {
				t.Errorf("IsFeatureAvailable(%q, %q) = %v, want %v", tt.feature, tt.mode, got, tt.want)
			}
		})
	}
}

func TestIsWindSettingAvailable(t *testing.T) {
	m := DefaultMatrix()

	tests := []struct {
		setting string
		mode    string
		want    bool
	}{
		{setting: "fanspeed", mode: "dry", want: false},
		{setting: "fanspeed", mode: "auto", want: true},
		{setting: "quiet", mode: "dry", want: false},
		{setting: "turbo", mode: "cool", want: true},
		{setting: "turbo", mode: "heat", want: true},
		{setting: "turbo", mode: "fan", want: false},
		{setting: "turbo", mode: "dry", want: false},
		{setting: "unknownwind", mode: "dry", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.setting+"/"+tt.mode, func(t *testing.T) {
			if got := m.IsWindSettingAvailable(tt.setting, tt.mode); got != tt.want {
				t.Errorf("IsWindSettingAvailable(%q, %q) = %v, want %v", tt.setting, tt.mode, got, tt.want)
			}
		})
	}
}

func TestValidateDryModeRejectsWindControls(t *testing.T) {
	m := DefaultMatrix()

	violations := m.Validate("dry", map[string]interface{}{
		"fanspeed": "low",
		"quiet":    true,
		"turbo":    true,
	}, true)

	if len(violations) < 3 {
		t.Fatalf("Validate() returned %d violations, want at least 3", len(violations))
	}

	for _, feature := range []string{"fanspeed", "quiet", "turbo"} {
		found := false
		for _, v := range violations {
			if strings.Contains(v.String(), feature) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("no violation mentions %q: %v", feature, violations)
		}
	}
}

func TestValidateLegalCoolModeRequest(t *testing.T) {
	m := DefaultMatrix()

	violations := m.Validate("cool", map[string]interface{}{
		"blow":      true,
		"health":    true,
		"powersave": true,
		"turbo":     true,
		"quiet":     true,
	}, true)

	if len(violations) != 0 {
		t.Errorf("Validate() = %v, want no violations", violations)
	}
}

func TestValidateOnlyChecksFeaturesBeingEnabled(t *testing.T) {
	m := DefaultMatrix()

	// Turning a feature off is never rejected, whatever the mode.
	violations := m.Validate("heat", map[string]interface{}{
		"blow":      false,
		"powersave": false,
	}, true)
	if len(violations) != 0 {
		t.Errorf("Validate() = %v, want no violations for disabled features", violations)
	}
}

func TestValidateWindChecksGated(t *testing.T) {
	m := DefaultMatrix()

	violations := m.Validate("dry", map[string]interface{}{"quiet": true}, false)
	if len(violations) != 0 {
		t.Errorf("Validate() = %v, want wind checks skipped", violations)
	}
}

func TestValidateAutoFanSpeedAlwaysAllowed(t *testing.T) {
	m := DefaultMatrix()

	violations := m.Validate("dry", map[string]interface{}{"fanspeed": "auto"}, true)
	if len(violations) != 0 {
		t.Errorf("Validate() = %v, want auto fan speed allowed in dry", violations)
	}
}

func TestValidateEmptyMode(t *testing.T) {
	m := DefaultMatrix()

	violations := m.Validate("", map[string]interface{}{"turbo": true}, true)
	if len(violations) != 1 {
		t.Fatalf("Validate() = %v, want a single mode-required violation", violations)
	}
}

func TestParseEnforcement(t *testing.T) {
	tests := []struct {
		in      string
		want    Enforcement
		wantErr bool
	}{
		{in: "none", want: EnforceNone},
		{in: "warn", want: EnforceWarn},
		{in: "STRICT", want: EnforceStrict},
		{in: "", want: EnforceWarn},
		{in: "maybe", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseEnforcement(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseEnforcement(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("ParseEnforcement(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFeaturesForMode(t *testing.T) {
	m := DefaultMatrix()

	cool := m.FeaturesForMode("cool")
	for _, want := range []string{"blow", "health", "powersave"} {
		found := false
		for _, f := range cool {
			if f == want {
				found = true
			}
		}
		if !found {
			t.Errorf("FeaturesForMode(cool) = %v, missing %q", cool, want)
		}
	}

	heat := m.FeaturesForMode("heat")
	for _, f := range heat {
		if f == "blow" || f == "powersave" {
			t.Errorf("FeaturesForMode(heat) includes %q", f)
		}
	}
}
