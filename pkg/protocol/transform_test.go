package protocol

import (
	"reflect"
	"testing"
)

func TestToVendor(t *testing.T) {
	tr := NewTransformer()

	tests := []struct {
		name string
		in   map[string]interface{}
		want map[string]interface{}
	}{
		{
			name: "booleans and enums",
			in: map[string]interface{}{
				"power":    "on",
				"mode":     "cool",
				"fanSpeed": "mediumHigh",
				"blow":     "off",
			},
			want: map[string]interface{}{"Pow": 1, "Mod": 1, "WdSpd": 4, "Blo": 0},
		},
		{
			name: "temperature pass-through",
			in:   map[string]interface{}{"temperature": 22},
			want: map[string]interface{}{"SetTem": 22},
		},
		{
			name: "temperature clamped to supported range",
			in:   map[string]interface{}{"temperature": 45},
			want: map[string]interface{}{"SetTem": 30},
		},
		{
			name: "unknown names dropped",
			in:   map[string]interface{}{"power": "on", "humidity": 55},
			want: map[string]interface{}{"Pow": 1},
		},
		{
			name: "ambient temperature is read-only",
			in:   map[string]interface{}{"currentTemperature": 22},
			want: map[string]interface{}{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tr.ToVendor(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ToVendor() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFromVendor(t *testing.T) {
	tr := NewTransformer()

	got := tr.FromVendor(map[string]interface{}{
		"Pow":    float64(1),
		"Mod":    float64(1),
		"SetTem": float64(22),
		"WdSpd":  float64(0),
		"TemSen": float64(62),
		"Xyz":    float64(9),
	})

	want := map[string]interface{}{
		"power":              "on",
		"mode":               "cool",
		"temperature":        22,
		"fanSpeed":           "auto",
		"currentTemperature": 22,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("FromVendor() = %v, want %v", got, want)
	}
}

// Every writable property must survive a vendor round trip unchanged.
func TestRoundTrip(t *testing.T) {
	tr := NewTransformer()

	for name, values := range valueOrdinals {
		for human := range values {
			in := map[string]interface{}{name: human}
			got := tr.FromVendor(tr.ToVendor(in))
			if !reflect.DeepEqual(got, in) {
				t.Errorf("round trip of %v = %v", in, got)
			}
		}
	}

	for temp := MinTemperature; temp <= MaxTemperature; temp++ {
		in := map[string]interface{}{PropertyTemperature: temp}
		got := tr.FromVendor(tr.ToVendor(in))
		if !reflect.DeepEqual(got, in) {
			t.Errorf("round trip of %v = %v", in, got)
		}
	}
}

func TestArrayToVendor(t *testing.T) {
	tr := NewTransformer()

	got := tr.ArrayToVendor([]string{"power", "mode", "nonsense", "swingVert"})
	want := []string{"Pow", "Mod", "SwUpDn"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ArrayToVendor() = %v, want %v", got, want)
	}

	// The status poll column list must be total for the protocol's names.
	cols := tr.ArrayToVendor(StatusProperties)
	if len(cols) != len(StatusProperties) {
		t.Errorf("status columns = %d names, want %d", len(cols), len(StatusProperties))
	}
}

func TestColumns(t *testing.T) {
	got := Columns([]string{"Pow", "Mod", "SetTem"}, []interface{}{1, 1})
	want := map[string]interface{}{"Pow": 1, "Mod": 1}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Columns() = %v, want %v", got, want)
	}
}
