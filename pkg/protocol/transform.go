package protocol

import "math"

// Transformer converts between the human-readable property model and the
// device firmware's compact vendor representation. It is stateless and safe
// for concurrent use.
type Transformer struct{}

// NewTransformer creates a property transformer.
func NewTransformer() *Transformer {
	return &Transformer{}
}

// ToVendor translates a map of human property names/values into vendor
// codes/ordinals. Unknown property names are silently dropped, as are
// read-only properties that cannot be written (currentTemperature).
func (t *Transformer) ToVendor(properties map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(properties))

	for name, value := range properties {
		// Reported ambient temperature is read-only.
		if name == PropertyCurrentTemperature {
			continue
		}

		code, ok := vendorCodes[name]
		if !ok {
			continue
		}

		if name == PropertyTemperature {
			if n, ok := asInt(value); ok {
				out[code] = clampTemperature(n)
			}
			continue
		}

		if values, ok := valueOrdinals[name]; ok {
			if s, ok := value.(string); ok {
				if ord, ok := values[s]; ok {
					out[code] = ord
				}
				continue
			}
		}

		if n, ok := asInt(value); ok {
			out[code] = n
		}
	}

	return out
}

// FromVendor translates a map of vendor codes/ordinals back into human
// property names/values. Unknown vendor codes are silently dropped. The
// reported ambient temperature has the firmware's fixed offset removed here
// and only here.
func (t *Transformer) FromVendor(values map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(values))

	for code, value := range values {
		name, ok := humanNames[code]
		if !ok {
			continue
		}

		n, isNum := asInt(value)

		switch name {
		case PropertyTemperature:
			if isNum {
				out[name] = n
			}
		case PropertyCurrentTemperature:
			if isNum {
				out[name] = n - currentTemperatureOffset
			}
		default:
			if ordinals, ok := ordinalValues[name]; ok && isNum {
				if human, ok := ordinals[n]; ok {
					out[name] = human
				}
				continue
			}
			out[name] = value
		}
	}

	return out
}

// ArrayToVendor translates a list of human property names into the vendor
// code column list used by status polls. Unknown names are dropped.
func (t *Transformer) ArrayToVendor(names []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		if code, ok := vendorCodes[name]; ok {
			out = append(out, code)
		}
	}
	return out
}

func clampTemperature(n int) int {
	if n < MinTemperature {
		return MinTemperature
	}
	if n > MaxTemperature {
		return MaxTemperature
	}
	return n
}

// asInt normalizes the numeric types that JSON decoding and callers may
// produce for vendor values.
func asInt(value interface{}) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		if v == math.Trunc(v) {
			return int(v), true
		}
		return 0, false
	case float32:
		return asInt(float64(v))
	default:
		return 0, false
	}
}
