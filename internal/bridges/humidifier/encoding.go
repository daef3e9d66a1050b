package humidifier

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// EncodingVersion names a firmware value encoding. Both apply to the same
// read list; they differ in how the firmware answers it, so the version
// follows what get_prop returns for OnOff_State ("on" or 1).
type EncodingVersion string

const (
	// EncodingLegacy: power "on"/"off", named modes, water level ceil(depth/divisor).
	EncodingLegacy EncodingVersion = "legacy"

	// EncodingNumeric: power 1/0, gears 1-4, water level depth*100.
	EncodingNumeric EncodingVersion = "numeric"

	// DefaultWaterDivisor calibrates legacy depth readings.
	DefaultWaterDivisor = 1.2
)

// Rotation speeds reported for each gear.
var legacyModeSpeeds = map[string]int{
	"auto":   25,
	"silent": 50,
	"medium": 75,
	"high":   100,
}

// Encoding is the per-deployment decoding contract for device values.
type Encoding struct {
	Version      EncodingVersion
	WaterDivisor float64
}

// ParseEncoding validates an encoding name from configuration.
func ParseEncoding(name string, waterDivisor float64) (Encoding, error) {
	if waterDivisor <= 0 {
		waterDivisor = DefaultWaterDivisor
	}
	switch EncodingVersion(strings.ToLower(name)) {
	case EncodingLegacy, "":
		return Encoding{Version: EncodingLegacy, WaterDivisor: waterDivisor}, nil
	case EncodingNumeric:
		return Encoding{Version: EncodingNumeric, WaterDivisor: waterDivisor}, nil
	default:
		return Encoding{}, fmt.Errorf("%w: %q", ErrUnknownEncoding, name)
	}
}

// Switch decodes an on/off pair (power, child lock, dry).
// ok is false when v is neither encoding's on nor off value.
func (e Encoding) Switch(v any) (on bool, ok bool) {
	if e.Version == EncodingNumeric {
		n, isNum := toFloat(v)
		if !isNum || isString(v) {
			return false, false
		}
		switch n {
		case 1:
			return true, true
		case 0:
			return false, true
		}
		return false, false
	}

	s, isStr := v.(string)
	if !isStr {
		return false, false
	}
	switch s {
	case "on":
		return true, true
	case "off":
		return false, true
	}
	return false, false
}

// RotationSpeed maps a mode to the four-point 25/50/75/100 scale; 0 when unknown.
func (e Encoding) RotationSpeed(mode any) int {
	if e.Version == EncodingNumeric {
		n, ok := toFloat(mode)
		if !ok || isString(mode) {
			return 0
		}
		switch n {
		case 1, 2, 3, 4:
			return int(n) * 25
		}
		return 0
	}

	s, ok := mode.(string)
	if !ok {
		return 0
	}
	return legacyModeSpeeds[s]
}

// WaterLevel converts a raw depth reading to a non-negative integer level.
func (e Encoding) WaterLevel(depth any) int {
	d, ok := toFloat(depth)
	if !ok || math.IsNaN(d) || d <= 0 {
		return 0
	}

	var level float64
	if e.Version == EncodingNumeric {
		level = math.Round(d * 100)
	} else {
		divisor := e.WaterDivisor
		if divisor <= 0 {
			divisor = DefaultWaterDivisor
		}
		level = math.Ceil(d / divisor)
	}
	if math.IsInf(level, 0) || level > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(level)
}

// ModeLabel renders a mode for the status display.
func (e Encoding) ModeLabel(mode any) string {
	switch v := mode.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		if n, ok := toFloat(v); ok {
			return strconv.FormatFloat(n, 'f', -1, 64)
		}
		return fmt.Sprint(v)
	}
}

// toFloat converts numeric values, json.Number and numeric strings.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func isString(v any) bool {
	_, ok := v.(string)
	return ok
}

// truthy follows loose boolean conversion: zero, NaN, "", false and nil are false.
func truthy(v any) bool {
	switch b := v.(type) {
	case nil:
		return false
	case bool:
		return b
	case string:
		return b != ""
	case json.Number:
		f, err := b.Float64()
		return err != nil || (f != 0 && !math.IsNaN(f))
	}
	if n, ok := toFloat(v); ok {
		return n != 0 && !math.IsNaN(n)
	}
	return true
}
