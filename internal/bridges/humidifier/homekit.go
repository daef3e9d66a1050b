package humidifier

// HomeKit characteristic names.
const (
	CharActive                  = "Active"
	CharRotationSpeed           = "RotationSpeed"
	CharWaterLevel              = "WaterLevel"
	CharCurrentRelativeHumidity = "CurrentRelativeHumidity"
	CharHumidityThreshold       = "RelativeHumidityHumidifierThreshold"
	CharLockPhysicalControls    = "LockPhysicalControls"
	CharSwingMode               = "SwingMode"
	CharCurrentHumidifierState  = "CurrentHumidifierDehumidifierState"
	CharTargetHumidifierState   = "TargetHumidifierDehumidifierState"
)

// HomeKit value constants.
const (
	// NoResponse marks a characteristic of an unreachable accessory.
	NoResponse = "NO_RESPONSE"

	currentStateInactive = 0
	currentStateActive   = 2

	// targetStateHumidifier is always reported; the device has no target mode.
	targetStateHumidifier = 1
)

// Threshold bands snapped to the hardware setpoints.
const (
	thresholdLow  = 40
	thresholdHigh = 70
)

// Characteristics lists every characteristic the adapter produces.
var Characteristics = []string{
	CharActive,
	CharRotationSpeed,
	CharWaterLevel,
	CharCurrentRelativeHumidity,
	CharHumidityThreshold,
	CharLockPhysicalControls,
	CharSwingMode,
	CharCurrentHumidifierState,
	CharTargetHumidifierState,
}

// HomeKitMessage maps characteristic names to values.
type HomeKitMessage map[string]any

// ToHomeKit projects a snapshot onto the characteristic set. Switch-derived
// characteristics are omitted when the source key is missing or unrecognised;
// humidity, threshold and water level are omitted when missing.
func ToHomeKit(s Snapshot, enc Encoding) HomeKitMessage {
	msg := HomeKitMessage{}

	if on, ok := enc.Switch(s[KeyPower]); ok {
		if on {
			msg[CharActive] = 1
			msg[CharCurrentHumidifierState] = currentStateActive
		} else {
			msg[CharActive] = 0
			msg[CharCurrentHumidifierState] = currentStateInactive
		}
	}
	if on, ok := enc.Switch(s[KeyChildLock]); ok {
		msg[CharLockPhysicalControls] = boolInt(on)
	}
	if on, ok := enc.Switch(s[KeyDry]); ok {
		msg[CharSwingMode] = boolInt(on)
	}

	msg[CharRotationSpeed] = enc.RotationSpeed(s[KeyMode])

	if depth, ok := s[KeyDepth]; ok {
		msg[CharWaterLevel] = enc.WaterLevel(depth)
	}
	if v, ok := s[KeyHumidity]; ok {
		msg[CharCurrentRelativeHumidity] = v
	}
	msg[CharTargetHumidifierState] = targetStateHumidifier
	if v, ok := s[KeyHumidityLimit]; ok {
		msg[CharHumidityThreshold] = v
	}
	return msg
}

// FromHomeKit synthesises device commands from inbound characteristics.
// Only present characteristics produce commands, in the order threshold,
// power, mode.
func FromHomeKit(msg map[string]any) Batch {
	var out Batch

	if v, ok := msg[CharHumidityThreshold]; ok {
		out = append(out, BatchEntry{Command: CommandHumidityLimit, Payload: ClampThreshold(v)})
	}
	if v, ok := msg[CharActive]; ok {
		out = append(out, BatchEntry{Command: CommandPower, Payload: boolInt(truthy(v))})
	}
	if v, ok := msg[CharRotationSpeed]; ok {
		if gear, ok := SpeedToGear(v); ok {
			out = append(out, BatchEntry{Command: CommandMode, Payload: gear})
		}
	}
	return out
}

// ClampThreshold snaps (0,40] to 40 and (70,100] to 70. Other numeric values
// pass through; non-numeric values are returned untouched.
func ClampThreshold(v any) any {
	n, ok := toFloat(v)
	if !ok {
		return v
	}
	switch {
	case n > 0 && n <= thresholdLow:
		return thresholdLow
	case n > thresholdHigh && n <= 100:
		return thresholdHigh
	default:
		return v
	}
}

// SpeedToGear buckets a rotation speed: <=25 is 1, <=50 is 2, <=75 is 3,
// anything higher is 4. ok is false for non-numeric input.
func SpeedToGear(v any) (int, bool) {
	n, ok := toFloat(v)
	if !ok {
		return 0, false
	}
	switch {
	case n <= 25:
		return 1, true
	case n <= 50:
		return 2, true
	case n <= 75:
		return 3, true
	default:
		return 4, true
	}
}

// UnreachableMessage reports every characteristic as NoResponse.
func UnreachableMessage() HomeKitMessage {
	msg := make(HomeKitMessage, len(Characteristics))
	for _, c := range Characteristics {
		msg[c] = NoResponse
	}
	return msg
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
