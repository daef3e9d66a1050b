package humidifier

// GetPropMethod is the RPC method used for every property read.
const GetPropMethod = "get_prop"

// Snapshot keys.
const (
	KeyPower           = "power"
	KeyHumidity        = "humidity"
	KeyDepth           = "depth"
	KeyHumidityLimit   = "limit_hum"
	KeyMode            = "mode"
	KeyBuzzer          = "buzzer"
	KeyLEDBrightness   = "led_b"
	KeyTemperatureDeci = "temp_dec"

	// Not polled by current firmware; projected to HomeKit when present.
	KeyChildLock = "child_lock"
	KeyDry       = "dry"
)

// Property ties a device-native property name to its snapshot key.
type Property struct {
	Name string
	Key  string
}

// DefaultProperties is the fixed, ordered read list. Position N of a poll
// result always belongs to entry N.
var DefaultProperties = []Property{
	{Name: "OnOff_State", Key: KeyPower},
	{Name: "Humidity_Value", Key: KeyHumidity},
	{Name: "waterstatus", Key: KeyDepth},
	{Name: "HumiSet_Value", Key: KeyHumidityLimit},
	{Name: "Humidifier_Gear", Key: KeyMode},
	{Name: "TipSound_State", Key: KeyBuzzer},
	{Name: "Led_State", Key: KeyLEDBrightness},
	{Name: "TemperatureValue", Key: KeyTemperatureDeci},
}

// propertyKeys returns the snapshot keys of props in order.
func propertyKeys(props []Property) []string {
	keys := make([]string, len(props))
	for i, p := range props {
		keys[i] = p.Key
	}
	return keys
}
