package humidifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

// Abstract command names.
const (
	CommandPower         = "set_power"
	CommandBuzzer        = "set_buzzer"
	CommandMode          = "set_mode"
	CommandHumidityLimit = "set_limit_hum"
	CommandLEDBrightness = "set_led_b"

	// BatchCommand marks a payload that is itself a set of commands.
	BatchCommand = "json"
)

// commandMethods maps abstract commands to device RPC methods. Anything
// not listed is sent as a raw method name.
var commandMethods = map[string]string{
	CommandPower:         "Set_OnOff",
	CommandBuzzer:        "SetTipSound_Status",
	CommandMode:          "Set_HumidifierGears",
	CommandHumidityLimit: "Set_HumiValue",
	CommandLEDBrightness: "SetLedState",
}

// toggleCommands take boolean-like payloads.
var toggleCommands = map[string]bool{
	CommandPower:         true,
	CommandBuzzer:        true,
	CommandLEDBrightness: true,
}

type nullPayload struct{}

// NullPayload is an explicit null payload. Dispatching it is a no-op,
// unlike a nil payload, which becomes an empty argument list.
var NullPayload any = nullPayload{}

// Command is an abstract intent from a consumer.
type Command struct {
	Name    string
	Payload any
}

// BatchEntry is one command inside a batch.
type BatchEntry struct {
	Command string `json:"command"`
	Payload any    `json:"payload"`
}

// Batch is an ordered command-name to payload mapping. It encodes as a
// JSON object and decodes preserving key order.
type Batch []BatchEntry

// Get returns the payload for command.
func (b Batch) Get(command string) (any, bool) {
	for _, e := range b {
		if e.Command == command {
			return e.Payload, true
		}
	}
	return nil, false
}

// MarshalJSON encodes the batch as an object in entry order.
func (b Batch) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range b {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Command)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("encoding %s: %w", e.Command, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object, keeping the order keys appear in.
func (b *Batch) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("batch must be a JSON object")
	}

	var out Batch
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("batch key must be a string")
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("decoding %s: %w", key, err)
		}
		payload, err := DecodePayload(raw)
		if err != nil {
			return fmt.Errorf("decoding %s: %w", key, err)
		}
		out = append(out, BatchEntry{Command: key, Payload: payload})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*b = out
	return nil
}

// DecodePayload decodes a JSON payload. Empty input means absent (nil);
// a literal null becomes NullPayload. Numbers are kept as json.Number so
// integers reach the device unchanged.
func DecodePayload(raw json.RawMessage) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if bytes.Equal(trimmed, []byte("null")) {
		return NullPayload, nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// MapCommand returns the RPC method for an abstract command.
func MapCommand(name string) string {
	if method, ok := commandMethods[name]; ok {
		return method
	}
	return name
}

// NormalizePayload converts boolean-like payloads of toggle commands to
// 1 or 0. Other commands, and unrecognised values, pass through.
func NormalizePayload(name string, payload any) any {
	if !toggleCommands[name] {
		return payload
	}
	switch v := payload.(type) {
	case bool:
		if v {
			return 1
		}
		return 0
	case string:
		switch v {
		case "on", "1":
			return 1
		case "off", "0":
			return 0
		}
	case json.Number:
		switch v.String() {
		case "1":
			return 1
		case "0":
			return 0
		}
	default:
		if n, ok := toFloat(v); ok {
			switch n {
			case 1:
				return 1
			case 0:
				return 0
			}
		}
	}
	return payload
}

// Translate resolves a command to its RPC method and wire arguments.
// ok is false for the no-op cases: an empty name or a null payload.
func Translate(name string, payload any) (method string, args any, ok bool) {
	if name == "" {
		return "", nil, false
	}
	args, ok = wrapPayload(NormalizePayload(name, payload))
	if !ok {
		return "", nil, false
	}
	return MapCommand(name), args, true
}

// wrapPayload shapes a payload into an argument list. nil becomes an empty
// list; scalars become a single-element list; lists and mappings pass through.
func wrapPayload(payload any) (any, bool) {
	switch v := payload.(type) {
	case nil:
		return []any{}, true
	case nullPayload:
		return nil, false
	case Batch:
		m := make(map[string]any, len(v))
		for _, e := range v {
			m[e.Command] = e.Payload
		}
		return m, true
	}
	switch reflect.ValueOf(payload).Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return payload, true
	default:
		return []any{payload}, true
	}
}

// Expand flattens a command into the individual commands it dispatches.
// A batch command yields one entry per key; a map payload is ordered by key.
func Expand(cmd Command) []Command {
	if cmd.Name != BatchCommand {
		return []Command{cmd}
	}
	switch p := cmd.Payload.(type) {
	case Batch:
		out := make([]Command, 0, len(p))
		for _, e := range p {
			out = append(out, Command{Name: e.Command, Payload: e.Payload})
		}
		return out
	case map[string]any:
		keys := make([]string, 0, len(p))
		for k := range p {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]Command, 0, len(p))
		for _, k := range keys {
			out = append(out, Command{Name: k, Payload: p[k]})
		}
		return out
	default:
		return nil
	}
}
