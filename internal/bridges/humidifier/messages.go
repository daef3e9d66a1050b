package humidifier

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-humidifier/internal/infrastructure/mqtt"
)

// MQTT message types exchanged between Gray Logic Core and the humidifier bridge.

// Protocol is the protocol identifier used in topics and messages.
const Protocol = mqtt.ProtocolMiIO

// CommandFormat selects how a command payload is interpreted.
type CommandFormat string

const (
	// FormatMiIO sends Command with Payload as a device command.
	FormatMiIO CommandFormat = "miio"

	// FormatHomeKit treats Payload as a characteristic object; Command is ignored.
	FormatHomeKit CommandFormat = "homekit"
)

// CommandMessage is sent from Core to the bridge.
// Topic: graylogic/command/miio/{device_id}
type CommandMessage struct {
	// ID correlates the command with its acknowledgments.
	ID string `json:"id"`

	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`

	// Command is an abstract command ("set_power"), a raw RPC method, or
	// "json" for a batch.
	Command string `json:"command"`

	// Payload is kept raw so an absent payload can be told apart from null.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Format defaults to "miio".
	Format CommandFormat `json:"format,omitempty"`

	// Source indicates where the command originated ("api", "automation", ...).
	Source string `json:"source,omitempty"`
}

// ToCommand decodes the message into an engine command. In homekit format
// the payload must be an object; it is translated into a batch.
func (m CommandMessage) ToCommand() (Command, error) {
	switch m.Format {
	case "", FormatMiIO:
		if m.Command == BatchCommand && len(m.Payload) > 0 && string(m.Payload) != "null" {
			var batch Batch
			if err := json.Unmarshal(m.Payload, &batch); err != nil {
				return Command{}, fmt.Errorf("decode batch payload: %w", err)
			}
			return Command{Name: BatchCommand, Payload: batch}, nil
		}
		payload, err := DecodePayload(m.Payload)
		if err != nil {
			return Command{}, fmt.Errorf("decode payload: %w", err)
		}
		return Command{Name: m.Command, Payload: payload}, nil

	case FormatHomeKit:
		payload, err := DecodePayload(m.Payload)
		if err != nil {
			return Command{}, fmt.Errorf("decode payload: %w", err)
		}
		chars, ok := payload.(map[string]any)
		if !ok {
			return Command{}, fmt.Errorf("homekit payload must be an object")
		}
		return Command{Name: BatchCommand, Payload: FromHomeKit(chars)}, nil

	default:
		return Command{}, fmt.Errorf("unknown format %q", m.Format)
	}
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the device accepted the call.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the call failed.
	AckFailed AckStatus = "failed"
)

// Error codes for command failures.
const (
	ErrCodeInvalidCommand = "INVALID_COMMAND"
	ErrCodeDeviceError    = "DEVICE_ERROR"
	ErrCodeBusy           = "BUSY"
)

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AckMessage acknowledges one device call. A batch yields one ack per entry.
// Topic: graylogic/ack/miio/{device_id}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`
	Address   string    `json:"address"`

	// Result carries request/payload on success or request/error on failure.
	Result *CommandResult `json:"result,omitempty"`

	Error *AckError `json:"error,omitempty"`
}

// NewAckMessage builds the acknowledgment for a dispatched call.
func NewAckMessage(cmd CommandMessage, address string, r CommandResult) AckMessage {
	ack := AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    AckAccepted,
		Protocol:  Protocol,
		Address:   address,
		Result:    &r,
	}
	if r.Err != nil {
		ack.Status = AckFailed
		ack.Error = &AckError{Code: ErrCodeDeviceError, Message: r.Err.Error()}
	}
	return ack
}

// NewAckError builds a failed acknowledgment for a command that never
// reached the device.
func NewAckError(cmd CommandMessage, address, code, message string) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    AckFailed,
		Protocol:  Protocol,
		Address:   address,
		Error:     &AckError{Code: code, Message: message},
	}
}

// StateMessage is the outward notification of the device state.
// Topic: graylogic/state/miio/{device_id}
// QoS: 1, Retained: Yes
type StateMessage struct {
	// Payload is the HomeKit projection in homekit mode, otherwise the
	// change event, or the full snapshot when there is no change.
	Payload any `json:"payload"`

	// Change is the triggering change event, or null.
	Change *ChangeEvent `json:"change"`

	// Status is the full snapshot for context.
	Status Snapshot `json:"status"`

	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`
	Protocol  string    `json:"protocol"`
	Address   string    `json:"address"`
}

// NewStateMessage creates a state message. change may be nil.
func NewStateMessage(deviceID, address string, payload any, change *ChangeEvent, status Snapshot) StateMessage {
	if status == nil {
		status = Snapshot{}
	}
	return StateMessage{
		Payload:   payload,
		Change:    change,
		Status:    status,
		DeviceID:  deviceID,
		Timestamp: time.Now().UTC(),
		Protocol:  Protocol,
		Address:   address,
	}
}

// ConnectivityMessage reports device reachability.
// Topic: graylogic/connectivity/miio/{device_id}
type ConnectivityMessage struct {
	Status    ConnectionState `json:"status"`
	Message   string          `json:"message,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewConnectivityMessage converts a connectivity event.
func NewConnectivityMessage(e ConnectivityEvent) ConnectivityMessage {
	return ConnectivityMessage{Status: e.State, Message: e.Message, Timestamp: e.At}
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge is operating with issues.
	HealthDegraded HealthStatus = "degraded"

	// HealthOffline indicates the bridge is not connected (from LWT).
	HealthOffline HealthStatus = "offline"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports bridge status.
// Topic: graylogic/health/miio
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge        string       `json:"bridge"`
	Timestamp     time.Time    `json:"timestamp"`
	Status        HealthStatus `json:"status"`
	Version       string       `json:"version,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`

	// Device is the engine state; absent in the LWT.
	Device *DeviceHealth `json:"device,omitempty"`

	// Reason explains the status (especially for offline/degraded).
	Reason string `json:"reason,omitempty"`
}

// DeviceHealth is the device section of a health message.
type DeviceHealth struct {
	ID      string `json:"id"`
	Address string `json:"address"`
	Stats
}

// NewHealthMessage creates a health status message.
func NewHealthMessage(bridgeID, version string, status HealthStatus, device *DeviceHealth, startTime time.Time) HealthMessage {
	return HealthMessage{
		Bridge:        bridgeID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       version,
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
		Device:        device,
	}
}

// NewLWTMessage creates the Last Will and Testament published by the broker
// if the bridge disconnects unexpectedly.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// Topic helpers

// CommandTopic returns the command topic for a device.
// Example: graylogic/command/miio/humidifier
func CommandTopic(deviceID string) string {
	return mqtt.DeviceTopic(mqtt.CategoryCommand, Protocol, deviceID)
}

// StateTopic returns the state topic for a device.
func StateTopic(deviceID string) string {
	return mqtt.DeviceTopic(mqtt.CategoryState, Protocol, deviceID)
}

// AckTopic returns the acknowledgment topic for a device.
func AckTopic(deviceID string) string {
	return mqtt.DeviceTopic(mqtt.CategoryAck, Protocol, deviceID)
}

// ConnectivityTopic returns the connectivity topic for a device.
func ConnectivityTopic(deviceID string) string {
	return mqtt.DeviceTopic(mqtt.CategoryConnectivity, Protocol, deviceID)
}

// HealthTopic returns the bridge health topic.
// Example: graylogic/health/miio
func HealthTopic() string { return mqtt.BridgeTopic(mqtt.CategoryHealth, Protocol) }
