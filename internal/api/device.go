package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-humidifier/internal/bridges/humidifier"
)

// deviceStatusResponse is the body of GET /device/status.
type deviceStatusResponse struct {
	DeviceID      string                      `json:"device_id"`
	Address       string                      `json:"address"`
	Connected     bool                        `json:"connected"`
	Connection    humidifier.ConnectionStatus `json:"connection"`
	Display       humidifier.DisplayStatus    `json:"display"`
	CommandStatus humidifier.DisplayStatus    `json:"command_status"`
	State         humidifier.Snapshot         `json:"state"`
	Stats         humidifier.Stats            `json:"stats"`
}

// commandResponse is the body of POST /device/commands.
type commandResponse struct {
	CommandID string                     `json:"command_id"`
	Results   []humidifier.CommandResult `json:"results"`
}

// handleDeviceStatus returns the cached snapshot and connection details.
// It never touches the device.
func (s *Server) handleDeviceStatus(w http.ResponseWriter, _ *http.Request) {
	state := s.device.Snapshot()
	if state == nil {
		state = humidifier.Snapshot{}
	}
	writeJSON(w, http.StatusOK, deviceStatusResponse{
		DeviceID:      s.deviceID,
		Address:       s.device.Address(),
		Connected:     s.device.IsConnected(),
		Connection:    s.device.Status(),
		Display:       s.device.Display(),
		CommandStatus: s.device.CommandStatus(),
		State:         state,
		Stats:         s.device.Stats(),
	})
}

// handleDeviceHomeKit returns the snapshot projected into HomeKit
// characteristics, or the unreachable sentinel when the device is down.
func (s *Server) handleDeviceHomeKit(w http.ResponseWriter, _ *http.Request) {
	if !s.device.IsConnected() {
		writeJSON(w, http.StatusOK, humidifier.UnreachableMessage())
		return
	}
	writeJSON(w, http.StatusOK, s.device.HomeKit())
}

// handleDevicePoll runs a poll cycle. ?force=false allows the cached
// snapshot to be served when it is fresh.
func (s *Server) handleDevicePoll(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") != "false"

	state, err := s.device.Poll(r.Context(), force)
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": state})
}

// handleDeviceCommand accepts the same envelope as the MQTT command topic
// and returns one result per RPC sent. Any failed RPC turns the response
// into a 502 carrying the full result list.
func (s *Server) handleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	var msg humidifier.CommandMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if msg.Command == "" && msg.Format != humidifier.FormatHomeKit {
		writeBadRequest(w, "command is required")
		return
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	msg.DeviceID = s.deviceID
	msg.Source = "api"
	if claims, ok := claimsFromContext(r.Context()); ok {
		msg.Source = "api:" + claims.Subject
	}

	cmd, err := msg.ToCommand()
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	s.logger.Debug("api command", "command_id", msg.ID, "command", cmd.Name, "source", msg.Source)
	results := s.device.Dispatch(r.Context(), cmd)
	if len(results) == 0 && !s.device.IsConnected() {
		// Dispatch is a silent no-op without a session; say so over HTTP.
		writeDeviceError(w, humidifier.ErrNoDevice)
		return
	}
	if results == nil {
		results = []humidifier.CommandResult{}
	}

	status := http.StatusOK
	for _, res := range results {
		if !res.OK() {
			status = http.StatusBadGateway
			break
		}
	}
	writeJSON(w, status, commandResponse{CommandID: msg.ID, Results: results})
}
