package humidifier

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

// mockDevice implements DeviceSource.
type mockDevice struct {
	connected bool
}

func (d *mockDevice) IsConnected() bool { return d.connected }
func (d *mockDevice) Address() string   { return "192.168.1.50" }
func (d *mockDevice) Stats() Stats {
	return Stats{Polls: PollStats{Polls: 7, Failures: 1}, Commands: CommandStats{Sent: 3}}
}

func decodeHealth(t *testing.T, p mockPublish) HealthMessage {
	t.Helper()
	var msg HealthMessage
	if err := json.Unmarshal(p.Payload, &msg); err != nil {
		t.Fatalf("unmarshal health: %v", err)
	}
	return msg
}

func TestNewHealthReporter(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{BridgeID: "miio-bridge-01"})
	if h.interval != 30*time.Second {
		t.Errorf("interval = %v, want 30s", h.interval)
	}
	if HealthTopic() != "graylogic/health/miio" {
		t.Errorf("HealthTopic() = %q", HealthTopic())
	}
}

func TestHealthReporter_PublishNow(t *testing.T) {
	mqtt := NewMockMQTTClient()
	h := NewHealthReporter(HealthReporterConfig{
		BridgeID:  "miio-bridge-01",
		DeviceID:  "humidifier",
		Version:   "1.2.3",
		Publisher: mqtt,
		Device:    &mockDevice{connected: true},
	})

	if err := h.PublishNow(); err != nil {
		t.Fatal(err)
	}
	pubs := mqtt.PublishedTo(HealthTopic())
	if len(pubs) != 1 {
		t.Fatalf("got %d publishes", len(pubs))
	}
	if !pubs[0].Retained || pubs[0].QoS != 1 {
		t.Errorf("publish = %+v, want QoS 1 retained", pubs[0])
	}
	msg := decodeHealth(t, pubs[0])
	if msg.Status != HealthHealthy || msg.Version != "1.2.3" || msg.Bridge != "miio-bridge-01" {
		t.Errorf("health = %+v", msg)
	}
	if msg.Device == nil || msg.Device.ID != "humidifier" || msg.Device.Polls.Polls != 7 {
		t.Errorf("device = %+v", msg.Device)
	}
}

func TestHealthReporter_Degraded(t *testing.T) {
	tests := []struct {
		name       string
		mqttUp     bool
		deviceUp   bool
		wantReason string
	}{
		{"mqtt down", false, true, "MQTT disconnected"},
		{"device down", true, false, "device unreachable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mqtt := NewMockMQTTClient()
			mqtt.SetConnected(tt.mqttUp)
			h := NewHealthReporter(HealthReporterConfig{Publisher: mqtt, Device: &mockDevice{connected: tt.deviceUp}})

			msg := h.Current()
			if msg.Status != HealthDegraded || msg.Reason != tt.wantReason {
				t.Errorf("Current() = %+v", msg)
			}
		})
	}
}

func TestHealthReporter_PublishStarting(t *testing.T) {
	mqtt := NewMockMQTTClient()
	h := NewHealthReporter(HealthReporterConfig{Publisher: mqtt})
	if err := h.PublishStarting(); err != nil {
		t.Fatal(err)
	}
	msg := decodeHealth(t, mqtt.PublishedTo(HealthTopic())[0])
	if msg.Status != HealthStarting {
		t.Errorf("status = %s, want starting", msg.Status)
	}
}

func TestHealthReporter_StartStop(t *testing.T) {
	mqtt := NewMockMQTTClient()
	h := NewHealthReporter(HealthReporterConfig{
		Interval:  10 * time.Millisecond,
		Publisher: mqtt,
		Device:    &mockDevice{connected: true},
	})
	h.Start(context.Background())

	if !waitFor(func() bool { return len(mqtt.PublishedTo(HealthTopic())) >= 2 }) {
		t.Fatal("no periodic health publishes")
	}
	h.Stop()
	h.Stop()

	pubs := mqtt.PublishedTo(HealthTopic())
	if last := decodeHealth(t, pubs[len(pubs)-1]); last.Status != HealthStopping {
		t.Errorf("last status = %s, want stopping", last.Status)
	}
}

func TestHealthReporter_NoPublisher(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{})
	if err := h.PublishNow(); err != nil {
		t.Errorf("PublishNow() error = %v", err)
	}
}
