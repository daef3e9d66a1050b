package mqtt

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nerrad567/gray-logic-humidifier/internal/infrastructure/config"
)

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "humidifier-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type recordingLogger struct {
	mu    sync.Mutex
	lines map[string][]string
}

func (l *recordingLogger) record(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lines == nil {
		l.lines = make(map[string][]string)
	}
	l.lines[level] = append(l.lines[level], msg)
}

func (l *recordingLogger) Info(msg string, _ ...any)  { l.record("info", msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.record("warn", msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.record("error", msg) }

func (l *recordingLogger) count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lines[level])
}

func newOfflineClient() *Client {
	return &Client{cfg: testConfig(), subscriptions: make(map[string]subscription)}
}

func TestNewClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "bridge"
	cfg.Auth.Password = "secret"

	opts := newClientOptions(cfg, nil)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Fatalf("Servers = %v, want [tcp://127.0.0.1:1883]", opts.Servers)
	}
	if opts.ClientID != "humidifier-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "bridge" || opts.Password != "secret" {
		t.Error("credentials not applied")
	}
	if !opts.AutoReconnect || !opts.CleanSession {
		t.Errorf("AutoReconnect=%v CleanSession=%v, want both true", opts.AutoReconnect, opts.CleanSession)
	}
	if opts.TLSConfig != nil {
		t.Error("TLS configured for plain broker")
	}
	if opts.WillEnabled {
		t.Error("will enabled without a Will")
	}
}

func TestNewClientOptions_TLSAndWill(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883
	will := &Will{Topic: "graylogic/health/miio", Payload: []byte(`{"status":"offline"}`)}

	opts := newClientOptions(cfg, will)

	if got := opts.Servers[0].String(); got != "ssl://127.0.0.1:8883" {
		t.Errorf("broker URL = %q", got)
	}
	if opts.TLSConfig == nil {
		t.Fatal("TLSConfig is nil")
	}
	if !opts.WillEnabled || opts.WillTopic != will.Topic || string(opts.WillPayload) != string(will.Payload) {
		t.Errorf("will = (%v, %q, %s)", opts.WillEnabled, opts.WillTopic, opts.WillPayload)
	}
	if !opts.WillRetained || opts.WillQos != 1 {
		t.Error("will must be retained at QoS 1")
	}
}

func TestPublish_Validation(t *testing.T) {
	c := newOfflineClient()

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{"empty topic", "", nil, 1, ErrInvalidTopic},
		{"single-level wildcard", "graylogic/state/miio/+", nil, 1, ErrWildcardTopic},
		{"multi-level wildcard", "graylogic/#", nil, 1, ErrWildcardTopic},
		{"qos 3", "a/b", nil, 3, ErrInvalidQoS},
		{"oversized", "a/b", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"offline", "a/b", []byte("{}"), 1, ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Publish(tt.topic, tt.payload, tt.qos, false); !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSubscribe_Validation(t *testing.T) {
	c := newOfflineClient()
	handler := func(string, []byte) error { return nil }

	tests := []struct {
		name    string
		topic   string
		qos     byte
		handler MessageHandler
		want    error
	}{
		{"empty topic", "", 1, handler, ErrInvalidTopic},
		{"qos 5", "a/b", 5, handler, ErrInvalidQoS},
		{"nil handler", "a/b", 1, nil, ErrSubscribeFailed},
		{"offline", "graylogic/command/miio/+", 1, handler, ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Subscribe(tt.topic, tt.qos, tt.handler); !errors.Is(err, tt.want) {
				t.Errorf("Subscribe() error = %v, want %v", err, tt.want)
			}
		})
	}
	if n := len(c.Subscriptions()); n != 0 {
		t.Errorf("Subscriptions() has %d entries after failures, want 0", n)
	}
}

func TestUnsubscribe_Validation(t *testing.T) {
	c := newOfflineClient()

	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v", err)
	}
	if err := c.Unsubscribe("a/b"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("offline error = %v", err)
	}
}

func TestClient_ZeroValue(t *testing.T) {
	var c Client
	if c.IsConnected() {
		t.Error("zero Client reports connected")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	c := newOfflineClient()

	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() = %v, want context.Canceled", err)
	}
}

func TestConnectionLost_LogsAndClearsFlag(t *testing.T) {
	c := newOfflineClient()
	logger := &recordingLogger{}
	c.SetLogger(logger)
	c.connected.Store(true)

	c.handleConnectionLost(errors.New("network down"))

	if c.connected.Load() {
		t.Error("connected flag still set")
	}
	if logger.count("warn") != 1 {
		t.Errorf("warn lines = %d, want 1", logger.count("warn"))
	}
}

func TestValidateTopic(t *testing.T) {
	tests := []struct {
		topic   string
		publish bool
		want    error
	}{
		{"graylogic/state/miio/h1", true, nil},
		{"graylogic/command/miio/+", false, nil},
		{"graylogic/#", false, nil},
		{"graylogic/command/miio/+", true, ErrWildcardTopic},
		{"", false, ErrInvalidTopic},
	}
	for _, tt := range tests {
		if err := validateTopic(tt.topic, tt.publish); !errors.Is(err, tt.want) {
			t.Errorf("validateTopic(%q, %v) = %v, want %v", tt.topic, tt.publish, err, tt.want)
		}
	}
}

func TestWrapHandler(t *testing.T) {
	tests := []struct {
		name      string
		handler   MessageHandler
		wantWarn  int
		wantError int
	}{
		{"ok", func(string, []byte) error { return nil }, 0, 0},
		{"error", func(string, []byte) error { return errors.New("bad payload") }, 1, 0},
		{"panic", func(string, []byte) error { panic("boom") }, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newOfflineClient()
			logger := &recordingLogger{}
			c.SetLogger(logger)

			c.wrapHandler(tt.handler)(nil, fakeMessage{topic: "graylogic/command/miio/h1", payload: []byte(`{}`)})

			if logger.count("warn") != tt.wantWarn || logger.count("error") != tt.wantError {
				t.Errorf("warn=%d error=%d, want %d/%d",
					logger.count("warn"), logger.count("error"), tt.wantWarn, tt.wantError)
			}
		})
	}
}

func TestWrapHandler_Delivers(t *testing.T) {
	c := newOfflineClient()

	var gotTopic, gotPayload string
	c.wrapHandler(func(topic string, payload []byte) error {
		gotTopic, gotPayload = topic, string(payload)
		return nil
	})(nil, fakeMessage{topic: "graylogic/command/miio/h1", payload: []byte(`{"command":"set_power"}`)})

	if gotTopic != "graylogic/command/miio/h1" || gotPayload != `{"command":"set_power"}` {
		t.Errorf("handler got (%q, %s)", gotTopic, gotPayload)
	}
}

func TestWrapHandler_NoLogger(t *testing.T) {
	c := newOfflineClient()
	// Must not panic without a logger.
	c.wrapHandler(func(string, []byte) error { panic("boom") })(nil, fakeMessage{topic: "t"})
}

func TestTopics(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{DeviceTopic(CategoryCommand, ProtocolMiIO, "h1"), "graylogic/command/miio/h1"},
		{DeviceTopic(CategoryState, ProtocolMiIO, "h1"), "graylogic/state/miio/h1"},
		{DeviceTopic(CategoryAck, ProtocolMiIO, "h1"), "graylogic/ack/miio/h1"},
		{DeviceTopic(CategoryConnectivity, ProtocolMiIO, "h1"), "graylogic/connectivity/miio/h1"},
		{BridgeTopic(CategoryHealth, ProtocolMiIO), "graylogic/health/miio"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("topic = %q, want %q", tt.got, tt.want)
		}
	}
}
