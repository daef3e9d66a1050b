package humidifier

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var errTest = errors.New("test error")

// mockCall records one Session.Call.
type mockCall struct {
	Method string
	Params any
}

// MockSession implements Session with scripted property values.
type MockSession struct {
	mu     sync.Mutex
	props  map[string]any   // property name -> value returned by get_prop
	errs   map[string]error // property name or method -> error
	result []any            // result for non get_prop methods
	calls  []mockCall
	delay  time.Duration
	closed atomic.Int32
}

func NewMockSession() *MockSession {
	return &MockSession{
		props:  defaultDeviceValues(),
		errs:   make(map[string]error),
		result: []any{"ok"},
	}
}

// defaultDeviceValues is a legacy-firmware reading.
func defaultDeviceValues() map[string]any {
	return map[string]any{
		"OnOff_State":      "on",
		"Humidity_Value":   float64(45),
		"waterstatus":      float64(72),
		"HumiSet_Value":    float64(50),
		"Humidifier_Gear":  "auto",
		"TipSound_State":   "on",
		"Led_State":        float64(1),
		"TemperatureValue": float64(225),
	}
}

func (m *MockSession) Call(ctx context.Context, method string, params any) ([]any, error) {
	m.mu.Lock()
	m.calls = append(m.calls, mockCall{Method: method, Params: params})
	delay := m.delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if method == GetPropMethod {
		args, _ := params.([]any)
		if len(args) != 1 {
			return nil, errors.New("bad get_prop params")
		}
		name, _ := args[0].(string)
		if err := m.errs[name]; err != nil {
			return nil, err
		}
		v, ok := m.props[name]
		if !ok {
			return []any{}, nil
		}
		return []any{v}, nil
	}

	if err := m.errs[method]; err != nil {
		return nil, err
	}
	return m.result, nil
}

func (m *MockSession) Close() error {
	m.closed.Add(1)
	return nil
}

func (m *MockSession) SetProp(name string, v any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.props[name] = v
}

func (m *MockSession) SetError(key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errs, key)
		return
	}
	m.errs[key] = err
}

func (m *MockSession) SetResult(result []any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.result = result
}

func (m *MockSession) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

func (m *MockSession) Calls() []mockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CommandCalls returns calls other than property reads.
func (m *MockSession) CommandCalls() []mockCall {
	var out []mockCall
	for _, c := range m.Calls() {
		if c.Method != GetPropMethod {
			out = append(out, c)
		}
	}
	return out
}

func (m *MockSession) ClearCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// MockDialer hands out a session, or fails.
type MockDialer struct {
	mu      sync.Mutex
	session Session
	err     error
	dials   int
}

func NewMockDialer(s Session) *MockDialer {
	return &MockDialer{session: s}
}

func (d *MockDialer) Dial(ctx context.Context) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	return d.session, nil
}

func (d *MockDialer) SetError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *MockDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu            sync.Mutex
	published     []mockPublish
	subscriptions []string
	connected     bool
	handlers      map[string]func(topic string, payload []byte)
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]func(topic string, payload []byte)),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = append(m.subscriptions, topic)
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) SetConnected(c bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = c
}

func (m *MockMQTTClient) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mockPublish, len(m.published))
	copy(out, m.published)
	return out
}

// PublishedTo returns messages sent to topic, oldest first.
func (m *MockMQTTClient) PublishedTo(topic string) []mockPublish {
	var out []mockPublish
	for _, p := range m.GetPublished() {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func (m *MockMQTTClient) ClearPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = nil
}

// SimulateMessage simulates receiving an MQTT message on a topic.
func (m *MockMQTTClient) SimulateMessage(topic string, payload []byte) {
	m.mu.Lock()
	handler, ok := m.handlers[topic]
	m.mu.Unlock()
	if ok {
		handler(topic, payload)
	}
}

// eventRecorder collects engine events.
type eventRecorder struct {
	mu           sync.Mutex
	changes      []ChangeEvent
	connectivity []ConnectivityEvent
	initialized  []InitializedEvent
	polled       []PollEvent
	commands     []CommandResult
}

func recordEvents(e *Events) *eventRecorder {
	r := &eventRecorder{}
	e.StateChanged.Subscribe(func(v ChangeEvent) { r.mu.Lock(); r.changes = append(r.changes, v); r.mu.Unlock() })
	e.Connectivity.Subscribe(func(v ConnectivityEvent) { r.mu.Lock(); r.connectivity = append(r.connectivity, v); r.mu.Unlock() })
	e.Initialized.Subscribe(func(v InitializedEvent) { r.mu.Lock(); r.initialized = append(r.initialized, v); r.mu.Unlock() })
	e.Polled.Subscribe(func(v PollEvent) { r.mu.Lock(); r.polled = append(r.polled, v); r.mu.Unlock() })
	e.Commands.Subscribe(func(v CommandResult) { r.mu.Lock(); r.commands = append(r.commands, v); r.mu.Unlock() })
	return r
}

func (r *eventRecorder) Changes() []ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ChangeEvent(nil), r.changes...)
}

func (r *eventRecorder) Connectivity() []ConnectivityEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ConnectivityEvent(nil), r.connectivity...)
}

func (r *eventRecorder) Initialized() []InitializedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]InitializedEvent(nil), r.initialized...)
}

func (r *eventRecorder) Polled() []PollEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]PollEvent(nil), r.polled...)
}

func (r *eventRecorder) Commands() []CommandResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]CommandResult(nil), r.commands...)
}

func (r *eventRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes, r.connectivity, r.initialized, r.polled, r.commands = nil, nil, nil, nil, nil
}

// outward filters change events eligible for outward notification.
func outward(events []ChangeEvent) []ChangeEvent {
	var out []ChangeEvent
	for _, e := range events {
		if e.Outward {
			out = append(out, e)
		}
	}
	return out
}

// newTestPoller builds a connected poller over session.
func newTestPoller(session *MockSession) (*Poller, *ConnectionManager, *eventRecorder) {
	events := &Events{}
	rec := recordEvents(events)
	conn, err := NewConnectionManager(ConnectionConfig{
		Address: "192.168.1.50",
		Dialer:  NewMockDialer(session),
		Events:  events,
	})
	if err != nil {
		panic(err)
	}
	p := NewPoller(PollerConfig{
		Connection: conn,
		Differ:     NewStateDiffer(propertyKeys(DefaultProperties)),
		Events:     events,
		RPCTimeout: time.Second,
	})
	return p, conn, rec
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
