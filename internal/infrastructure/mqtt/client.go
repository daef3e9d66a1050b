package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-humidifier/internal/infrastructure/config"
)

// Client is the bridge's broker connection. It carries the Gray Logic
// command/state traffic and the RPC proxy traffic on one session.
//
// All methods are safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	subscriptions map[string]subscription
	subMu         sync.RWMutex

	connected atomic.Bool
	ready     atomic.Bool // set once Connect has returned

	onReconnect   func()
	onReconnectMu sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger is satisfied by *logging.Logger and *slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Will is the Last Will and Testament. The broker publishes Payload on
// Topic, retained at QoS 1, when the bridge vanishes without disconnecting.
type Will struct {
	Topic   string
	Payload []byte
}

// Connect dials the broker and waits for the first CONNACK. After that,
// paho reconnects on its own with the configured backoff.
func Connect(cfg config.MQTTConfig, will *Will) (*Client, error) {
	c := &Client{
		cfg:           cfg,
		subscriptions: make(map[string]subscription),
	}

	opts := newClientOptions(cfg, will)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleConnectionLost(err) })

	c.client = pahomqtt.NewClient(opts)
	if err := await(c.client.Connect(), ErrConnectionFailed); err != nil {
		return nil, err
	}
	// The on-connect handler is asynchronous; don't make callers race it.
	c.connected.Store(true)
	c.ready.Store(true)
	return c, nil
}

// handleConnect runs on the first connect and on every reconnect.
func (c *Client) handleConnect() {
	c.connected.Store(true)
	c.resubscribe()

	// The initial connect is reported by Connect itself. A late callback
	// for it may still land here; the reconnect hook must tolerate that.
	if !c.ready.Load() {
		return
	}
	c.log().Info("mqtt reconnected", "subscriptions", len(c.Subscriptions()))

	c.onReconnectMu.RLock()
	fn := c.onReconnect
	c.onReconnectMu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (c *Client) handleConnectionLost(err error) {
	c.connected.Store(false)
	c.log().Warn("mqtt connection lost", "error", err)
}

// OnReconnect registers fn to run after the session is re-established.
// The broker will have published the will by then, so owners use this to
// restore their retained status.
func (c *Client) OnReconnect(fn func()) {
	c.onReconnectMu.Lock()
	c.onReconnect = fn
	c.onReconnectMu.Unlock()
}

// Close disconnects cleanly, so the broker discards the will.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	c.client.Disconnect(quiesceMillis)
	c.connected.Store(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the broker session is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	return c.client != nil && c.connected.Load() && c.client.IsConnected()
}

// SetLogger routes handler failures and connection changes to logger.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) log() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	if c.logger == nil {
		return nopLogger{}
	}
	return c.logger
}
