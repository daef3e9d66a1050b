package humidifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// commandQueueSize bounds commands waiting for the device.
const commandQueueSize = 64

// queuedCommand is a parsed command waiting for dispatch.
type queuedCommand struct {
	msg CommandMessage
	cmd Command
}

// Bridge connects an Engine to the Gray Logic MQTT bus. It handles:
//   - command messages from Core, dispatched through the engine
//   - per-call acknowledgments
//   - outward state messages for observed changes
//   - connectivity messages and health reporting
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	deviceID        string
	outputAtStartup bool
	homeKit         bool

	mqtt   MQTTClient
	engine *Engine
	health *HealthReporter

	unsubscribe []func()

	// Commands reach the device one at a time, in arrival order.
	queue chan queuedCommand

	// Set when the device was reported unreachable; cleared by the next
	// successful poll, which republishes the state.
	stale atomic.Bool

	// Shutdown coordination
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	// Logger
	logger   Logger
	loggerMu sync.RWMutex
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	BridgeID string
	DeviceID string
	Version  string

	// HealthInterval defaults to 30 seconds.
	HealthInterval time.Duration

	// OutputAtStartup publishes the state when the bridge starts and again
	// once the first poll completes.
	OutputAtStartup bool

	// HomeKit projects outward payloads onto the characteristic set.
	HomeKit bool

	MQTTClient MQTTClient
	Engine     *Engine
	Logger     Logger
}

// NewBridge creates a new bridge. Call Start before starting the engine so
// no event is missed.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if opts.DeviceID == "" {
		return nil, fmt.Errorf("device ID is required")
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		deviceID:        opts.DeviceID,
		outputAtStartup: opts.OutputAtStartup,
		homeKit:         opts.HomeKit,
		mqtt:            opts.MQTTClient,
		engine:          opts.Engine,
		queue:           make(chan queuedCommand, commandQueueSize),
		ctx:             ctx,
		ctxCancel:       ctxCancel,
		logger:          opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.BridgeID,
		DeviceID:  opts.DeviceID,
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTTClient,
		Device:    opts.Engine,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Health returns the bridge's health reporter.
func (b *Bridge) Health() *HealthReporter { return b.health }

// Start subscribes to engine events and the command topic, then starts
// health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	events := b.engine.Events()
	b.unsubscribe = append(b.unsubscribe,
		events.StateChanged.Subscribe(b.onStateChanged),
		events.Initialized.Subscribe(b.onInitialized),
		events.Connectivity.Subscribe(b.onConnectivity),
		events.Polled.Subscribe(b.onPolled),
	)

	b.wg.Add(1)
	go b.runCommands()

	topic := CommandTopic(b.deviceID)
	if err := b.mqtt.Subscribe(topic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", topic)

	b.health.Start(ctx)

	if b.outputAtStartup || b.homeKit {
		b.publishState(nil)
	}

	b.logInfo("bridge started", "device_id", b.deviceID, "address", b.engine.Address())
	return nil
}

// Stop detaches from the engine, waits for the command in flight and
// publishes a final health status. Queued commands are dropped.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.ctxCancel()

		for _, u := range b.unsubscribe {
			u()
		}

		b.health.Stop()
		b.wg.Wait()

		b.logInfo("bridge stopped")
	})
}

// handleMQTTMessage parses a command and queues it for the command worker.
// It never blocks the MQTT router, which also delivers RPC proxy responses.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logError("failed to parse command", err)
		return
	}
	if cmd.DeviceID == "" {
		cmd.DeviceID = topic[strings.LastIndex(topic, "/")+1:]
	}

	b.logInfo("received command",
		"command_id", cmd.ID,
		"command", cmd.Command,
		"format", cmd.Format)

	engineCmd, err := cmd.ToCommand()
	if err != nil {
		b.publishAck(NewAckError(cmd, b.engine.Address(), ErrCodeInvalidCommand, err.Error()))
		return
	}

	if b.ctx.Err() != nil {
		return
	}

	select {
	case b.queue <- queuedCommand{msg: cmd, cmd: engineCmd}:
	default:
		b.publishAck(NewAckError(cmd, b.engine.Address(), ErrCodeBusy, "command queue full"))
	}
}

// runCommands dispatches queued commands in order until Stop.
func (b *Bridge) runCommands() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case q := <-b.queue:
			for _, r := range b.engine.Dispatch(b.ctx, q.cmd) {
				b.publishAck(NewAckMessage(q.msg, b.engine.Address(), r))
			}
		}
	}
}

func (b *Bridge) onStateChanged(e ChangeEvent) {
	if !e.Outward {
		return
	}
	b.publishState(&e)
}

func (b *Bridge) onInitialized(InitializedEvent) {
	if b.outputAtStartup {
		b.publishState(nil)
	}
}

func (b *Bridge) onConnectivity(e ConnectivityEvent) {
	b.publishJSON(ConnectivityTopic(b.deviceID), NewConnectivityMessage(e), true)

	if e.State == StateError && b.homeKit {
		b.stale.Store(true)
		msg := NewStateMessage(b.deviceID, b.engine.Address(), UnreachableMessage(), nil, b.engine.Snapshot())
		b.publishJSON(StateTopic(b.deviceID), msg, true)
	}
}

// onPolled replaces the retained unreachable state once the device answers
// again. The resynchronising cycle is silent, so no change event would.
func (b *Bridge) onPolled(e PollEvent) {
	if b.stale.CompareAndSwap(true, false) {
		b.publishStatus(e.Values, nil)
	}
}

// publishState sends the outward message. Without a change the payload is
// the full snapshot (or its HomeKit projection).
func (b *Bridge) publishState(change *ChangeEvent) {
	b.publishStatus(b.engine.Snapshot(), change)
}

func (b *Bridge) publishStatus(status Snapshot, change *ChangeEvent) {
	var payload any
	switch {
	case b.homeKit:
		payload = ToHomeKit(status, b.engine.Encoding())
	case change != nil:
		payload = change
	default:
		payload = status
	}

	msg := NewStateMessage(b.deviceID, b.engine.Address(), payload, change, status)
	b.publishJSON(StateTopic(b.deviceID), msg, true)
}

func (b *Bridge) publishAck(ack AckMessage) {
	b.publishJSON(AckTopic(b.deviceID), ack, false)
}

func (b *Bridge) publishJSON(topic string, v any, retained bool) {
	payload, err := json.Marshal(v)
	if err != nil {
		b.logError("failed to marshal message", fmt.Errorf("topic %s: %w", topic, err))
		return
	}
	if err := b.mqtt.Publish(topic, payload, 1, retained); err != nil {
		b.logError("failed to publish", fmt.Errorf("topic %s: %w", topic, err))
	}
}

// SetLogger sets the logger for the bridge and its health reporter.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
	b.health.SetLogger(logger)
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
