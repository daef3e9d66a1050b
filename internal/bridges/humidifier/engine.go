package humidifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// EngineConfig configures an Engine.
type EngineConfig struct {
	// Address identifies the device in errors, logs and messages.
	Address string

	// Dialer establishes device sessions. Required.
	Dialer Dialer

	// Properties overrides the read list. Default: DefaultProperties.
	Properties []Property

	PollInterval time.Duration
	RPCTimeout   time.Duration
	DialTimeout  time.Duration

	Encoding Encoding

	// IndicatorCooldown is how long a command result stays visible.
	// Default: 3 seconds.
	IndicatorCooldown time.Duration

	Metrics *Metrics
	Logger  Logger
}

// Engine synchronises one device: it owns the connection, polls status,
// diffs it into change events and translates commands.
type Engine struct {
	address    string
	enc        Encoding
	events     *Events
	conn       *ConnectionManager
	differ     *StateDiffer
	poller     *Poller
	dispatcher *Dispatcher
	indicator  *Indicator
	display    *DeviceDisplay
	logger     Logger

	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
}

// Stats summarises engine activity for health reporting.
type Stats struct {
	Connection ConnectionStatus `json:"connection"`
	Polls      PollStats        `json:"polls"`
	Commands   CommandStats     `json:"commands"`
}

// NewEngine wires the components. Nothing touches the device until Start.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Dialer == nil {
		return nil, fmt.Errorf("dialer is required")
	}
	enc := cfg.Encoding
	if enc.Version == "" {
		enc.Version = EncodingLegacy
	}
	if enc.WaterDivisor <= 0 {
		enc.WaterDivisor = DefaultWaterDivisor
	}

	props := cfg.Properties
	if len(props) == 0 {
		props = DefaultProperties
	}

	events := &Events{}
	logger := orNop(cfg.Logger)

	conn, err := NewConnectionManager(ConnectionConfig{
		Address:     cfg.Address,
		Dialer:      cfg.Dialer,
		DialTimeout: cfg.DialTimeout,
		Events:      events,
		Metrics:     cfg.Metrics,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	differ := NewStateDiffer(propertyKeys(props))
	indicator := NewIndicator(cfg.IndicatorCooldown, nil)

	e := &Engine{
		address: cfg.Address,
		enc:     enc,
		events:  events,
		conn:    conn,
		differ:  differ,
		poller: NewPoller(PollerConfig{
			Connection: conn,
			Differ:     differ,
			Properties: props,
			Interval:   cfg.PollInterval,
			RPCTimeout: cfg.RPCTimeout,
			Events:     events,
			Metrics:    cfg.Metrics,
			Logger:     logger,
		}),
		dispatcher: NewDispatcher(DispatcherConfig{
			Connection: conn,
			RPCTimeout: cfg.RPCTimeout,
			Indicator:  indicator,
			Events:     events,
			Metrics:    cfg.Metrics,
			Logger:     logger,
		}),
		indicator: indicator,
		logger:    logger,
	}
	e.display = NewDeviceDisplay(events, differ.Snapshot, enc)
	return e, nil
}

// Start connects once, runs the startup poll and starts the timer.
// Connection and poll failures are reported through Events, not returned;
// the timer retries them.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return errors.New("engine already started")
	}
	e.started = true
	e.mu.Unlock()

	if _, err := e.conn.Connect(ctx); err != nil {
		e.logger.Warn("initial device connection failed", "address", e.address, "error", err)
	} else if _, err := e.poller.Poll(ctx, true); err != nil {
		e.logger.Warn("startup poll failed", "address", e.address, "error", err)
	}

	e.poller.Start(ctx)
	e.logger.Info("engine started", "address", e.address, "interval", e.poller.interval)
	return nil
}

// Stop cancels the timer and releases the session. Safe to call more than
// once and without Start.
func (e *Engine) Stop() error {
	var err error
	e.stopOnce.Do(func() {
		e.poller.Stop()
		e.indicator.Stop()
		e.display.Close()
		err = e.conn.Close()
		e.logger.Info("engine stopped", "address", e.address)
	})
	return err
}

// Poll returns the device status; see Poller.Poll.
func (e *Engine) Poll(ctx context.Context, force bool) (Snapshot, error) {
	return e.poller.Poll(ctx, force)
}

// Dispatch sends a device command.
func (e *Engine) Dispatch(ctx context.Context, cmd Command) []CommandResult {
	return e.dispatcher.Dispatch(ctx, cmd)
}

// DispatchHomeKit translates characteristics to commands and sends them as
// one batch.
func (e *Engine) DispatchHomeKit(ctx context.Context, msg map[string]any) []CommandResult {
	return e.dispatcher.Dispatch(ctx, Command{Name: BatchCommand, Payload: FromHomeKit(msg)})
}

// Snapshot returns a copy of the current status.
func (e *Engine) Snapshot() Snapshot { return e.differ.Snapshot() }

// HomeKit projects the current status onto the characteristic set.
func (e *Engine) HomeKit() HomeKitMessage { return ToHomeKit(e.differ.Snapshot(), e.enc) }

// Events returns the notification channels.
func (e *Engine) Events() *Events { return e.events }

// Status returns the connection status.
func (e *Engine) Status() ConnectionStatus { return e.conn.Status() }

// IsConnected reports whether the device answered the last cycle.
func (e *Engine) IsConnected() bool { return e.conn.IsConnected() }

// Display returns the device summary line.
func (e *Engine) Display() DisplayStatus { return e.display.Current() }

// CommandStatus returns the transient result of the last command.
func (e *Engine) CommandStatus() DisplayStatus { return e.indicator.Current() }

// Encoding returns the configured value encoding.
func (e *Engine) Encoding() Encoding { return e.enc }

// Address returns the device address.
func (e *Engine) Address() string { return e.address }

// Stats returns activity counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Connection: e.conn.Status(),
		Polls:      e.poller.Stats(),
		Commands:   e.dispatcher.Stats(),
	}
}
