package humidifier

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ConnectionState is the lifecycle state of the device session.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateError
)

// String returns the wire name of the state.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// MarshalText encodes the state as its wire name.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a wire name.
func (s *ConnectionState) UnmarshalText(text []byte) error {
	for _, c := range []ConnectionState{StateDisconnected, StateConnecting, StateConnected, StateError} {
		if c.String() == string(text) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown connection state %q", text)
}

// ConnectionStatus is a point-in-time view of the connection.
type ConnectionStatus struct {
	State   ConnectionState `json:"state"`
	Message string          `json:"message,omitempty"`
	Since   time.Time       `json:"since"`
}

// ConnectionConfig configures a ConnectionManager.
type ConnectionConfig struct {
	// Address identifies the device in errors and logs.
	Address string

	// Dialer establishes sessions. Required.
	Dialer Dialer

	// DialTimeout bounds background reconnect attempts.
	// Default: 10 seconds.
	DialTimeout time.Duration

	Events  *Events
	Metrics *Metrics
	Logger  Logger
}

// ConnectionManager owns the device session. It is the only holder of the
// handle; the poller and dispatcher borrow it per call.
type ConnectionManager struct {
	address     string
	dialer      Dialer
	dialTimeout time.Duration
	events      *Events
	metrics     *Metrics
	logger      Logger

	mu      sync.RWMutex
	session Session
	status  ConnectionStatus
	dialing bool
	closed  bool

	// Background reconnects run under this context; Close cancels it.
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewConnectionManager creates a manager in the disconnected state.
// Call Connect to establish the first session.
func NewConnectionManager(cfg ConnectionConfig) (*ConnectionManager, error) {
	if cfg.Dialer == nil {
		return nil, fmt.Errorf("dialer is required")
	}
	if cfg.Events == nil {
		cfg.Events = &Events{}
	}
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &ConnectionManager{
		address:     cfg.Address,
		dialer:      cfg.Dialer,
		dialTimeout: timeout,
		events:      cfg.Events,
		metrics:     cfg.Metrics,
		logger:      orNop(cfg.Logger),
		status:      ConnectionStatus{State: StateDisconnected, Since: time.Now().UTC()},
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Connect dials the device once. It does not retry; a failure is reported
// through a connectivity event and returned as *ConnectError.
func (m *ConnectionManager) Connect(ctx context.Context) (Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, &ConnectError{Address: m.address, Err: ErrClosed}
	}
	if m.session != nil {
		s := m.session
		m.mu.Unlock()
		return s, nil
	}
	m.setStatusLocked(StateConnecting, "")
	m.mu.Unlock()

	session, err := m.dialer.Dial(ctx)

	m.mu.Lock()
	if err == nil && m.closed {
		// Closed while dialing: drop the new session.
		m.mu.Unlock()
		_ = session.Close()
		return nil, &ConnectError{Address: m.address, Err: ErrClosed}
	}
	if err == nil && m.session != nil {
		// A concurrent dial won; keep the established session.
		existing := m.session
		m.mu.Unlock()
		_ = session.Close()
		return existing, nil
	}
	if err != nil {
		cerr := &ConnectError{Address: m.address, Err: err}
		m.setStatusLocked(StateError, err.Error())
		m.mu.Unlock()

		m.metrics.setConnected(false)
		m.logger.Warn("device connection failed", "address", m.address, "error", err)
		m.emit(StateError, err.Error())
		return nil, cerr
	}
	m.session = session
	m.setStatusLocked(StateConnected, "")
	m.mu.Unlock()

	m.metrics.setConnected(true)
	m.logger.Info("device connected", "address", m.address)
	m.emit(StateConnected, "")
	return session, nil
}

// Session returns the live session, if any.
func (m *ConnectionManager) Session() (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session, m.session != nil
}

// Status returns the current connection status.
func (m *ConnectionManager) Status() ConnectionStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsConnected reports whether a session exists and the last cycle succeeded.
func (m *ConnectionManager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session != nil && m.status.State == StateConnected
}

// Reconnect starts a background dial when no session exists. It returns
// false when a session is present, a dial is already running, or the
// manager is closed.
func (m *ConnectionManager) Reconnect() bool {
	m.mu.Lock()
	if m.closed || m.session != nil || m.dialing {
		m.mu.Unlock()
		return false
	}
	m.dialing = true
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			m.dialing = false
			m.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(m.ctx, m.dialTimeout)
		defer cancel()
		// Failures were already reported by Connect.
		_, _ = m.Connect(ctx)
	}()
	return true
}

// ReportFailure marks the connection as errored without dropping the
// session. Used when a poll cycle fails against a live session.
func (m *ConnectionManager) ReportFailure(message string) {
	m.mu.Lock()
	m.setStatusLocked(StateError, message)
	m.mu.Unlock()

	m.metrics.setConnected(false)
	m.emit(StateError, message)
}

// MarkHealthy records a successful cycle. A connectivity event is emitted
// only when recovering from an error.
func (m *ConnectionManager) MarkHealthy() {
	m.mu.Lock()
	if m.session == nil || m.status.State == StateConnected {
		m.mu.Unlock()
		return
	}
	m.setStatusLocked(StateConnected, "")
	m.mu.Unlock()

	m.metrics.setConnected(true)
	m.emit(StateConnected, "")
}

// Close releases the session exactly once. Safe to call when no session
// was ever established.
func (m *ConnectionManager) Close() error {
	var err error
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		session := m.session
		m.session = nil
		m.setStatusLocked(StateDisconnected, "")
		m.mu.Unlock()

		m.cancel()
		m.wg.Wait()

		if session != nil {
			err = session.Close()
		}
		m.metrics.setConnected(false)
	})
	return err
}

func (m *ConnectionManager) setStatusLocked(state ConnectionState, message string) {
	m.status = ConnectionStatus{State: state, Message: message, Since: time.Now().UTC()}
}

func (m *ConnectionManager) emit(state ConnectionState, message string) {
	m.events.Connectivity.Publish(ConnectivityEvent{
		State:   state,
		Message: message,
		At:      time.Now().UTC(),
	})
}
