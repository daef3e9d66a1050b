package rpcproxy

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InfoMethod is called once at dial time to prove the device answers.
const InfoMethod = "miIO.info"

const (
	defaultTimeout = 10 * time.Second
	qos            = 1
)

// Client is the MQTT surface the session needs.
type Client interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	Unsubscribe(topic string) error
}

// Logger is the structured logger used by the session.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
}

// Config identifies the device and the proxy topics.
type Config struct {
	Address string
	Token   string

	RequestTopic  string
	ResponseTopic string

	// Timeout bounds a call whose context has no deadline, and the
	// handshake. Default: 10 seconds.
	Timeout time.Duration
}

// Request is the envelope published to the proxy.
type Request struct {
	ID      string `json:"id"`
	Address string `json:"address"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	Token   string `json:"token,omitempty"`
}

// Response is the envelope published by the proxy.
type Response struct {
	ID     string    `json:"id"`
	Result []any     `json:"result"`
	Error  *RPCError `json:"error,omitempty"`
}

// Session is a live RPC channel to one device. Safe for concurrent use.
type Session struct {
	client  Client
	cfg     Config
	timeout time.Duration
	logger  Logger

	pendingMu sync.Mutex
	pending   map[string]chan Response
	closed    bool

	closeOnce sync.Once
}

// Dial subscribes to the response topic and performs the info handshake.
// The token travels only with the handshake request.
func Dial(ctx context.Context, client Client, cfg Config, logger Logger) (*Session, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: client is required", ErrInvalidConfig)
	}
	if cfg.Address == "" || cfg.RequestTopic == "" || cfg.ResponseTopic == "" {
		return nil, fmt.Errorf("%w: address and proxy topics are required", ErrInvalidConfig)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	s := &Session{
		client:  client,
		cfg:     cfg,
		timeout: timeout,
		logger:  logger,
		pending: make(map[string]chan Response),
	}

	if err := client.Subscribe(cfg.ResponseTopic, qos, s.handleResponse); err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", cfg.ResponseTopic, err)
	}

	if _, err := s.call(ctx, InfoMethod, []any{}, cfg.Token); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}
	s.debug("rpc session established", "address", cfg.Address)
	return s, nil
}

// Call invokes method on the device and waits for its result.
func (s *Session) Call(ctx context.Context, method string, params any) ([]any, error) {
	return s.call(ctx, method, params, "")
}

func (s *Session) call(ctx context.Context, method string, params any, token string) ([]any, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	req := Request{
		ID:      uuid.NewString(),
		Address: s.cfg.Address,
		Method:  method,
		Params:  params,
		Token:   token,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	ch := make(chan Response, 1)
	s.pendingMu.Lock()
	if s.closed {
		s.pendingMu.Unlock()
		return nil, ErrClosed
	}
	s.pending[req.ID] = ch
	s.pendingMu.Unlock()

	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, req.ID)
		s.pendingMu.Unlock()
	}()

	if err := s.client.Publish(s.cfg.RequestTopic, payload, qos, false); err != nil {
		return nil, fmt.Errorf("publish request: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", method, ctx.Err())
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		if resp.Result == nil {
			return []any{}, nil
		}
		return resp.Result, nil
	}
}

// handleResponse routes a proxy response to its waiting call.
func (s *Session) handleResponse(_ string, payload []byte) {
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		s.warn("malformed proxy response", "error", err)
		return
	}

	// Sending under the lock keeps Close from closing ch mid-send.
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	ch, ok := s.pending[resp.ID]
	if !ok {
		return
	}
	select {
	case ch <- resp:
	default:
	}
}

// Close fails pending calls and unsubscribes. Safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.pendingMu.Lock()
		s.closed = true
		for id, ch := range s.pending {
			close(ch)
			delete(s.pending, id)
		}
		s.pendingMu.Unlock()

		err = s.client.Unsubscribe(s.cfg.ResponseTopic)
	})
	return err
}

func (s *Session) debug(msg string, kv ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, kv...)
	}
}

func (s *Session) warn(msg string, kv ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, kv...)
	}
}
