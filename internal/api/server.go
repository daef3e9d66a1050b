package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gray-logic-humidifier/internal/bridges/humidifier"
	"github.com/nerrad567/gray-logic-humidifier/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-humidifier/internal/infrastructure/logging"
)

// Forced polls and command batches can take several RPC timeouts.
const gracefulShutdownTimeout = 10 * time.Second

// Device is the engine surface the API needs. *humidifier.Engine satisfies it.
type Device interface {
	Poll(ctx context.Context, force bool) (humidifier.Snapshot, error)
	Dispatch(ctx context.Context, cmd humidifier.Command) []humidifier.CommandResult
	Snapshot() humidifier.Snapshot
	HomeKit() humidifier.HomeKitMessage
	Events() *humidifier.Events
	Status() humidifier.ConnectionStatus
	IsConnected() bool
	Display() humidifier.DisplayStatus
	CommandStatus() humidifier.DisplayStatus
	Address() string
	Stats() humidifier.Stats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Device   Device
	DeviceID string

	// Gatherer backs /metrics. Default: prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	// Registerer receives the API's own metrics. Optional.
	Registerer prometheus.Registerer

	Version string
}

// Server serves the REST routes, the WebSocket stream and /metrics for
// one bridge.
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	secCfg   config.SecurityConfig
	logger   *logging.Logger
	device   Device
	deviceID string
	gatherer prometheus.Gatherer
	metrics  *httpMetrics
	version  string

	startTime time.Time
	server    *http.Server
	hub       *Hub
	cancel    context.CancelFunc // cancels background goroutines on Close()

	unsubMu sync.Mutex
	unsubs  []func()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Device == nil {
		return nil, fmt.Errorf("device is required")
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		device:    deps.Device,
		deviceID:  deps.DeviceID,
		gatherer:  deps.Gatherer,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       NewHub(deps.WS, deps.Logger),
	}
	s.hub.snapshot = deps.Device.Snapshot

	if deps.Registerer != nil {
		m, err := newHTTPMetrics(deps.Registerer, s.hub)
		if err != nil {
			return nil, err
		}
		s.metrics = m
	}
	return s, nil
}

// Start binds the listener, so a port clash fails here rather than in the
// background, then serves until Close. It also starts the WebSocket hub
// and subscribes it to engine events.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	var hubCtx context.Context
	hubCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(hubCtx)
	s.watchEvents()

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.logger.Info("API server listening", "address", ln.Addr().String(), "tls", s.cfg.TLS.Enabled)
	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			err = s.server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server stopped", "error", err)
		}
	}()
	return nil
}

// Close stops event relay and drains in-flight requests for up to
// gracefulShutdownTimeout.
func (s *Server) Close() error {
	s.unwatchEvents()

	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
