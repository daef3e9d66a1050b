// Gray Logic Humidifier Bridge
//
// Keeps a miIO humidifier in sync with the Gray Logic MQTT bus: the device
// is polled through an RPC proxy, changes are published as state messages,
// and commands arriving on the bus or the HTTP API are translated into
// device RPCs.
//
// Usage:
//
//	humidifierbridge                                 run the bridge
//	humidifierbridge token <sub> <role> [device...]  print an API bearer token
//
// A token is scoped to this bridge's device unless devices are listed;
// "*" mints one that every bridge sharing the secret accepts.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nerrad567/gray-logic-humidifier/internal/api"
	"github.com/nerrad567/gray-logic-humidifier/internal/auth"
	"github.com/nerrad567/gray-logic-humidifier/internal/bridges/humidifier"
	"github.com/nerrad567/gray-logic-humidifier/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-humidifier/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-humidifier/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-humidifier/internal/proxyd"
	"github.com/nerrad567/gray-logic-humidifier/internal/rpcproxy"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := printToken(os.Stdout, os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
		return
	}

	// Cancel on Ctrl+C and SIGTERM for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting humidifier bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"device", cfg.Device.String(),
	)

	enc, err := humidifier.ParseEncoding(cfg.Device.Encoding, cfg.Device.WaterLevelDivisor)
	if err != nil {
		return fmt.Errorf("device encoding: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := humidifier.NewMetrics(registry)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	will, err := buildWill(cfg.Bridge.ID)
	if err != nil {
		return fmt.Errorf("building last will: %w", err)
	}

	mqttClient, err := mqtt.Connect(cfg.MQTT, will)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	if cfg.Proxy.Exec.Binary != "" {
		sup, err := startProxyDaemon(ctx, cfg.Proxy.Exec, log)
		if err != nil {
			return err
		}
		defer func() {
			_ = sup.Stop()
			log.Info("proxy daemon stopped", "restarts", sup.Stats().Restarts)
		}()
	}

	adapter := &mqttBridgeAdapter{client: mqttClient}
	deviceLog := log.ForDevice("humidifier", cfg.Device.Address)

	engine, err := humidifier.NewEngine(humidifier.EngineConfig{
		Address:      cfg.Device.Address,
		Dialer:       proxyDialer(adapter, cfg, deviceLog),
		PollInterval: cfg.GetPollingInterval(),
		RPCTimeout:   cfg.GetRPCTimeout(),
		DialTimeout:  cfg.GetProxyTimeout(),
		Encoding:     enc,
		Metrics:      metrics,
		Logger:       deviceLog,
	})
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}

	bridge, err := humidifier.NewBridge(humidifier.BridgeOptions{
		BridgeID:        cfg.Bridge.ID,
		DeviceID:        cfg.Bridge.DeviceID,
		Version:         version,
		HealthInterval:  cfg.GetHealthInterval(),
		OutputAtStartup: cfg.Device.OutputAtStartup,
		HomeKit:         cfg.Device.HomeKit,
		MQTTClient:      adapter,
		Engine:          engine,
		Logger:          log,
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	// The bridge subscribes to engine events, so it starts first.
	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer bridge.Stop()

	// The broker published the offline will when the session dropped.
	mqttClient.OnReconnect(func() {
		if err := bridge.Health().PublishNow(); err != nil {
			log.Warn("republishing health after reconnect failed", "error", err)
		}
	})

	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}
	defer func() {
		if stopErr := engine.Stop(); stopErr != nil {
			log.Error("error stopping engine", "error", stopErr)
		}
	}()

	if cfg.API.Enabled {
		srv, err := api.New(api.Deps{
			Config:     cfg.API,
			WS:         cfg.WebSocket,
			Security:   cfg.Security,
			Logger:     log,
			Device:     engine,
			DeviceID:   cfg.Bridge.DeviceID,
			Gatherer:   registry,
			Registerer: registry,
			Version:    version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: mqtt: %w", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API, engine, bridge, proxy
	// daemon, MQTT.
	return nil
}

// getConfigPath returns the configuration file path.
// Uses HUMIDIFIER_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("HUMIDIFIER_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// buildWill returns the retained offline health message the broker
// publishes if the bridge disappears.
func buildWill(bridgeID string) (*mqtt.Will, error) {
	payload, err := json.Marshal(humidifier.NewLWTMessage(bridgeID))
	if err != nil {
		return nil, err
	}
	return &mqtt.Will{Topic: humidifier.HealthTopic(), Payload: payload}, nil
}

// proxyDialer opens RPC sessions through the miIO proxy on the bus.
func proxyDialer(client rpcproxy.Client, cfg *config.Config, log *logging.Logger) humidifier.Dialer {
	return humidifier.DialerFunc(func(ctx context.Context) (humidifier.Session, error) {
		session, err := rpcproxy.Dial(ctx, client, rpcproxy.Config{
			Address:       cfg.Device.Address,
			Token:         cfg.Device.Token,
			RequestTopic:  cfg.Proxy.RequestTopic,
			ResponseTopic: cfg.Proxy.ResponseTopic,
			Timeout:       cfg.GetProxyTimeout(),
		}, log)
		if err != nil {
			return nil, err
		}
		return session, nil
	})
}

// startProxyDaemon launches the locally supervised miIO proxy.
func startProxyDaemon(ctx context.Context, cfg config.ProxyExecConfig, log *logging.Logger) (*proxyd.Supervisor, error) {
	sup, err := proxyd.New(proxyd.Config{
		Binary:       cfg.Binary,
		Args:         cfg.Args,
		RestartDelay: time.Duration(cfg.RestartDelay) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("configuring proxy daemon: %w", err)
	}
	sup.SetLogger(log.With("component", "proxyd"))
	if err := sup.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting proxy daemon: %w", err)
	}
	return sup, nil
}

// printToken mints an API token signed with the configured JWT secret.
func printToken(w io.Writer, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: humidifierbridge token <subject> <role> [device...]")
	}
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	devices := args[2:]
	switch {
	case len(devices) == 0:
		devices = []string{cfg.Bridge.DeviceID}
	case len(devices) == 1 && devices[0] == "*":
		devices = nil
	}

	token, err := auth.GenerateToken(cfg.Security.JWT.Secret, args[0], auth.Role(args[1]), devices, 365*24*time.Hour)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, token)
	return err
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge and
// RPC proxy interfaces, which take handlers without an error return:
//   - Infrastructure mqtt: func(topic, payload []byte) error
//   - Bridge and proxy expect: func(topic, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements humidifier.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements humidifier.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// Unsubscribe implements rpcproxy.Client.
func (a *mqttBridgeAdapter) Unsubscribe(topic string) error {
	return a.client.Unsubscribe(topic)
}

// IsConnected implements humidifier.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
