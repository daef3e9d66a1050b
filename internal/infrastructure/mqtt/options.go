package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-humidifier/internal/infrastructure/config"
)

const (
	connectTimeout   = 10 * time.Second
	operationTimeout = 5 * time.Second
	keepAlive        = 60 * time.Second

	// quiesceMillis lets in-flight publishes (the "stopping" health
	// message in particular) drain before the socket closes.
	quiesceMillis = 1000

	maxQoS = 2

	// Payloads are small JSON documents; anything larger is a bug upstream.
	maxPayloadSize = 256 << 10
)

// newClientOptions translates bridge configuration into paho options.
// A nil will leaves LWT disabled.
func newClientOptions(cfg config.MQTTConfig, will *Will) *pahomqtt.ClientOptions {
	scheme := "tcp"
	var tlsConfig *tls.Config
	if cfg.Broker.TLS {
		scheme = "ssl"
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}
	if tlsConfig != nil {
		opts.SetTLSConfig(tlsConfig)
	}
	if will != nil {
		// Retained so a subscriber arriving after the crash still sees it.
		opts.SetBinaryWill(will.Topic, will.Payload, 1, true)
	}
	return opts
}

// await blocks on a paho token for at most operationTimeout and wraps any
// failure in base.
func await(token pahomqtt.Token, base error) error {
	if !token.WaitTimeout(operationTimeout) {
		return fmt.Errorf("%w: timeout after %v", base, operationTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", base, err)
	}
	return nil
}
