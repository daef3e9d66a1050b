package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-humidifier/internal/auth"
	"github.com/nerrad567/gray-logic-humidifier/internal/bridges/humidifier"
	"github.com/nerrad567/gray-logic-humidifier/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-humidifier/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-humidifier/internal/rpcproxy"
)

const testConfigYAML = `
device:
  address: "192.168.1.50"
  token: "0123456789abcdef0123456789abcdef"
mqtt:
  broker:
    host: "127.0.0.1"
    port: 1883
    client_id: "test-client"
security:
  jwt:
    secret: "test-secret-key-at-least-32-characters-long"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("HUMIDIFIER_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}
}

func TestGetConfigPath_EnvOverride(t *testing.T) {
	t.Setenv("HUMIDIFIER_CONFIG", "/custom/path/config.yaml")
	if got := getConfigPath(); got != "/custom/path/config.yaml" {
		t.Errorf("getConfigPath() = %q", got)
	}
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("HUMIDIFIER_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("run() error = %v", err)
	}
}

func TestBuildWill(t *testing.T) {
	will, err := buildWill("miio-bridge-01")
	if err != nil {
		t.Fatalf("buildWill() error = %v", err)
	}
	if will.Topic != humidifier.HealthTopic() {
		t.Errorf("Topic = %q, want %q", will.Topic, humidifier.HealthTopic())
	}

	var msg humidifier.HealthMessage
	if err := json.Unmarshal(will.Payload, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Status != humidifier.HealthOffline || msg.Bridge != "miio-bridge-01" {
		t.Errorf("will payload = %+v", msg)
	}
}

func TestPrintToken(t *testing.T) {
	t.Setenv("HUMIDIFIER_CONFIG", writeConfig(t, testConfigYAML))

	tests := []struct {
		name        string
		args        []string
		wantDevices []string
	}{
		{"scoped to own device", []string{"homebridge", "operator"}, []string{"humidifier"}},
		{"explicit devices", []string{"homebridge", "operator", "a", "b"}, []string{"a", "b"}},
		{"unscoped", []string{"homebridge", "operator", "*"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			if err := printToken(&out, tt.args); err != nil {
				t.Fatalf("printToken() error = %v", err)
			}
			claims, err := auth.ParseToken(strings.TrimSpace(out.String()), "test-secret-key-at-least-32-characters-long")
			if err != nil {
				t.Fatalf("ParseToken() error = %v", err)
			}
			if claims.Subject != "homebridge" || claims.Role != auth.RoleOperator {
				t.Errorf("claims = %+v", claims)
			}
			if !slices.Equal(claims.Devices, tt.wantDevices) {
				t.Errorf("Devices = %v, want %v", claims.Devices, tt.wantDevices)
			}
		})
	}
}

func TestPrintToken_Errors(t *testing.T) {
	noSecret := strings.Replace(testConfigYAML, `secret: "test-secret-key-at-least-32-characters-long"`, `secret: ""`, 1)

	tests := []struct {
		name   string
		config string
		args   []string
	}{
		{"usage", testConfigYAML, []string{"only-subject"}},
		{"unknown role", testConfigYAML, []string{"x", "root"}},
		{"no secret", noSecret, []string{"x", "viewer"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("HUMIDIFIER_CONFIG", writeConfig(t, tt.config))
			var out bytes.Buffer
			if err := printToken(&out, tt.args); err == nil {
				t.Error("printToken() should fail")
			}
			if out.Len() != 0 {
				t.Errorf("unexpected output %q", out.String())
			}
		})
	}
}

// echoProxy answers every request on the response topic with ["ok"].
type echoProxy struct {
	mu       sync.Mutex
	handlers map[string]func(string, []byte)
}

func (p *echoProxy) Publish(_ string, payload []byte, _ byte, _ bool) error {
	var req rpcproxy.Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return err
	}
	p.mu.Lock()
	h := p.handlers["miio/proxy/response"]
	p.mu.Unlock()
	if h != nil {
		b, _ := json.Marshal(rpcproxy.Response{ID: req.ID, Result: []any{"ok"}})
		go h("miio/proxy/response", b)
	}
	return nil
}

func (p *echoProxy) Subscribe(topic string, _ byte, handler func(string, []byte)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[topic] = handler
	return nil
}

func (p *echoProxy) Unsubscribe(topic string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.handlers, topic)
	return nil
}

func TestProxyDialer(t *testing.T) {
	cfg := &config.Config{
		Device: config.DeviceConfig{Address: "192.168.1.50", Token: "0123456789abcdef0123456789abcdef"},
		Proxy:  config.ProxyConfig{RequestTopic: "miio/proxy/request", ResponseTopic: "miio/proxy/response", Timeout: 1},
	}
	proxy := &echoProxy{handlers: make(map[string]func(string, []byte))}

	session, err := proxyDialer(proxy, cfg, logging.Discard()).Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer session.Close()

	result, err := session.Call(context.Background(), "set_power", []any{"on"})
	if err != nil || len(result) != 1 || result[0] != "ok" {
		t.Errorf("Call() = %v, %v", result, err)
	}
}

func TestProxyDialer_FailureReturnsNilSession(t *testing.T) {
	cfg := &config.Config{Proxy: config.ProxyConfig{RequestTopic: "a", ResponseTopic: "b"}}
	proxy := &echoProxy{handlers: make(map[string]func(string, []byte))}

	session, err := proxyDialer(proxy, cfg, logging.Discard()).Dial(context.Background())
	if err == nil {
		t.Fatal("Dial() without address should fail")
	}
	if session != nil {
		t.Error("failed Dial must return a nil Session interface")
	}
}

func TestStartProxyDaemon(t *testing.T) {
	sup, err := startProxyDaemon(context.Background(), config.ProxyExecConfig{
		Binary: "/bin/sh",
		Args:   []string{"-c", "sleep 30"},
	}, logging.Discard())
	if err != nil {
		t.Fatalf("startProxyDaemon() error = %v", err)
	}
	if sup.Stats().PID == 0 {
		t.Error("daemon has no pid")
	}
	if err := sup.Stop(); err != nil {
		t.Fatal(err)
	}

	if _, err := startProxyDaemon(context.Background(), config.ProxyExecConfig{Binary: "/nonexistent"}, logging.Discard()); err == nil {
		t.Error("startProxyDaemon() should fail for a missing binary")
	}
}
