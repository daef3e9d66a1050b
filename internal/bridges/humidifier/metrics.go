package humidifier

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric label values.
const (
	resultOK    = "ok"
	resultError = "error"

	// rawLabel stands in for pass-through method and command names, which
	// come from consumers and would otherwise grow label cardinality.
	rawLabel = "raw"
)

// Metrics exports engine counters to Prometheus. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	polls        *prometheus.CounterVec
	pollDuration prometheus.Histogram
	rpcCalls     *prometheus.CounterVec
	commands     *prometheus.CounterVec
	connected    prometheus.Gauge
	property     *prometheus.GaugeVec

	mu       sync.Mutex
	exported map[string]struct{}
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "humidifier_polls_total",
			Help: "Poll cycles by result",
		}, []string{"result"}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "humidifier_poll_duration_seconds",
			Help:    "Duration of a full poll cycle",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		rpcCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "humidifier_rpc_calls_total",
			Help: "Device RPC calls by method and result",
		}, []string{"method", "result"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "humidifier_commands_total",
			Help: "Dispatched commands by command and result",
		}, []string{"command", "result"}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "humidifier_connected",
			Help: "Device connection status (1=connected, 0=not connected)",
		}),
		property: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "humidifier_property_value",
			Help: "Last polled numeric property value",
		}, []string{"property"}),
		exported: make(map[string]struct{}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{
			m.polls, m.pollDuration, m.rpcCalls, m.commands, m.connected, m.property,
		} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) observePoll(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(result).Inc()
	m.pollDuration.Observe(d.Seconds())
}

func (m *Metrics) observeRPC(method string, err error) {
	if m == nil {
		return
	}
	m.rpcCalls.WithLabelValues(methodLabel(method), resultLabel(err)).Inc()
}

func (m *Metrics) observeCommand(command string, err error) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(commandLabel(command), resultLabel(err)).Inc()
}

func (m *Metrics) setConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}

// setProperties exports numeric values and boolean-like switches.
// Non-numeric values such as mode names are skipped.
func (m *Metrics) setProperties(s Snapshot) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, v := range s {
		f, ok := metricValue(v)
		if !ok {
			continue
		}
		m.property.WithLabelValues(key).Set(f)
		m.exported[key] = struct{}{}
	}
}

// clearProperties drops all exported property gauges so a scrape after a
// failed poll does not report stale readings.
func (m *Metrics) clearProperties() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.exported {
		m.property.DeleteLabelValues(key)
	}
	m.exported = make(map[string]struct{})
}

func metricValue(v any) (float64, bool) {
	switch s := v.(type) {
	case string:
		switch s {
		case "on":
			return 1, true
		case "off":
			return 0, true
		}
		return 0, false
	case bool:
		if s {
			return 1, true
		}
		return 0, true
	}
	return toFloat(v)
}

func methodLabel(method string) string {
	if method == GetPropMethod {
		return method
	}
	for _, known := range commandMethods {
		if method == known {
			return method
		}
	}
	return rawLabel
}

func commandLabel(command string) string {
	if _, ok := commandMethods[command]; ok {
		return command
	}
	return rawLabel
}

func resultLabel(err error) string {
	if err != nil {
		return resultError
	}
	return resultOK
}
