package humidifier

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"
)

// CommandResult is the outcome of one dispatched device call.
type CommandResult struct {
	Command string
	Method  string
	Args    any
	Result  []any

	// Payload is the single scalar element of Result when there is one,
	// otherwise Result itself.
	Payload any

	Err error
	At  time.Time
}

// OK reports whether the call succeeded.
func (r CommandResult) OK() bool { return r.Err == nil }

// Label is the short indicator text: the command, plus the scalar result.
func (r CommandResult) Label() string {
	if r.Err != nil {
		return "error"
	}
	if scalarResult(r.Result) {
		return r.Command + ": " + formatScalar(r.Result[0])
	}
	return r.Command
}

type resultRequest struct {
	Command string `json:"command"`
	Payload any    `json:"payload,omitempty"`
	Args    any    `json:"args,omitempty"`
}

// MarshalJSON encodes a success as {request{command,payload}, payload} and
// a failure as {request{command,args}, error}.
func (r CommandResult) MarshalJSON() ([]byte, error) {
	out := struct {
		Request resultRequest `json:"request"`
		Method  string        `json:"method"`
		Payload any           `json:"payload,omitempty"`
		Error   string        `json:"error,omitempty"`
	}{
		Request: resultRequest{Command: r.Command},
		Method:  r.Method,
	}
	if r.Err != nil {
		out.Request.Args = r.Args
		out.Error = r.Err.Error()
	} else {
		out.Request.Payload = r.Args
		out.Payload = r.Payload
	}
	return json.Marshal(out)
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Connection *ConnectionManager

	// RPCTimeout bounds each call. Default: 5 seconds.
	RPCTimeout time.Duration

	// Indicator, when set, flashes the outcome of every call.
	Indicator *Indicator

	Events  *Events
	Metrics *Metrics
	Logger  Logger
}

// Dispatcher sends commands to the device. It never triggers a poll; the
// next cycle reconciles the snapshot.
type Dispatcher struct {
	conn       *ConnectionManager
	rpcTimeout time.Duration
	indicator  *Indicator
	events     *Events
	metrics    *Metrics
	logger     Logger

	sent   atomic.Uint64
	failed atomic.Uint64
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	timeout := cfg.RPCTimeout
	if timeout <= 0 {
		timeout = defaultRPCTimeout
	}
	events := cfg.Events
	if events == nil {
		events = &Events{}
	}
	return &Dispatcher{
		conn:       cfg.Connection,
		rpcTimeout: timeout,
		indicator:  cfg.Indicator,
		events:     events,
		metrics:    cfg.Metrics,
		logger:     orNop(cfg.Logger),
	}
}

// Dispatch sends cmd, expanding a batch into one call per entry in order.
// No-ops (no session, empty name, null payload) produce no result. A failed
// entry does not stop the rest of a batch.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) []CommandResult {
	var results []CommandResult
	for _, c := range Expand(cmd) {
		if r, ok := d.send(ctx, c); ok {
			results = append(results, r)
		}
	}
	return results
}

func (d *Dispatcher) send(ctx context.Context, cmd Command) (CommandResult, bool) {
	session, ok := d.conn.Session()
	if !ok {
		d.logger.Debug("command dropped, no device", "command", cmd.Name)
		return CommandResult{}, false
	}
	method, args, ok := Translate(cmd.Name, cmd.Payload)
	if !ok {
		return CommandResult{}, false
	}

	callCtx, cancel := context.WithTimeout(ctx, d.rpcTimeout)
	result, err := session.Call(callCtx, method, args)
	cancel()

	d.metrics.observeRPC(method, err)
	d.metrics.observeCommand(cmd.Name, err)

	r := CommandResult{
		Command: cmd.Name,
		Method:  method,
		Args:    args,
		At:      time.Now().UTC(),
	}
	d.sent.Add(1)
	if err != nil {
		d.failed.Add(1)
		r.Err = &CommandError{Command: cmd.Name, Method: method, Err: err}
		d.logger.Warn("command failed", "command", cmd.Name, "method", method, "error", err)
	} else {
		r.Result = result
		r.Payload = resultPayload(result)
		d.logger.Debug("command sent", "command", cmd.Name, "method", method)
	}

	d.indicator.Flash(r)
	d.events.Commands.Publish(r)
	return r, true
}

// resultPayload unwraps a single string or number element.
func resultPayload(result []any) any {
	if scalarResult(result) {
		return result[0]
	}
	return result
}

func scalarResult(result []any) bool {
	if len(result) != 1 {
		return false
	}
	switch result[0].(type) {
	case string, json.Number:
		return true
	}
	_, ok := toFloat(result[0])
	return ok
}

// CommandStats summarises dispatch activity.
type CommandStats struct {
	Sent   uint64 `json:"sent"`
	Failed uint64 `json:"failed"`
}

// Stats returns counters since creation.
func (d *Dispatcher) Stats() CommandStats {
	return CommandStats{Sent: d.sent.Load(), Failed: d.failed.Load()}
}
