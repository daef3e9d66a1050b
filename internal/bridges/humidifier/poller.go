package humidifier

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Poller defaults.
const (
	defaultPollInterval = 30 * time.Second
	defaultRPCTimeout   = 5 * time.Second

	pollFlightKey = "poll"
)

// PollerConfig configures a Poller.
type PollerConfig struct {
	Connection *ConnectionManager
	Differ     *StateDiffer
	Properties []Property

	// Interval is the timer period. Default: 30 seconds.
	Interval time.Duration

	// RPCTimeout bounds each property read. Default: 5 seconds.
	RPCTimeout time.Duration

	Events  *Events
	Metrics *Metrics
	Logger  Logger
}

// Poller reads the property list through the connection manager, on a
// timer and on demand. Cycles are serialised: a caller arriving while a
// cycle is in flight shares its result instead of starting another.
type Poller struct {
	conn       *ConnectionManager
	differ     *StateDiffer
	props      []Property
	interval   time.Duration
	rpcTimeout time.Duration
	events     *Events
	metrics    *Metrics
	logger     Logger

	flight singleflight.Group

	// Cycles run under this context, not the caller's, so a caller that
	// gives up cannot fail a cycle other callers share. Stop cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	initialized atomic.Bool
	polls       atomic.Uint64
	failures    atomic.Uint64
	lastSuccess atomic.Int64

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewPoller creates a poller. Call Start to run the timer.
func NewPoller(cfg PollerConfig) *Poller {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	timeout := cfg.RPCTimeout
	if timeout <= 0 {
		timeout = defaultRPCTimeout
	}
	props := cfg.Properties
	if len(props) == 0 {
		props = DefaultProperties
	}
	events := cfg.Events
	if events == nil {
		events = &Events{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		conn:       cfg.Connection,
		differ:     cfg.Differ,
		props:      props,
		interval:   interval,
		rpcTimeout: timeout,
		events:     events,
		metrics:    cfg.Metrics,
		logger:     orNop(cfg.Logger),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Poll returns the device status. With force=false and a non-empty snapshot
// it returns the cached snapshot without touching the device.
//
// Cancelling ctx only stops the wait: the cycle keeps running for any other
// caller and its result still updates the snapshot.
func (p *Poller) Poll(ctx context.Context, force bool) (Snapshot, error) {
	if !force && p.differ.Len() > 0 {
		return p.differ.Snapshot(), nil
	}

	ch := p.flight.DoChan(pollFlightKey, func() (any, error) {
		return p.cycle(p.ctx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		// Shared results must not alias between callers.
		return res.Val.(Snapshot).Clone(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// cycle runs one sequential read of every property.
func (p *Poller) cycle(ctx context.Context) (Snapshot, error) {
	start := time.Now()

	session, ok := p.conn.Session()
	if !ok {
		p.conn.Reconnect()
		return nil, p.fail(start, &PollError{Err: ErrNoDevice}, "No device")
	}

	values := make([]any, 0, len(p.props))
	for _, prop := range p.props {
		result, err := p.read(ctx, session, prop)
		if err != nil && ctx.Err() != nil {
			// Stopped mid-cycle: the device did not fail.
			return nil, &PollError{Property: prop.Name, Err: err}
		}
		if err != nil {
			return nil, p.fail(start, &PollError{Property: prop.Name, Err: err}, err.Error())
		}
		values = append(values, result)
	}

	candidate, err := p.differ.Candidate(values)
	if err != nil {
		return nil, p.fail(start, &PollError{Err: err}, err.Error())
	}

	p.conn.MarkHealthy()
	p.metrics.observePoll(resultOK, time.Since(start))
	p.metrics.setProperties(candidate)
	p.events.Polled.Publish(PollEvent{Values: candidate, At: time.Now().UTC()})

	changes, err := p.differ.Apply(values)
	if err != nil {
		return nil, p.fail(start, &PollError{Err: err}, err.Error())
	}
	for _, c := range changes {
		p.events.StateChanged.Publish(c)
	}

	p.polls.Add(1)
	p.lastSuccess.Store(time.Now().UnixNano())
	if p.initialized.CompareAndSwap(false, true) {
		p.events.Initialized.Publish(InitializedEvent{Snapshot: p.differ.Snapshot()})
	}

	p.logger.Debug("poll complete", "changes", len(changes), "duration", time.Since(start))
	return p.differ.Snapshot(), nil
}

// read fetches one property. An empty result counts as a failure.
func (p *Poller) read(ctx context.Context, session Session, prop Property) (any, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.rpcTimeout)
	defer cancel()

	result, err := session.Call(callCtx, GetPropMethod, []any{prop.Name})
	p.metrics.observeRPC(GetPropMethod, err)
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, ErrEmptyResult
	}
	return result[0], nil
}

// fail clears the snapshot and reports the cycle as a connectivity error.
func (p *Poller) fail(start time.Time, err *PollError, message string) error {
	p.differ.Reset()
	p.polls.Add(1)
	p.failures.Add(1)
	p.metrics.observePoll(resultError, time.Since(start))
	p.metrics.clearProperties()
	p.conn.ReportFailure(message)
	p.logger.Warn("poll failed", "error", err)
	return err
}

// PollStats summarises poll activity.
type PollStats struct {
	Polls       uint64    `json:"polls"`
	Failures    uint64    `json:"failures"`
	LastSuccess time.Time `json:"last_success,omitempty"`
}

// Stats returns counters since creation.
func (p *Poller) Stats() PollStats {
	s := PollStats{Polls: p.polls.Load(), Failures: p.failures.Load()}
	if ns := p.lastSuccess.Load(); ns != 0 {
		s.LastSuccess = time.Unix(0, ns).UTC()
	}
	return s
}

// Start runs the polling timer until ctx is cancelled or Stop is called.
// Every tick forces a fresh read.
func (p *Poller) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.loop(ctx)
}

// Stop cancels the timer and any cycle in flight, and waits for the loop to
// exit. Safe to call multiple times.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		close(p.done)
		p.wg.Wait()
	})
}

func (p *Poller) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-ticker.C:
			// Errors were reported through events.
			_, _ = p.Poll(ctx, true)
		}
	}
}
