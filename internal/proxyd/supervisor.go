package proxyd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// State is the supervisor's view of the daemon.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
	StateBackoff State = "backoff"
)

// Config describes the daemon to run.
type Config struct {
	// Binary is the path to the proxy executable. Required.
	Binary string

	Args []string

	// Env is appended to the bridge's own environment.
	Env []string

	// RestartDelay is the first backoff after an exit. It doubles per
	// consecutive failure up to MaxRestartDelay. Default: 2 seconds.
	RestartDelay time.Duration

	// MaxRestartDelay caps the backoff. Default: 1 minute.
	MaxRestartDelay time.Duration

	// StableAfter resets the backoff once a run lasted this long.
	// Default: 1 minute.
	StableAfter time.Duration

	// GracefulTimeout is how long Stop waits after SIGTERM before SIGKILL.
	// Default: 5 seconds.
	GracefulTimeout time.Duration
}

// Logger defines the logging interface for the supervisor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Stats is a snapshot of supervisor state.
type Stats struct {
	State     State     `json:"state"`
	PID       int       `json:"pid,omitempty"`
	Since     time.Time `json:"since"`
	Restarts  int       `json:"restarts"`
	LastError string    `json:"last_error,omitempty"`
}

// Supervisor keeps one daemon process alive.
type Supervisor struct {
	cfg Config

	loggerMu sync.RWMutex
	logger   Logger

	mu       sync.RWMutex
	state    State
	pid      int
	since    time.Time
	restarts int
	lastErr  error
	cancel   context.CancelFunc
	done     chan struct{}
}

// run is one launched process.
type run struct {
	cmd     *exec.Cmd
	started time.Time
	exited  chan error
}

// New validates cfg and applies defaults.
func New(cfg Config) (*Supervisor, error) {
	if cfg.Binary == "" {
		return nil, errors.New("proxyd: binary is required")
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = 2 * time.Second
	}
	if cfg.MaxRestartDelay <= 0 {
		cfg.MaxRestartDelay = time.Minute
	}
	cfg.MaxRestartDelay = max(cfg.MaxRestartDelay, cfg.RestartDelay)
	if cfg.StableAfter <= 0 {
		cfg.StableAfter = time.Minute
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = 5 * time.Second
	}
	return &Supervisor{
		cfg:    cfg,
		logger: nopLogger{},
		state:  StateStopped,
		since:  time.Now().UTC(),
	}, nil
}

// SetLogger sets the logger for the supervisor.
func (s *Supervisor) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	defer s.loggerMu.Unlock()
	if logger == nil {
		logger = nopLogger{}
	}
	s.logger = logger
}

func (s *Supervisor) log() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

// Start launches the daemon. A failure to exec is returned; later exits
// are restarted in the background until ctx ends or Stop is called.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return errors.New("proxyd: already started")
	}
	s.mu.Unlock()

	r, err := s.spawn()
	if err != nil {
		s.record(StateStopped, 0, err)
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go s.supervise(loopCtx, r, done)
	return nil
}

// Stop terminates the daemon and waits for the supervisor to exit. Safe to
// call more than once and before Start.
func (s *Supervisor) Stop() error {
	s.mu.RLock()
	cancel, done := s.cancel, s.done
	s.mu.RUnlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// Stats returns the current state.
func (s *Supervisor) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{State: s.state, PID: s.pid, Since: s.since, Restarts: s.restarts}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// supervise waits for exits and relaunches with backoff.
func (s *Supervisor) supervise(ctx context.Context, r *run, done chan struct{}) {
	defer close(done)
	delay := s.cfg.RestartDelay

	for {
		var exited <-chan error
		if r != nil {
			exited = r.exited
		}

		select {
		case <-ctx.Done():
			if r != nil && r.cmd != nil {
				s.terminate(r)
			}
			s.record(StateStopped, 0, nil)
			return

		case err := <-exited:
			if err == nil {
				err = errors.New("exited with status 0")
			}
			s.log().Warn("proxy daemon exited", "binary", s.cfg.Binary, "error", err, "restart_in", delay)
			if time.Since(r.started) >= s.cfg.StableAfter {
				delay = s.cfg.RestartDelay
			}
			s.record(StateBackoff, 0, err)
			r = nil
		}

		select {
		case <-ctx.Done():
			s.record(StateStopped, 0, nil)
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, s.cfg.MaxRestartDelay)

		s.mu.Lock()
		s.restarts++
		s.mu.Unlock()

		next, err := s.spawn()
		if err != nil {
			s.log().Error("proxy daemon restart failed", "binary", s.cfg.Binary, "error", err)
			s.record(StateBackoff, 0, err)
			// Feed the failure back through the exit path.
			failed := make(chan error, 1)
			failed <- err
			next = &run{started: time.Now(), exited: failed}
		}
		r = next
	}
}

// spawn starts one process in its own group and pipes its output to the
// logger line by line.
func (s *Supervisor) spawn() (*run, error) {
	cmd := exec.Command(s.cfg.Binary, s.cfg.Args...) //nolint:gosec // operator-supplied binary path
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if len(s.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), s.cfg.Env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("proxyd: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("proxyd: stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("proxyd: starting %s: %w", s.cfg.Binary, err)
	}

	r := &run{cmd: cmd, started: time.Now(), exited: make(chan error, 1)}

	// Wait must follow the pipe readers.
	var readers sync.WaitGroup
	readers.Add(2)
	go s.forward(&readers, "stdout", stdout)
	go s.forward(&readers, "stderr", stderr)
	go func() {
		readers.Wait()
		r.exited <- cmd.Wait()
	}()

	s.record(StateRunning, cmd.Process.Pid, nil)
	s.log().Info("proxy daemon started", "binary", s.cfg.Binary, "pid", cmd.Process.Pid)
	return r, nil
}

func (s *Supervisor) forward(wg *sync.WaitGroup, stream string, rd io.Reader) {
	defer wg.Done()
	sc := bufio.NewScanner(rd)
	for sc.Scan() {
		s.log().Debug("proxy daemon output", "stream", stream, "line", sc.Text())
	}
}

// terminate sends SIGTERM to the process group, then SIGKILL after the
// graceful timeout.
func (s *Supervisor) terminate(r *run) {
	pid := r.cmd.Process.Pid
	s.log().Info("stopping proxy daemon", "pid", pid)

	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		s.log().Warn("SIGTERM to proxy daemon failed", "pid", pid, "error", err)
	}

	select {
	case <-r.exited:
		return
	case <-time.After(s.cfg.GracefulTimeout):
	}

	s.log().Warn("proxy daemon ignored SIGTERM, killing", "pid", pid, "timeout", s.cfg.GracefulTimeout)
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		s.log().Error("SIGKILL to proxy daemon failed", "pid", pid, "error", err)
	}
	<-r.exited
}

func (s *Supervisor) record(state State, pid int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != state {
		s.since = time.Now().UTC()
	}
	s.state = state
	s.pid = pid
	if err != nil {
		s.lastErr = err
	}
}
