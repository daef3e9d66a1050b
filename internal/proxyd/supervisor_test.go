package proxyd

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

// recordingLogger captures debug lines for assertions.
type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) Debug(_ string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := 0; i+1 < len(args); i += 2 {
		if args[i] == "line" {
			l.lines = append(l.lines, args[i+1].(string))
		}
	}
}
func (l *recordingLogger) Info(string, ...any)  {}
func (l *recordingLogger) Warn(string, ...any)  {}
func (l *recordingLogger) Error(string, ...any) {}

func (l *recordingLogger) has(line string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, got := range l.lines {
		if got == line {
			return true
		}
	}
	return false
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func shell(script string) Config {
	return Config{Binary: "/bin/sh", Args: []string{"-c", script}}
}

func TestNew_Defaults(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New() without binary should fail")
	}

	s, err := New(Config{Binary: "/bin/true"})
	if err != nil {
		t.Fatal(err)
	}
	if s.cfg.RestartDelay != 2*time.Second {
		t.Errorf("RestartDelay = %v", s.cfg.RestartDelay)
	}
	if s.cfg.MaxRestartDelay != time.Minute {
		t.Errorf("MaxRestartDelay = %v", s.cfg.MaxRestartDelay)
	}
	if s.cfg.GracefulTimeout != 5*time.Second {
		t.Errorf("GracefulTimeout = %v", s.cfg.GracefulTimeout)
	}
	if s.Stats().State != StateStopped {
		t.Errorf("State = %q", s.Stats().State)
	}

	s, _ = New(Config{Binary: "/bin/true", RestartDelay: 2 * time.Minute})
	if s.cfg.MaxRestartDelay != 2*time.Minute {
		t.Errorf("MaxRestartDelay = %v, want clamp to RestartDelay", s.cfg.MaxRestartDelay)
	}
}

func TestSupervisor_StartStop(t *testing.T) {
	s, err := New(shell("sleep 30"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	st := s.Stats()
	if st.State != StateRunning || st.PID == 0 {
		t.Errorf("Stats() = %+v", st)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}

	start := time.Now()
	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 3*time.Second {
		t.Error("Stop() did not use SIGTERM")
	}
	if st := s.Stats(); st.State != StateStopped || st.PID != 0 {
		t.Errorf("Stats() after Stop = %+v", st)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestSupervisor_StopBeforeStart(t *testing.T) {
	s, _ := New(Config{Binary: "/bin/true"})
	if err := s.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestSupervisor_StartFailure(t *testing.T) {
	s, _ := New(Config{Binary: "/nonexistent/miio-proxy"})
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("Start() should fail for a missing binary")
	}
	if s.Stats().LastError == "" {
		t.Error("LastError should be recorded")
	}
}

func TestSupervisor_RestartsOnExit(t *testing.T) {
	cfg := shell("exit 3")
	cfg.RestartDelay = 10 * time.Millisecond
	cfg.MaxRestartDelay = 20 * time.Millisecond
	s, _ := New(cfg)

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	waitFor(t, func() bool { return s.Stats().Restarts >= 2 })
	if !strings.Contains(s.Stats().LastError, "exit status 3") {
		t.Errorf("LastError = %q", s.Stats().LastError)
	}
}

func TestSupervisor_ForwardsOutput(t *testing.T) {
	log := &recordingLogger{}
	s, _ := New(shell("echo proxy ready; echo oops >&2; sleep 30"))
	s.SetLogger(log)

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	waitFor(t, func() bool { return log.has("proxy ready") && log.has("oops") })
}

func TestSupervisor_KillsAfterGracefulTimeout(t *testing.T) {
	// An ignored SIGTERM survives exec, so sleep ignores it too.
	cfg := shell(`trap "" TERM; sleep 30`)
	cfg.GracefulTimeout = 50 * time.Millisecond
	s, _ := New(cfg)

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		_ = s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop() did not escalate to SIGKILL")
	}
}

func TestSupervisor_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s, _ := New(shell("sleep 30"))
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}

	cancel()
	waitFor(t, func() bool { return s.Stats().State == StateStopped })
	if err := s.Stop(); err != nil {
		t.Errorf("Stop() after cancel error = %v", err)
	}
}
