package humidifier

import "context"

// Session is a live, authenticated RPC channel to the device.
//
// Call must honour ctx: implementations are expected to return once the
// deadline passes rather than block. params is normally a []any argument
// list; mappings are passed through untouched for raw methods that take one.
type Session interface {
	Call(ctx context.Context, method string, params any) ([]any, error)
	Close() error
}

// Dialer establishes sessions. The ConnectionManager owns every session a
// Dialer returns.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (Session, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context) (Session, error) {
	return f(ctx)
}

// Logger is the structured logger used across the package.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// nopLogger is used when no logger was supplied.
type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

func orNop(l Logger) Logger {
	if l == nil {
		return nopLogger{}
	}
	return l
}
