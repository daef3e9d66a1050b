package humidifier

import (
	"errors"
	"fmt"
)

// Domain errors for the humidifier bridge package.
var (
	// ErrConnectFailed matches every *ConnectError.
	ErrConnectFailed = errors.New("humidifier: device connection failed")

	// ErrPollFailed matches every *PollError.
	ErrPollFailed = errors.New("humidifier: status poll failed")

	// ErrCommandFailed matches every *CommandError.
	ErrCommandFailed = errors.New("humidifier: command failed")

	// ErrNoDevice is returned when no live session exists.
	ErrNoDevice = errors.New("humidifier: no device")

	// ErrEmptyResult is returned when a property read comes back with no values.
	ErrEmptyResult = errors.New("humidifier: empty property result")

	// ErrValueCount is returned when a poll result does not line up with the property list.
	ErrValueCount = errors.New("humidifier: value count does not match property list")

	// ErrClosed is returned after the connection manager has been closed.
	ErrClosed = errors.New("humidifier: connection closed")

	// ErrUnknownEncoding is returned for an unsupported encoding name.
	ErrUnknownEncoding = errors.New("humidifier: unknown encoding")
)

// ConnectError reports a failed session establishment (network or auth).
type ConnectError struct {
	Address string
	Err     error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrConnectFailed, e.Address, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Is reports whether target is ErrConnectFailed.
func (e *ConnectError) Is(target error) bool { return target == ErrConnectFailed }

// PollError reports a failed poll cycle. Property is empty when the cycle
// never reached the device (no session).
type PollError struct {
	Property string
	Err      error
}

func (e *PollError) Error() string {
	if e.Property == "" {
		return fmt.Sprintf("%v: %v", ErrPollFailed, e.Err)
	}
	return fmt.Sprintf("%v: property %s: %v", ErrPollFailed, e.Property, e.Err)
}

func (e *PollError) Unwrap() error { return e.Err }

// Is reports whether target is ErrPollFailed.
func (e *PollError) Is(target error) bool { return target == ErrPollFailed }

// CommandError reports a failed RPC call for a command.
type CommandError struct {
	Command string
	Method  string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%v: %s (%s): %v", ErrCommandFailed, e.Command, e.Method, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Is reports whether target is ErrCommandFailed.
func (e *CommandError) Is(target error) bool { return target == ErrCommandFailed }
