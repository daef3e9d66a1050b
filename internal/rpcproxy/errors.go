package rpcproxy

import (
	"errors"
	"fmt"
)

// Domain errors for the RPC proxy.
var (
	// ErrClosed is returned for calls on a closed session.
	ErrClosed = errors.New("rpcproxy: session closed")

	// ErrInvalidConfig is returned when Dial is given incomplete settings.
	ErrInvalidConfig = errors.New("rpcproxy: invalid config")

	// ErrHandshakeFailed is returned when the device does not answer the
	// initial info request.
	ErrHandshakeFailed = errors.New("rpcproxy: handshake failed")
)

// RPCError is an error reported by the device or the proxy.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpcproxy: device error %d: %s", e.Code, e.Message)
}
