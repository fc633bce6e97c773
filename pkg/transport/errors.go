package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrNotOpen is returned when an operation needs an Open connection.
	ErrNotOpen = errors.New("transport: connection not open")
	// ErrClosed is returned by Connect after Close raced with it.
	ErrClosed = errors.New("transport: connection closed")
	// ErrBusy is returned by Connect while another Connect is in flight.
	ErrBusy = errors.New("transport: connect already in progress")
)

// ConnectError reports a failed connection attempt.
type ConnectError struct {
	Endpoint string
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("transport: connect %s: %v", e.Endpoint, e.Err)
}
func (e *ConnectError) Unwrap() error { return e.Err }

// SendError reports a frame that could not be written.
type SendError struct {
	Endpoint string
	Err      error
}

func (e *SendError) Error() string { return fmt.Sprintf("transport: send to %s: %v", e.Endpoint, e.Err) }
func (e *SendError) Unwrap() error { return e.Err }

// ReceiveError reports a transport fault while reading a frame.
type ReceiveError struct {
	Endpoint string
	Err      error
}

func (e *ReceiveError) Error() string {
	return fmt.Sprintf("transport: receive from %s: %v", e.Endpoint, e.Err)
}
func (e *ReceiveError) Unwrap() error { return e.Err }
