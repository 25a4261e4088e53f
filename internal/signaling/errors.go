package signaling

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by [Channel.Send] when no open connection
	// exists. Outgoing messages are never queued across reconnects.
	ErrNotConnected = errors.New("signaling: not connected")

	// ErrClosed is returned after [Channel.Close].
	ErrClosed = errors.New("signaling: channel closed")

	// ErrAlreadyConnected is returned by [Channel.Connect] while a connection
	// is connecting or open.
	ErrAlreadyConnected = errors.New("signaling: already connected")
)

// ConnectionError reports that the transport to the relay could not be
// opened. A reconnect is scheduled whenever it is returned; it is not fatal.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("signaling: connect %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
