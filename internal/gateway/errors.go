// ABOUTME: Error values returned by gateway connections and write error classification
// ABOUTME: Decides which socket errors end a writer and which close codes forbid a resume

package gateway

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/gorilla/websocket"
)

var (
	// ErrQueueClosed is returned by Queue operations after Close.
	ErrQueueClosed = errors.New("outbound queue closed")

	// ErrNotConnected is returned by Send while no socket is live, for
	// example during a reconnect.
	ErrNotConnected = errors.New("gateway not connected")

	// ErrClosed is returned by Send once the connection has ended.
	ErrClosed = errors.New("gateway connection closed")

	// ErrHandshakeTimeout ends a socket that did not reach Established in time.
	ErrHandshakeTimeout = errors.New("gateway handshake timed out")

	// ErrZombie ends a socket whose heartbeat was not acknowledged.
	ErrZombie = errors.New("heartbeat not acknowledged")

	// ErrReconnectRequested ends a socket after the server asked for a reconnect.
	ErrReconnectRequested = errors.New("server requested reconnect")

	// ErrInvalidSession ends a socket after the server rejected the session.
	ErrInvalidSession = errors.New("server invalidated session")

	// ErrDisconnected ends a connection after a Disconnect command.
	ErrDisconnected = errors.New("disconnected")
)

// ConnectError reports a failure to open the gateway socket.
type ConnectError struct {
	URL string
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connecting to gateway %s: %v", e.URL, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Close codes after which the session must not be resumed or re-identified.
const (
	CloseAuthenticationFailed = 4004
	CloseInvalidShard         = 4010
	CloseShardingRequired     = 4011
	CloseInvalidAPIVersion    = 4012
	CloseInvalidIntents       = 4013
	CloseDisallowedIntents    = 4014
)

// IsFatalClose reports whether a socket closed with err may not be reopened.
func IsFatalClose(err error) bool {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return false
	}
	switch ce.Code {
	case CloseAuthenticationFailed, CloseInvalidShard, CloseShardingRequired,
		CloseInvalidAPIVersion, CloseInvalidIntents, CloseDisallowedIntents:
		return true
	}
	return false
}

// isTerminalWrite reports whether a write error means the socket is gone.
// Anything else is treated as transient and the writer keeps going.
func isTerminalWrite(err error) bool {
	var ce *websocket.CloseError
	switch {
	case errors.Is(err, websocket.ErrCloseSent),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.ECONNRESET),
		errors.As(err, &ce):
		return true
	}
	return false
}
