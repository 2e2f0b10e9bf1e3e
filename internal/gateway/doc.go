// Package gateway runs one account's connection to the push gateway.
//
// # Overview
//
// A Connection owns a single long-lived WebSocket at a time. Each socket
// gets a fresh outbound Queue and three goroutines, joined by one
// WaitGroup and torn down together:
//
//   - reader: reads frames and feeds the dispatcher
//   - writer: the only consumer of the queue, writes frames to the socket
//   - heartbeat: started once per socket when Hello arrives
//
// The handshake command (Identify, or Resume when a session exists) is
// pushed to the front of the queue before the writer starts, so it is
// always the first frame on a socket.
//
// # Phases
//
//	Connecting -> AwaitingHello -> Identifying -> Established -> Closing -> Closed
//	                            \-> Resuming   -/
//	Established -> Reconnecting -> AwaitingHello ...
//
// Closing and Closed are terminal.
//
// # Shared State
//
// The last observed sequence lives in a single atomic cell shared by the
// dispatcher and the heartbeat. The session ID and resume URL are written
// only by the dispatcher and read by the supervisor after the socket's
// goroutines have been joined. Everything else is owned by one goroutine.
//
// # Reconnects
//
// When a socket drops for a resumable reason the supervisor redials with
// exponential backoff (github.com/cenkalti/backoff/v4) and resumes the
// session. Close codes 4004 and 4010-4014, a Disconnect command and Close
// end the connection for good. The very first dial is never retried: Open
// returns a *ConnectError instead.
//
// # Zombie Detection
//
// With ZombieDetection enabled, a heartbeat tick that finds the previous
// heartbeat still unacknowledged tears the socket down as resumable.
//
// # Usage
//
//	conn, err := gateway.Open(ctx, accountID, token, gateway.Options{
//	    URL:    "wss://gateway.example/?v=10&encoding=json",
//	    Logger: logger,
//	})
//	if err != nil {
//	    return err
//	}
//	_ = conn.Send(protocol.UpdatePresence{Status: "idle"})
//	defer conn.Close(ctx)
package gateway
