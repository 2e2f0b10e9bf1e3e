// ABOUTME: Inbound frame handling for one socket, run on the reader goroutine
// ABOUTME: Decodes envelopes, tracks sequence, and reacts to each tagged event

package gateway

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/fleet/internal/protocol"
)

// readLoop feeds frames to dispatch until the socket fails.
func (l *link) readLoop() {
	defer l.wg.Done()

	for {
		kind, data, err := l.sock.ReadMessage()
		if err != nil {
			l.end(readEnd(err))
			return
		}
		if kind == websocket.BinaryMessage {
			if data, err = inflate(data); err != nil {
				l.logger.Warn("dropping undecodable binary frame", "error", err)
				l.c.metrics.protocolError()
				continue
			}
		}
		l.dispatch(data)
	}
}

func readEnd(err error) endReason {
	return endReason{err: err, final: IsFatalClose(err)}
}

// dispatch handles one raw frame. Decode failures are logged and skipped;
// they never change the phase or end the socket.
func (l *link) dispatch(raw []byte) {
	env, err := protocol.Decode(raw)
	if err != nil {
		l.logger.Warn("dropping malformed frame", "error", err, "raw", string(raw))
		l.c.metrics.protocolError()
		return
	}
	l.c.metrics.frameReceived(env.Op)

	if env.Seq != nil {
		if ok, cur := l.c.seq.Observe(*env.Seq); !ok {
			l.logger.Warn("sequence went backwards, ignoring",
				"seq", *env.Seq,
				"last_seq", cur,
			)
		}
	}

	switch ev := protocol.DecodeEvent(env).(type) {
	case protocol.Hello:
		l.onHello(ev)

	case protocol.Ready:
		l.c.sessionID = ev.SessionID
		l.c.resumeURL = ev.ResumeGatewayURL
		l.establish()
		l.logger.Info("gateway session ready",
			"session_id", ev.SessionID,
			"user", ev.User.Username,
			"guilds", len(ev.Guilds),
		)
		l.c.observer.Observe(l.c.accountID, ev)

	case protocol.Resumed:
		l.establish()
		l.logger.Info("gateway session resumed", "session_id", l.c.sessionID)
		l.c.observer.Observe(l.c.accountID, ev)

	case protocol.HeartbeatAck:
		l.acked.Store(true)

	case protocol.HeartbeatRequest:
		if err := l.queue.Push(protocol.Heartbeat{LastSequence: l.c.seq.Last()}); err == nil {
			l.c.metrics.heartbeat()
		}

	case protocol.Reconnect:
		l.logger.Info("server requested reconnect")
		l.end(endReason{err: ErrReconnectRequested})

	case protocol.InvalidSession:
		l.logger.Warn("session invalidated", "resumable", ev.Resumable)
		if !ev.Resumable {
			l.c.sessionID = ""
			l.c.resumeURL = ""
			l.c.seq.Reset()
		}
		l.end(endReason{err: ErrInvalidSession})

	case protocol.Unrecognized:
		l.logger.Debug("unrecognized frame",
			"op", ev.Op,
			"type", ev.Type,
			"error", ev.Err,
		)

	default:
		l.c.observer.Observe(l.c.accountID, ev)
	}
}

func (l *link) onHello(h protocol.Hello) {
	if l.heartbeatStarted {
		l.logger.Debug("ignoring duplicate hello")
		return
	}
	if h.HeartbeatInterval <= 0 || h.HeartbeatInterval > protocol.MaxHeartbeatInterval {
		l.logger.Warn("ignoring hello with unusable heartbeat interval", "heartbeat_interval", h.HeartbeatInterval)
		l.c.metrics.protocolError()
		return
	}
	l.heartbeatStarted = true

	next := PhaseIdentifying
	if l.resuming {
		next = PhaseResuming
	}
	if l.c.phase.Load() == PhaseAwaitingHello {
		l.c.phase.Store(next)
	}

	l.logger.Debug("hello received", "heartbeat_interval", h.HeartbeatInterval)
	l.startHeartbeat(h.HeartbeatInterval)
}

func (l *link) startHeartbeat(interval time.Duration) {
	h := &heartbeater{
		queue:    l.queue,
		seq:      l.c.seq,
		interval: interval,
		done:     l.done,
		jitter:   l.c.opts.jitter,
		after:    l.c.opts.after,
		metrics:  l.c.metrics,
	}
	if l.c.opts.ZombieDetection {
		h.acked = &l.acked
		h.onZombie = func() {
			l.logger.Warn("heartbeat not acknowledged, dropping socket", "interval", interval)
			l.end(endReason{err: ErrZombie})
		}
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		h.run()
	}()
}

func (l *link) establish() {
	l.established.Store(true)
	l.c.phase.Store(PhaseEstablished)
}
