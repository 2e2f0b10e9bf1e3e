// ABOUTME: Outbound writer, the single consumer of a socket's command queue
// ABOUTME: Encodes commands, classifies write failures, and turns Disconnect into a close frame

package gateway

import (
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/fleet/internal/protocol"
)

const closeFrameTimeout = 5 * time.Second

// writeLoop drains the queue onto the socket until the queue closes, a
// terminal write error occurs, or a Disconnect is processed.
func (l *link) writeLoop() {
	defer l.wg.Done()

	for {
		cmd, err := l.queue.Next()
		if err != nil {
			return
		}

		if _, ok := cmd.(protocol.Disconnect); ok {
			l.writeClose()
			l.end(endReason{err: ErrDisconnected, final: true})
			return
		}

		wc, ok := cmd.(protocol.WireCommand)
		if !ok {
			l.logger.Warn("dropping command without wire form", "command", cmd)
			continue
		}

		if err := l.write(wc); err != nil {
			terminal := isTerminalWrite(err)
			l.c.metrics.writeError(terminal)
			if terminal {
				l.logger.Info("socket closed during write", "op", wc.Opcode(), "error", err)
				l.end(endReason{err: err})
				return
			}
			l.logger.Warn("write failed, continuing", "op", wc.Opcode(), "error", err)
		}
	}
}

func (l *link) write(cmd protocol.WireCommand) error {
	if t := l.c.opts.WriteTimeout; t > 0 {
		if err := l.sock.SetWriteDeadline(time.Now().Add(t)); err != nil {
			return err
		}
	}
	if err := l.sock.WriteMessage(websocket.TextMessage, protocol.Encode(cmd)); err != nil {
		return err
	}
	l.c.metrics.frameSent(cmd.Opcode())
	return nil
}

func (l *link) writeClose() {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	err := l.sock.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeFrameTimeout))
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		l.logger.Debug("sending close frame failed", "error", err)
	}
}
