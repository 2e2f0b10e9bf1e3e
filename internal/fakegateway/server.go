// ABOUTME: In-process stand-in for the upstream platform: identity endpoint plus WebSocket gateway
// ABOUTME: Used by end-to-end tests and the fake-gateway command

package fakegateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/fleet/internal/protocol"
)

// Paths served by Server.
const (
	GatewayPath  = "/gateway"
	IdentityPath = "/api/v10/users/@me"
)

// Server speaks enough of the gateway protocol to drive a client through
// identify, heartbeats, resume and presence traffic.
type Server struct {
	// Users maps accepted tokens to the account they belong to.
	Users map[string]protocol.User

	HeartbeatInterval time.Duration
	Guilds            []protocol.Guild

	// PresenceEvery sends a synthetic presence update on that period once a
	// session is ready. Zero disables it.
	PresenceEvery time.Duration

	// IgnoreHeartbeats stops the server from acknowledging heartbeats.
	IgnoreHeartbeats bool

	Logger *slog.Logger

	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]string // session id -> token
	live     chan *Session
}

// New returns a server accepting the given users.
func New(users map[string]protocol.User, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		Users:             users,
		HeartbeatInterval: 45 * time.Second,
		Logger:            logger,
		sessions:          make(map[string]string),
		live:              make(chan *Session, 16),
	}
}

// Sessions yields every accepted socket, in connection order. Sockets are
// dropped from the channel when nobody reads it.
func (s *Server) Sessions() <-chan *Session { return s.live }

// ServeHTTP routes identity and gateway requests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == IdentityPath && r.Method == http.MethodGet:
		s.handleIdentity(w, r)
	case r.URL.Path == GatewayPath:
		s.handleGateway(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleIdentity(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	user, ok := s.Users[r.Header.Get("Authorization")]
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{"code": 0, "message": "401: Unauthorized"})
		return
	}
	_ = json.NewEncoder(w).Encode(user)
}

func (s *Server) handleGateway(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Warn("upgrade failed", "error", err)
		return
	}

	sess := &Session{
		server:   s,
		conn:     conn,
		url:      "ws://" + r.Host + GatewayPath,
		Received: make(chan protocol.Envelope, 64),
		done:     make(chan struct{}),
	}
	select {
	case s.live <- sess:
	default:
	}

	sess.serve()
}

func (s *Server) rememberSession(token string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	s.mu.Lock()
	s.sessions[id] = token
	s.mu.Unlock()
	return id
}

func (s *Server) sessionToken(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.sessions[id]
	return tok, ok
}

// Session is one accepted client socket.
type Session struct {
	server *Server
	conn   *websocket.Conn
	url    string

	// Received carries every decoded frame the client sent, in order.
	Received chan protocol.Envelope

	writeMu sync.Mutex
	seq     int64
	id      string

	done      chan struct{}
	closeOnce sync.Once
}

// Done is closed when the socket has ended.
func (s *Session) Done() <-chan struct{} { return s.done }

// ID returns the session id handed out in Ready, empty before that.
func (s *Session) ID() string {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.id
}

func (s *Session) serve() {
	defer s.finish()
	log := s.server.Logger

	hello := map[string]int64{"heartbeat_interval": s.server.HeartbeatInterval.Milliseconds()}
	if err := s.Send(protocol.OpHello, "", hello); err != nil {
		log.Warn("sending hello", "error", err)
		return
	}

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := protocol.Decode(raw)
		if err != nil {
			log.Warn("client sent malformed frame", "error", err)
			continue
		}
		select {
		case s.Received <- env:
		default:
		}

		if err := s.handle(env); err != nil {
			log.Debug("session ended", "error", err)
			return
		}
	}
}

func (s *Session) handle(env protocol.Envelope) error {
	switch env.Op {
	case protocol.OpHeartbeat:
		if s.server.IgnoreHeartbeats {
			return nil
		}
		return s.Send(protocol.OpHeartbeatAck, "", nil)

	case protocol.OpIdentify:
		var p struct {
			Token string `json:"token"`
		}
		_ = json.Unmarshal(env.Data, &p)
		user, ok := s.server.Users[p.Token]
		if !ok {
			if err := s.CloseWith(4004, "Authentication failed."); err != nil {
				return err
			}
			return errClosedByServer
		}
		return s.ready(p.Token, user)

	case protocol.OpResume:
		var p struct {
			Token     string `json:"token"`
			SessionID string `json:"session_id"`
			Seq       int64  `json:"seq"`
		}
		_ = json.Unmarshal(env.Data, &p)
		tok, ok := s.server.sessionToken(p.SessionID)
		if !ok || tok != p.Token {
			return s.Send(protocol.OpInvalidSession, "", false)
		}
		s.writeMu.Lock()
		s.id = p.SessionID
		s.seq = p.Seq
		s.writeMu.Unlock()
		return s.Dispatch(protocol.EventResumed, map[string]any{})
	}
	return nil
}

func (s *Session) ready(token string, user protocol.User) error {
	id := s.server.rememberSession(token)
	s.writeMu.Lock()
	s.id = id
	s.writeMu.Unlock()

	guilds := s.server.Guilds
	if guilds == nil {
		guilds = []protocol.Guild{}
	}
	err := s.Dispatch(protocol.EventReady, protocol.Ready{
		Version:          10,
		User:             user,
		Guilds:           guilds,
		SessionID:        id,
		ResumeGatewayURL: s.url,
	})
	if err != nil {
		return err
	}

	if every := s.server.PresenceEvery; every > 0 {
		go s.presenceLoop(every)
	}
	return nil
}

func (s *Session) presenceLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	statuses := []string{"online", "idle", "dnd"}
	for i := 0; ; i++ {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}
		guildID := ""
		if g := s.server.Guilds; len(g) > 0 {
			guildID = g[i%len(g)].ID
		}
		err := s.Dispatch(protocol.EventPresenceUpdate, protocol.PresenceUpdate{
			User:    protocol.UserRef{ID: fmt.Sprintf("friend-%d", i%5)},
			Status:  statuses[i%len(statuses)],
			GuildID: guildID,
		})
		if err != nil {
			return
		}
	}
}

// Send writes a non-dispatch frame.
func (s *Session) Send(op protocol.Opcode, eventType string, data any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.writeLocked(protocol.Envelope{Op: op, Type: eventType}, data)
}

// Dispatch writes an op 0 frame with the next sequence number.
func (s *Session) Dispatch(eventType string, data any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.seq++
	seq := s.seq
	return s.writeLocked(protocol.Envelope{Op: protocol.OpDispatch, Seq: &seq, Type: eventType}, data)
}

// SendRaw writes bytes as a text frame, for malformed-input tests.
func (s *Session) SendRaw(raw []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, raw)
}

// CloseWith sends a close frame with code and drops the socket.
func (s *Session) CloseWith(code int, text string) error {
	s.writeMu.Lock()
	msg := websocket.FormatCloseMessage(code, text)
	err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	s.writeMu.Unlock()
	s.finish()
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return err
	}
	return nil
}

// Drop closes the socket without a close frame.
func (s *Session) Drop() { s.finish() }

var errClosedByServer = errors.New("closed by server")

func (s *Session) writeLocked(env protocol.Envelope, data any) error {
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return err
		}
		env.Data = b
	}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, b)
}

func (s *Session) finish() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}
