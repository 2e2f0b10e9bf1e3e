// ABOUTME: Inbound event variants decoded from server envelopes
// ABOUTME: Events are selected by opcode and event name, never by trial decoding

package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Dispatch event names this package decodes.
const (
	EventReady          = "READY"
	EventResumed        = "RESUMED"
	EventPresenceUpdate = "PRESENCE_UPDATE"
)

// Event is an inbound event decoded from an envelope.
type Event interface {
	event()
}

// MaxHeartbeatInterval is the longest heartbeat interval a Hello may carry.
// Larger values decode as Unrecognized.
const MaxHeartbeatInterval = time.Hour

// Hello starts the handshake and advertises the heartbeat interval.
type Hello struct {
	HeartbeatInterval time.Duration
}

// HeartbeatAck acknowledges the last heartbeat.
type HeartbeatAck struct{}

// HeartbeatRequest asks the client to heartbeat immediately.
type HeartbeatRequest struct{}

// Reconnect asks the client to reconnect and resume.
type Reconnect struct{}

// InvalidSession reports that the current session cannot be used.
// Resumable is the server's hint that a Resume may still succeed.
type InvalidSession struct {
	Resumable bool
}

// User is the account's own user object as reported in Ready.
type User struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator,omitempty"`
	GlobalName    string `json:"global_name,omitempty"`
}

// UserRef is the partial user carried by presence updates. Only the ID is
// guaranteed.
type UserRef struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
}

// Guild is the subset of a guild snapshot delivered in Ready.
type Guild struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Unavailable bool   `json:"unavailable,omitempty"`
	Large       bool   `json:"large,omitempty"`
	MemberCount int    `json:"member_count,omitempty"`
	JoinedAt    string `json:"joined_at,omitempty"`
}

// Ready completes the handshake.
type Ready struct {
	Version          int     `json:"v"`
	User             User    `json:"user"`
	Guilds           []Guild `json:"guilds"`
	SessionID        string  `json:"session_id"`
	ResumeGatewayURL string  `json:"resume_gateway_url"`
	Shard            []int   `json:"shard,omitempty"`
}

// Guild returns the i-th guild snapshot, or false when i is out of range.
func (r Ready) Guild(i int) (Guild, bool) {
	if i < 0 || i >= len(r.Guilds) {
		return Guild{}, false
	}
	return r.Guilds[i], true
}

// GuildByID finds a guild snapshot by ID.
func (r Ready) GuildByID(id string) (Guild, bool) {
	for _, g := range r.Guilds {
		if g.ID == id {
			return g, true
		}
	}
	return Guild{}, false
}

// Resumed completes a resume handshake.
type Resumed struct{}

// PresenceUpdate reports a user's status change in a guild.
type PresenceUpdate struct {
	User    UserRef `json:"user"`
	Status  string  `json:"status"`
	GuildID string  `json:"guild_id"`
}

// Unrecognized is any frame whose tag is unknown or whose payload does not
// match its tag. Err is set when a known tag failed to decode.
type Unrecognized struct {
	Op   Opcode
	Type string
	Raw  json.RawMessage
	Err  error
}

func (Hello) event()            {}
func (HeartbeatAck) event()     {}
func (HeartbeatRequest) event() {}
func (Reconnect) event()        {}
func (InvalidSession) event()   {}
func (Ready) event()            {}
func (Resumed) event()          {}
func (PresenceUpdate) event()   {}
func (Unrecognized) event()     {}

// DecodeEvent classifies an envelope by opcode, and by event name for
// dispatch frames, then decodes the payload into the matching shape.
func DecodeEvent(env Envelope) Event {
	switch env.Op {
	case OpHello:
		var p struct {
			HeartbeatInterval *int64 `json:"heartbeat_interval"`
		}
		if err := decodePayload(env, &p); err != nil {
			return unrecognized(env, err)
		}
		if p.HeartbeatInterval == nil || *p.HeartbeatInterval <= 0 {
			return unrecognized(env, fmt.Errorf("hello without a positive heartbeat_interval"))
		}
		if *p.HeartbeatInterval > MaxHeartbeatInterval.Milliseconds() {
			return unrecognized(env, fmt.Errorf("hello heartbeat_interval %dms exceeds %s", *p.HeartbeatInterval, MaxHeartbeatInterval))
		}
		return Hello{HeartbeatInterval: time.Duration(*p.HeartbeatInterval) * time.Millisecond}

	case OpHeartbeatAck:
		return HeartbeatAck{}

	case OpHeartbeat:
		return HeartbeatRequest{}

	case OpReconnect:
		return Reconnect{}

	case OpInvalidSession:
		var resumable bool
		if env.HasData() {
			if err := json.Unmarshal(env.Data, &resumable); err != nil {
				return unrecognized(env, err)
			}
		}
		return InvalidSession{Resumable: resumable}

	case OpDispatch:
		return decodeDispatch(env)
	}

	return unrecognized(env, nil)
}

func decodeDispatch(env Envelope) Event {
	switch env.Type {
	case EventReady:
		var r Ready
		if err := decodePayload(env, &r); err != nil {
			return unrecognized(env, err)
		}
		if r.SessionID == "" {
			return unrecognized(env, fmt.Errorf("ready without session_id"))
		}
		return r

	case EventResumed:
		return Resumed{}

	case EventPresenceUpdate:
		var p PresenceUpdate
		if err := decodePayload(env, &p); err != nil {
			return unrecognized(env, err)
		}
		return p
	}

	return unrecognized(env, nil)
}

func decodePayload(env Envelope, v any) error {
	if !env.HasData() {
		return fmt.Errorf("%s: missing payload", env.Op)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%s %s: %w", env.Op, env.Type, err)
	}
	return nil
}

func unrecognized(env Envelope, err error) Unrecognized {
	return Unrecognized{Op: env.Op, Type: env.Type, Raw: env.Data, Err: err}
}
