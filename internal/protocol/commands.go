// ABOUTME: Outbound command variants sent from the client to the gateway
// ABOUTME: Each wire command converts deterministically to one envelope

package protocol

// Command is anything that can be placed on a connection's outbound queue.
type Command interface {
	command()
}

// WireCommand is a command that is written to the socket as an envelope.
type WireCommand interface {
	Command
	Opcode() Opcode
	payload() any
}

// Heartbeat is the liveness ping. LastSequence is nil until the first
// dispatch sequence has been observed.
type Heartbeat struct {
	LastSequence *int64
}

func (Heartbeat) command()       {}
func (Heartbeat) Opcode() Opcode { return OpHeartbeat }
func (h Heartbeat) payload() any {
	if h.LastSequence == nil {
		return nil
	}
	return *h.LastSequence
}

// Properties describes the client platform presented during Identify.
type Properties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

// Identify presents the account token and client metadata.
type Identify struct {
	Token      string
	Properties Properties
}

type identifyPayload struct {
	Token      string     `json:"token"`
	Properties Properties `json:"properties"`
}

func (Identify) command()       {}
func (Identify) Opcode() Opcode { return OpIdentify }
func (i Identify) payload() any {
	return identifyPayload{Token: i.Token, Properties: i.Properties}
}

// Activity is a single entry of a presence update.
type Activity struct {
	Name  string `json:"name"`
	Type  int    `json:"type"`
	URL   string `json:"url,omitempty"`
	State string `json:"state,omitempty"`
}

// UpdatePresence changes the account's status.
type UpdatePresence struct {
	Since      *int64
	Activities []Activity
	Status     string
	AFK        bool
}

type presencePayload struct {
	Since      *int64     `json:"since"`
	Activities []Activity `json:"activities"`
	Status     string     `json:"status"`
	AFK        bool       `json:"afk"`
}

func (UpdatePresence) command()       {}
func (UpdatePresence) Opcode() Opcode { return OpPresenceUpdate }
func (p UpdatePresence) payload() any {
	activities := p.Activities
	if activities == nil {
		activities = []Activity{}
	}
	return presencePayload{Since: p.Since, Activities: activities, Status: p.Status, AFK: p.AFK}
}

// UpdateVoiceState joins, moves between, or leaves voice channels.
// A nil ChannelID leaves the current channel.
type UpdateVoiceState struct {
	GuildID   string
	ChannelID *string
	SelfMute  bool
	SelfDeaf  bool
}

type voiceStatePayload struct {
	GuildID   string  `json:"guild_id"`
	ChannelID *string `json:"channel_id"`
	SelfMute  bool    `json:"self_mute"`
	SelfDeaf  bool    `json:"self_deaf"`
}

func (UpdateVoiceState) command()       {}
func (UpdateVoiceState) Opcode() Opcode { return OpVoiceStateUpdate }
func (v UpdateVoiceState) payload() any {
	return voiceStatePayload{GuildID: v.GuildID, ChannelID: v.ChannelID, SelfMute: v.SelfMute, SelfDeaf: v.SelfDeaf}
}

// Resume re-attaches to an existing session after a reconnect, replaying
// events missed since Sequence.
type Resume struct {
	Token     string
	SessionID string
	Sequence  int64
}

type resumePayload struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Sequence  int64  `json:"seq"`
}

func (Resume) command()       {}
func (Resume) Opcode() Opcode { return OpResume }
func (r Resume) payload() any {
	return resumePayload{Token: r.Token, SessionID: r.SessionID, Sequence: r.Sequence}
}

// Disconnect asks the writer to close the socket with a normal closure and
// end the connection. It is never encoded.
type Disconnect struct{}

func (Disconnect) command() {}
