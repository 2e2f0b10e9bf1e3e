// ABOUTME: Gateway envelope type, opcodes, and the frame codec
// ABOUTME: Encodes outbound commands and decodes raw socket frames into envelopes

package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Opcode tags the purpose of an envelope.
type Opcode int

const (
	OpDispatch         Opcode = 0
	OpHeartbeat        Opcode = 1
	OpIdentify         Opcode = 2
	OpPresenceUpdate   Opcode = 3
	OpVoiceStateUpdate Opcode = 4
	OpResume           Opcode = 6
	OpReconnect        Opcode = 7
	OpInvalidSession   Opcode = 9
	OpHello            Opcode = 10
	OpHeartbeatAck     Opcode = 11
)

// String returns a short lowercase name, used as a metrics label.
func (o Opcode) String() string {
	switch o {
	case OpDispatch:
		return "dispatch"
	case OpHeartbeat:
		return "heartbeat"
	case OpIdentify:
		return "identify"
	case OpPresenceUpdate:
		return "presence_update"
	case OpVoiceStateUpdate:
		return "voice_state_update"
	case OpResume:
		return "resume"
	case OpReconnect:
		return "reconnect"
	case OpInvalidSession:
		return "invalid_session"
	case OpHello:
		return "hello"
	case OpHeartbeatAck:
		return "heartbeat_ack"
	default:
		return fmt.Sprintf("op_%d", int(o))
	}
}

// Envelope is the unit exchanged on the gateway socket.
type Envelope struct {
	Op   Opcode          `json:"op"`
	Seq  *int64          `json:"s,omitempty"`
	Type string          `json:"t,omitempty"`
	Data json.RawMessage `json:"d,omitempty"`
}

// HasData reports whether the envelope carries a non-null payload.
func (e Envelope) HasData() bool {
	return len(e.Data) > 0 && !bytes.Equal(e.Data, nullLiteral)
}

var nullLiteral = []byte("null")

// ProtocolError reports a frame that could not be decoded into an envelope.
// It is never fatal to a connection.
type ProtocolError struct {
	Raw []byte
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol: malformed frame: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Encode converts a wire command into its envelope bytes. Command payloads
// are built only from strings, numbers and bools, so marshaling cannot fail.
func Encode(cmd WireCommand) []byte {
	b, _ := json.Marshal(ToEnvelope(cmd))
	return b
}

// ToEnvelope wraps a wire command in an envelope with the command's opcode.
func ToEnvelope(cmd WireCommand) Envelope {
	env := Envelope{Op: cmd.Opcode()}
	if d := cmd.payload(); d != nil {
		env.Data, _ = json.Marshal(d)
	}
	return env
}

// Decode parses a raw text frame into an envelope.
func Decode(raw []byte) (Envelope, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Envelope{}, &ProtocolError{Raw: raw, Err: err}
	}
	if _, ok := probe["op"]; !ok {
		return Envelope{}, &ProtocolError{Raw: raw, Err: fmt.Errorf("missing op field")}
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, &ProtocolError{Raw: raw, Err: err}
	}
	if !env.HasData() {
		env.Data = nil
	}
	return env, nil
}
