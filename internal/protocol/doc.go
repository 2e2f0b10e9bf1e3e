// Package protocol defines the gateway wire format.
//
// # Envelope
//
// Every frame on the gateway socket is a JSON text frame shaped as:
//
//	{"op": 0, "s": 42, "t": "READY", "d": {...}}
//
// op is always present. s and t are only set on server dispatch frames
// (op 0). d carries the opcode-specific payload. Encoding omits absent
// optional fields instead of writing nulls.
//
// # Commands
//
// Outbound commands form a closed set. Each wire command maps to exactly
// one opcode:
//
//	Heartbeat         op 1
//	Identify          op 2
//	UpdatePresence    op 3
//	UpdateVoiceState  op 4
//	Resume            op 6
//
// Disconnect is a local control command consumed by the connection writer;
// it never reaches the wire as an envelope.
//
// # Events
//
// Inbound frames are classified by tag: the opcode first, then the event
// name for dispatch frames. A payload that does not fit the shape declared
// by its tag becomes Unrecognized, as does any tag this package does not
// know. Decoding an event never fails.
package protocol
