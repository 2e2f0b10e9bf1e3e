// ABOUTME: Tests for envelope encoding and decoding
// ABOUTME: Covers per-command opcodes, field omission, and malformed frame handling

package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64Ptr(v int64) *int64 { return &v }

func stringPtr(v string) *string { return &v }

func TestEncodeRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		cmd     WireCommand
		op      Opcode
		payload string
	}{
		{
			name:    "heartbeat with sequence",
			cmd:     Heartbeat{LastSequence: int64Ptr(42)},
			op:      OpHeartbeat,
			payload: `42`,
		},
		{
			name: "identify",
			cmd: Identify{
				Token:      "tok",
				Properties: Properties{OS: "linux", Browser: "fleet", Device: "fleet"},
			},
			op:      OpIdentify,
			payload: `{"token":"tok","properties":{"os":"linux","browser":"fleet","device":"fleet"}}`,
		},
		{
			name:    "presence",
			cmd:     UpdatePresence{Status: "idle", AFK: true, Activities: []Activity{{Name: "chess", Type: 0}}},
			op:      OpPresenceUpdate,
			payload: `{"since":null,"activities":[{"name":"chess","type":0}],"status":"idle","afk":true}`,
		},
		{
			name:    "voice state join",
			cmd:     UpdateVoiceState{GuildID: "g1", ChannelID: stringPtr("c1"), SelfMute: true},
			op:      OpVoiceStateUpdate,
			payload: `{"guild_id":"g1","channel_id":"c1","self_mute":true,"self_deaf":false}`,
		},
		{
			name:    "voice state leave",
			cmd:     UpdateVoiceState{GuildID: "g1"},
			op:      OpVoiceStateUpdate,
			payload: `{"guild_id":"g1","channel_id":null,"self_mute":false,"self_deaf":false}`,
		},
		{
			name:    "resume",
			cmd:     Resume{Token: "tok", SessionID: "abc123", Sequence: 7},
			op:      OpResume,
			payload: `{"token":"tok","session_id":"abc123","seq":7}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Decode(Encode(tt.cmd))
			require.NoError(t, err)

			assert.Equal(t, tt.op, env.Op)
			assert.Nil(t, env.Seq)
			assert.Empty(t, env.Type)
			assert.JSONEq(t, tt.payload, string(env.Data))
		})
	}
}

func TestEncodeOmitsAbsentFields(t *testing.T) {
	t.Run("heartbeat before any sequence has no payload", func(t *testing.T) {
		raw := Encode(Heartbeat{})
		assert.JSONEq(t, `{"op":1}`, string(raw))

		env, err := Decode(raw)
		require.NoError(t, err)
		assert.False(t, env.HasData())
	})

	t.Run("command envelopes never carry s or t", func(t *testing.T) {
		var fields map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(Encode(Identify{Token: "tok"}), &fields))

		assert.Contains(t, fields, "op")
		assert.Contains(t, fields, "d")
		assert.NotContains(t, fields, "s")
		assert.NotContains(t, fields, "t")
	})

	t.Run("presence without activities sends an empty list", func(t *testing.T) {
		env := ToEnvelope(UpdatePresence{Status: "online"})
		assert.JSONEq(t, `{"since":null,"activities":[],"status":"online","afk":false}`, string(env.Data))
	})
}

func TestDecode(t *testing.T) {
	t.Run("dispatch frame", func(t *testing.T) {
		env, err := Decode([]byte(`{"op":0,"s":12,"t":"READY","d":{"session_id":"x"}}`))
		require.NoError(t, err)

		assert.Equal(t, OpDispatch, env.Op)
		require.NotNil(t, env.Seq)
		assert.Equal(t, int64(12), *env.Seq)
		assert.Equal(t, "READY", env.Type)
		assert.True(t, env.HasData())
	})

	t.Run("explicit nulls decode as absent", func(t *testing.T) {
		env, err := Decode([]byte(`{"op":11,"s":null,"t":null,"d":null}`))
		require.NoError(t, err)

		assert.Equal(t, OpHeartbeatAck, env.Op)
		assert.Nil(t, env.Seq)
		assert.Empty(t, env.Type)
		assert.Nil(t, env.Data)
	})

	malformed := map[string]string{
		"truncated text":  `{not json`,
		"empty frame":     ``,
		"json array":      `[1,2,3]`,
		"missing op":      `{"d":{}}`,
		"op is a string":  `{"op":"hello"}`,
		"seq is a string": `{"op":0,"s":"one"}`,
	}
	for name, raw := range malformed {
		t.Run("malformed "+name, func(t *testing.T) {
			_, err := Decode([]byte(raw))
			require.Error(t, err)

			var perr *ProtocolError
			require.True(t, errors.As(err, &perr), "expected *ProtocolError, got %T", err)
			assert.Equal(t, raw, string(perr.Raw))
		})
	}
}

func TestOpcodeString(t *testing.T) {
	assert.Equal(t, "hello", OpHello.String())
	assert.Equal(t, "heartbeat_ack", OpHeartbeatAck.String())
	assert.Equal(t, "op_42", Opcode(42).String())
}
