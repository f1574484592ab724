package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrameLineProtocol(t *testing.T) {
	tests := []struct {
		name        string
		line        string
		wantChannel string
		wantPayload any
	}{
		{"Numeric payload", "cpu 12.5", "cpu", 12.5},
		{"Integer payload", "time 42", "time", 42.0},
		{"String payload", "console hello world", "console", "hello world"},
		{"Null payload", "memory null", "memory", nil},
		{"True payload", "active true", "active", true},
		{"False payload", "active false", "active", false},
		{"Bare channel", "tick", "tick", nil},
		{"Tab separator", "cpu\t7", "cpu", 7.0},
		{"JSON object payload", `room:W1N1 {"energy":300}`, "room:W1N1", map[string]any{"energy": 300.0}},
		{"JSON array payload", `units ["a","b"]`, "units", []any{"a", "b"}},
		{"Malformed JSON payload degrades to string", "room {broken", "room", "{broken"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := ParseFrame(tt.line)
			require.NotNil(t, ev)
			assert.Equal(t, tt.wantChannel, ev.Channel)
			assert.Equal(t, tt.wantPayload, ev.Payload)
			assert.Equal(t, tt.line, ev.Raw)
			assert.False(t, ev.ReceivedAt.IsZero())
		})
	}
}

func TestParseFrameEmpty(t *testing.T) {
	assert.Nil(t, ParseFrame(""))
	assert.Nil(t, ParseFrame("   "))
	assert.Nil(t, ParseFrame("\t\r\n"))
}

func TestParseFrameStructured(t *testing.T) {
	tests := []struct {
		name        string
		line        string
		wantChannel string
		wantPayload any
	}{
		{
			name:        "Event field",
			line:        `{"event":"stats","data":{"x":1}}`,
			wantChannel: "stats",
			wantPayload: map[string]any{"x": 1.0},
		},
		{
			name:        "Channel field",
			line:        `{"channel":"cpu","payload":9.5}`,
			wantChannel: "cpu",
			wantPayload: 9.5,
		},
		{
			name:        "Topic field with result payload",
			line:        `{"topic":"rooms","result":["W1N1"]}`,
			wantChannel: "rooms",
			wantPayload: []any{"W1N1"},
		},
		{
			name:        "Type field with message payload",
			line:        `{"type":"notice","message":"hi"}`,
			wantChannel: "notice",
			wantPayload: "hi",
		},
		{
			name:        "Data wins over message",
			line:        `{"event":"e","message":"m","data":"d"}`,
			wantChannel: "e",
			wantPayload: "d",
		},
		{
			name:        "No channel field",
			line:        `{"other":1}`,
			wantChannel: "",
			wantPayload: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := ParseFrame(tt.line)
			require.NotNil(t, ev)
			assert.Equal(t, tt.wantChannel, ev.Channel)
			assert.Equal(t, tt.wantPayload, ev.Payload)
		})
	}
}

func TestParseFrameAuthNormalization(t *testing.T) {
	// Both framings must produce the same auth-result shape.
	lineEv := ParseFrame("auth ok")
	require.NotNil(t, lineEv)
	assert.Equal(t, "auth", lineEv.Channel)
	assert.Equal(t, map[string]any{"status": "ok"}, lineEv.Payload)

	envelopeEv := ParseFrame(`[1,null,"auth","phx_reply",{"status":"ok"}]`)
	require.NotNil(t, envelopeEv)
	assert.Equal(t, "auth", envelopeEv.Channel)
	assert.Equal(t, map[string]any{"status": "ok"}, envelopeEv.Payload)

	failed := ParseFrame("auth failed")
	require.NotNil(t, failed)
	assert.Equal(t, map[string]any{"status": "failed"}, failed.Payload)
}

func TestParseFrameReplyEnvelope(t *testing.T) {
	tests := []struct {
		name string
		line string
		want bool // recognized as auth acknowledgment
	}{
		{"String status", `[3,"ref-1","auth","reply","ok"]`, true},
		{"Numeric ref", `[3,7,"auth","reply",{"status":"ok"}]`, true},
		{"Wrong length", `[1,null,"auth","reply"]`, false},
		{"Non-numeric head", `["x",null,"auth","reply",{"status":"ok"}]`, false},
		{"Unknown event", `[1,null,"auth","push",{"status":"ok"}]`, false},
		{"No recognizable status", `[1,null,"auth","reply",{"response":{}}]`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := ParseFrame(tt.line)
			require.NotNil(t, ev)
			if tt.want {
				assert.Equal(t, "auth", ev.Channel)
			} else {
				assert.Empty(t, ev.Channel)
			}
		})
	}
}

func TestParseFrameMalformedJSONLine(t *testing.T) {
	// A frame that looks structured but does not decode keeps its raw text
	// as payload; a single bad frame never costs the connection.
	ev := ParseFrame(`{"event":"stats"`)
	require.NotNil(t, ev)
	assert.Empty(t, ev.Channel)
	assert.Equal(t, `{"event":"stats"`, ev.Payload)
}

func TestCoerceScalar(t *testing.T) {
	assert.Nil(t, coerceScalar("null"))
	assert.Equal(t, true, coerceScalar("true"))
	assert.Equal(t, false, coerceScalar("false"))
	assert.Equal(t, 12.5, coerceScalar("12.5"))
	assert.Equal(t, -3.0, coerceScalar("-3"))
	assert.Equal(t, "12.5x", coerceScalar("12.5x"))
	assert.Equal(t, "hello", coerceScalar("hello"))
}
