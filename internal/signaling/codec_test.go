package signaling

import (
	"encoding/json"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeTopLevel(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{"join", Join{Room: "blue-cat", Role: "glass-wearer"}, `{"type":"join","room":"blue-cat","role":"glass-wearer"}`},
		{"leave", Leave{}, `{"type":"leave"}`},
		{"ping", Ping{}, `{"type":"ping"}`},
		{"reset", Reset{}, `{"type":"reset"}`},
		{
			"answer",
			Answer{Description: webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"}},
			`{"type":"answer","payload":{"type":"answer","sdp":"v=0"}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.msg, FramingTopLevel)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestEncodeBroadcastWrapsOnlyRelayedMessages(t *testing.T) {
	offer := Offer{Description: webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}}

	got, err := Encode(offer, FramingBroadcast)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"broadcast","data":{"type":"offer","payload":{"type":"offer","sdp":"v=0"}}}`, string(got))

	got, err = Encode(Join{Room: "r", Role: "observer"}, FramingBroadcast)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"join","room":"r","role":"observer"}`, string(got))
}

func TestDecodeToleratesBothFramings(t *testing.T) {
	frames := []string{
		`{"type":"ice-candidate","payload":{"candidate":"candidate:1 1 udp 2130706431 10.0.0.1 5000 typ host","sdpMid":"0","sdpMLineIndex":0}}`,
		`{"type":"broadcast","data":{"type":"ice-candidate","payload":{"candidate":"candidate:1 1 udp 2130706431 10.0.0.1 5000 typ host","sdpMid":"0","sdpMLineIndex":0}}}`,
	}
	for _, frame := range frames {
		msg, err := Decode([]byte(frame))
		require.NoError(t, err)

		c, ok := msg.(ICECandidate)
		require.True(t, ok, "got %T", msg)
		assert.Equal(t, "candidate:1 1 udp 2130706431 10.0.0.1 5000 typ host", c.Candidate.Candidate)
		require.NotNil(t, c.Candidate.SDPMid)
		assert.Equal(t, "0", *c.Candidate.SDPMid)
		require.NotNil(t, c.Candidate.SDPMLineIndex)
		assert.Equal(t, uint16(0), *c.Candidate.SDPMLineIndex)
	}
}

func TestDecodeOfferWithICEServers(t *testing.T) {
	frame := `{"type":"offer","payload":{"type":"offer","sdp":"v=0"},"iceServers":[` +
		`{"urls":"stun:stun.example.org"},` +
		`{"urls":["turn:turn.example.org?transport=udp","turn:turn.example.org?transport=tcp"],"username":"u","credential":"p"}]}`

	msg, err := Decode([]byte(frame))
	require.NoError(t, err)

	offer, ok := msg.(Offer)
	require.True(t, ok, "got %T", msg)
	assert.Equal(t, webrtc.SDPTypeOffer, offer.Description.Type)
	assert.Equal(t, "v=0", offer.Description.SDP)
	require.Len(t, offer.ICEServers, 2)
	assert.Equal(t, []string{"stun:stun.example.org"}, offer.ICEServers[0].URLs)
	assert.Len(t, offer.ICEServers[1].URLs, 2)
	assert.Equal(t, "u", offer.ICEServers[1].Username)
}

func TestOfferICEServersRoundTrip(t *testing.T) {
	in := Offer{
		Description: webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"},
		ICEServers:  []webrtc.ICEServer{{URLs: []string{"turn:t.example.org"}, Username: "u", Credential: "p"}},
	}

	data, err := Encode(in, FramingTopLevel)
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "iceServers")

	out, err := Decode(data)
	require.NoError(t, err)
	offer := out.(Offer)
	require.Len(t, offer.ICEServers, 1)
	assert.Equal(t, []string{"turn:t.example.org"}, offer.ICEServers[0].URLs)
	assert.Equal(t, "u", offer.ICEServers[0].Username)
}

func TestDecodeServerMessages(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"join","role":"observer"}`))
	require.NoError(t, err)
	assert.Equal(t, Join{Role: "observer"}, msg)

	msg, err = Decode([]byte(`{"type":"error","code":4,"text":"Role is already taken in room"}`))
	require.NoError(t, err)
	assert.Equal(t, Error{Code: CodeRoleTaken, Text: "Role is already taken in room"}, msg)

	msg, err = Decode([]byte(`{"type":"pong"}`))
	require.NoError(t, err)
	assert.Equal(t, Pong{}, msg)
}

func TestDecodeUnknownType(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"chat","text":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, Unknown{Type: "chat"}, msg)
	assert.Equal(t, "chat", TypeOf(msg))
}

func TestDecodeMalformed(t *testing.T) {
	frames := map[string]string{
		"not json":           `hello`,
		"array":              `[1,2]`,
		"missing type":       `{"room":"x"}`,
		"offer no payload":   `{"type":"offer"}`,
		"offer no sdp":       `{"type":"offer","payload":{"type":"offer"}}`,
		"offer wrong type":   `{"type":"offer","payload":{"type":"answer","sdp":"v=0"}}`,
		"candidate no data":  `{"type":"ice-candidate"}`,
		"broadcast no data":  `{"type":"broadcast"}`,
		"nested broadcast":   `{"type":"broadcast","data":{"type":"broadcast","data":{"type":"leave"}}}`,
		"bad ice servers":    `{"type":"offer","payload":{"type":"offer","sdp":"v=0"},"iceServers":{"urls":"x"}}`,
		"ice server no urls": `{"type":"offer","payload":{"type":"offer","sdp":"v=0"},"iceServers":[{"username":"u"}]}`,
	}
	for name, frame := range frames {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(frame))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}
