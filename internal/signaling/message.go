// Package signaling implements the duplex message channel to the signaling
// relay: connection lifecycle, keepalive and the JSON message codec.
package signaling

import (
	"github.com/pion/webrtc/v4"
)

// Subprotocol is the versioned WebSocket subprotocol spoken by the relay.
const Subprotocol = "v1.signaling.wizzeye.app"

// Relay error codes carried by Error messages.
const (
	CodeUnknown    = 1
	CodeBadMessage = 2
	CodeNoRoom     = 3
	CodeRoleTaken  = 4
	CodeBadRoom    = 5
)

// Message is one signaling message. The set of implementations is closed;
// consumers switch on the concrete type.
type Message interface {
	messageType() string
}

// Join is sent by a client to join (or create) a room, and by the relay to
// announce that the peer joined. Room is empty in the latter.
type Join struct {
	Room string
	Role string
}

// Leave announces that the sender (or the peer) left the room.
type Leave struct{}

// Error is a relay rejection.
type Error struct {
	Code int
	Text string
}

// Offer carries the glass-wearer's session description and, optionally,
// the ICE servers the observer should answer with.
type Offer struct {
	Description webrtc.SessionDescription
	ICEServers  []webrtc.ICEServer
}

// Answer carries the observer's session description.
type Answer struct {
	Description webrtc.SessionDescription
}

// ICECandidate relays one trickled candidate.
type ICECandidate struct {
	Candidate webrtc.ICECandidateInit
}

// Ping and Pong are keepalive traffic and never leave the Channel.
type Ping struct{}
type Pong struct{}

// Reset asks the peer to renegotiate without leaving the room.
type Reset struct{}

// Unknown is any message whose type this client does not understand.
type Unknown struct {
	Type string
}

const (
	typeJoin         = "join"
	typeLeave        = "leave"
	typeError        = "error"
	typeOffer        = "offer"
	typeAnswer       = "answer"
	typeICECandidate = "ice-candidate"
	typePing         = "ping"
	typePong         = "pong"
	typeReset        = "reset"
	typeBroadcast    = "broadcast"
)

func (Join) messageType() string         { return typeJoin }
func (Leave) messageType() string        { return typeLeave }
func (Error) messageType() string        { return typeError }
func (Offer) messageType() string        { return typeOffer }
func (Answer) messageType() string       { return typeAnswer }
func (ICECandidate) messageType() string { return typeICECandidate }
func (Ping) messageType() string         { return typePing }
func (Pong) messageType() string         { return typePong }
func (Reset) messageType() string        { return typeReset }
func (u Unknown) messageType() string    { return u.Type }

// TypeOf returns the wire type of m, for logging.
func TypeOf(m Message) string {
	return m.messageType()
}
