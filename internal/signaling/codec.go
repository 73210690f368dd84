package signaling

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// ErrMalformed marks an inbound frame that could not be decoded.
var ErrMalformed = errors.New("malformed signaling message")

// Framing selects how session descriptions and candidates are put on the wire.
type Framing int

const (
	// FramingTopLevel sends offer, answer and ice-candidate as top-level
	// messages. This is the canonical framing.
	FramingTopLevel Framing = iota
	// FramingBroadcast wraps them as {type:"broadcast", data:{...}} for
	// relays speaking the older protocol revision.
	FramingBroadcast
)

// wireMessage is the JSON object exchanged with the relay.
type wireMessage struct {
	Type       string          `json:"type"`
	Code       int             `json:"code,omitempty"`
	Text       string          `json:"text,omitempty"`
	Room       string          `json:"room,omitempty"`
	Role       string          `json:"role,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	ICEServers json.RawMessage `json:"iceServers,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// wireDescription is the {type, sdp} object browsers exchange.
type wireDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// wireICEServer accepts urls as either a string or a list.
type wireICEServer struct {
	URLs       json.RawMessage `json:"urls"`
	Username   string          `json:"username,omitempty"`
	Credential string          `json:"credential,omitempty"`
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

// Encode serializes m into one JSON text frame.
func Encode(m Message, framing Framing) ([]byte, error) {
	w, err := toWire(m)
	if err != nil {
		return nil, err
	}

	if framing == FramingBroadcast && isRelayed(m) {
		inner, err := json.Marshal(w)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", w.Type, err)
		}
		w = &wireMessage{Type: typeBroadcast, Data: inner}
	}

	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", w.Type, err)
	}
	return data, nil
}

func isRelayed(m Message) bool {
	switch m.(type) {
	case Offer, Answer, ICECandidate:
		return true
	}
	return false
}

func toWire(m Message) (*wireMessage, error) {
	w := &wireMessage{Type: m.messageType()}

	switch v := m.(type) {
	case Join:
		w.Room, w.Role = v.Room, v.Role
	case Error:
		w.Code, w.Text = v.Code, v.Text
	case Offer:
		payload, err := json.Marshal(wireDescription{Type: v.Description.Type.String(), SDP: v.Description.SDP})
		if err != nil {
			return nil, fmt.Errorf("failed to encode offer: %w", err)
		}
		w.Payload = payload
		if len(v.ICEServers) > 0 {
			servers, err := json.Marshal(v.ICEServers)
			if err != nil {
				return nil, fmt.Errorf("failed to encode ICE servers: %w", err)
			}
			w.ICEServers = servers
		}
	case Answer:
		payload, err := json.Marshal(wireDescription{Type: v.Description.Type.String(), SDP: v.Description.SDP})
		if err != nil {
			return nil, fmt.Errorf("failed to encode answer: %w", err)
		}
		w.Payload = payload
	case ICECandidate:
		payload, err := json.Marshal(v.Candidate)
		if err != nil {
			return nil, fmt.Errorf("failed to encode candidate: %w", err)
		}
		w.Payload = payload
	case Unknown:
		if v.Type == "" {
			return nil, errors.New("cannot encode message without a type")
		}
	}
	return w, nil
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

// Decode parses one JSON text frame. Both top-level and broadcast-wrapped
// framings are accepted. Unrecognized types decode to Unknown. Every
// decoding failure wraps ErrMalformed.
func Decode(data []byte) (Message, error) {
	w, err := unmarshalWire(data)
	if err != nil {
		return nil, err
	}

	if w.Type == typeBroadcast {
		if len(w.Data) == 0 {
			return nil, fmt.Errorf("%w: broadcast without data", ErrMalformed)
		}
		if w, err = unmarshalWire(w.Data); err != nil {
			return nil, err
		}
		if w.Type == typeBroadcast {
			return nil, fmt.Errorf("%w: nested broadcast", ErrMalformed)
		}
	}

	return fromWire(w)
}

func unmarshalWire(data []byte) (*wireMessage, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if w.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return &w, nil
}

func fromWire(w *wireMessage) (Message, error) {
	switch w.Type {
	case typeJoin:
		return Join{Room: w.Room, Role: w.Role}, nil
	case typeLeave:
		return Leave{}, nil
	case typeError:
		return Error{Code: w.Code, Text: w.Text}, nil
	case typePing:
		return Ping{}, nil
	case typePong:
		return Pong{}, nil
	case typeReset:
		return Reset{}, nil

	case typeOffer:
		desc, err := decodeDescription(w.Payload, webrtc.SDPTypeOffer)
		if err != nil {
			return nil, err
		}
		servers, err := decodeICEServers(w.ICEServers)
		if err != nil {
			return nil, err
		}
		return Offer{Description: desc, ICEServers: servers}, nil

	case typeAnswer:
		desc, err := decodeDescription(w.Payload, webrtc.SDPTypeAnswer)
		if err != nil {
			return nil, err
		}
		return Answer{Description: desc}, nil

	case typeICECandidate:
		if len(w.Payload) == 0 {
			return nil, fmt.Errorf("%w: ice-candidate without payload", ErrMalformed)
		}
		var c webrtc.ICECandidateInit
		if err := json.Unmarshal(w.Payload, &c); err != nil {
			return nil, fmt.Errorf("%w: ice-candidate payload: %v", ErrMalformed, err)
		}
		return ICECandidate{Candidate: c}, nil

	default:
		return Unknown{Type: w.Type}, nil
	}
}

func decodeDescription(raw json.RawMessage, want webrtc.SDPType) (webrtc.SessionDescription, error) {
	if len(raw) == 0 {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %s without payload", ErrMalformed, want)
	}
	var d wireDescription
	if err := json.Unmarshal(raw, &d); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %s payload: %v", ErrMalformed, want, err)
	}
	if d.SDP == "" {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %s payload without sdp", ErrMalformed, want)
	}
	if d.Type != "" && d.Type != want.String() {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %s payload of type %q", ErrMalformed, want, d.Type)
	}
	return webrtc.SessionDescription{Type: want, SDP: d.SDP}, nil
}

func decodeICEServers(raw json.RawMessage) ([]webrtc.ICEServer, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var wire []wireICEServer
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("%w: iceServers: %v", ErrMalformed, err)
	}

	servers := make([]webrtc.ICEServer, 0, len(wire))
	for _, s := range wire {
		urls, err := decodeURLs(s.URLs)
		if err != nil {
			return nil, err
		}
		servers = append(servers, webrtc.ICEServer{
			URLs:       urls,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return servers, nil
}

func decodeURLs(raw json.RawMessage) ([]string, error) {
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return []string{one}, nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err != nil || len(many) == 0 {
		return nil, fmt.Errorf("%w: iceServers entry without urls", ErrMalformed)
	}
	return many, nil
}
