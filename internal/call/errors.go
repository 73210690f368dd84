package call

import (
	"fmt"

	"github.com/1ureka/eyecall/internal/signaling"
)

// Kind classifies what drove a call to Failed.
type Kind int

const (
	ChannelUnreachable Kind = iota + 1
	InvalidRoom
	RoomBusy
	SignalingProtocolError
	MediaAccessDenied
	NegotiationError
	ConnectivityFailure
)

func (k Kind) String() string {
	switch k {
	case ChannelUnreachable:
		return "channel-unreachable"
	case InvalidRoom:
		return "invalid-room"
	case RoomBusy:
		return "room-busy"
	case SignalingProtocolError:
		return "signaling-protocol-error"
	case MediaAccessDenied:
		return "media-access-denied"
	case NegotiationError:
		return "negotiation-error"
	case ConnectivityFailure:
		return "connectivity-failure"
	default:
		return "unknown"
	}
}

// Message is the text shown to the user.
func (k Kind) Message() string {
	switch k {
	case ChannelUnreachable:
		return "The signaling server is momentarily unreachable. Try again in a moment."
	case InvalidRoom:
		return "The chosen room name is not valid. Try choosing another name."
	case RoomBusy:
		return "Someone with your role has already joined the room. You cannot join this room until they have left."
	case SignalingProtocolError:
		return "An error has occurred while communicating with the signaling server. Try again."
	case MediaAccessDenied:
		return "The camera or microphone on this device could not be accessed. Check that the device exists and that this program may use it."
	case NegotiationError:
		return "An error occurred while establishing the video communication. Try again."
	case ConnectivityFailure:
		return "The remote device could not be reached. This could be due to restrictive firewalls. Consider configuring a TURN server."
	default:
		return "An unknown error occurred."
	}
}

// Error is the terminal failure of a call.
type Error struct {
	Kind   Kind
	Detail string // relay text or short description
	Err    error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Detail != "":
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Detail != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// kindForCode maps a relay error code to a failure kind.
func kindForCode(code int) Kind {
	switch code {
	case signaling.CodeRoleTaken:
		return RoomBusy
	case signaling.CodeBadRoom:
		return InvalidRoom
	default:
		return SignalingProtocolError
	}
}
