package call

import "github.com/1ureka/eyecall/internal/config"

// State is the call lifecycle state. The order matters: the transition
// rules compare states with < and >=.
type State int

const (
	Loading State = iota
	ConnectingSignaling
	WaitingForPeer
	AcquiringMedia
	Establishing
	InCall
	Failed
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case ConnectingSignaling:
		return "connecting-signaling"
	case WaitingForPeer:
		return "waiting-for-peer"
	case AcquiringMedia:
		return "acquiring-media"
	case Establishing:
		return "establishing"
	case InCall:
		return "in-call"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status returns the status line and hint shown to role while in s.
func Status(s State, role config.Role) (text, hint string) {
	glass := role == config.RoleGlassWearer

	switch s {
	case Loading:
		return "Loading", ""
	case ConnectingSignaling:
		return "Connecting to signaling server", ""
	case WaitingForPeer:
		if glass {
			return "Waiting for remote observer to join",
				"Please direct the observer to this room. You can send them the URL of this room."
		}
		return "Waiting for remote glass wearer to join",
			"Please direct the remote glass wearer to this room. You can send them the URL of this room."
	case AcquiringMedia:
		if glass {
			return "Requesting camera and microphone access",
				"Please allow this program to access your camera and microphone."
		}
		return "Requesting microphone access",
			"Please allow this program to access your microphone."
	case Establishing:
		return "Establishing video connection", ""
	case InCall:
		return "Call in progress", ""
	case Failed:
		return "Call failed", ""
	default:
		return s.String(), ""
	}
}
