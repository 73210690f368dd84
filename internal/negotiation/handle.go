package negotiation

import (
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/eyecall/internal/util"
)

// ICEState is a handle's connectivity sub-state.
type ICEState int

const (
	ICEStateUnchanged ICEState = iota - 1
	ICEStateNew
	ICEStateConnected
	ICEStateDisconnected
	ICEStateFailed
	ICEStateClosed
)

func (s ICEState) String() string {
	switch s {
	case ICEStateNew:
		return "new"
	case ICEStateConnected:
		return "connected"
	case ICEStateDisconnected:
		return "disconnected"
	case ICEStateFailed:
		return "failed"
	case ICEStateClosed:
		return "closed"
	default:
		return "unchanged"
	}
}

// handle is one PeerConnection attempt. Fields other than pc and gen are
// guarded by the owning Engine's mutex.
type handle struct {
	gen       uint64
	pc        *webrtc.PeerConnection
	state     ICEState
	remoteSet bool
}

// close detaches the callbacks and closes the PeerConnection.
func (h *handle) close() {
	h.pc.OnICECandidate(func(*webrtc.ICECandidate) {})
	h.pc.OnICEConnectionStateChange(func(webrtc.ICEConnectionState) {})
	h.pc.OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver) {})

	if err := h.pc.Close(); err != nil {
		util.LogDebug("negotiation #%d close: %v", h.gen, err)
	}
}
