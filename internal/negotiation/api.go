package negotiation

import (
	"fmt"
	"time"

	"github.com/pion/ice/v4"
	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/eyecall/internal/util"
)

// Options configures an Engine.
type Options struct {
	// ICEServers are used when a make call does not pass its own.
	ICEServers []webrtc.ICEServer

	// RegisterCodecs fills the MediaEngine. Nil registers pion's defaults.
	RegisterCodecs func(*webrtc.MediaEngine) error

	// MDNS gathers .local host candidates instead of raw addresses.
	MDNS bool
	// IncludeLoopback gathers candidates on loopback interfaces.
	IncludeLoopback bool

	// ICE agent timeouts. Zero values keep pion's defaults.
	ICEDisconnectedTimeout time.Duration
	ICEFailedTimeout       time.Duration
	ICEKeepaliveInterval   time.Duration

	// OnRemoteTrack receives the peer's tracks, current handle only.
	OnRemoteTrack func(*webrtc.TrackRemote, *webrtc.RTPReceiver)

	// LoggerFactory for pion internals. Nil routes them to the app logger.
	LoggerFactory logging.LoggerFactory
}

// newAPI builds the pion API shared by every handle of an Engine.
func newAPI(opts Options) (*webrtc.API, error) {
	me := &webrtc.MediaEngine{}
	register := opts.RegisterCodecs
	if register == nil {
		register = func(me *webrtc.MediaEngine) error { return me.RegisterDefaultCodecs() }
	}
	if err := register(me); err != nil {
		return nil, fmt.Errorf("%w: failed to register codecs: %v", ErrNegotiation, err)
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, ir); err != nil {
		return nil, fmt.Errorf("%w: failed to register interceptors: %v", ErrNegotiation, err)
	}

	se := webrtc.SettingEngine{}
	if opts.LoggerFactory != nil {
		se.LoggerFactory = opts.LoggerFactory
	} else {
		se.LoggerFactory = util.PionLoggerFactory{}
	}

	if opts.MDNS {
		se.SetICEMulticastDNSMode(ice.MulticastDNSModeQueryAndGather)
	} else {
		se.SetICEMulticastDNSMode(ice.MulticastDNSModeDisabled)
	}
	se.SetIncludeLoopbackCandidate(opts.IncludeLoopback)

	if opts.ICEDisconnectedTimeout > 0 || opts.ICEFailedTimeout > 0 || opts.ICEKeepaliveInterval > 0 {
		se.SetICETimeouts(
			orDefault(opts.ICEDisconnectedTimeout, 5*time.Second),
			orDefault(opts.ICEFailedTimeout, 25*time.Second),
			orDefault(opts.ICEKeepaliveInterval, 2*time.Second),
		)
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	), nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
