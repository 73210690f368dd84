// Package negotiation wraps one pion PeerConnection at a time behind an
// offer/answer API. Every PeerConnection ("handle") belongs to a
// generation; Reset invalidates the current generation before a new handle
// can be created, and a handle from an old generation never produces events.
package negotiation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/eyecall/internal/util"
)

var (
	// ErrNegotiation wraps every rejection from the pion stack.
	ErrNegotiation = errors.New("negotiation error")
	// ErrSuperseded is returned by an operation whose generation was
	// invalidated by Reset while it was running.
	ErrSuperseded = errors.New("negotiation superseded")
	// ErrNoHandle is returned by SetAnswer when no handle exists.
	ErrNoHandle = errors.New("no active negotiation")
	// ErrHandleInUse is returned by MakeOffer and MakeAnswer when the
	// current generation already has a handle. Call Reset first.
	ErrHandleInUse = errors.New("negotiation already started; reset first")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("negotiation engine closed")
)

const eventBuffer = 256

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// Event is a notification from the current handle.
type Event interface {
	Gen() uint64
}

// Connected is delivered when ICE reaches connected (or completed).
type Connected struct{ Generation uint64 }

// Disconnected is delivered when ICE loses connectivity. It may recover.
type Disconnected struct{ Generation uint64 }

// Failed is delivered when ICE gave up.
type Failed struct{ Generation uint64 }

// LocalCandidate carries one gathered candidate to relay to the peer.
type LocalCandidate struct {
	Generation uint64
	Candidate  webrtc.ICECandidateInit
}

func (e Connected) Gen() uint64      { return e.Generation }
func (e Disconnected) Gen() uint64   { return e.Generation }
func (e Failed) Gen() uint64         { return e.Generation }
func (e LocalCandidate) Gen() uint64 { return e.Generation }

// ---------------------------------------------------------------------------
// Engine
// ---------------------------------------------------------------------------

// slot is one generation. It holds at most one handle, plus the remote
// candidates received before that handle had a remote description.
type slot struct {
	gen       uint64
	cancelled chan struct{}
	claimed   bool
	h         *handle
	pending   []webrtc.ICECandidateInit
}

func newSlot(gen uint64) *slot {
	return &slot{gen: gen, cancelled: make(chan struct{})}
}

func (s *slot) isCancelled() bool {
	select {
	case <-s.cancelled:
		return true
	default:
		return false
	}
}

// Engine owns the current handle. It is safe for concurrent use.
type Engine struct {
	api    *webrtc.API
	opts   Options
	events chan Event

	mu     sync.Mutex
	slot   *slot
	closed bool

	// testHookInstall runs after a handle's PeerConnection was created and
	// before it is installed into its slot.
	testHookInstall func()
}

// New builds an Engine with an empty first generation.
func New(opts Options) (*Engine, error) {
	api, err := newAPI(opts)
	if err != nil {
		return nil, err
	}
	return &Engine{
		api:    api,
		opts:   opts,
		events: make(chan Event, eventBuffer),
		slot:   newSlot(1),
	}, nil
}

// Events returns the event stream. Consumers should drop events whose
// generation differs from Generation(): an event queued before a Reset
// stays in the buffer.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// Generation returns the current generation number.
func (e *Engine) Generation() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.slot.gen
}

// State returns the ICE sub-state of the current handle.
func (e *Engine) State() ICEState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.slot.h == nil {
		return ICEStateNew
	}
	return e.slot.h.state
}

// Reset invalidates the current generation and prepares the next one.
// Operations of the old generation observe ErrSuperseded as soon as Reset
// returns; the old PeerConnection is closed in the background.
func (e *Engine) Reset() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	old := e.slot
	close(old.cancelled)
	e.slot = newSlot(old.gen + 1)
	e.mu.Unlock()

	util.Stats.AddReset()
	if old.h != nil {
		util.LogDebug("negotiation #%d invalidated", old.gen)
		go old.h.close()
	}
}

// Close invalidates the current generation and refuses further work.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	old := e.slot
	close(old.cancelled)
	e.mu.Unlock()

	if old.h != nil {
		old.h.close()
	}
}

// MakeOffer creates the handle for the current generation, attaches the
// local tracks and returns the local offer.
func (e *Engine) MakeOffer(ctx context.Context, tracks []webrtc.TrackLocal, iceServers []webrtc.ICEServer) (webrtc.SessionDescription, error) {
	s, h, err := e.open(tracks, iceServers)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}

	offer, err := h.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: failed to create offer: %v", ErrNegotiation, err)
	}
	if err := e.checkpoint(ctx, s); err != nil {
		return webrtc.SessionDescription{}, err
	}

	if err := h.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: failed to set local offer: %v", ErrNegotiation, err)
	}
	if err := e.checkpoint(ctx, s); err != nil {
		return webrtc.SessionDescription{}, err
	}

	util.Stats.AddNegotiation()
	return offer, nil
}

// MakeAnswer creates the handle for the current generation, applies the
// remote offer, attaches the local tracks and returns the local answer.
func (e *Engine) MakeAnswer(ctx context.Context, tracks []webrtc.TrackLocal, offer webrtc.SessionDescription, iceServers []webrtc.ICEServer) (webrtc.SessionDescription, error) {
	s, h, err := e.open(tracks, iceServers)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}

	if err := h.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: remote offer rejected: %v", ErrNegotiation, err)
	}
	if err := e.remoteApplied(s, h); err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := e.checkpoint(ctx, s); err != nil {
		return webrtc.SessionDescription{}, err
	}

	answer, err := h.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: failed to create answer: %v", ErrNegotiation, err)
	}
	if err := e.checkpoint(ctx, s); err != nil {
		return webrtc.SessionDescription{}, err
	}

	if err := h.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: failed to set local answer: %v", ErrNegotiation, err)
	}
	if err := e.checkpoint(ctx, s); err != nil {
		return webrtc.SessionDescription{}, err
	}

	util.Stats.AddNegotiation()
	return answer, nil
}

// SetAnswer applies the peer's answer to the current handle.
func (e *Engine) SetAnswer(answer webrtc.SessionDescription) error {
	e.mu.Lock()
	s := e.slot
	h := s.h
	closed := e.closed
	e.mu.Unlock()

	switch {
	case closed:
		return ErrClosed
	case h == nil:
		return ErrNoHandle
	}

	if err := h.pc.SetRemoteDescription(answer); err != nil {
		if s.isCancelled() {
			return ErrSuperseded
		}
		return fmt.Errorf("%w: remote answer rejected: %v", ErrNegotiation, err)
	}
	return e.remoteApplied(s, h)
}

// AddICECandidate applies a remote candidate to the current handle, or
// queues it until the handle has a remote description.
func (e *Engine) AddICECandidate(c webrtc.ICECandidateInit) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	s := e.slot
	if s.h == nil || !s.h.remoteSet {
		s.pending = append(s.pending, c)
		e.mu.Unlock()
		return nil
	}
	h := s.h
	e.mu.Unlock()

	if err := h.pc.AddICECandidate(c); err != nil {
		if s.isCancelled() {
			return ErrSuperseded
		}
		return fmt.Errorf("%w: remote candidate rejected: %v", ErrNegotiation, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Internals
// ---------------------------------------------------------------------------

// open claims the current slot, creates its PeerConnection with the local
// tracks attached and installs it.
func (e *Engine) open(tracks []webrtc.TrackLocal, iceServers []webrtc.ICEServer) (*slot, *handle, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, nil, ErrClosed
	}
	s := e.slot
	if s.claimed {
		e.mu.Unlock()
		return nil, nil, ErrHandleInUse
	}
	s.claimed = true
	e.mu.Unlock()

	if len(iceServers) == 0 {
		iceServers = e.opts.ICEServers
	}
	pc, err := e.api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: failed to create peer connection: %v", ErrNegotiation, err)
	}

	h := &handle{gen: s.gen, pc: pc, state: ICEStateNew}
	e.watch(h)

	for _, track := range tracks {
		if _, err := pc.AddTrack(track); err != nil {
			h.close()
			return nil, nil, fmt.Errorf("%w: failed to add %s track: %v", ErrNegotiation, track.Kind(), err)
		}
	}

	if e.testHookInstall != nil {
		e.testHookInstall()
	}

	e.mu.Lock()
	if e.slot != s || e.closed {
		e.mu.Unlock()
		h.close()
		return nil, nil, ErrSuperseded
	}
	s.h = h
	e.mu.Unlock()

	util.LogDebug("negotiation #%d started", s.gen)
	return s, h, nil
}

// checkpoint fails when s was invalidated or ctx is done.
func (e *Engine) checkpoint(ctx context.Context, s *slot) error {
	if s.isCancelled() {
		return ErrSuperseded
	}
	return ctx.Err()
}

// remoteApplied marks h as having a remote description and flushes the
// candidates queued for it.
func (e *Engine) remoteApplied(s *slot, h *handle) error {
	e.mu.Lock()
	if e.slot != s {
		e.mu.Unlock()
		return ErrSuperseded
	}
	h.remoteSet = true
	pending := s.pending
	s.pending = nil
	e.mu.Unlock()

	for _, c := range pending {
		if err := h.pc.AddICECandidate(c); err != nil {
			util.LogWarning("failed to apply queued ICE candidate: %v", err)
		}
	}
	return nil
}

// watch registers h's callbacks. Each one only acts while h's generation is
// current.
func (e *Engine) watch(h *handle) {
	h.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		e.emitFor(h, ICEStateUnchanged, LocalCandidate{Generation: h.gen, Candidate: c.ToJSON()})
	})

	h.pc.OnICEConnectionStateChange(func(st webrtc.ICEConnectionState) {
		util.LogDebug("negotiation #%d ICE state: %s", h.gen, st.String())
		switch st {
		case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
			e.emitFor(h, ICEStateConnected, Connected{Generation: h.gen})
		case webrtc.ICEConnectionStateDisconnected:
			e.emitFor(h, ICEStateDisconnected, Disconnected{Generation: h.gen})
		case webrtc.ICEConnectionStateFailed:
			e.emitFor(h, ICEStateFailed, Failed{Generation: h.gen})
		case webrtc.ICEConnectionStateClosed:
			e.emitFor(h, ICEStateClosed, nil)
		}
	})

	h.pc.OnTrack(func(track *webrtc.TrackRemote, recv *webrtc.RTPReceiver) {
		if e.opts.OnRemoteTrack == nil || !e.isCurrent(h) {
			return
		}
		util.LogDebug("negotiation #%d remote %s track (%s)", h.gen, track.Kind(), track.Codec().MimeType)
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			go requestKeyframe(h, track)
		}
		e.opts.OnRemoteTrack(track, recv)
	})
}

// requestKeyframe asks the sender for a keyframe so the sink does not
// start on a partial picture.
func requestKeyframe(h *handle, track *webrtc.TrackRemote) {
	err := h.pc.WriteRTCP([]rtcp.Packet{
		&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())},
	})
	if err != nil {
		util.LogDebug("negotiation #%d keyframe request: %v", h.gen, err)
	}
}

func (e *Engine) isCurrent(h *handle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.closed && e.slot.h == h
}

// emitFor moves h to state (unless ICEStateUnchanged) and queues ev, both
// only if h is still current. Repeated transitions into the same state are
// dropped. The event is queued under the lock so no event of h can be
// queued once Reset has returned.
func (e *Engine) emitFor(h *handle, state ICEState, ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed || e.slot.gen != h.gen {
		return
	}
	if state != ICEStateUnchanged {
		if h.state == state {
			return
		}
		h.state = state
	}
	if ev == nil {
		return
	}

	select {
	case e.events <- ev:
	default:
		util.LogWarning("negotiation event queue full, dropping %T", ev)
	}
}
