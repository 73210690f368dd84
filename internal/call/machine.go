// Package call drives one call: it is the only owner of the call state and
// reconciles signaling messages, negotiation events and media acquisition
// into a single lifecycle.
//
// The Machine is an actor. One goroutine (Run) processes every inbound
// event to completion before taking the next one. Slow work (media
// acquisition, offer/answer creation, applying descriptions and candidates)
// runs elsewhere and reports back as a completion tagged with the epoch
// that launched it; the epoch advances on every state change, so a
// completion that arrives after its state was left is dropped.
package call

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/eyecall/internal/config"
	"github.com/1ureka/eyecall/internal/media"
	"github.com/1ureka/eyecall/internal/negotiation"
	"github.com/1ureka/eyecall/internal/signaling"
	"github.com/1ureka/eyecall/internal/util"
)

// ---------------------------------------------------------------------------
// Collaborators
// ---------------------------------------------------------------------------

// Channel is the signaling channel as seen by the Machine.
type Channel interface {
	Send(signaling.Message) error
	Close() error
	Events() <-chan signaling.Event
}

// Negotiator is the negotiation engine as seen by the Machine.
type Negotiator interface {
	Reset()
	Generation() uint64
	MakeOffer(ctx context.Context, tracks []webrtc.TrackLocal, iceServers []webrtc.ICEServer) (webrtc.SessionDescription, error)
	MakeAnswer(ctx context.Context, tracks []webrtc.TrackLocal, offer webrtc.SessionDescription, iceServers []webrtc.ICEServer) (webrtc.SessionDescription, error)
	SetAnswer(answer webrtc.SessionDescription) error
	AddICECandidate(c webrtc.ICECandidateInit) error
	Events() <-chan negotiation.Event
}

// MediaSource provides local media. It is expected to memoize (see
// media.Shared): the Machine asks again on every renegotiation.
type MediaSource interface {
	Acquire(ctx context.Context) (*media.Stream, error)
}

// UI renders the call. Calls come from the Machine's goroutine only.
type UI interface {
	ShowStatus(text, hint string)
	ShowError(err *Error)
	ShowVideo()
	SetTurbulence(on bool)
}

// Config is the per-call configuration.
type Config struct {
	Room string
	Role config.Role
	// ICEServers are shipped with the glass-wearer's offers.
	ICEServers []webrtc.ICEServer
}

// Deps are the Machine's collaborators.
type Deps struct {
	// Dial opens the signaling channel. It must not block.
	Dial   func(ctx context.Context) Channel
	Engine Negotiator
	Media  MediaSource
	UI     UI
}

// ---------------------------------------------------------------------------
// Completions
// ---------------------------------------------------------------------------

type completion interface {
	launchedAt() uint64
}

// mediaPurpose says what to do with acquired media.
type mediaPurpose int

const (
	purposeEstablish mediaPurpose = iota // first acquisition after join
	purposeReoffer                       // glass-wearer renegotiation
	purposeAnswer                        // observer answering an offer
)

type mediaResult struct {
	epoch   uint64
	purpose mediaPurpose
	offer   signaling.Offer
	stream  *media.Stream
	err     error
}

type offerResult struct {
	epoch, gen uint64
	desc       webrtc.SessionDescription
	err        error
}

type answerResult struct {
	epoch, gen uint64
	desc       webrtc.SessionDescription
	err        error
}

type setAnswerResult struct {
	epoch, gen uint64
	err        error
}

type candidateResult struct {
	epoch, gen uint64
	err        error
}

func (r mediaResult) launchedAt() uint64     { return r.epoch }
func (r offerResult) launchedAt() uint64     { return r.epoch }
func (r answerResult) launchedAt() uint64    { return r.epoch }
func (r setAnswerResult) launchedAt() uint64 { return r.epoch }
func (r candidateResult) launchedAt() uint64 { return r.epoch }

// ---------------------------------------------------------------------------
// Machine
// ---------------------------------------------------------------------------

// Machine is the single authority over a call's state.
type Machine struct {
	cfg  Config
	deps Deps

	ctx         context.Context
	ch          Channel
	completions chan completion

	// spawn runs job off the actor goroutine and delivers its completion.
	spawn func(job func() completion)

	state   State
	epoch   uint64
	gen     uint64 // negotiation generation the machine is driving
	failure *Error

	// Local candidates are held back until the offer or answer of their
	// generation has been sent.
	announced bool
	held      []webrtc.ICECandidateInit

	turbulence bool
}

// New builds a Machine in the Loading state.
func New(cfg Config, deps Deps) *Machine {
	m := &Machine{
		cfg:         cfg,
		deps:        deps,
		ctx:         context.Background(),
		completions: make(chan completion, 16),
		state:       Loading,
	}
	m.spawn = m.spawnGoroutine
	return m
}

func (m *Machine) spawnGoroutine(job func() completion) {
	go func() {
		c := job()
		select {
		case m.completions <- c:
		case <-m.ctx.Done():
		}
	}()
}

// State returns the current state. Only safe from the actor goroutine or
// after Run returned.
func (m *Machine) State() State {
	return m.state
}

// Run drives the call until the context is cancelled (a deliberate hangup,
// returning nil) or the call fails (returning the *Error).
func (m *Machine) Run(ctx context.Context) error {
	m.start(ctx)

	for {
		if m.state == Failed {
			return m.failure
		}

		select {
		case <-ctx.Done():
			m.hangup()
			return nil

		case ev := <-m.ch.Events():
			m.onSignal(ev)

		case ev := <-m.deps.Engine.Events():
			m.onEngine(ev)

		case c := <-m.completions:
			m.onCompletion(c)
		}
	}
}

// start performs the init transition: Loading → ConnectingSignaling.
func (m *Machine) start(ctx context.Context) {
	m.ctx = ctx
	m.gen = m.deps.Engine.Generation()

	text, hint := Status(Loading, m.cfg.Role)
	m.deps.UI.ShowStatus(text, hint)

	m.setState(ConnectingSignaling)
	m.ch = m.deps.Dial(ctx)
}

// setState is the only writer of m.state. Failed is absorbing.
func (m *Machine) setState(s State) {
	if m.state == Failed {
		return
	}
	util.LogDebug("call state: %s → %s", m.state, s)
	m.state = s
	m.epoch++

	if m.turbulence {
		m.turbulence = false
		m.deps.UI.SetTurbulence(false)
	}

	switch s {
	case Failed:
		m.deps.UI.ShowError(m.failure)
	case InCall:
		m.deps.UI.ShowVideo()
	default:
		m.deps.UI.ShowStatus(Status(s, m.cfg.Role))
	}
}

// supersede invalidates completions launched in the current state without
// changing it.
func (m *Machine) supersede() {
	m.epoch++
}

func (m *Machine) isGlassWearer() bool {
	return m.cfg.Role == config.RoleGlassWearer
}

// ---------------------------------------------------------------------------
// Side effects
// ---------------------------------------------------------------------------

func (m *Machine) send(msg signaling.Message) {
	if err := m.ch.Send(msg); err != nil {
		util.LogWarning("failed to send %s: %v", signaling.TypeOf(msg), err)
	}
}

// resetNegotiation invalidates the current handle and follows the engine
// to its next generation.
func (m *Machine) resetNegotiation() {
	m.deps.Engine.Reset()
	m.gen = m.deps.Engine.Generation()
	m.announced = false
	m.held = nil
}

// die enters Failed: negotiation is torn down, the peer is told we left
// and the channel is closed before the error is shown.
func (m *Machine) die(kind Kind, detail string, err error) {
	if m.state == Failed {
		return
	}
	m.resetNegotiation()
	m.send(signaling.Leave{})
	m.ch.Close()

	m.failure = &Error{Kind: kind, Detail: detail, Err: err}
	util.LogError("call failed: %v", m.failure)
	m.setState(Failed)
}

// hangup leaves deliberately: leave is sent and the channel closed before
// negotiation is torn down, so the peer goes back to waiting at once.
func (m *Machine) hangup() {
	if m.state == Failed {
		return
	}
	util.LogInfo("leaving room %s", m.cfg.Room)
	m.send(signaling.Leave{})
	m.ch.Close()
	m.deps.Engine.Reset()
}

// ---------------------------------------------------------------------------
// Signaling events
// ---------------------------------------------------------------------------

func (m *Machine) onSignal(ev signaling.Event) {
	if m.state == Failed {
		return
	}

	switch ev := ev.(type) {
	case signaling.Opened:
		if m.state != ConnectingSignaling {
			return
		}
		m.setState(WaitingForPeer)
		m.send(signaling.Join{Room: m.cfg.Room, Role: string(m.cfg.Role)})

	case signaling.Failed:
		if errors.Is(ev.Err, signaling.ErrMalformed) {
			m.die(SignalingProtocolError, "malformed message from server", ev.Err)
			return
		}
		m.die(ChannelUnreachable, "", ev.Err)

	case signaling.Closed:
		m.die(ChannelUnreachable, "signaling connection closed", nil)

	case signaling.Received:
		m.onMessage(ev.Message)
	}
}

func (m *Machine) onMessage(msg signaling.Message) {
	switch msg := msg.(type) {
	case signaling.Error:
		m.die(kindForCode(msg.Code), msg.Text, nil)

	case signaling.Join:
		if m.state != WaitingForPeer {
			return
		}
		util.LogInfo("peer joined as %s", msg.Role)
		m.setState(AcquiringMedia)
		m.acquire(purposeEstablish, signaling.Offer{})

	case signaling.Leave:
		if m.state <= WaitingForPeer {
			return
		}
		util.LogInfo("peer left the room")
		m.resetNegotiation()
		m.setState(WaitingForPeer)

	case signaling.Reset:
		if m.state < Establishing {
			return
		}
		util.LogInfo("peer requested renegotiation")
		m.renegotiate()

	case signaling.Offer:
		if m.state < AcquiringMedia {
			return
		}
		if m.isGlassWearer() {
			util.LogWarning("ignoring offer: only the observer answers")
			return
		}
		m.resetNegotiation()
		if m.state > Establishing {
			m.setState(Establishing)
		} else {
			m.supersede()
		}
		m.acquire(purposeAnswer, msg)

	case signaling.Answer:
		if m.state != Establishing {
			return
		}
		if !m.isGlassWearer() {
			util.LogWarning("ignoring answer: only the glass wearer offers")
			return
		}
		m.setAnswer(msg.Description)

	case signaling.ICECandidate:
		if m.state < AcquiringMedia {
			return
		}
		util.Stats.AddRemoteCandidate()
		m.addCandidate(msg.Candidate)

	case signaling.Unknown:
		util.LogWarning("ignoring unknown message type %q", msg.Type)

	case signaling.Ping, signaling.Pong:
		// Handled by the channel.
	}
}

// renegotiate restarts negotiation from Establishing without leaving the
// room. The glass-wearer offers again with the media it already holds.
func (m *Machine) renegotiate() {
	m.resetNegotiation()
	m.setState(Establishing)
	if m.isGlassWearer() {
		m.acquire(purposeReoffer, signaling.Offer{})
	}
}

// ---------------------------------------------------------------------------
// Negotiation events
// ---------------------------------------------------------------------------

func (m *Machine) onEngine(ev negotiation.Event) {
	if m.state == Failed {
		return
	}
	if ev.Gen() != m.gen {
		util.LogDebug("dropping %T from negotiation #%d", ev, ev.Gen())
		return
	}

	switch ev := ev.(type) {
	case negotiation.LocalCandidate:
		if !m.announced {
			m.held = append(m.held, ev.Candidate)
			return
		}
		m.sendCandidate(ev.Candidate)

	case negotiation.Connected:
		if m.turbulence {
			m.turbulence = false
			m.deps.UI.SetTurbulence(false)
		}
		if m.state == Establishing {
			m.setState(InCall)
		}

	case negotiation.Disconnected:
		if m.state == InCall && !m.turbulence {
			m.turbulence = true
			m.deps.UI.SetTurbulence(true)
		}

	case negotiation.Failed:
		switch m.state {
		case Establishing:
			m.die(ConnectivityFailure, "ICE failed", nil)
		case InCall:
			util.LogWarning("connectivity lost, renegotiating")
			m.resetNegotiation()
			m.setState(Establishing)
			m.send(signaling.Reset{})
			if m.isGlassWearer() {
				m.acquire(purposeReoffer, signaling.Offer{})
			}
		}
	}
}

func (m *Machine) sendCandidate(c webrtc.ICECandidateInit) {
	util.Stats.AddLocalCandidate()
	m.send(signaling.ICECandidate{Candidate: c})
}

// announce marks the local description of the current generation as sent
// and releases the candidates held for it.
func (m *Machine) announce() {
	m.announced = true
	held := m.held
	m.held = nil
	for _, c := range held {
		m.sendCandidate(c)
	}
}

// ---------------------------------------------------------------------------
// Async operations
// ---------------------------------------------------------------------------

func (m *Machine) acquire(purpose mediaPurpose, offer signaling.Offer) {
	epoch, ctx, src := m.epoch, m.ctx, m.deps.Media
	m.spawn(func() completion {
		stream, err := src.Acquire(ctx)
		return mediaResult{epoch: epoch, purpose: purpose, offer: offer, stream: stream, err: err}
	})
}

func (m *Machine) makeOffer(stream *media.Stream) {
	epoch, gen, ctx, engine := m.epoch, m.gen, m.ctx, m.deps.Engine
	servers := m.cfg.ICEServers
	m.spawn(func() completion {
		desc, err := engine.MakeOffer(ctx, stream.Tracks, servers)
		return offerResult{epoch: epoch, gen: gen, desc: desc, err: err}
	})
}

func (m *Machine) makeAnswer(stream *media.Stream, offer signaling.Offer) {
	epoch, gen, ctx, engine := m.epoch, m.gen, m.ctx, m.deps.Engine
	m.spawn(func() completion {
		desc, err := engine.MakeAnswer(ctx, stream.Tracks, offer.Description, offer.ICEServers)
		return answerResult{epoch: epoch, gen: gen, desc: desc, err: err}
	})
}

func (m *Machine) setAnswer(desc webrtc.SessionDescription) {
	epoch, gen, engine := m.epoch, m.gen, m.deps.Engine
	m.spawn(func() completion {
		return setAnswerResult{epoch: epoch, gen: gen, err: engine.SetAnswer(desc)}
	})
}

func (m *Machine) addCandidate(c webrtc.ICECandidateInit) {
	epoch, gen, engine := m.epoch, m.gen, m.deps.Engine
	m.spawn(func() completion {
		return candidateResult{epoch: epoch, gen: gen, err: engine.AddICECandidate(c)}
	})
}

// ---------------------------------------------------------------------------
// Completions
// ---------------------------------------------------------------------------

func (m *Machine) onCompletion(c completion) {
	if m.state == Failed {
		return
	}
	if c.launchedAt() != m.epoch {
		util.LogDebug("dropping stale %T", c)
		return
	}

	switch c := c.(type) {
	case mediaResult:
		m.onMedia(c)

	case offerResult:
		if c.gen != m.gen || errors.Is(c.err, negotiation.ErrSuperseded) {
			return
		}
		if c.err != nil {
			m.die(NegotiationError, "failed to create offer", c.err)
			return
		}
		m.send(signaling.Offer{Description: c.desc, ICEServers: m.cfg.ICEServers})
		m.announce()

	case answerResult:
		if c.gen != m.gen || errors.Is(c.err, negotiation.ErrSuperseded) {
			return
		}
		if c.err != nil {
			m.die(NegotiationError, "failed to create answer", c.err)
			return
		}
		m.send(signaling.Answer{Description: c.desc})
		m.announce()

	case setAnswerResult:
		if c.gen != m.gen || errors.Is(c.err, negotiation.ErrSuperseded) {
			return
		}
		if errors.Is(c.err, negotiation.ErrNoHandle) {
			util.LogWarning("ignoring answer without a pending offer")
			return
		}
		if c.err != nil {
			m.die(NegotiationError, "failed to apply answer", c.err)
		}

	case candidateResult:
		if c.gen != m.gen || errors.Is(c.err, negotiation.ErrSuperseded) {
			return
		}
		if c.err != nil {
			m.die(NegotiationError, "failed to apply ICE candidate", c.err)
		}
	}
}

func (m *Machine) onMedia(r mediaResult) {
	if r.err != nil {
		m.die(MediaAccessDenied, "", r.err)
		return
	}

	switch r.purpose {
	case purposeEstablish:
		m.setState(Establishing)
		if m.isGlassWearer() {
			m.makeOffer(r.stream)
		}

	case purposeReoffer:
		m.makeOffer(r.stream)

	case purposeAnswer:
		if m.state < Establishing {
			m.setState(Establishing)
		}
		m.makeAnswer(r.stream, r.offer)
	}
}
