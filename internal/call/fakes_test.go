package call

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/eyecall/internal/config"
	"github.com/1ureka/eyecall/internal/media"
	"github.com/1ureka/eyecall/internal/negotiation"
	"github.com/1ureka/eyecall/internal/signaling"
)

// journal records side effects across fakes, in order.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(format string, args ...interface{}) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
}

func (j *journal) all() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

// ---------------------------------------------------------------------------
// Channel
// ---------------------------------------------------------------------------

type fakeChannel struct {
	log    *journal
	events chan signaling.Event

	mu     sync.Mutex
	sent   []signaling.Message
	closes int
}

func newFakeChannel(log *journal) *fakeChannel {
	return &fakeChannel{log: log, events: make(chan signaling.Event, 16)}
}

func (c *fakeChannel) Send(msg signaling.Message) error {
	c.mu.Lock()
	c.sent = append(c.sent, msg)
	c.mu.Unlock()
	c.log.add("send:%s", signaling.TypeOf(msg))
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	c.log.add("close")
	return nil
}

func (c *fakeChannel) Events() <-chan signaling.Event { return c.events }

func (c *fakeChannel) messages() []signaling.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]signaling.Message(nil), c.sent...)
}

func (c *fakeChannel) sentOfType(typ string) int {
	n := 0
	for _, m := range c.messages() {
		if signaling.TypeOf(m) == typ {
			n++
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// Engine
// ---------------------------------------------------------------------------

type fakeEngine struct {
	log    *journal
	events chan negotiation.Event

	mu           sync.Mutex
	gen          uint64
	resets       int
	offers       int
	answers      int
	setAnswers   int
	candidates   int
	answerICE    []webrtc.ICEServer
	offerErr     error
	setAnswerErr error
}

func newFakeEngine(log *journal) *fakeEngine {
	return &fakeEngine{log: log, gen: 1, events: make(chan negotiation.Event, 16)}
}

func (e *fakeEngine) Reset() {
	e.mu.Lock()
	e.gen++
	e.resets++
	e.mu.Unlock()
	e.log.add("reset")
}

func (e *fakeEngine) Generation() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gen
}

func (e *fakeEngine) MakeOffer(_ context.Context, _ []webrtc.TrackLocal, _ []webrtc.ICEServer) (webrtc.SessionDescription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.offers++
	if e.offerErr != nil {
		return webrtc.SessionDescription{}, e.offerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%d", e.gen)}, nil
}

func (e *fakeEngine) MakeAnswer(_ context.Context, _ []webrtc.TrackLocal, _ webrtc.SessionDescription, ice []webrtc.ICEServer) (webrtc.SessionDescription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.answers++
	e.answerICE = ice
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("answer-%d", e.gen)}, nil
}

func (e *fakeEngine) SetAnswer(webrtc.SessionDescription) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setAnswers++
	return e.setAnswerErr
}

func (e *fakeEngine) AddICECandidate(webrtc.ICECandidateInit) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.candidates++
	return nil
}

func (e *fakeEngine) Events() <-chan negotiation.Event { return e.events }

func (e *fakeEngine) count(f func(*fakeEngine) int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return f(e)
}

// ---------------------------------------------------------------------------
// UI
// ---------------------------------------------------------------------------

type fakeUI struct {
	mu         sync.Mutex
	statuses   []string
	errors     []*Error
	videos     int
	turbulence []bool
	videoShown chan struct{}
}

func newFakeUI() *fakeUI {
	return &fakeUI{videoShown: make(chan struct{}, 4)}
}

func (u *fakeUI) ShowStatus(text, _ string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.statuses = append(u.statuses, text)
}

func (u *fakeUI) ShowError(err *Error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.errors = append(u.errors, err)
}

func (u *fakeUI) ShowVideo() {
	u.mu.Lock()
	u.videos++
	u.mu.Unlock()
	select {
	case u.videoShown <- struct{}{}:
	default:
	}
}

func (u *fakeUI) SetTurbulence(on bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.turbulence = append(u.turbulence, on)
}

func (u *fakeUI) snapshot() (statuses []string, errs []*Error, videos int, turbulence []bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.statuses...), append([]*Error(nil), u.errors...), u.videos, append([]bool(nil), u.turbulence...)
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

// harness drives a Machine synchronously: async jobs are captured and run
// on demand, and their completions are dispatched in the test goroutine.
type harness struct {
	t      *testing.T
	m      *Machine
	log    *journal
	ch     *fakeChannel
	engine *fakeEngine
	ui     *fakeUI
	media  *media.Shared

	mediaErr error
	jobs     []func() completion
}

func newHarness(t *testing.T, role config.Role) *harness {
	t.Helper()

	log := &journal{}
	h := &harness{
		t:      t,
		log:    log,
		ch:     newFakeChannel(log),
		engine: newFakeEngine(log),
		ui:     newFakeUI(),
	}

	h.media = media.NewShared(media.SourceFunc(func(ctx context.Context) (*media.Stream, error) {
		if h.mediaErr != nil {
			return nil, h.mediaErr
		}
		return media.Synthetic{Kinds: media.Kinds{Video: role == config.RoleGlassWearer, Audio: true}}.Acquire(ctx)
	}))

	h.m = New(Config{
		Room:       "blue-cat",
		Role:       role,
		ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.example.org"}}},
	}, Deps{
		Dial:   func(context.Context) Channel { return h.ch },
		Engine: h.engine,
		Media:  h.media,
		UI:     h.ui,
	})
	h.m.spawn = func(job func() completion) { h.jobs = append(h.jobs, job) }
	h.m.start(context.Background())
	return h
}

// flush runs captured jobs, including the ones they cause, in FIFO order.
func (h *harness) flush() {
	for len(h.jobs) > 0 {
		job := h.jobs[0]
		h.jobs = h.jobs[1:]
		h.m.onCompletion(job())
	}
}

// takeJobs removes the pending jobs without running them.
func (h *harness) takeJobs() []func() completion {
	jobs := h.jobs
	h.jobs = nil
	return jobs
}

func (h *harness) recv(msg signaling.Message) {
	h.m.onSignal(signaling.Received{Message: msg})
}

func (h *harness) engineEvent(ev negotiation.Event) {
	h.m.onEngine(ev)
}

func (h *harness) gen() uint64 {
	return h.engine.Generation()
}

// driveTo walks the machine through the happy path until it reaches s.
func (h *harness) driveTo(s State) {
	h.t.Helper()

	steps := []struct {
		to  State
		run func()
	}{
		{WaitingForPeer, func() { h.m.onSignal(signaling.Opened{}) }},
		{AcquiringMedia, func() { h.recv(signaling.Join{Role: "peer"}) }},
		{Establishing, func() {
			// Only the media job: offer creation stays pending.
			jobs := h.takeJobs()
			for _, job := range jobs {
				h.m.onCompletion(job())
			}
		}},
		{InCall, func() {
			h.flush()
			h.engineEvent(negotiation.Connected{Generation: h.gen()})
		}},
	}

	for _, step := range steps {
		if h.m.State() >= s {
			break
		}
		step.run()
		if h.m.State() != step.to {
			h.t.Fatalf("driving to %s: expected %s, got %s", s, step.to, h.m.State())
		}
	}
	if h.m.State() != s {
		h.t.Fatalf("could not drive to %s, stuck in %s", s, h.m.State())
	}
}
