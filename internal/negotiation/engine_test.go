package negotiation

import (
	"context"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(Options{IncludeLoopback: true})
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func audioTrack(t *testing.T) webrtc.TrackLocal {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "test")
	require.NoError(t, err)
	return track
}

func videoTrack(t *testing.T) webrtc.TrackLocal {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "test")
	require.NoError(t, err)
	return track
}

func TestResetTwiceLeavesOneLiveGeneration(t *testing.T) {
	e := newTestEngine(t)

	first := e.slot
	e.Reset()
	assert.True(t, first.isCancelled(), "first generation must be invalidated when Reset returns")

	second := e.slot
	assert.False(t, second.isCancelled())
	e.Reset()

	assert.True(t, second.isCancelled())
	assert.False(t, e.slot.isCancelled())
	assert.Equal(t, uint64(3), e.Generation())
}

func TestResetDuringOfferSupersedesIt(t *testing.T) {
	e := newTestEngine(t)
	gen := e.Generation()

	e.testHookInstall = func() {
		e.testHookInstall = nil
		e.Reset()
	}

	_, err := e.MakeOffer(context.Background(), []webrtc.TrackLocal{audioTrack(t)}, nil)
	require.ErrorIs(t, err, ErrSuperseded)
	assert.Equal(t, gen+1, e.Generation())

	// The new generation is free for a fresh attempt.
	offer, err := e.MakeOffer(context.Background(), []webrtc.TrackLocal{audioTrack(t)}, nil)
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeOffer, offer.Type)
}

func TestMakeOfferTwiceNeedsReset(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.MakeOffer(context.Background(), []webrtc.TrackLocal{audioTrack(t)}, nil)
	require.NoError(t, err)

	_, err = e.MakeOffer(context.Background(), []webrtc.TrackLocal{audioTrack(t)}, nil)
	assert.ErrorIs(t, err, ErrHandleInUse)

	e.Reset()
	_, err = e.MakeOffer(context.Background(), []webrtc.TrackLocal{audioTrack(t)}, nil)
	assert.NoError(t, err)
}

func TestSetAnswerWithoutHandle(t *testing.T) {
	e := newTestEngine(t)
	err := e.SetAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"})
	assert.ErrorIs(t, err, ErrNoHandle)
}

func TestMakeAnswerRejectsBadOffer(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.MakeAnswer(context.Background(), nil,
		webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "garbage"}, nil)
	assert.ErrorIs(t, err, ErrNegotiation)
}

func TestCandidatesQueueUntilRemoteDescription(t *testing.T) {
	e := newTestEngine(t)

	c := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 2130706431 127.0.0.1 50000 typ host"}
	require.NoError(t, e.AddICECandidate(c))

	e.mu.Lock()
	assert.Len(t, e.slot.pending, 1)
	e.mu.Unlock()

	// A reset drops what was queued for the old generation.
	e.Reset()
	e.mu.Lock()
	assert.Empty(t, e.slot.pending)
	e.mu.Unlock()
}

func TestClosedEngineRefusesWork(t *testing.T) {
	e, err := New(Options{})
	require.NoError(t, err)
	e.Close()
	e.Close()
	e.Reset()

	_, err = e.MakeOffer(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, e.AddICECandidate(webrtc.ICECandidateInit{Candidate: "x"}), ErrClosed)
}

// pump relays local candidates between two engines until both report
// Connected for their current generation.
func pump(t *testing.T, a, b *Engine) {
	t.Helper()

	deadline := time.After(15 * time.Second)
	aUp, bUp := false, false
	for !aUp || !bUp {
		select {
		case ev := <-a.Events():
			switch ev := ev.(type) {
			case LocalCandidate:
				require.NoError(t, b.AddICECandidate(ev.Candidate))
			case Connected:
				assert.Equal(t, a.Generation(), ev.Gen())
				aUp = true
			case Failed:
				t.Fatal("offerer ICE failed")
			}
		case ev := <-b.Events():
			switch ev := ev.(type) {
			case LocalCandidate:
				require.NoError(t, a.AddICECandidate(ev.Candidate))
			case Connected:
				assert.Equal(t, b.Generation(), ev.Gen())
				bUp = true
			case Failed:
				t.Fatal("answerer ICE failed")
			}
		case <-deadline:
			t.Fatal("timed out waiting for ICE to connect")
		}
	}
}

func TestLoopbackOfferAnswerConnects(t *testing.T) {
	offerer := newTestEngine(t)
	answerer := newTestEngine(t)
	ctx := context.Background()

	offer, err := offerer.MakeOffer(ctx, []webrtc.TrackLocal{videoTrack(t), audioTrack(t)}, nil)
	require.NoError(t, err)

	answer, err := answerer.MakeAnswer(ctx, []webrtc.TrackLocal{audioTrack(t)}, offer, nil)
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)

	require.NoError(t, offerer.SetAnswer(answer))
	pump(t, offerer, answerer)

	assert.Equal(t, ICEStateConnected, offerer.State())
	assert.Equal(t, ICEStateConnected, answerer.State())
}

func TestInvalidatedHandleStaysSilent(t *testing.T) {
	offerer := newTestEngine(t)
	answerer := newTestEngine(t)
	ctx := context.Background()

	offer, err := offerer.MakeOffer(ctx, []webrtc.TrackLocal{audioTrack(t)}, nil)
	require.NoError(t, err)
	answer, err := answerer.MakeAnswer(ctx, []webrtc.TrackLocal{audioTrack(t)}, offer, nil)
	require.NoError(t, err)
	require.NoError(t, offerer.SetAnswer(answer))
	pump(t, offerer, answerer)

	// Drop what was queued while the handle was still current.
	for len(offerer.Events()) > 0 {
		<-offerer.Events()
	}

	gen := offerer.Generation()
	offerer.Reset()

	// Closing the old PeerConnection produces ICE callbacks; none of them
	// may surface with the old generation.
	timeout := time.After(500 * time.Millisecond)
	for {
		select {
		case ev := <-offerer.Events():
			assert.NotEqual(t, gen, ev.Gen(), "event %T from invalidated generation", ev)
		case <-timeout:
			return
		}
	}
}
