package ui

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"

	"github.com/1ureka/eyecall/internal/util"
)

// packetWriter is satisfied by pion's ivf and ogg writers.
type packetWriter interface {
	WriteRTP(*rtp.Packet) error
	Close() error
}

// Recorder consumes the peer's tracks. With a directory, VP8 video goes to
// <dir>/<session>-video.ivf and Opus audio to <dir>/<session>-audio.ogg;
// tracks of later negotiations get a numeric suffix. Without a directory,
// or for other codecs, packets are read and dropped.
type Recorder struct {
	dir     string
	session string

	mu     sync.Mutex
	counts map[string]int // per file kind, for suffixes
	files  []string

	packets atomic.Int64
	wg      sync.WaitGroup
}

// NewRecorder creates dir when it is set.
func NewRecorder(dir, session string) (*Recorder, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create record directory: %w", err)
		}
	}
	return &Recorder{dir: dir, session: session, counts: make(map[string]int)}, nil
}

// Dir returns the record directory, empty when recording is off.
func (r *Recorder) Dir() string {
	return r.dir
}

// Packets returns how many RTP packets were received so far.
func (r *Recorder) Packets() int64 {
	return r.packets.Load()
}

// Files returns the paths written so far.
func (r *Recorder) Files() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.files...)
}

// OnTrack has the shape of negotiation.Options.OnRemoteTrack. It returns
// at once; the track is consumed until it ends.
func (r *Recorder) OnTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	codec := track.Codec()
	util.LogInfo("receiving remote %s track (%s)", track.Kind(), codec.MimeType)

	w, err := r.writerFor(codec)
	if err != nil {
		util.LogWarning("not recording %s track: %v", track.Kind(), err)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.consume(track, w)
	}()
}

// Wait blocks until every track seen so far has ended.
func (r *Recorder) Wait() {
	r.wg.Wait()
}

func (r *Recorder) writerFor(codec webrtc.RTPCodecParameters) (packetWriter, error) {
	if r.dir == "" {
		return nil, nil
	}

	switch {
	case strings.EqualFold(codec.MimeType, webrtc.MimeTypeVP8):
		path := r.nextPath("video", "ivf")
		w, err := ivfwriter.New(path)
		if err != nil {
			return nil, err
		}
		r.addFile(path)
		return w, nil

	case strings.EqualFold(codec.MimeType, webrtc.MimeTypeOpus):
		channels := codec.Channels
		if channels == 0 {
			channels = 2
		}
		rate := codec.ClockRate
		if rate == 0 {
			rate = 48000
		}
		path := r.nextPath("audio", "ogg")
		w, err := oggwriter.New(path, rate, channels)
		if err != nil {
			return nil, err
		}
		r.addFile(path)
		return w, nil

	default:
		return nil, fmt.Errorf("unsupported codec %s", codec.MimeType)
	}
}

func (r *Recorder) nextPath(kind, ext string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.counts[kind]
	r.counts[kind] = n + 1

	name := fmt.Sprintf("%s-%s.%s", r.session, kind, ext)
	if n > 0 {
		name = fmt.Sprintf("%s-%s-%d.%s", r.session, kind, n, ext)
	}
	return filepath.Join(r.dir, name)
}

func (r *Recorder) addFile(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files = append(r.files, path)
}

// consume reads the track until it ends. w may be nil.
func (r *Recorder) consume(track *webrtc.TrackRemote, w packetWriter) {
	defer func() {
		if w != nil {
			w.Close()
		}
	}()

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				util.LogDebug("remote %s track ended: %v", track.Kind(), err)
			}
			return
		}
		r.packets.Add(1)

		if w == nil {
			continue
		}
		if err := w.WriteRTP(pkt); err != nil {
			util.LogWarning("failed to record %s packet: %v", track.Kind(), err)
			w.Close()
			w = nil
		}
	}
}
