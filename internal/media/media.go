// Package media provides the local audio/video tracks of a call: a Source
// boundary, a memoized single-flight wrapper, and synthetic and file-backed
// sources. Device capture lives in the capture subpackage.
package media

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
)

// ErrAccessDenied wraps every failure to obtain local media.
var ErrAccessDenied = errors.New("media access denied")

// Kinds selects which tracks a Source produces.
type Kinds struct {
	Video bool
	Audio bool
}

// Source acquires local media on demand.
type Source interface {
	Acquire(ctx context.Context) (*Stream, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (*Stream, error)

func (f SourceFunc) Acquire(ctx context.Context) (*Stream, error) { return f(ctx) }

// Stream is a set of local tracks that stay valid until Close.
type Stream struct {
	Tracks []webrtc.TrackLocal

	stop      func()
	closeOnce sync.Once
}

// NewStream wraps tracks; stop (may be nil) runs once on Close.
func NewStream(tracks []webrtc.TrackLocal, stop func()) *Stream {
	return &Stream{Tracks: tracks, stop: stop}
}

// Close releases the stream's resources. It is idempotent.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		if s.stop != nil {
			s.stop()
		}
	})
}

// HasVideo reports whether the stream carries a video track.
func (s *Stream) HasVideo() bool {
	for _, t := range s.Tracks {
		if t.Kind() == webrtc.RTPCodecTypeVideo {
			return true
		}
	}
	return false
}
