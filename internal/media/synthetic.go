package media

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Synthetic produces VP8 and/or Opus sample tracks that carry no payload.
// They negotiate like real tracks, which is all a headless client or a
// test needs.
type Synthetic struct {
	Kinds    Kinds
	StreamID string
}

// Acquire implements Source.
func (s Synthetic) Acquire(ctx context.Context) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	streamID := s.StreamID
	if streamID == "" {
		streamID = "eyecall"
	}

	tracks, err := sampleTracks(s.Kinds, streamID)
	if err != nil {
		return nil, err
	}
	return NewStream(tracks, nil), nil
}

// sampleTracks creates one static sample track per requested kind.
func sampleTracks(k Kinds, streamID string) ([]webrtc.TrackLocal, error) {
	var tracks []webrtc.TrackLocal
	if k.Video {
		v, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", streamID)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to create video track: %v", ErrAccessDenied, err)
		}
		tracks = append(tracks, v)
	}
	if k.Audio {
		a, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", streamID)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to create audio track: %v", ErrAccessDenied, err)
		}
		tracks = append(tracks, a)
	}
	return tracks, nil
}
