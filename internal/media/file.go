package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"

	"github.com/1ureka/eyecall/internal/util"
)

// File streams an IVF (VP8) file as the camera and an Ogg (Opus) file as
// the microphone, looping both. A requested kind without a file gets a
// silent synthetic track.
type File struct {
	Kinds     Kinds
	VideoPath string
	AudioPath string
	StreamID  string
}

// Acquire implements Source. Both files are opened and their headers
// validated before any track is returned.
func (f File) Acquire(ctx context.Context) (*Stream, error) {
	streamID := f.StreamID
	if streamID == "" {
		streamID = "eyecall"
	}

	tracks, err := sampleTracks(f.Kinds, streamID)
	if err != nil {
		return nil, err
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	var files []*os.File
	cleanup := func() {
		cancel()
		for _, fh := range files {
			fh.Close()
		}
	}

	for _, t := range tracks {
		track := t.(*webrtc.TrackLocalStaticSample)

		var path string
		var pump func(context.Context, *os.File, *webrtc.TrackLocalStaticSample) error
		switch track.Kind() {
		case webrtc.RTPCodecTypeVideo:
			path, pump = f.VideoPath, pumpIVF
		case webrtc.RTPCodecTypeAudio:
			path, pump = f.AudioPath, pumpOgg
		}
		if path == "" {
			continue
		}

		fh, err := os.Open(path)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("%w: %v", ErrAccessDenied, err)
		}
		files = append(files, fh)

		if err := probe(fh, track.Kind()); err != nil {
			cleanup()
			return nil, fmt.Errorf("%w: %s: %v", ErrAccessDenied, path, err)
		}

		go func() {
			if err := pump(pumpCtx, fh, track); err != nil && !errors.Is(err, context.Canceled) {
				util.LogWarning("stopped streaming %s: %v", path, err)
			}
		}()
	}

	if err := ctx.Err(); err != nil {
		cleanup()
		return nil, err
	}
	return NewStream(tracks, cleanup), nil
}

// probe checks the container header and rewinds.
func probe(fh *os.File, kind webrtc.RTPCodecType) error {
	var err error
	if kind == webrtc.RTPCodecTypeVideo {
		_, _, err = ivfreader.NewWith(fh)
	} else {
		_, _, err = oggreader.NewWith(fh)
	}
	if err != nil {
		return err
	}
	_, err = fh.Seek(0, io.SeekStart)
	return err
}

// pumpIVF writes one VP8 frame per frame interval, rewinding at EOF.
func pumpIVF(ctx context.Context, fh *os.File, track *webrtc.TrackLocalStaticSample) error {
	for {
		if _, err := fh.Seek(0, io.SeekStart); err != nil {
			return err
		}
		reader, header, err := ivfreader.NewWith(fh)
		if err != nil {
			return err
		}

		interval := 33 * time.Millisecond
		if header.TimebaseDenominator > 0 {
			interval = time.Duration(float64(time.Second) * float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator))
		}

		ticker := time.NewTicker(interval)
		frames := 0
		for {
			frame, _, err := reader.ParseNextFrame()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				ticker.Stop()
				return err
			}

			select {
			case <-ticker.C:
			case <-ctx.Done():
				ticker.Stop()
				return ctx.Err()
			}

			if err := track.WriteSample(pionmedia.Sample{Data: frame, Duration: interval}); err != nil {
				ticker.Stop()
				return err
			}
			frames++
		}
		ticker.Stop()
		if frames == 0 {
			return errEmptyFile
		}
	}
}

var errEmptyFile = errors.New("no media in file")

// oggPageDuration is the pacing for one Ogg page of Opus audio.
const oggPageDuration = 20 * time.Millisecond

// pumpOgg writes one Opus page per page duration, rewinding at EOF.
func pumpOgg(ctx context.Context, fh *os.File, track *webrtc.TrackLocalStaticSample) error {
	for {
		if _, err := fh.Seek(0, io.SeekStart); err != nil {
			return err
		}
		reader, _, err := oggreader.NewWith(fh)
		if err != nil {
			return err
		}

		var lastGranule uint64
		pages := 0
		ticker := time.NewTicker(oggPageDuration)
		for {
			page, pageHeader, err := reader.ParseNextPage()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				ticker.Stop()
				return err
			}

			// Granule positions count 48 kHz samples.
			samples := pageHeader.GranulePosition - lastGranule
			lastGranule = pageHeader.GranulePosition
			duration := time.Duration(float64(samples) / 48000 * float64(time.Second))

			select {
			case <-ticker.C:
			case <-ctx.Done():
				ticker.Stop()
				return ctx.Err()
			}

			if err := track.WriteSample(pionmedia.Sample{Data: page, Duration: duration}); err != nil {
				ticker.Stop()
				return err
			}
			pages++
		}
		ticker.Stop()
		if pages == 0 {
			return errEmptyFile
		}
	}
}
