//go:build linux

// Package capture acquires the camera and microphone through
// pion/mediadevices (V4L2 and malgo on Linux).
package capture

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/eyecall/internal/media"
	"github.com/1ureka/eyecall/internal/util"
)

// Device captures local devices, encoding video as VP8 and audio as Opus.
type Device struct {
	Kinds   media.Kinds
	BitRate int // video bits per second; 0 selects 1.5 Mbps

	once     sync.Once
	selector *mediadevices.CodecSelector
	initErr  error
}

func (d *Device) codecSelector() (*mediadevices.CodecSelector, error) {
	d.once.Do(func() {
		vpxParams, err := vpx.NewVP8Params()
		if err != nil {
			d.initErr = fmt.Errorf("failed to configure VP8 encoder: %w", err)
			return
		}
		vpxParams.BitRate = d.BitRate
		if vpxParams.BitRate == 0 {
			vpxParams.BitRate = 1_500_000
		}

		opusParams, err := opus.NewParams()
		if err != nil {
			d.initErr = fmt.Errorf("failed to configure Opus encoder: %w", err)
			return
		}

		d.selector = mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		)
	})
	return d.selector, d.initErr
}

// RegisterCodecs fills me with the codecs the device encoders produce.
// It is meant for negotiation.Options.RegisterCodecs.
func (d *Device) RegisterCodecs(me *webrtc.MediaEngine) error {
	selector, err := d.codecSelector()
	if err != nil {
		return err
	}
	selector.Populate(me)
	return nil
}

// Acquire implements media.Source.
func (d *Device) Acquire(ctx context.Context) (*media.Stream, error) {
	selector, err := d.codecSelector()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", media.ErrAccessDenied, err)
	}

	for _, dev := range mediadevices.EnumerateDevices() {
		util.LogDebug("media device: kind=%v label=%q", dev.Kind, dev.Label)
	}

	constraints := mediadevices.MediaStreamConstraints{Codec: selector}
	if d.Kinds.Video {
		constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
			// Raw formats only; MJPEG nodes on some cameras poison the encoder.
			c.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			c.Width = prop.IntRanged{Max: 640}
			c.Height = prop.IntRanged{Max: 480}
		}
	}
	if d.Kinds.Audio {
		constraints.Audio = func(*mediadevices.MediaTrackConstraints) {}
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", media.ErrAccessDenied, err)
	}

	devTracks := stream.GetTracks()
	tracks := make([]webrtc.TrackLocal, 0, len(devTracks))
	for _, t := range devTracks {
		t.OnEnded(func(err error) {
			if err != nil {
				util.LogWarning("local %s track ended: %v", t.Kind(), err)
			}
		})
		tracks = append(tracks, t)
	}

	stop := func() {
		for _, t := range devTracks {
			t.Close()
		}
	}

	if err := ctx.Err(); err != nil {
		stop()
		return nil, err
	}
	util.LogInfo("captured %d local track(s)", len(tracks))
	return media.NewStream(tracks, stop), nil
}
