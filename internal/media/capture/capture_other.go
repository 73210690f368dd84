//go:build !linux

// Package capture acquires the camera and microphone. Device capture is
// only implemented on Linux; elsewhere Acquire always fails.
package capture

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/eyecall/internal/media"
)

// Device is unavailable on this platform.
type Device struct {
	Kinds   media.Kinds
	BitRate int
}

// RegisterCodecs registers pion's default codecs.
func (d *Device) RegisterCodecs(me *webrtc.MediaEngine) error {
	return me.RegisterDefaultCodecs()
}

// Acquire implements media.Source.
func (d *Device) Acquire(context.Context) (*media.Stream, error) {
	return nil, fmt.Errorf("%w: device capture is not supported on this platform", media.ErrAccessDenied)
}
