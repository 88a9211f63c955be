//go:build !linux

package camera

import (
	"fmt"
	"image"
	"runtime"
)

// Webcam is only available on Linux (V4L2). Elsewhere it reports the
// device as unavailable so the session fails the same way as a missing node.
type Webcam struct {
	opts WebcamOptions
}

// NewWebcam creates a camera that can never be configured on this platform.
func NewWebcam(opts WebcamOptions) *Webcam {
	return &Webcam{opts: opts}
}

func (w *Webcam) Configure() error {
	return fmt.Errorf("%s: V4L2 is not supported on %s: %w", w.opts.Device, runtime.GOOS, ErrDeviceUnavailable)
}

func (w *Webcam) Start() error { return ErrDeviceUnavailable }

func (w *Webcam) Stop() error { return nil }

func (w *Webcam) Close() error { return nil }

func (w *Webcam) Capture(done CaptureFunc) { go done(nil, ErrNotRunning) }

func (w *Webcam) Preview() (image.Image, error) { return nil, ErrNotRunning }
