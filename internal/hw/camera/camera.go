package camera

import (
	"errors"
	"image"
	"time"

	"github.com/google/uuid"
)

// ErrDeviceUnavailable is returned when no camera input could be attached.
var ErrDeviceUnavailable = errors.New("camera: device unavailable")

// ErrNotRunning is delivered to capture callbacks when the device is stopped.
var ErrNotRunning = errors.New("camera: not running")

// Image is a decoded still produced by a Device.
// It has no identity beyond the capture that produced it.
type Image struct {
	ID         string
	Img        image.Image
	CapturedAt time.Time
}

// NewImage wraps a decoded frame with a fresh id.
func NewImage(img image.Image, at time.Time) *Image {
	return &Image{
		ID:         uuid.NewString(),
		Img:        img,
		CapturedAt: at,
	}
}

// Size returns the pixel dimensions of the image.
func (i *Image) Size() (width, height int) {
	b := i.Img.Bounds()
	return b.Dx(), b.Dy()
}

// CaptureFunc receives the result of a capture request. Exactly one of img
// and err is non-nil.
type CaptureFunc func(img *Image, err error)

// Device is the high-level interface used by the rest of the application.
// It represents an abstract camera, regardless of how it's attached
// (V4L2, CSI, network, etc.).
type Device interface {
	// Configure opens the device and negotiates the frame format.
	// It returns ErrDeviceUnavailable (wrapped) when no input can be attached.
	Configure() error
	// Start begins streaming frames.
	Start() error
	// Stop ends streaming. It is safe to call on a stopped device.
	Stop() error
	// Capture requests one still. It returns immediately; done is invoked
	// once, from another goroutine, when the still is ready or failed.
	Capture(done CaptureFunc)
}

// Previewer is implemented by devices that can hand out the latest live frame.
type Previewer interface {
	Preview() (image.Image, error)
}
