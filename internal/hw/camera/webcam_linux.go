//go:build linux

package camera

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/blackjack/webcam"
	"github.com/disintegration/imaging"

	"github.com/cjeanneret/SnapGo/internal/debug"
)

// Webcam is a Device backed by a V4L2 video node (USB webcams, the
// Raspberry Pi camera through its V4L2 bridge, ...).
//
// Frames are read continuously while streaming; the latest one feeds
// Preview and the next one after a Capture request becomes the still.
type Webcam struct {
	opts WebcamOptions

	mu      sync.Mutex
	cam     *webcam.Webcam
	pixfmt  webcam.PixelFormat
	width   int
	height  int
	stop    chan struct{}
	done    chan struct{}
	latest  []byte
	waiters []chan []byte
}

// NewWebcam creates a V4L2 camera. Nothing is opened until Configure.
func NewWebcam(opts WebcamOptions) *Webcam {
	return &Webcam{opts: opts}
}

func (w *Webcam) Configure() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cam != nil {
		return nil
	}

	want, err := fourCC(w.opts.Format)
	if err != nil {
		return err
	}

	cam, err := webcam.Open(w.opts.Device)
	if err != nil {
		return fmt.Errorf("open %s: %v: %w", w.opts.Device, err, ErrDeviceUnavailable)
	}

	formats := cam.GetSupportedFormats()
	name, ok := formats[want]
	if !ok {
		cam.Close()
		return fmt.Errorf("%s: unsupported format %s (have %v): %w", w.opts.Device, w.opts.Format, formats, ErrDeviceUnavailable)
	}
	debug.Value("Camera format", name)

	pixfmt, width, height, err := cam.SetImageFormat(want, uint32(w.opts.Width), uint32(w.opts.Height))
	if err != nil {
		cam.Close()
		return fmt.Errorf("%s: set image format: %v: %w", w.opts.Device, err, ErrDeviceUnavailable)
	}
	if w.opts.Buffers > 0 {
		if err := cam.SetBufferCount(uint32(w.opts.Buffers)); err != nil {
			debug.Error(fmt.Errorf("%s: set buffer count: %w", w.opts.Device, err))
		}
	}

	w.cam = cam
	w.pixfmt = pixfmt
	w.width = int(width)
	w.height = int(height)
	debug.Info("Camera %s configured: %dx%d %s", w.opts.Device, w.width, w.height, w.opts.Format)
	return nil
}

func (w *Webcam) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cam == nil {
		return fmt.Errorf("%s: start before configure: %w", w.opts.Device, ErrDeviceUnavailable)
	}
	if w.stop != nil {
		return nil
	}
	if err := w.cam.StartStreaming(); err != nil {
		return fmt.Errorf("%s: start streaming: %v: %w", w.opts.Device, err, ErrDeviceUnavailable)
	}
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	go w.stream(w.cam, w.stop, w.done)
	debug.Verbose("Camera %s: streaming", w.opts.Device)
	return nil
}

func (w *Webcam) Stop() error {
	w.mu.Lock()
	stop, done, cam := w.stop, w.done, w.cam
	w.stop, w.done = nil, nil
	w.mu.Unlock()
	if stop == nil {
		return nil
	}

	close(stop)
	<-done
	if err := cam.StopStreaming(); err != nil {
		return fmt.Errorf("%s: stop streaming: %w", w.opts.Device, err)
	}
	debug.Verbose("Camera %s: stopped", w.opts.Device)
	return nil
}

// Close stops streaming and releases the video node.
func (w *Webcam) Close() error {
	if err := w.Stop(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cam == nil {
		return nil
	}
	err := w.cam.Close()
	w.cam = nil
	return err
}

func (w *Webcam) Capture(done CaptureFunc) {
	w.mu.Lock()
	if w.stop == nil {
		w.mu.Unlock()
		go done(nil, ErrNotRunning)
		return
	}
	ch := make(chan []byte, 1)
	w.waiters = append(w.waiters, ch)
	w.mu.Unlock()

	go func() {
		timer := time.NewTimer(w.opts.Timeout)
		defer timer.Stop()
		select {
		case frame, ok := <-ch:
			if !ok {
				done(nil, ErrNotRunning)
				return
			}
			img, err := w.decode(frame)
			if err != nil {
				done(nil, err)
				return
			}
			done(NewImage(img, time.Now()), nil)
		case <-timer.C:
			w.dropWaiter(ch)
			done(nil, fmt.Errorf("%s: no frame within %v", w.opts.Device, w.opts.Timeout))
		}
	}()
}

func (w *Webcam) Preview() (image.Image, error) {
	w.mu.Lock()
	frame := w.latest
	w.mu.Unlock()
	if frame == nil {
		return nil, ErrNotRunning
	}
	return w.decode(frame)
}

// stream reads frames until stop is closed. Each frame is copied out of the
// mmap'd V4L2 buffer before it is shared.
func (w *Webcam) stream(cam *webcam.Webcam, stop, done chan struct{}) {
	defer close(done)
	defer w.closeWaiters()
	for {
		select {
		case <-stop:
			return
		default:
		}

		err := cam.WaitForFrame(1)
		var timeout *webcam.Timeout
		switch {
		case err == nil:
		case errors.As(err, &timeout):
			continue
		default:
			debug.Error(fmt.Errorf("%s: wait for frame: %w", w.opts.Device, err))
			if w.detach(stop) {
				if err := cam.StopStreaming(); err != nil {
					debug.Error(fmt.Errorf("%s: stop streaming: %w", w.opts.Device, err))
				}
			}
			return
		}

		buf, err := cam.ReadFrame()
		if err != nil {
			debug.Error(fmt.Errorf("%s: read frame: %w", w.opts.Device, err))
			continue
		}
		if len(buf) == 0 {
			continue
		}
		frame := make([]byte, len(buf))
		copy(frame, buf)
		if debug.IsEnabled(debug.LevelTrace) {
			debug.Trace("frame %d bytes", len(frame))
		}

		w.mu.Lock()
		w.latest = frame
		waiters := w.waiters
		w.waiters = nil
		w.mu.Unlock()
		for _, ch := range waiters {
			ch <- frame
		}
	}
}

// detach marks the device stopped after the stream died on its own. It
// reports false when Stop already claimed the stream.
func (w *Webcam) detach(stop chan struct{}) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stop != stop {
		return false
	}
	w.stop, w.done = nil, nil
	return true
}

func (w *Webcam) closeWaiters() {
	w.mu.Lock()
	waiters := w.waiters
	w.waiters = nil
	w.latest = nil
	w.mu.Unlock()
	for _, ch := range waiters {
		close(ch)
	}
}

func (w *Webcam) dropWaiter(ch chan []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, c := range w.waiters {
		if c == ch {
			w.waiters = append(w.waiters[:i], w.waiters[i+1:]...)
			return
		}
	}
}

func (w *Webcam) decode(frame []byte) (image.Image, error) {
	w.mu.Lock()
	pixfmt, width, height := w.pixfmt, w.width, w.height
	w.mu.Unlock()

	switch pixfmt {
	case pixfmtMJPG:
		img, err := imaging.Decode(bytes.NewReader(frame), imaging.AutoOrientation(true))
		if err != nil {
			return nil, fmt.Errorf("decode mjpeg frame: %w", err)
		}
		return img, nil
	case pixfmtYUYV:
		return yuyvToImage(frame, width, height)
	default:
		return nil, fmt.Errorf("unsupported pixel format %#x", uint32(pixfmt))
	}
}

const (
	pixfmtMJPG webcam.PixelFormat = 0x47504A4D // 'MJPG'
	pixfmtYUYV webcam.PixelFormat = 0x56595559 // 'YUYV'
)

func fourCC(name string) (webcam.PixelFormat, error) {
	switch name {
	case "MJPG":
		return pixfmtMJPG, nil
	case "YUYV":
		return pixfmtYUYV, nil
	default:
		return 0, fmt.Errorf("unsupported pixel format %q", name)
	}
}
