package camera

import (
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/cjeanneret/SnapGo/internal/debug"
)

// Mock is a synthetic camera used for development on a PC or in tests.
// Each capture renders a color-bar frame shifted by the frame number, after
// a simulated exposure delay.
type Mock struct {
	clock  clock.Clock
	width  int
	height int
	delay  time.Duration

	mu         sync.Mutex
	configured bool
	running    bool
	frames     int
	failNext   error
}

// NewMock creates a mock camera producing width x height frames.
// delay is the simulated exposure time; 0 delivers as soon as possible.
func NewMock(clk clock.Clock, width, height int, delay time.Duration) *Mock {
	return &Mock{
		clock:  clk,
		width:  width,
		height: height,
		delay:  delay,
	}
}

func (m *Mock) Configure() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.width <= 0 || m.height <= 0 {
		return fmt.Errorf("mock camera %dx%d: %w", m.width, m.height, ErrDeviceUnavailable)
	}
	debug.Info("Using MOCK camera (%dx%d)", m.width, m.height)
	m.configured = true
	return nil
}

func (m *Mock) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.configured {
		return fmt.Errorf("mock camera: start before configure: %w", ErrDeviceUnavailable)
	}
	m.running = true
	debug.Verbose("Mock camera: streaming")
	return nil
}

func (m *Mock) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	debug.Verbose("Mock camera: stopped")
	return nil
}

// FailNextCapture makes the next capture deliver err instead of a frame.
func (m *Mock) FailNextCapture(err error) {
	m.mu.Lock()
	m.failNext = err
	m.mu.Unlock()
}

func (m *Mock) Capture(done CaptureFunc) {
	m.mu.Lock()
	running := m.running
	failure := m.failNext
	m.failNext = nil
	m.frames++
	n := m.frames
	m.mu.Unlock()

	deliver := func() {
		switch {
		case !running:
			done(nil, ErrNotRunning)
		case failure != nil:
			done(nil, failure)
		default:
			done(NewImage(m.render(n), m.clock.Now()), nil)
		}
	}
	if m.delay > 0 {
		m.clock.AfterFunc(m.delay, deliver)
		return
	}
	go deliver()
}

func (m *Mock) Preview() (image.Image, error) {
	m.mu.Lock()
	running, n := m.running, m.frames
	m.mu.Unlock()
	if !running {
		return nil, ErrNotRunning
	}
	return m.render(n), nil
}

var bars = []color.RGBA{
	{255, 255, 255, 255},
	{255, 255, 0, 255},
	{0, 255, 255, 255},
	{0, 255, 0, 255},
	{255, 0, 255, 255},
	{255, 0, 0, 255},
	{0, 0, 255, 255},
}

// render draws vertical color bars rotated by frame.
func (m *Mock) render(frame int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, m.width, m.height))
	barWidth := m.width / len(bars)
	if barWidth == 0 {
		barWidth = 1
	}
	for x := 0; x < m.width; x++ {
		c := bars[(x/barWidth+frame)%len(bars)]
		for y := 0; y < m.height; y++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}
