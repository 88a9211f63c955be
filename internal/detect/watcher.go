package detect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/cjeanneret/SnapGo/internal/debug"
	"github.com/cjeanneret/SnapGo/internal/hw/camera"
	"github.com/cjeanneret/SnapGo/internal/hw/trigger"
	"github.com/cjeanneret/SnapGo/internal/logic/capture"
)

// Shutter is the part of the capture controller the watcher drives.
type Shutter interface {
	Snapshot() capture.Snapshot
	CapturePhoto() error
	StartTimerCapture(seconds int) error
}

// Config controls how often frames are checked and what a hit does.
type Config struct {
	Interval time.Duration
	Mode     trigger.Mode // ModeInstant captures, ModeTimer starts a countdown
	Seconds  int          // countdown length in ModeTimer
}

// Watcher feeds live frames to a Detector while the booth is idle.
type Watcher struct {
	det     Detector
	source  camera.Previewer
	shutter Shutter
	cfg     Config
	clk     clock.Clock
}

// NewWatcher creates a watcher. clk may be nil for the wall clock.
func NewWatcher(det Detector, source camera.Previewer, shutter Shutter, cfg Config, clk clock.Clock) *Watcher {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 300 * time.Millisecond
	}
	if cfg.Mode == "" {
		cfg.Mode = trigger.ModeInstant
	}
	return &Watcher{det: det, source: source, shutter: shutter, cfg: cfg, clk: clk}
}

// Run checks one frame per interval until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	debug.Section("DETECTOR")
	debug.Value("Interval", w.cfg.Interval)
	debug.Value("Mode", w.cfg.Mode)

	ticker := w.clk.Ticker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		w.check(ctx)
	}
}

// check sends the latest frame when the booth is previewing and fires the
// shutter on a hit.
func (w *Watcher) check(ctx context.Context) {
	snap := w.shutter.Snapshot()
	if snap.Phase != capture.Previewing || snap.Session != capture.SessionRunning {
		return
	}
	img, err := w.source.Preview()
	if err != nil {
		debug.Verbose("Detector: no frame: %v", err)
		return
	}
	hit, err := w.det.Detect(ctx, img)
	if err != nil {
		if ctx.Err() == nil {
			debug.Error(err)
		}
		return
	}
	if !hit {
		return
	}

	switch w.cfg.Mode {
	case trigger.ModeTimer:
		debug.Live("Detector: pose seen, %ds countdown", w.cfg.Seconds)
		err = w.shutter.StartTimerCapture(w.cfg.Seconds)
	default:
		debug.Live("Detector: pose seen, capturing")
		err = w.shutter.CapturePhoto()
	}
	if errors.Is(err, capture.ErrInvalidState) {
		debug.Verbose("Detector hit ignored: %v", err)
		return
	}
	if err != nil {
		debug.Error(fmt.Errorf("detector shutter: %w", err))
	}
}
