// Package trigger wires a physical push button and an indicator lamp to the
// capture controller.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/cjeanneret/SnapGo/internal/debug"
	"github.com/cjeanneret/SnapGo/internal/hw/gpio"
	"github.com/cjeanneret/SnapGo/internal/logic/capture"
)

// Mode selects what a button press does.
type Mode string

const (
	ModeTimer   Mode = "timer"
	ModeInstant Mode = "instant"
)

// Shutter is the part of the capture controller the trigger drives.
type Shutter interface {
	CapturePhoto() error
	StartTimerCapture(seconds int) error
	Subscribe() (<-chan capture.Snapshot, func())
}

// Config describes the pins and timings of a trigger.
type Config struct {
	ButtonPin int // active LOW
	LampPin   int // 0 disables the lamp
	Mode      Mode
	Seconds   int // countdown length in ModeTimer
	Poll      time.Duration
	Debounce  time.Duration
}

// Trigger polls the button and mirrors the controller state on the lamp.
type Trigger struct {
	drv     gpio.Driver
	shutter Shutter
	cfg     Config
	clk     clock.Clock
}

// New creates a trigger. clk may be nil for the wall clock.
func New(drv gpio.Driver, shutter Shutter, cfg Config, clk clock.Clock) *Trigger {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.Poll <= 0 {
		cfg.Poll = 10 * time.Millisecond
	}
	return &Trigger{drv: drv, shutter: shutter, cfg: cfg, clk: clk}
}

// Run configures the pins and blocks until ctx is canceled.
func (t *Trigger) Run(ctx context.Context) error {
	debug.Section("TRIGGER")
	debug.Value("Button pin", t.cfg.ButtonPin)
	debug.Value("Lamp pin", t.cfg.LampPin)
	debug.Value("Mode", t.cfg.Mode)

	if err := t.drv.SetupPin(t.cfg.ButtonPin, gpio.Input); err != nil {
		return fmt.Errorf("setup button pin %d: %w", t.cfg.ButtonPin, err)
	}
	if t.cfg.LampPin > 0 {
		if err := t.drv.SetupPin(t.cfg.LampPin, gpio.Output); err != nil {
			return fmt.Errorf("setup lamp pin %d: %w", t.cfg.LampPin, err)
		}
		updates, unsub := t.shutter.Subscribe()
		defer unsub()
		go t.runLamp(ctx, updates)
	}

	return t.pollButton(ctx)
}

func (t *Trigger) pollButton(ctx context.Context) error {
	ticker := t.clk.Ticker(t.cfg.Poll)
	defer ticker.Stop()

	db := debouncer{hold: t.cfg.Debounce}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		level, err := t.drv.ReadPin(t.cfg.ButtonPin)
		if err != nil {
			return fmt.Errorf("read button pin %d: %w", t.cfg.ButtonPin, err)
		}
		if db.update(level == gpio.Low, t.clk.Now()) {
			t.press()
		}
	}
}

func (t *Trigger) press() {
	var err error
	switch t.cfg.Mode {
	case ModeInstant:
		debug.Live("Button: instant capture")
		err = t.shutter.CapturePhoto()
	default:
		debug.Live("Button: %ds countdown", t.cfg.Seconds)
		err = t.shutter.StartTimerCapture(t.cfg.Seconds)
	}
	if errors.Is(err, capture.ErrInvalidState) {
		debug.Verbose("Button press ignored: %v", err)
		return
	}
	if err != nil {
		debug.Error(fmt.Errorf("button press: %w", err))
	}
}

// runLamp lights the lamp while a countdown or capture is in progress.
func (t *Trigger) runLamp(ctx context.Context, updates <-chan capture.Snapshot) {
	lit := false
	set := func(on bool) {
		if on == lit {
			return
		}
		lit = on
		level := gpio.Low
		if on {
			level = gpio.High
		}
		if err := t.drv.WritePin(t.cfg.LampPin, level); err != nil {
			debug.Error(fmt.Errorf("lamp pin %d: %w", t.cfg.LampPin, err))
		}
	}
	defer set(false)

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			set(snap.Phase == capture.CountingDown || snap.Phase == capture.CapturePending)
		}
	}
}

// debouncer turns raw button samples into press edges. A level counts once
// it has been stable for hold; a press fires on the stable released→pressed
// edge only.
type debouncer struct {
	hold    time.Duration
	raw     bool
	since   time.Time
	stable  bool
	started bool
}

func (d *debouncer) update(pressed bool, now time.Time) bool {
	if !d.started || pressed != d.raw {
		d.started = true
		d.raw = pressed
		d.since = now
		if d.hold > 0 {
			return false
		}
	}
	if d.stable == d.raw || now.Sub(d.since) < d.hold {
		return false
	}
	d.stable = d.raw
	return d.stable
}
