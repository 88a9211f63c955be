package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/cjeanneret/SnapGo/internal/config"
	"github.com/cjeanneret/SnapGo/internal/debug"
	"github.com/cjeanneret/SnapGo/internal/hw/camera"
	"github.com/cjeanneret/SnapGo/internal/library"
	"github.com/cjeanneret/SnapGo/internal/logic/countdown"
	"github.com/cjeanneret/SnapGo/internal/permission"
)

var (
	// ErrInvalidState rejects a command issued in the wrong phase.
	ErrInvalidState = errors.New("capture: invalid state")
	// ErrSessionNotRunning rejects captures while the camera is not started.
	ErrSessionNotRunning = errors.New("capture: camera session not running")
	// ErrInvalidDuration rejects countdowns outside [1, MaxCountdown].
	ErrInvalidDuration = errors.New("capture: invalid countdown duration")
	// ErrStopped is returned once the controller loop has exited.
	ErrStopped = errors.New("capture: controller stopped")
)

// Options tunes a Controller. Zero values select defaults.
type Options struct {
	DefaultAlbum string        // used when AcceptAndSave gets a blank name
	MaxCountdown int           // longest accepted countdown, in seconds
	SaveTimeout  time.Duration // bound on album resolution + insert
	Clock        clock.Clock   // time source for countdowns
}

func (o *Options) fill() {
	o.DefaultAlbum = strings.TrimSpace(o.DefaultAlbum)
	if o.DefaultAlbum == "" {
		o.DefaultAlbum = config.DefaultAlbumName
	}
	if o.MaxCountdown <= 0 {
		o.MaxCountdown = 60
	}
	if o.SaveTimeout <= 0 {
		o.SaveTimeout = 30 * time.Second
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
}

// Controller owns the camera session and the capture/review/save state
// machine. All state is mutated on the goroutine running Run; commands and
// collaborator callbacks are marshaled onto it through a FIFO mailbox.
type Controller struct {
	camera  camera.Device
	perms   permission.Provider
	library library.Library
	opts    Options

	box     *mailbox
	store   *Store
	started atomic.Bool
	stopped chan struct{}

	// Owned by the Run goroutine.
	ctx        context.Context
	snap       Snapshot
	timer      *countdown.Task
	timerGen   uint64
	captureGen uint64
	saveGen    uint64
}

// New creates a controller in the Previewing phase with the session stopped.
func New(cam camera.Device, perms permission.Provider, lib library.Library, opts Options) *Controller {
	opts.fill()
	c := &Controller{
		camera:  cam,
		perms:   perms,
		library: lib,
		opts:    opts,
		box:     newMailbox(),
		stopped: make(chan struct{}),
		snap:    Snapshot{Phase: Previewing, Session: SessionStopped},
	}
	c.store = NewStore(c.snap)
	return c
}

// Run processes commands and callbacks until ctx is canceled, then cancels
// any countdown and stops the camera. Commands block until Run is running.
func (c *Controller) Run(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return fmt.Errorf("capture: controller already running")
	}
	c.ctx = ctx
	defer close(c.stopped)

	for {
		select {
		case <-ctx.Done():
			c.box.close()
			c.shutdown()
			return nil
		case <-c.box.notify:
			for _, fn := range c.box.drain() {
				fn()
			}
		}
	}
}

// do runs fn on the loop and returns its result.
func (c *Controller) do(fn func() error) error {
	reply := make(chan error, 1)
	if !c.box.post(func() { reply <- fn() }) {
		return ErrStopped
	}
	select {
	case err := <-reply:
		return err
	case <-c.stopped:
		return ErrStopped
	}
}

// post marshals a callback onto the loop; it is dropped after shutdown.
func (c *Controller) post(fn func()) {
	c.box.post(fn)
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	return c.store.Load()
}

// Subscribe streams state changes; see Store.Subscribe.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	return c.store.Subscribe()
}

// DefaultAlbum returns the album used for blank names.
func (c *Controller) DefaultAlbum() string {
	return c.opts.DefaultAlbum
}

// MaxCountdown returns the longest accepted countdown in seconds.
func (c *Controller) MaxCountdown() int {
	return c.opts.MaxCountdown
}

func (c *Controller) setPhase(p Phase) {
	if c.snap.Phase != p {
		debug.Transition(c.snap.Phase.String(), p.String())
	}
	c.snap.Phase = p
	if p != CountingDown {
		c.snap.Remaining = 0
	}
	if p != Reviewing && p != Saving {
		c.snap.Image = nil
	}
}

func (c *Controller) publish() {
	c.snap.Version++
	c.store.publish(c.snap)
}

// ---------- session ----------

// RequestPermissions checks camera access and starts the session once it
// is granted. An undetermined permission is requested asynchronously; a
// denial is reported through the snapshot and never retried.
func (c *Controller) RequestPermissions() error {
	return c.do(c.requestPermissions)
}

func (c *Controller) requestPermissions() error {
	switch c.snap.Session {
	case SessionRunning:
		return nil
	case SessionUnavailable:
		return camera.ErrDeviceUnavailable
	}

	switch c.perms.Status(permission.Camera) {
	case permission.Granted:
		return c.startSession()
	case permission.Denied:
		c.denyCamera()
		return nil
	}

	debug.Live("Requesting camera access")
	c.perms.Request(permission.Camera, func(granted bool) {
		c.post(func() {
			if !granted {
				c.denyCamera()
				return
			}
			if err := c.startSession(); err != nil {
				debug.Error(err)
			}
		})
	})
	return nil
}

func (c *Controller) denyCamera() {
	debug.Info("Camera access denied")
	c.snap.Session = SessionDenied
	c.snap.Outcome = failure(OutcomePermissionDenied, fmt.Errorf("camera: %w", permission.ErrDenied))
	c.publish()
}

// StartSession configures and starts the camera. It is a no-op when the
// session already runs. A configuration failure is terminal for this run.
func (c *Controller) StartSession() error {
	return c.do(c.startSession)
}

func (c *Controller) startSession() error {
	switch c.snap.Session {
	case SessionRunning:
		return nil
	case SessionUnavailable:
		return camera.ErrDeviceUnavailable
	}
	if s := c.perms.Status(permission.Camera); s != permission.Granted {
		return fmt.Errorf("camera access %s: %w", s, permission.ErrDenied)
	}

	debug.Live("Starting camera session")
	if err := c.camera.Configure(); err != nil {
		return c.unavailable(fmt.Errorf("configure camera: %w", err))
	}
	if err := c.camera.Start(); err != nil {
		return c.unavailable(fmt.Errorf("start camera: %w", err))
	}
	c.snap.Session = SessionRunning
	c.publish()
	debug.Info("Camera session running")
	return nil
}

func (c *Controller) unavailable(err error) error {
	if !errors.Is(err, camera.ErrDeviceUnavailable) {
		err = fmt.Errorf("%w: %v", camera.ErrDeviceUnavailable, err)
	}
	debug.Error(err)
	c.snap.Session = SessionUnavailable
	c.snap.Outcome = failure(OutcomeDeviceUnavailable, err)
	c.publish()
	return err
}

func (c *Controller) shutdown() {
	c.cancelTimer()
	if c.snap.Session == SessionRunning {
		if err := c.camera.Stop(); err != nil {
			debug.Error(fmt.Errorf("stop camera: %w", err))
		}
		c.snap.Session = SessionStopped
	}
	if c.snap.Phase == CountingDown {
		c.setPhase(Previewing)
	}
	c.publish()
	debug.Live("Capture controller stopped")
}

// ---------- capture ----------

// CapturePhoto requests a still right away. Valid only while Previewing
// with a running session; the result arrives asynchronously.
func (c *Controller) CapturePhoto() error {
	return c.do(func() error { return c.capturePhoto(Previewing) })
}

func (c *Controller) capturePhoto(from Phase) error {
	if c.snap.Phase != from {
		return fmt.Errorf("capture while %s: %w", c.snap.Phase, ErrInvalidState)
	}
	if c.snap.Session != SessionRunning {
		return ErrSessionNotRunning
	}

	c.captureGen++
	gen := c.captureGen
	c.setPhase(CapturePending)
	c.publish()

	c.camera.Capture(func(img *camera.Image, err error) {
		c.post(func() { c.onCaptured(gen, img, err) })
	})
	return nil
}

func (c *Controller) onCaptured(gen uint64, img *camera.Image, err error) {
	if gen != c.captureGen || c.snap.Phase != CapturePending {
		debug.Verbose("Dropping stale capture result %d", gen)
		return
	}
	if err == nil && img == nil {
		err = errors.New("camera delivered no image")
	}
	if err != nil {
		err = fmt.Errorf("capture: %w", err)
		debug.Error(err)
		c.setPhase(Previewing)
		c.snap.Outcome = failure(OutcomeCaptureFailed, err)
		c.publish()
		return
	}

	c.setPhase(Reviewing)
	c.snap.Image = img
	c.snap.Outcome = Outcome{Kind: OutcomeCaptured}
	c.publish()
	w, h := img.Size()
	debug.Live("Captured %s (%dx%d)", img.ID, w, h)
}

// ---------- countdown ----------

// StartTimerCapture starts a countdown of seconds after which a capture is
// issued. A running countdown is canceled and replaced.
func (c *Controller) StartTimerCapture(seconds int) error {
	return c.do(func() error { return c.startTimerCapture(seconds) })
}

func (c *Controller) startTimerCapture(seconds int) error {
	if seconds < 1 || seconds > c.opts.MaxCountdown {
		return fmt.Errorf("%d seconds (allowed 1-%d): %w", seconds, c.opts.MaxCountdown, ErrInvalidDuration)
	}
	if c.snap.Phase != Previewing && c.snap.Phase != CountingDown {
		return fmt.Errorf("countdown while %s: %w", c.snap.Phase, ErrInvalidState)
	}
	if c.snap.Session != SessionRunning {
		return ErrSessionNotRunning
	}

	c.cancelTimer()
	c.timerGen++
	gen := c.timerGen
	c.setPhase(CountingDown)
	c.snap.Remaining = seconds
	c.publish()
	debug.Tick(seconds)

	c.timer = countdown.Start(c.opts.Clock, seconds,
		func(remaining int) { c.post(func() { c.onTick(gen, remaining) }) },
		func() { c.post(func() { c.onCountdownDone(gen) }) },
	)
	return nil
}

func (c *Controller) onTick(gen uint64, remaining int) {
	if gen != c.timerGen || c.snap.Phase != CountingDown || remaining == c.snap.Remaining {
		return
	}
	c.snap.Remaining = remaining
	c.publish()
	debug.Tick(remaining)
}

func (c *Controller) onCountdownDone(gen uint64) {
	if gen != c.timerGen || c.snap.Phase != CountingDown {
		return
	}
	c.timer = nil
	if err := c.capturePhoto(CountingDown); err != nil {
		c.setPhase(Previewing)
		c.snap.Outcome = failure(OutcomeCaptureFailed, err)
		c.publish()
	}
}

// CancelCountdown abandons a running countdown and returns to Previewing.
func (c *Controller) CancelCountdown() error {
	return c.do(func() error {
		if c.snap.Phase != CountingDown {
			return fmt.Errorf("cancel countdown while %s: %w", c.snap.Phase, ErrInvalidState)
		}
		c.cancelTimer()
		c.setPhase(Previewing)
		c.publish()
		return nil
	})
}

func (c *Controller) cancelTimer() {
	if c.timer == nil {
		return
	}
	c.timer.Cancel()
	c.timer = nil
	c.timerGen++ // orphan callbacks already queued
}

// ---------- review ----------

// Retake discards the image under review and returns to Previewing.
func (c *Controller) Retake() error {
	return c.do(func() error {
		if c.snap.Phase != Reviewing {
			return fmt.Errorf("retake while %s: %w", c.snap.Phase, ErrInvalidState)
		}
		c.setPhase(Previewing)
		c.snap.Outcome = Outcome{}
		c.publish()
		return nil
	})
}

// AcceptAndSave files the image under review into album (the default
// album when blank). The save runs off the loop; whatever its result, the
// image is then discarded and the phase returns to Previewing with the
// outcome recorded in the snapshot.
func (c *Controller) AcceptAndSave(album string) error {
	return c.do(func() error { return c.acceptAndSave(album) })
}

func (c *Controller) acceptAndSave(album string) error {
	if c.snap.Phase != Reviewing {
		return fmt.Errorf("save while %s: %w", c.snap.Phase, ErrInvalidState)
	}
	name := strings.TrimSpace(album)
	if name == "" {
		name = c.opts.DefaultAlbum
	}

	img := c.snap.Image
	c.saveGen++
	gen := c.saveGen
	c.setPhase(Saving)
	c.snap.Album = name
	c.publish()

	ctx := c.ctx
	go func() {
		outcome := c.save(ctx, img, name)
		c.post(func() { c.onSaved(gen, outcome) })
	}()
	return nil
}

// save runs off the loop: library permission, album, insert.
func (c *Controller) save(ctx context.Context, img *camera.Image, name string) Outcome {
	ctx, cancel := context.WithTimeout(ctx, c.opts.SaveTimeout)
	defer cancel()

	if err := c.libraryAccess(ctx); err != nil {
		kind := OutcomeSaveFailed
		if errors.Is(err, permission.ErrDenied) {
			kind = OutcomePermissionDenied
		}
		return failure(kind, err)
	}

	album, err := c.library.ResolveOrCreateAlbum(ctx, name)
	if err != nil {
		return failure(OutcomeSaveFailed, fmt.Errorf("album %q: %w", name, err))
	}
	asset, err := c.library.Insert(ctx, img, album)
	if err != nil {
		return failure(OutcomeSaveFailed, fmt.Errorf("insert into %q: %w", name, err))
	}
	return Outcome{Kind: OutcomeSaved, Album: album.Name, AssetID: asset.ID}
}

func (c *Controller) libraryAccess(ctx context.Context) error {
	switch c.perms.Status(permission.Library) {
	case permission.Granted:
		return nil
	case permission.Denied:
		return fmt.Errorf("library: %w", permission.ErrDenied)
	}

	answer := make(chan bool, 1)
	c.perms.Request(permission.Library, func(granted bool) { answer <- granted })
	select {
	case granted := <-answer:
		if !granted {
			return fmt.Errorf("library: %w", permission.ErrDenied)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("library access: %w", ctx.Err())
	}
}

func (c *Controller) onSaved(gen uint64, outcome Outcome) {
	if gen != c.saveGen || c.snap.Phase != Saving {
		return
	}
	if outcome.Kind.Failed() {
		debug.Error(outcome.Err)
	}
	c.setPhase(Previewing)
	c.snap.Outcome = outcome
	c.publish()
}
