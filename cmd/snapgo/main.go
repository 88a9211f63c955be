package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"unicode"

	"github.com/benbjohnson/clock"

	"github.com/cjeanneret/SnapGo/internal/config"
	"github.com/cjeanneret/SnapGo/internal/debug"
	"github.com/cjeanneret/SnapGo/internal/detect"
	"github.com/cjeanneret/SnapGo/internal/hw/camera"
	"github.com/cjeanneret/SnapGo/internal/hw/gpio"
	"github.com/cjeanneret/SnapGo/internal/hw/trigger"
	"github.com/cjeanneret/SnapGo/internal/library"
	"github.com/cjeanneret/SnapGo/internal/logic/capture"
	"github.com/cjeanneret/SnapGo/internal/permission"
	"github.com/cjeanneret/SnapGo/internal/web"
)

// maxAlbumNameLen bounds album names given on the command line.
const maxAlbumNameLen = 100

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	envPath := flag.String("env", ".env", "optional dotenv file with SNAPGO_* overrides")
	album := flag.String("album", "", "override the default album name")
	timer := flag.Int("timer", 0, "override the default countdown in seconds")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Load configuration
	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	if err := config.LoadEnv(cfg, *envPath); err != nil {
		log.Fatalf("load environment failed: %v", err)
	}

	// Validate CLI overrides (zero values mean "use config default")
	if err := validateCLIOverrides(*timer, cfg.Countdown.MaxSeconds, *album); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}
	applyOverrides(cfg, *timer, *album)

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", debug.Level())

	if err := run(ctx, cfg, webPort.port()); err != nil {
		log.Fatalf("snapgo: %v", err)
	}
}

// run wires the booth together and blocks until ctx is canceled, or until
// a single photo has been taken when neither the web UI nor the trigger is
// enabled.
func run(ctx context.Context, cfg *config.Config, port int) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	clk := clock.New()

	debug.Step(1, "Opening photo library")
	lib, err := library.Open(ctx, cfg.Library.Root, cfg.Library.Database, cfg.Library.JPEGQuality)
	if err != nil {
		return fmt.Errorf("open library: %w", err)
	}
	defer lib.Close()
	debug.PrintStruct("Library config", cfg.Library)

	debug.Step(2, "Initializing camera")
	cam, err := newCameraFromConfig(cfg, clk)
	if err != nil {
		return fmt.Errorf("init camera: %w", err)
	}
	if c, ok := cam.(io.Closer); ok {
		defer c.Close()
	}
	debug.Value("Camera type", cfg.Camera.Type)
	debug.Value("Camera device", cfg.Camera.Device)

	debug.Step(3, "Applying permission policy")
	perms, err := newPermissionPolicy(cfg)
	if err != nil {
		return err
	}

	debug.Step(4, "Starting capture controller")
	ctrl := capture.New(cam, perms, lib, capture.Options{
		DefaultAlbum: cfg.Library.DefaultAlbum,
		MaxCountdown: cfg.Countdown.MaxSeconds,
		Clock:        clk,
	})
	ctrlDone := make(chan error, 1)
	go func() { ctrlDone <- ctrl.Run(ctx) }()
	defer func() {
		cancel()
		if err := <-ctrlDone; err != nil {
			debug.Error(err)
		}
	}()
	if err := ctrl.RequestPermissions(); err != nil {
		debug.Error(fmt.Errorf("request permissions: %w", err))
	}

	if cfg.Trigger.Enabled {
		debug.Step(5, "Starting hardware trigger")
		drv, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
		if err != nil {
			return fmt.Errorf("init GPIO: %w", err)
		}
		defer func() {
			if err := drv.Close(); err != nil {
				log.Printf("closing GPIO driver failed: %v", err)
			}
		}()
		trig := trigger.New(drv, ctrl, trigger.Config{
			ButtonPin: cfg.Trigger.ButtonPin,
			LampPin:   cfg.Trigger.LampPin,
			Mode:      trigger.Mode(cfg.Trigger.Mode),
			Seconds:   cfg.Countdown.DefaultSeconds,
			Poll:      cfg.PollInterval(),
			Debounce:  cfg.Debounce(),
		}, clk)
		trigDone := make(chan struct{})
		go func() {
			defer close(trigDone)
			if err := trig.Run(ctx); err != nil {
				debug.Error(fmt.Errorf("trigger: %w", err))
			}
		}()
		defer func() { cancel(); <-trigDone }()
	}

	if cfg.Detect.Enabled {
		debug.Step(6, "Starting pose detector")
		w, err := newDetectWatcher(cfg, cam, ctrl, clk)
		if err != nil {
			return err
		}
		detDone := make(chan struct{})
		go func() {
			defer close(detDone)
			if err := w.Run(ctx); err != nil {
				debug.Error(fmt.Errorf("detector: %w", err))
			}
		}()
		defer func() { cancel(); <-detDone }()
	}

	if port > 0 {
		broadcaster := web.NewStatusBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))
		defer debug.SetOutput(os.Stdout)

		previewer, _ := cam.(camera.Previewer)
		srv, err := web.NewServer(fmt.Sprintf(":%d", port), web.Deps{
			Broadcaster: broadcaster,
			Controller:  ctrl,
			Catalog:     lib,
			Previewer:   previewer,
			FormDefaults: web.FormConfig{
				DefaultAlbum:   cfg.Library.DefaultAlbum,
				DefaultSeconds: cfg.Countdown.DefaultSeconds,
				MaxSeconds:     cfg.Countdown.MaxSeconds,
			},
			JPEGQuality: cfg.Library.JPEGQuality,
		})
		if err != nil {
			return err
		}
		return srv.Run(ctx)
	}

	if cfg.Trigger.Enabled || cfg.Detect.Enabled {
		debug.Info("Waiting for the shutter (Ctrl+C to quit)")
		<-ctx.Done()
		return nil
	}

	// Take a single photo with current config (already has CLI overrides applied)
	return snapOnce(ctx, ctrl, cfg.Countdown.DefaultSeconds, cfg.Library.DefaultAlbum)
}

// newDetectWatcher builds the detector-driven shutter. The camera must hand
// out live frames.
func newDetectWatcher(cfg *config.Config, cam camera.Device, ctrl detect.Shutter, clk clock.Clock) (*detect.Watcher, error) {
	previewer, ok := cam.(camera.Previewer)
	if !ok {
		return nil, fmt.Errorf("detector: camera %s has no live preview", cfg.Camera.Type)
	}
	debug.Value("Detector URL", cfg.Detect.URL)
	client := detect.NewClient(cfg.Detect.URL, cfg.Detect.Field, cfg.DetectTimeout())
	return detect.NewWatcher(client, previewer, ctrl, detect.Config{
		Interval: cfg.DetectInterval(),
		Mode:     trigger.Mode(cfg.Detect.Mode),
		Seconds:  cfg.Countdown.DefaultSeconds,
	}, clk), nil
}

// snapOnce takes one photo, after a countdown when seconds > 0, and saves
// it into album.
func snapOnce(ctx context.Context, ctrl *capture.Controller, seconds int, album string) error {
	updates, unsub := ctrl.Subscribe()
	defer unsub()

	wait := func(what string, done func(capture.Snapshot) bool) (capture.Snapshot, error) {
		for {
			select {
			case <-ctx.Done():
				return capture.Snapshot{}, ctx.Err()
			case snap, ok := <-updates:
				if !ok {
					return snap, fmt.Errorf("state stream closed while waiting for %s", what)
				}
				if done(snap) {
					return snap, nil
				}
			}
		}
	}

	snap, err := wait("camera session", func(s capture.Snapshot) bool { return s.Session != capture.SessionStopped })
	if err != nil {
		return err
	}
	if snap.Session != capture.SessionRunning {
		return fmt.Errorf("camera session %s: %s", snap.Session, snap.Outcome.Message)
	}

	if seconds > 0 {
		err = ctrl.StartTimerCapture(seconds)
	} else {
		err = ctrl.CapturePhoto()
	}
	if err != nil {
		return err
	}

	snap, err = wait("capture", func(s capture.Snapshot) bool {
		return s.Phase == capture.Reviewing || s.Outcome.Kind == capture.OutcomeCaptureFailed
	})
	if err != nil {
		return err
	}
	if snap.Phase != capture.Reviewing {
		return errors.New(snap.Outcome.Message)
	}

	before := snap.Version
	if err := ctrl.AcceptAndSave(album); err != nil {
		return err
	}
	snap, err = wait("save", func(s capture.Snapshot) bool {
		return s.Version > before && s.Phase == capture.Previewing
	})
	if err != nil {
		return err
	}
	if snap.Outcome.Kind != capture.OutcomeSaved {
		return fmt.Errorf("save: %s", snap.Outcome.Message)
	}
	debug.Summary("Photo saved")
	debug.Value("Album", snap.Outcome.Album)
	debug.Value("Asset", snap.Outcome.AssetID)
	return nil
}

// validateCLIOverrides checks that non-zero CLI overrides are within valid ranges.
// Zero values are ignored (they mean "use config default").
func validateCLIOverrides(timer, maxSeconds int, album string) error {
	if timer != 0 && (timer < 1 || timer > maxSeconds) {
		return fmt.Errorf("timer must be between 1 and %d seconds, got %d", maxSeconds, timer)
	}
	name := strings.TrimSpace(album)
	if len([]rune(name)) > maxAlbumNameLen {
		return fmt.Errorf("album name longer than %d characters", maxAlbumNameLen)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("album name contains control characters")
		}
	}
	return nil
}

// applyOverrides mutates cfg with overrides. Only non-zero override values are applied.
func applyOverrides(cfg *config.Config, timer int, album string) {
	if timer > 0 {
		cfg.Countdown.DefaultSeconds = timer
	}
	if name := strings.TrimSpace(album); name != "" {
		cfg.Library.DefaultAlbum = name
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }

// newCameraFromConfig selects a camera implementation based on configuration.
func newCameraFromConfig(cfg *config.Config, clk clock.Clock) (camera.Device, error) {
	switch cfg.Camera.Type {
	case "mock":
		return camera.NewMock(clk, cfg.Camera.WidthPx, cfg.Camera.HeightPx, cfg.MockDelay()), nil
	case "webcam":
		return camera.NewWebcam(camera.WebcamOptions{
			Device:  cfg.Camera.Device,
			Format:  cfg.Camera.Format,
			Width:   cfg.Camera.WidthPx,
			Height:  cfg.Camera.HeightPx,
			Buffers: cfg.Camera.Buffers,
			Timeout: cfg.CaptureTimeout(),
		}), nil
	default:
		return nil, fmt.Errorf("unsupported camera type: %s", cfg.Camera.Type)
	}
}

// newPermissionPolicy builds the access policy from configuration. "ask"
// entries are decided on first request by probing the device node or the
// library directory.
func newPermissionPolicy(cfg *config.Config) (*permission.Policy, error) {
	p := permission.NewPolicy()
	for _, e := range []struct {
		kind  permission.Kind
		value string
		probe permission.Probe
	}{
		{permission.Camera, cfg.Permissions.Camera, cameraProbe(cfg)},
		{permission.Library, cfg.Permissions.Library, permission.DirProbe(cfg.Library.Root)},
	} {
		s, err := permission.ParseStatus(e.value)
		if err != nil {
			return nil, fmt.Errorf("permissions.%s: %w", e.kind, err)
		}
		p.Set(e.kind, s)
		p.SetProbe(e.kind, e.probe)
		debug.Value("Permission "+e.kind.String(), s)
	}
	return p, nil
}

func cameraProbe(cfg *config.Config) permission.Probe {
	if cfg.Camera.Type == "webcam" {
		return permission.DeviceProbe(cfg.Camera.Device)
	}
	return nil
}
