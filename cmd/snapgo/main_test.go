package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/cjeanneret/SnapGo/internal/config"
	"github.com/cjeanneret/SnapGo/internal/hw/camera"
	"github.com/cjeanneret/SnapGo/internal/library"
	"github.com/cjeanneret/SnapGo/internal/logic/capture"
	"github.com/cjeanneret/SnapGo/internal/permission"
)

// ---------- validateCLIOverrides ----------

func TestValidateCLIOverrides_AllZero(t *testing.T) {
	if err := validateCLIOverrides(0, 60, ""); err != nil {
		t.Errorf("zero values should be valid (use config defaults), got: %v", err)
	}
}

func TestValidateCLIOverrides_Valid(t *testing.T) {
	cases := []struct {
		name  string
		timer int
		album string
	}{
		{"min_timer", 1, ""},
		{"max_timer", 60, ""},
		{"album", 0, "Trip"},
		{"unicode_album", 0, "Été 2026"},
		{"padded_album", 0, "   Trip   "},
		{"long_album", 0, strings.Repeat("a", maxAlbumNameLen)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := validateCLIOverrides(tc.timer, 60, tc.album); err != nil {
				t.Errorf("expected valid, got: %v", err)
			}
		})
	}
}

func TestValidateCLIOverrides_Invalid(t *testing.T) {
	cases := []struct {
		name  string
		timer int
		album string
	}{
		{"negative_timer", -1, ""},
		{"timer_above_max", 61, ""},
		{"album_too_long", 0, strings.Repeat("a", maxAlbumNameLen+1)},
		{"album_newline", 0, "Trip\nParty"},
		{"album_nul", 0, "Trip\x00"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := validateCLIOverrides(tc.timer, 60, tc.album); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

// ---------- webPortFlag ----------

func TestWebPortFlag_EmptyString(t *testing.T) {
	w := &webPortFlag{defaultPort: 8080}
	if err := w.Set(""); err != nil {
		t.Fatalf("Set(\"\") error: %v", err)
	}
	if w.port() != 8080 {
		t.Errorf("expected default port 8080, got %d", w.port())
	}
}

func TestWebPortFlag_ValidPorts(t *testing.T) {
	cases := []struct {
		input string
		want  int
	}{
		{"8080", 8080},
		{"1", 1},
		{"65535", 65535},
		{"3000", 3000},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			w := &webPortFlag{defaultPort: 8080}
			if err := w.Set(tc.input); err != nil {
				t.Fatalf("Set(%q) error: %v", tc.input, err)
			}
			if w.port() != tc.want {
				t.Errorf("port() = %d, want %d", w.port(), tc.want)
			}
		})
	}
}

func TestWebPortFlag_InvalidPorts(t *testing.T) {
	cases := []string{"0", "65536", "-1", "abc", "8080.5"}
	for _, input := range cases {
		t.Run(input, func(t *testing.T) {
			w := &webPortFlag{defaultPort: 8080}
			if err := w.Set(input); err == nil {
				t.Errorf("Set(%q) should fail, got nil", input)
			}
		})
	}
}

func TestWebPortFlag_String(t *testing.T) {
	w := &webPortFlag{val: 0}
	if s := w.String(); s != "0" {
		t.Errorf("String() = %q, want \"0\"", s)
	}
	w.val = 9090
	if s := w.String(); s != "9090" {
		t.Errorf("String() = %q, want \"9090\"", s)
	}
}

// ---------- applyOverrides ----------

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(`
camera:
  type: mock
  width_px: 32
  height_px: 24
library:
  root: ` + filepath.Join(t.TempDir(), "photos") + `
permissions:
  camera: granted
  library: granted
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return cfg
}

func TestApplyOverrides_NonZero(t *testing.T) {
	cfg := newTestConfig(t)
	applyOverrides(cfg, 12, "  Trip ")
	if cfg.Countdown.DefaultSeconds != 12 {
		t.Errorf("DefaultSeconds = %d, want 12", cfg.Countdown.DefaultSeconds)
	}
	if cfg.Library.DefaultAlbum != "Trip" {
		t.Errorf("DefaultAlbum = %q, want Trip", cfg.Library.DefaultAlbum)
	}
}

func TestApplyOverrides_ZeroLeavesUnchanged(t *testing.T) {
	cfg := newTestConfig(t)
	origSeconds := cfg.Countdown.DefaultSeconds
	origAlbum := cfg.Library.DefaultAlbum

	applyOverrides(cfg, 0, "   ")

	if cfg.Countdown.DefaultSeconds != origSeconds {
		t.Errorf("DefaultSeconds changed: %d != %d", cfg.Countdown.DefaultSeconds, origSeconds)
	}
	if cfg.Library.DefaultAlbum != origAlbum {
		t.Errorf("DefaultAlbum changed: %q != %q", cfg.Library.DefaultAlbum, origAlbum)
	}
}

// ---------- wiring ----------

func TestNewCameraFromConfig(t *testing.T) {
	cfg := newTestConfig(t)
	cam, err := newCameraFromConfig(cfg, clock.New())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := cam.(*camera.Mock); !ok {
		t.Errorf("mock config built %T", cam)
	}

	cfg.Camera.Type = "webcam"
	cam, err = newCameraFromConfig(cfg, clock.New())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := cam.(*camera.Webcam); !ok {
		t.Errorf("webcam config built %T", cam)
	}

	cfg.Camera.Type = "dslr"
	if _, err := newCameraFromConfig(cfg, clock.New()); err == nil {
		t.Error("unknown camera type should fail")
	}
}

func TestNewPermissionPolicy(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Permissions.Library = "denied"
	p, err := newPermissionPolicy(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if s := p.Status(permission.Camera); s != permission.Granted {
		t.Errorf("camera = %s, want granted", s)
	}
	if s := p.Status(permission.Library); s != permission.Denied {
		t.Errorf("library = %s, want denied", s)
	}

	cfg.Permissions.Camera = "maybe"
	if _, err := newPermissionPolicy(cfg); err == nil {
		t.Error("invalid permission value should fail")
	}
}

func TestSnapOnce_SavesIntoAlbum(t *testing.T) {
	cfg := newTestConfig(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	lib, err := library.Open(ctx, cfg.Library.Root, cfg.Library.Database, cfg.Library.JPEGQuality)
	if err != nil {
		t.Fatal(err)
	}
	defer lib.Close()
	perms, err := newPermissionPolicy(cfg)
	if err != nil {
		t.Fatal(err)
	}
	cam, err := newCameraFromConfig(cfg, clock.New())
	if err != nil {
		t.Fatal(err)
	}
	ctrl := capture.New(cam, perms, lib, capture.Options{DefaultAlbum: cfg.Library.DefaultAlbum})

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(runCtx) }()
	defer func() { stop(); <-done }()
	if err := ctrl.RequestPermissions(); err != nil {
		t.Fatal(err)
	}

	if err := snapOnce(ctx, ctrl, 0, "Trip"); err != nil {
		t.Fatalf("snapOnce: %v", err)
	}

	albums, err := lib.Albums(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(albums) != 1 || albums[0].Name != "Trip" || albums[0].Assets != 1 {
		t.Errorf("albums = %+v, want Trip with one asset", albums)
	}
}

func TestSnapOnce_CameraDenied(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Permissions.Camera = "denied"
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	perms, err := newPermissionPolicy(cfg)
	if err != nil {
		t.Fatal(err)
	}
	cam, _ := newCameraFromConfig(cfg, clock.New())
	ctrl := capture.New(cam, perms, nil, capture.Options{})

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(runCtx) }()
	defer func() { stop(); <-done }()
	if err := ctrl.RequestPermissions(); err != nil {
		t.Fatal(err)
	}

	err = snapOnce(ctx, ctrl, 0, "Trip")
	if err == nil || !strings.Contains(err.Error(), "denied") {
		t.Errorf("snapOnce = %v, want a denied session error", err)
	}
}

type blindCamera struct{ camera.Device }

func TestNewDetectWatcher(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Detect.Enabled = true
	cfg.Detect.URL = "http://127.0.0.1:8000/detect_smile"

	cam, err := newCameraFromConfig(cfg, clock.New())
	if err != nil {
		t.Fatal(err)
	}
	ctrl := capture.New(cam, permission.NewPolicy(), nil, capture.Options{})
	if _, err := newDetectWatcher(cfg, cam, ctrl, clock.New()); err != nil {
		t.Errorf("mock camera should feed the detector: %v", err)
	}
	if _, err := newDetectWatcher(cfg, blindCamera{cam}, ctrl, clock.New()); err == nil {
		t.Error("camera without preview should be refused")
	}
}
