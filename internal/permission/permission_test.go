package permission

import (
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func request(t *testing.T, p Provider, kind Kind) bool {
	t.Helper()
	ch := make(chan bool, 1)
	p.Request(kind, func(granted bool) { ch <- granted })
	select {
	case g := <-ch:
		return g
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for permission callback")
		return false
	}
}

func TestParseStatus(t *testing.T) {
	cases := []struct {
		in   string
		want Status
	}{
		{"ask", Undetermined},
		{"", Undetermined},
		{"granted", Granted},
		{"denied", Denied},
	}
	for _, tc := range cases {
		got, err := ParseStatus(tc.in)
		if err != nil {
			t.Errorf("ParseStatus(%q) error: %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("ParseStatus(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
	if _, err := ParseStatus("sometimes"); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestPolicy_DecidedKindsAnswerWithoutProbe(t *testing.T) {
	p := NewPolicy()
	var probed int32
	p.SetProbe(Camera, func() error { atomic.AddInt32(&probed, 1); return nil })
	p.Set(Camera, Denied)
	p.Set(Library, Granted)

	if request(t, p, Camera) {
		t.Error("denied camera should not be granted")
	}
	if !request(t, p, Library) {
		t.Error("granted library should be granted")
	}
	if atomic.LoadInt32(&probed) != 0 {
		t.Error("probe should not run for decided kinds")
	}
}

func TestPolicy_UndeterminedUsesProbeOnce(t *testing.T) {
	p := NewPolicy()
	var probed int32
	p.SetProbe(Camera, func() error {
		atomic.AddInt32(&probed, 1)
		return errors.New("no such device")
	})

	if p.Status(Camera) != Undetermined {
		t.Fatalf("initial status = %v, want undetermined", p.Status(Camera))
	}
	if request(t, p, Camera) {
		t.Error("failing probe should deny")
	}
	if p.Status(Camera) != Denied {
		t.Errorf("status after request = %v, want denied", p.Status(Camera))
	}
	if request(t, p, Camera) {
		t.Error("decision should be sticky")
	}
	if n := atomic.LoadInt32(&probed); n != 1 {
		t.Errorf("probe ran %d times, want 1", n)
	}
}

func TestPolicy_NoProbeGrants(t *testing.T) {
	p := NewPolicy()
	if !request(t, p, Library) {
		t.Error("undetermined kind without probe should be granted")
	}
	if p.Status(Library) != Granted {
		t.Errorf("status = %v, want granted", p.Status(Library))
	}
}

func TestDeviceProbe_MissingNode(t *testing.T) {
	probe := DeviceProbe(filepath.Join(t.TempDir(), "video42"))
	if err := probe(); err == nil {
		t.Error("expected error for missing device node")
	}
}

func TestDeviceProbe_ExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "video0")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := DeviceProbe(path)(); err != nil {
		t.Errorf("expected access to %s, got %v", path, err)
	}
}

func TestDirProbe_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "photos", "nested")
	if err := DirProbe(dir)(); err != nil {
		t.Fatalf("DirProbe: %v", err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("directory not created: %v", err)
	}
}

func TestKindAndStatusStrings(t *testing.T) {
	if Camera.String() != "camera" || Library.String() != "library" {
		t.Error("unexpected kind names")
	}
	if Granted.String() != "granted" || Denied.String() != "denied" || Undetermined.String() != "undetermined" {
		t.Error("unexpected status names")
	}
}
