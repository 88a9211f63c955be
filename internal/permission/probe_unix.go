//go:build unix

package permission

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// DeviceProbe grants access when the process can read and write the device node.
func DeviceProbe(path string) Probe {
	return func() error {
		if err := unix.Access(path, unix.R_OK|unix.W_OK); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		return nil
	}
}

// DirProbe grants access when dir exists (it is created if needed) and the
// process can create files in it.
func DirProbe(dir string) Probe {
	return func() error {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
		if err := unix.Access(dir, unix.W_OK|unix.X_OK); err != nil {
			return fmt.Errorf("%s: %w", dir, err)
		}
		return nil
	}
}
